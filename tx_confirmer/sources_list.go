package tx_confirmer

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/source"
)

// Single place to add new providers

type Sources struct {
	// Primary are queried on every attempt, in priority order.
	Primary []source.Source
	// Secondary are scanned by account on the fallback cadence.
	Secondary []source.Source
}

// NewSources builds the adapters from cfg. Providers with an empty URL are
// left out, at least one primary is required.
func NewSources(cfg config.SourcesConfig, logger *logrus.Logger) (Sources, error) {
	var out Sources

	if cfg.TonAPI.URL != "" {
		s, err := source.NewTonAPI(cfg.TonAPI, logger)
		if err != nil {
			return Sources{}, fmt.Errorf("source.NewTonAPI: %w", err)
		}
		out.Primary = append(out.Primary, s)
	}
	if cfg.TonCenterV3.URL != "" {
		s, err := source.NewTonCenterV3(cfg.TonCenterV3, logger)
		if err != nil {
			return Sources{}, fmt.Errorf("source.NewTonCenterV3: %w", err)
		}
		out.Primary = append(out.Primary, s)
	}
	if cfg.TonCenterV2.URL != "" {
		s, err := source.NewTonCenterV2(cfg.TonCenterV2, logger)
		if err != nil {
			return Sources{}, fmt.Errorf("source.NewTonCenterV2: %w", err)
		}
		out.Secondary = append(out.Secondary, s)
	}

	if len(out.Primary) == 0 {
		return Sources{}, errors.New("at least one primary source (tonapi or toncenter_v3) must be configured")
	}
	return out, nil
}
