package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PollConfig controls the confirmation cadence for a single transfer.
type PollConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts,omitempty" envconfig:"POLL_MAX_ATTEMPTS"`
	// BaseDelay is the delay the backoff starts growing from.
	BaseDelay         time.Duration `mapstructure:"base_delay" json:"base_delay,omitempty" envconfig:"POLL_BASE_DELAY"`
	MaxDelay          time.Duration `mapstructure:"max_delay" json:"max_delay,omitempty" envconfig:"POLL_MAX_DELAY"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" json:"backoff_multiplier,omitempty" envconfig:"POLL_BACKOFF_MULTIPLIER"`
	// MaxJitter bounds the uniform random delay added on every step. A negative
	// value disables jitter.
	MaxJitter time.Duration `mapstructure:"max_jitter" json:"max_jitter,omitempty" envconfig:"POLL_MAX_JITTER"`
	// FallbackEvery is the attempt cadence of the account scan fallback.
	FallbackEvery int           `mapstructure:"fallback_every" json:"fallback_every,omitempty" envconfig:"POLL_FALLBACK_EVERY"`
	RecentLimit   int           `mapstructure:"recent_limit" json:"recent_limit,omitempty" envconfig:"POLL_RECENT_LIMIT"`
	SourceTimeout time.Duration `mapstructure:"source_timeout" json:"source_timeout,omitempty" envconfig:"POLL_SOURCE_TIMEOUT"`
}

// DefaultPollConfig returns the cadence transfers have always been confirmed
// with: 60 attempts, 2s growing by 1.2x up to 10s, a scan every 5th attempt.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxAttempts:       60,
		BaseDelay:         2 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1.2,
		MaxJitter:         time.Second,
		FallbackEvery:     5,
		RecentLimit:       10,
		SourceTimeout:     6 * time.Second,
	}
}

// ApplyDefaults fills zero values. A negative MaxJitter becomes zero.
func (c *PollConfig) ApplyDefaults() {
	def := DefaultPollConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	switch {
	case c.MaxJitter == 0:
		c.MaxJitter = def.MaxJitter
	case c.MaxJitter < 0:
		c.MaxJitter = 0
	}
	if c.FallbackEvery <= 0 {
		c.FallbackEvery = def.FallbackEvery
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = def.RecentLimit
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = def.SourceTimeout
	}
}

type SubmitConfig struct {
	// MinAmount is the smallest transfer accepted, in whole TON.
	MinAmount string `mapstructure:"min_amount" json:"min_amount,omitempty" envconfig:"SUBMIT_MIN_AMOUNT"`
	// ValidFor bounds how long the wallet may hold the request before broadcasting.
	ValidFor time.Duration `mapstructure:"valid_for" json:"valid_for,omitempty" envconfig:"SUBMIT_VALID_FOR"`
	Network  string        `mapstructure:"network" json:"network,omitempty" envconfig:"SUBMIT_NETWORK"`
}

func DefaultSubmitConfig() SubmitConfig {
	return SubmitConfig{
		MinAmount: "0.001",
		ValidFor:  5 * time.Minute,
		Network:   "testnet",
	}
}

func (c *SubmitConfig) ApplyDefaults() {
	def := DefaultSubmitConfig()
	if c.MinAmount == "" {
		c.MinAmount = def.MinAmount
	}
	if c.ValidFor <= 0 {
		c.ValidFor = def.ValidFor
	}
	if c.Network == "" {
		c.Network = def.Network
	}
}

func (c SubmitConfig) Minimum() (decimal.Decimal, error) {
	m, err := decimal.NewFromString(c.MinAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid min_amount %q: %w", c.MinAmount, err)
	}
	if m.IsNegative() {
		return decimal.Zero, fmt.Errorf("min_amount must not be negative, got %s", c.MinAmount)
	}
	return m, nil
}

type SourcesConfig struct {
	TonAPI      SourceItem `mapstructure:"tonapi" json:"tonapi,omitempty" envconfig:"TONAPI"`
	TonCenterV3 SourceItem `mapstructure:"toncenter_v3" json:"toncenter_v3,omitempty" envconfig:"TONCENTER_V3"`
	TonCenterV2 SourceItem `mapstructure:"toncenter_v2" json:"toncenter_v2,omitempty" envconfig:"TONCENTER_V2"`
}

type SourceItem struct {
	URL    string `mapstructure:"url" json:"url,omitempty" envconfig:"URL"`
	APIKey string `mapstructure:"api_key" json:"api_key,omitempty" envconfig:"API_KEY"`
	// RPS limits outgoing requests, 0 means unlimited. The budget is shared by
	// every poll of the process.
	RPS float64 `mapstructure:"rps" json:"rps,omitempty" envconfig:"RPS"`
	// Burst is the number of requests allowed at once, at least 1.
	Burst    int `mapstructure:"burst" json:"burst,omitempty" envconfig:"BURST"`
	RetryMax int     `mapstructure:"retry_max" json:"retry_max,omitempty" envconfig:"RETRY_MAX"`
}

// DefaultSourcesConfig points at the public testnet endpoints.
func DefaultSourcesConfig() SourcesConfig {
	return SourcesConfig{
		TonAPI:      SourceItem{URL: "https://testnet.tonapi.io", RPS: 1, Burst: 10, RetryMax: 1},
		TonCenterV3: SourceItem{URL: "https://testnet.toncenter.com", RPS: 1, Burst: 10, RetryMax: 1},
		TonCenterV2: SourceItem{URL: "https://testnet.toncenter.com", RPS: 1, Burst: 10, RetryMax: 1},
	}
}
