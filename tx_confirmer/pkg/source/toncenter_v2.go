package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

const NameTonCenterV2 = "toncenter_v2"

// TonCenterV2 is the account-keyed fallback. It only ever returns the most
// recent transaction of an account, so it is polled sparingly.
type TonCenterV2 struct {
	http *httpClient
}

type tonCenterV2Message struct {
	Hash        string `json:"hash"`
	Destination string `json:"destination"`
	Value       string `json:"value"`
	FwdFee      string `json:"fwd_fee"`
}

type tonCenterV2Transaction struct {
	Utime         int64 `json:"utime"`
	TransactionID struct {
		Lt   string `json:"lt"`
		Hash string `json:"hash"`
	} `json:"transaction_id"`
	Address struct {
		AccountAddress string `json:"account_address"`
	} `json:"address"`
	Fee     string               `json:"fee"`
	InMsg   *tonCenterV2Message  `json:"in_msg"`
	OutMsgs []tonCenterV2Message `json:"out_msgs"`
}

type tonCenterV2Response struct {
	OK     bool              `json:"ok"`
	Result []json.RawMessage `json:"result"`
	Error  string            `json:"error,omitempty"`
	Code   int               `json:"code,omitempty"`
}

func NewTonCenterV2(item config.SourceItem, logger *logrus.Logger) (*TonCenterV2, error) {
	h, err := newHTTPClient(NameTonCenterV2, item, logger)
	if err != nil {
		return nil, err
	}
	if item.APIKey != "" {
		h.auth = func(hdr http.Header) {
			hdr.Set("X-API-Key", item.APIKey)
		}
	}
	return &TonCenterV2{http: h}, nil
}

func (t *TonCenterV2) Name() string {
	return NameTonCenterV2
}

func (t *TonCenterV2) LookupByIdentifier(context.Context, txid.Identifier) (Transaction, error) {
	return Transaction{}, ErrUnsupported
}

// LookupRecent ignores limit beyond 1.
func (t *TonCenterV2) LookupRecent(ctx context.Context, account *address.Address, _ int) ([]Transaction, error) {
	if account == nil {
		return nil, fmt.Errorf("account is required")
	}
	query := url.Values{}
	query.Set("address", account.String())
	query.Set("limit", "1")

	var resp tonCenterV2Response
	if _, err := t.http.getJSON(ctx, "/api/v2/getTransactions", query, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("%w: %s: %s (code %d)", ErrProviderUnavailable, NameTonCenterV2, resp.Error, resp.Code)
	}

	txs := make([]Transaction, 0, 1)
	for _, raw := range resp.Result {
		if len(txs) == 1 {
			break
		}
		var in tonCenterV2Transaction
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("%w: %s: failed to decode transaction: %v", ErrProviderUnavailable, NameTonCenterV2, err)
		}
		tx := Transaction{
			Source:    NameTonCenterV2,
			Hash:      in.TransactionID.Hash,
			Account:   in.Address.AccountAddress,
			Lt:        parseUint(in.TransactionID.Lt),
			Utime:     in.Utime,
			// v2 does not expose the compute phase
			Success:   true,
			TotalFees: parseUint(in.Fee),
			Raw:       raw,
		}
		if in.InMsg != nil {
			tx.InMsgHash = in.InMsg.Hash
		}
		for _, m := range in.OutMsgs {
			tx.Messages = append(tx.Messages, Message{
				Destination: m.Destination,
				Value:       parseUint(m.Value),
				FwdFee:      parseUint(m.FwdFee),
			})
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
