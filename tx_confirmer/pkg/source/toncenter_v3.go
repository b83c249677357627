package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

const NameTonCenterV3 = "toncenter_v3"

// TonCenterV3 queries the toncenter indexer. It reports hashes in base64.
type TonCenterV3 struct {
	http *httpClient
}

type tonCenterV3Message struct {
	Hash        string  `json:"hash"`
	Destination *string `json:"destination"`
	Value       *string `json:"value"`
	FwdFee      *string `json:"fwd_fee"`
}

type tonCenterV3Transaction struct {
	Account     string `json:"account"`
	Hash        string `json:"hash"`
	Lt          string `json:"lt"`
	Now         int64  `json:"now"`
	TotalFees   string `json:"total_fees"`
	Description struct {
		Aborted bool `json:"aborted"`
	} `json:"description"`
	InMsg   *tonCenterV3Message  `json:"in_msg"`
	OutMsgs []tonCenterV3Message `json:"out_msgs"`
}

type tonCenterV3Transactions struct {
	Transactions []json.RawMessage `json:"transactions"`
}

func NewTonCenterV3(item config.SourceItem, logger *logrus.Logger) (*TonCenterV3, error) {
	h, err := newHTTPClient(NameTonCenterV3, item, logger)
	if err != nil {
		return nil, err
	}
	if item.APIKey != "" {
		h.auth = func(hdr http.Header) {
			hdr.Set("X-API-Key", item.APIKey)
		}
	}
	return &TonCenterV3{http: h}, nil
}

func (t *TonCenterV3) Name() string {
	return NameTonCenterV3
}

func (t *TonCenterV3) LookupByIdentifier(ctx context.Context, id txid.Identifier) (Transaction, error) {
	query := url.Values{}
	query.Set("msg_hash", id.String())
	query.Set("direction", "in")
	query.Set("limit", "1")

	txs, err := t.list(ctx, "/api/v3/transactionsByMessage", query)
	if err != nil {
		return Transaction{}, err
	}
	if tx, ok := FindMatch(txs, id); ok {
		return tx, nil
	}
	// the indexer answered, it just has nothing for this message yet
	return Transaction{}, ErrNotFound
}

func (t *TonCenterV3) LookupRecent(ctx context.Context, account *address.Address, limit int) ([]Transaction, error) {
	if account == nil {
		return nil, fmt.Errorf("account is required")
	}
	query := url.Values{}
	query.Set("account", account.String())
	query.Set("limit", strconv.Itoa(limit))
	query.Set("sort", "desc")

	return t.list(ctx, "/api/v3/transactions", query)
}

func (t *TonCenterV3) list(ctx context.Context, path string, query url.Values) ([]Transaction, error) {
	var resp tonCenterV3Transactions
	if _, err := t.http.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(resp.Transactions))
	for _, raw := range resp.Transactions {
		var in tonCenterV3Transaction
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("%w: %s: failed to decode transaction: %v", ErrProviderUnavailable, NameTonCenterV3, err)
		}
		tx := Transaction{
			Source:    NameTonCenterV3,
			Hash:      in.Hash,
			Account:   in.Account,
			Lt:        parseUint(in.Lt),
			Utime:     in.Now,
			Success:   !in.Description.Aborted,
			TotalFees: parseUint(in.TotalFees),
			Raw:       raw,
		}
		if in.InMsg != nil {
			tx.InMsgHash = in.InMsg.Hash
		}
		for _, m := range in.OutMsgs {
			tx.Messages = append(tx.Messages, Message{
				Destination: deref(m.Destination),
				Value:       parseUint(deref(m.Value)),
				FwdFee:      parseUint(deref(m.FwdFee)),
			})
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
