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

const NameTonAPI = "tonapi"

// TonAPI looks transactions up by inbound message hash on tonapi.io.
type TonAPI struct {
	http *httpClient
}

type tonAPIAccount struct {
	Address string `json:"address"`
}

type tonAPIMessage struct {
	Hash        string         `json:"hash"`
	Value       int64          `json:"value"`
	FwdFee      int64          `json:"fwd_fee"`
	Destination *tonAPIAccount `json:"destination,omitempty"`
}

type tonAPITransaction struct {
	Hash      string          `json:"hash"`
	Lt        int64           `json:"lt"`
	Account   tonAPIAccount   `json:"account"`
	Success   bool            `json:"success"`
	Utime     int64           `json:"utime"`
	TotalFees int64           `json:"total_fees"`
	InMsg     *tonAPIMessage  `json:"in_msg,omitempty"`
	OutMsgs   []tonAPIMessage `json:"out_msgs"`
}

type tonAPITransactions struct {
	Transactions []json.RawMessage `json:"transactions"`
}

func NewTonAPI(item config.SourceItem, logger *logrus.Logger) (*TonAPI, error) {
	h, err := newHTTPClient(NameTonAPI, item, logger)
	if err != nil {
		return nil, err
	}
	if item.APIKey != "" {
		h.auth = func(hdr http.Header) {
			hdr.Set("Authorization", "Bearer "+item.APIKey)
		}
	}
	return &TonAPI{http: h}, nil
}

func (t *TonAPI) Name() string {
	return NameTonAPI
}

func (t *TonAPI) LookupByIdentifier(ctx context.Context, id txid.Identifier) (Transaction, error) {
	body, err := t.http.getJSON(ctx, "/v2/blockchain/messages/"+id.String()+"/transaction", nil, nil)
	if err != nil {
		return Transaction{}, err
	}
	tx, err := decodeTonAPITransaction(body)
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func (t *TonAPI) LookupRecent(ctx context.Context, account *address.Address, limit int) ([]Transaction, error) {
	if account == nil {
		return nil, fmt.Errorf("account is required")
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var resp tonAPITransactions
	_, err := t.http.getJSON(ctx, "/v2/blockchain/accounts/"+url.PathEscape(account.String())+"/transactions", query, &resp)
	if err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(resp.Transactions))
	for _, raw := range resp.Transactions {
		tx, err := decodeTonAPITransaction(raw)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func decodeTonAPITransaction(raw []byte) (Transaction, error) {
	var in tonAPITransaction
	if err := json.Unmarshal(raw, &in); err != nil {
		return Transaction{}, fmt.Errorf("%w: %s: failed to decode transaction: %v", ErrProviderUnavailable, NameTonAPI, err)
	}
	if in.Hash == "" {
		return Transaction{}, ErrNotFound
	}

	tx := Transaction{
		Source:    NameTonAPI,
		Hash:      in.Hash,
		Account:   in.Account.Address,
		Lt:        uint64(max(in.Lt, 0)),
		Utime:     in.Utime,
		Success:   in.Success,
		TotalFees: uint64(max(in.TotalFees, 0)),
		Raw:       json.RawMessage(raw),
	}
	if in.InMsg != nil {
		tx.InMsgHash = in.InMsg.Hash
	}
	for _, m := range in.OutMsgs {
		msg := Message{
			Value:  uint64(max(m.Value, 0)),
			FwdFee: uint64(max(m.FwdFee, 0)),
		}
		if m.Destination != nil {
			msg.Destination = m.Destination.Address
		}
		tx.Messages = append(tx.Messages, msg)
	}
	return tx, nil
}
