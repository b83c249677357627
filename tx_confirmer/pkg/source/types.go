package source

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

var (
	// ErrNotFound is a provider-confirmed miss. It is a normal answer, not a failure.
	ErrNotFound            = errors.New("transaction not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrUnsupported         = errors.New("lookup not supported by provider")
	// ErrRateLimited means the request was never sent, the local budget for
	// the provider was spent.
	ErrRateLimited = errors.New("provider rate limit exceeded")
)

// Source is a read-only client of one external data provider.
type Source interface {
	Name() string
	LookupByIdentifier(ctx context.Context, id txid.Identifier) (Transaction, error)
	LookupRecent(ctx context.Context, account *address.Address, limit int) ([]Transaction, error)
}

type Message struct {
	Destination string `json:"destination,omitempty"`
	Value       uint64 `json:"value"`
	FwdFee      uint64 `json:"fwd_fee"`
}

// Transaction is what a provider reports about a ledger transaction. Hashes
// are kept exactly as the provider encoded them.
type Transaction struct {
	Source    string          `json:"source"`
	Hash      string          `json:"hash"`
	InMsgHash string          `json:"in_msg_hash,omitempty"`
	Account   string          `json:"account,omitempty"`
	Lt        uint64          `json:"lt"`
	Utime     int64           `json:"utime"`
	Success   bool            `json:"success"`
	TotalFees uint64          `json:"total_fees"`
	Messages  []Message       `json:"out_msgs,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Value is the sum of the outgoing message values.
func (t Transaction) Value() uint64 {
	var sum uint64
	for _, m := range t.Messages {
		sum += m.Value
	}
	return sum
}

// Matches reports whether the transaction or its inbound message carries id,
// whatever encoding the provider used.
func (t Transaction) Matches(id txid.Identifier) bool {
	for _, h := range []string{t.InMsgHash, t.Hash} {
		if h == "" {
			continue
		}
		parsed, err := txid.Parse(h)
		if err == nil && parsed == id {
			return true
		}
	}
	return false
}

func (t Transaction) Fields() logrus.Fields {
	return logrus.Fields{
		"source":      t.Source,
		"hash":        t.Hash,
		"in_msg_hash": t.InMsgHash,
		"account":     t.Account,
		"lt":          t.Lt,
		"value":       t.Value(),
		"success":     t.Success,
	}
}

// FindMatch returns the first transaction in txs that matches id.
func FindMatch(txs []Transaction, id txid.Identifier) (Transaction, bool) {
	for _, tx := range txs {
		if tx.Matches(id) {
			return tx, true
		}
	}
	return Transaction{}, false
}
