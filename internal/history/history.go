package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

// Capacity is the number of records a store keeps, newest first.
const Capacity = 50

var ErrNotFound = errors.New("history record not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}

// Record is one past submission. Only Status changes after Append.
type Record struct {
	Hash      string          `json:"hash"`
	Amount    decimal.Decimal `json:"amount"`
	Recipient string          `json:"recipient"`
	From      string          `json:"from"`
	// Timestamp is in epoch milliseconds.
	Timestamp int64  `json:"timestamp"`
	Status    Status `json:"status"`
}

func (r Record) Fields() logrus.Fields {
	return logrus.Fields{
		"hash":      r.Hash,
		"amount":    r.Amount.String(),
		"recipient": r.Recipient,
		"status":    r.Status,
	}
}

type Store interface {
	Append(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
	FindByHash(ctx context.Context, hash string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	SetStatus(ctx context.Context, hash string, status Status) error
}

func validate(rec Record) error {
	if rec.Hash == "" {
		return errors.New("record hash is required")
	}
	if !txid.Valid(rec.Hash) {
		return fmt.Errorf("record hash %q is not a lowercase hex transaction hash", rec.Hash)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid record status %q", rec.Status)
	}
	return nil
}

func sameHash(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ExplorerURL links a transaction on tonviewer for the given network.
func ExplorerURL(network, hash string) string {
	if strings.EqualFold(network, "mainnet") {
		return "https://tonviewer.com/transaction/" + hash
	}
	return "https://testnet.tonviewer.com/transaction/" + hash
}
