package tx_confirmer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/source"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateConfirmed State = "confirmed"
	StateTimedOut  State = "timed_out"
)

// Outcome is the result of a finished poll. Evidence is set only when
// State is StateConfirmed.
type Outcome struct {
	State    State               `json:"state"`
	Evidence *source.Transaction `json:"evidence,omitempty"`
	Attempts int                 `json:"attempts"`
	Progress int                 `json:"progress"`
}

func (o Outcome) Confirmed() bool {
	return o.State == StateConfirmed
}

// ProgressObserver receives progress from inside the polling loop. It is
// called synchronously and must return quickly.
type ProgressObserver interface {
	OnProgress(percent int, message string)
}

type ProgressFunc func(percent int, message string)

func (f ProgressFunc) OnProgress(percent int, message string) {
	f(percent, message)
}

// TransferRequest is validated by ParseTransfer and never modified afterwards.
type TransferRequest struct {
	Destination *address.Address
	Amount      tlb.Coins
	Bounceable  bool
}

func (r TransferRequest) Fields() logrus.Fields {
	return logrus.Fields{
		"destination": r.Destination.String(),
		"amount":      r.Amount.String(),
		"nano":        r.Amount.Nano().String(),
		"bounceable":  r.Bounceable,
	}
}

type ConnectionState struct {
	Connected bool
	Account   *address.Address
}

// Wallet signs and broadcasts transfers on the user's behalf.
type Wallet interface {
	State(ctx context.Context) (ConnectionState, error)
	Submit(ctx context.Context, req TransferRequest) ([]byte, error)
}

// Submission is what a caller gets back as soon as the wallet accepts a
// transfer, before confirmation starts.
type Submission struct {
	ID          txid.Identifier
	Request     TransferRequest
	Sender      *address.Address
	SubmittedAt time.Time
}
