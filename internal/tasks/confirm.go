package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"

	"github.com/vultisig/ton-confirmer/internal/history"
	"github.com/vultisig/ton-confirmer/internal/storage"
	"github.com/vultisig/ton-confirmer/tx_confirmer"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

const (
	StateCancelled   = "cancelled"
	CancelledMessage = "Confirmation polling cancelled."

	confirmedMessage = "Transaction confirmed!"
	publishTimeout   = 2 * time.Second
)

// Waiter is satisfied by *tx_confirmer.Poller.
type Waiter interface {
	Wait(
		ctx context.Context,
		id txid.Identifier,
		account *address.Address,
		observer tx_confirmer.ProgressObserver,
	) (tx_confirmer.Outcome, error)
}

type ConfirmHandler struct {
	logger   *logrus.Logger
	poller   Waiter
	history  history.Store
	progress storage.ProgressStore
	now      func() time.Time
}

func NewConfirmHandler(
	logger *logrus.Logger,
	poller Waiter,
	hist history.Store,
	progress storage.ProgressStore,
) *ConfirmHandler {
	return &ConfirmHandler{
		logger:   logger.WithField("pkg", "tasks.confirm").Logger,
		poller:   poller,
		history:  hist,
		progress: progress,
		now:      time.Now,
	}
}

// HandleConfirmTransfer polls for one submitted transfer. A confirmation
// marks the history record confirmed; a time out leaves it pending.
// Cancelling the task stops polling and is not retried.
func (h *ConfirmHandler) HandleConfirmTransfer(ctx context.Context, t *asynq.Task) error {
	var p ConfirmPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal: %v: %w", err, asynq.SkipRetry)
	}
	id, err := txid.Parse(p.Hash)
	if err != nil {
		return fmt.Errorf("txid.Parse: %v: %w", err, asynq.SkipRetry)
	}
	var account *address.Address
	if p.Sender != "" {
		account, err = tx_confirmer.ParseAddress(p.Sender)
		if err != nil {
			return fmt.Errorf("tx_confirmer.ParseAddress: %v: %w", err, asynq.SkipRetry)
		}
	}

	hash := id.String()
	logger := h.logger.WithFields(logrus.Fields{
		"tx_hash":   hash,
		"recipient": p.Recipient,
		"amount":    p.Amount,
	})

	pub := newPublisher(logger, h.progress, hash, h.now)
	go pub.run()

	out, err := h.poller.Wait(ctx, id, account, pub)
	if err != nil {
		if errors.Is(err, tx_confirmer.ErrPollCancelled) {
			pub.close(storage.Progress{
				Percent:  out.Progress,
				Message:  CancelledMessage,
				State:    StateCancelled,
				Attempts: out.Attempts,
			})
			logger.Info("confirmation task cancelled")
			return fmt.Errorf("h.poller.Wait: %v: %w", err, asynq.SkipRetry)
		}
		pub.close(storage.Progress{})
		return fmt.Errorf("h.poller.Wait: %w", err)
	}

	final := storage.Progress{
		Percent:  out.Progress,
		Message:  tx_confirmer.TimedOutHint,
		State:    string(out.State),
		Attempts: out.Attempts,
	}
	if out.Confirmed() {
		final.Percent = 100
		final.Message = confirmedMessage

		if err := h.history.SetStatus(ctx, hash, history.StatusConfirmed); err != nil {
			if !errors.Is(err, history.ErrNotFound) {
				pub.close(storage.Progress{})
				return fmt.Errorf("h.history.SetStatus: %w", err)
			}
			logger.Warn("confirmed transfer is no longer in history")
		}
	}
	pub.close(final)

	if w := t.ResultWriter(); w != nil {
		buf, err := json.Marshal(ConfirmResult{Hash: hash, Outcome: out})
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("w.Write: %w", err)
		}
	}
	return nil
}

// publisher forwards progress to the store off the polling goroutine. Only
// the latest report is kept, a slow store drops intermediate ones.
type publisher struct {
	logger *logrus.Entry
	store  storage.ProgressStore
	hash   string
	now    func() time.Time

	mu      sync.Mutex
	pending *storage.Progress

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newPublisher(logger *logrus.Entry, store storage.ProgressStore, hash string, now func() time.Time) *publisher {
	return &publisher{
		logger: logger,
		store:  store,
		hash:   hash,
		now:    now,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *publisher) OnProgress(percent int, message string) {
	p.set(storage.Progress{
		Percent: percent,
		Message: message,
		State:   string(tx_confirmer.StatePolling),
	})
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *publisher) set(pr storage.Progress) {
	pr.UpdatedAt = p.now().UnixMilli()
	p.mu.Lock()
	p.pending = &pr
	p.mu.Unlock()
}

func (p *publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *publisher) flush() {
	p.mu.Lock()
	pr := p.pending
	p.pending = nil
	p.mu.Unlock()
	if pr == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.store.SetProgress(ctx, p.hash, *pr); err != nil {
		p.logger.WithError(err).Warn("failed to publish progress")
	}
}

// close publishes final, unless it is zero, and waits for the publisher
// to drain.
func (p *publisher) close(final storage.Progress) {
	if final.State != "" {
		p.set(final)
	}
	close(p.stop)
	<-p.done
}
