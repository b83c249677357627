package tx_confirmer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"
	"golang.org/x/sync/errgroup"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/metrics"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/source"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

// Poller corroborates a submitted transfer against the configured sources.
// A Poller holds no per-poll state, one instance serves any number of
// concurrent Wait calls.
type Poller struct {
	logger    *logrus.Logger
	cfg       config.PollConfig
	primary   []source.Source
	secondary []source.Source
	metrics   metrics.ConfirmerMetrics

	sleep  func(ctx context.Context, d time.Duration) error
	randFn func() float64
}

func NewPoller(
	logger *logrus.Logger,
	cfg config.PollConfig,
	primary []source.Source,
	secondary []source.Source,
	m metrics.ConfirmerMetrics,
) *Poller {
	cfg.ApplyDefaults()
	if m == nil {
		m = metrics.NewNilConfirmerMetrics()
	}
	return &Poller{
		logger:    logger.WithField("pkg", "tx_confirmer.poller").Logger,
		cfg:       cfg,
		primary:   primary,
		secondary: secondary,
		metrics:   m,
		sleep:     sleepCtx,
		randFn:    rand.Float64,
	}
}

// Wait polls until id is confirmed by any source or the attempt budget is
// spent. Running out of attempts is not an error, it yields StateTimedOut.
// account is the sender, used by the account scan; nil disables the scan.
// Cancelling ctx stops the poll between attempts with ErrPollCancelled.
func (p *Poller) Wait(
	ctx context.Context,
	id txid.Identifier,
	account *address.Address,
	observer ProgressObserver,
) (Outcome, error) {
	start := time.Now()
	p.metrics.IncActivePolls()
	defer p.metrics.DecActivePolls()

	fields := logrus.Fields{"tx_hash": id.String()}
	if account != nil {
		fields["account"] = account.String()
	}
	logger := p.logger.WithFields(fields)

	out := Outcome{State: StateIdle}
	bo := newBackoff(p.cfg.BaseDelay, p.cfg.MaxDelay, p.cfg.BackoffMultiplier, p.cfg.MaxJitter)
	bo.randFn = p.randFn

	for k := 1; k <= p.cfg.MaxAttempts; k++ {
		if err := ctx.Err(); err != nil {
			return p.cancelled(logger, out, start, err)
		}

		out.State = StatePolling
		out.Attempts = k
		out.Progress = progressAt(k, p.cfg.MaxAttempts)
		p.notify(logger, observer, out.Progress,
			fmt.Sprintf("Checking transaction status... (attempt %d/%d)", k, p.cfg.MaxAttempts))
		p.metrics.RecordAttempt()

		scan := k%p.cfg.FallbackEvery == 0
		if tx, ok := p.attempt(ctx, logger.WithField("attempt", k), id, account, scan); ok {
			return p.confirmed(logger, out, tx, start), nil
		}

		if k == p.cfg.MaxAttempts {
			break
		}
		delay := bo.Next()
		logger.WithFields(logrus.Fields{"attempt": k, "delay": delay}).Debug("not confirmed yet")
		if err := p.sleep(ctx, delay); err != nil {
			return p.cancelled(logger, out, start, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return p.cancelled(logger, out, start, err)
	}
	if tx, ok := p.attempt(ctx, logger.WithField("attempt", "sweep"), id, account, true); ok {
		return p.confirmed(logger, out, tx, start), nil
	}
	if err := ctx.Err(); err != nil {
		return p.cancelled(logger, out, start, err)
	}

	out.State = StateTimedOut
	p.metrics.RecordOutcome(string(StateTimedOut), out.Attempts)
	p.metrics.RecordPollDuration(time.Since(start))
	logger.WithField("attempts", out.Attempts).Warn("confirmation timed out, transfer status unknown")
	return out, nil
}

func (p *Poller) confirmed(logger *logrus.Entry, out Outcome, tx source.Transaction, start time.Time) Outcome {
	out.State = StateConfirmed
	out.Evidence = &tx
	p.metrics.RecordOutcome(string(StateConfirmed), out.Attempts)
	p.metrics.RecordPollDuration(time.Since(start))
	logger.WithFields(tx.Fields()).WithField("attempts", out.Attempts).Info("transfer confirmed")
	return out
}

func (p *Poller) cancelled(logger *logrus.Entry, out Outcome, start time.Time, cause error) (Outcome, error) {
	p.metrics.RecordOutcome("cancelled", out.Attempts)
	p.metrics.RecordPollDuration(time.Since(start))
	logger.WithField("attempts", out.Attempts).Info("confirmation polling cancelled")
	return out, fmt.Errorf("%w: %w", ErrPollCancelled, cause)
}

// attempt queries every primary source concurrently and, when scan is set,
// the secondary sources by account. Source errors never leave this function.
func (p *Poller) attempt(
	ctx context.Context,
	logger *logrus.Entry,
	id txid.Identifier,
	account *address.Address,
	scan bool,
) (source.Transaction, bool) {
	if tx, ok := p.queryPrimary(ctx, logger, id, account); ok {
		return tx, true
	}
	if !scan {
		return source.Transaction{}, false
	}
	return p.querySecondary(ctx, logger, id, account)
}

func (p *Poller) queryPrimary(
	ctx context.Context,
	logger *logrus.Entry,
	id txid.Identifier,
	account *address.Address,
) (source.Transaction, bool) {
	if len(p.primary) == 0 {
		return source.Transaction{}, false
	}

	hitCtx, stop := context.WithCancel(ctx)
	defer stop()

	type result struct {
		tx  source.Transaction
		hit bool
	}
	results := make([]result, len(p.primary))

	var eg errgroup.Group
	for i, src := range p.primary {
		eg.Go(func() error {
			callCtx, cancel := context.WithTimeout(hitCtx, p.cfg.SourceTimeout)
			defer cancel()

			tx, err := p.lookup(callCtx, src, id, account)
			if err != nil {
				// a sibling hit cancels the rest, that is not a source failure
				if hitCtx.Err() != nil && ctx.Err() == nil {
					return nil
				}
				p.recordSourceError(logger, src.Name(), err)
				return nil
			}
			results[i] = result{tx: tx, hit: true}
			stop()
			return nil
		})
	}
	_ = eg.Wait()

	for _, r := range results {
		if r.hit {
			return r.tx, true
		}
	}
	return source.Transaction{}, false
}

// lookup asks src by identifier, falling back to an account scan for sources
// that cannot look up by identifier.
func (p *Poller) lookup(
	ctx context.Context,
	src source.Source,
	id txid.Identifier,
	account *address.Address,
) (source.Transaction, error) {
	tx, err := src.LookupByIdentifier(ctx, id)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, source.ErrUnsupported) || account == nil {
		return source.Transaction{}, err
	}
	return p.scan(ctx, src, id, account)
}

func (p *Poller) scan(
	ctx context.Context,
	src source.Source,
	id txid.Identifier,
	account *address.Address,
) (source.Transaction, error) {
	txs, err := src.LookupRecent(ctx, account, p.cfg.RecentLimit)
	if err != nil {
		return source.Transaction{}, err
	}
	if tx, ok := source.FindMatch(txs, id); ok {
		return tx, nil
	}
	return source.Transaction{}, source.ErrNotFound
}

func (p *Poller) querySecondary(
	ctx context.Context,
	logger *logrus.Entry,
	id txid.Identifier,
	account *address.Address,
) (source.Transaction, bool) {
	if account == nil {
		logger.Debug("no sender account, skipping account scan")
		return source.Transaction{}, false
	}
	for _, src := range p.secondary {
		if ctx.Err() != nil {
			return source.Transaction{}, false
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.SourceTimeout)
		tx, err := p.scan(callCtx, src, id, account)
		cancel()
		if err != nil {
			p.recordSourceError(logger, src.Name(), err)
			continue
		}
		return tx, true
	}
	return source.Transaction{}, false
}

func (p *Poller) recordSourceError(logger *logrus.Entry, name string, err error) {
	kind := errorKind(err)
	p.metrics.RecordSourceError(name, kind)

	entry := logger.WithFields(logrus.Fields{"source": name, "kind": kind})
	if kind == metrics.ErrorKindNotFound {
		entry.Debug("transaction not found yet")
		return
	}
	entry.WithError(err).Warn("source lookup failed")
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, source.ErrNotFound):
		return metrics.ErrorKindNotFound
	case errors.Is(err, source.ErrUnsupported):
		return metrics.ErrorKindUnsupported
	case errors.Is(err, source.ErrRateLimited):
		return metrics.ErrorKindRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.ErrorKindTimeout
	case errors.Is(err, source.ErrProviderUnavailable):
		return metrics.ErrorKindUnavailable
	default:
		return metrics.ErrorKindOther
	}
}

func (p *Poller) notify(logger *logrus.Entry, observer ProgressObserver, percent int, message string) {
	if observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("progress observer panicked")
		}
	}()
	observer.OnProgress(percent, message)
}

// progressAt only reaches 100 on the last attempt.
func progressAt(attempt, maxAttempts int) int {
	p := int(math.Round(100 * float64(attempt) / float64(maxAttempts)))
	if attempt < maxAttempts && p >= 100 {
		return 99
	}
	return p
}
