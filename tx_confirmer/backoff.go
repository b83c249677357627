package tx_confirmer

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// backoff grows the inter-attempt delay multiplicatively with additive
// jitter, capped at max. It is stateful and owned by a single poll.
type backoff struct {
	delay      time.Duration
	multiplier float64
	jitter     time.Duration
	max        time.Duration
	randFn     func() float64
}

func newBackoff(base, max time.Duration, multiplier float64, jitter time.Duration) *backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	if max < base {
		max = base
	}
	return &backoff{
		delay:      base,
		multiplier: multiplier,
		jitter:     jitter,
		max:        max,
		randFn:     rand.Float64,
	}
}

func (b *backoff) Next() time.Duration {
	next := float64(b.delay) * b.multiplier
	if b.jitter > 0 {
		next += b.randFn() * float64(b.jitter)
	}
	if next > float64(b.max) || next > math.MaxInt64 {
		next = float64(b.max)
	}
	b.delay = time.Duration(next)
	return b.delay
}

// sleepCtx returns ctx.Err() if ctx ends before d elapses.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
