package tx_confirmer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/metrics"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/source"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

type fakeSource struct {
	name   string
	byID   func(ctx context.Context, call int) (source.Transaction, error)
	recent func(ctx context.Context, call int) ([]source.Transaction, error)

	mu          sync.Mutex
	idCalls     int
	recentCalls int
}

func (f *fakeSource) Name() string {
	return f.name
}

func (f *fakeSource) LookupByIdentifier(ctx context.Context, _ txid.Identifier) (source.Transaction, error) {
	f.mu.Lock()
	f.idCalls++
	call := f.idCalls
	f.mu.Unlock()
	if f.byID == nil {
		return source.Transaction{}, source.ErrNotFound
	}
	return f.byID(ctx, call)
}

func (f *fakeSource) LookupRecent(ctx context.Context, _ *address.Address, _ int) ([]source.Transaction, error) {
	f.mu.Lock()
	f.recentCalls++
	call := f.recentCalls
	f.mu.Unlock()
	if f.recent == nil {
		return nil, nil
	}
	return f.recent(ctx, call)
}

func (f *fakeSource) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idCalls, f.recentCalls
}

type countingMetrics struct {
	metrics.NilConfirmerMetrics

	mu           sync.Mutex
	attempts     int
	outcomes     map[string]int
	sourceErrors map[string]int
	active       int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}, sourceErrors: map[string]int{}}
}

func (m *countingMetrics) RecordAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *countingMetrics) RecordSourceError(src, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceErrors[src+"/"+kind]++
}

func (m *countingMetrics) RecordOutcome(state string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[state]++
}

func (m *countingMetrics) IncActivePolls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active++
}

func (m *countingMetrics) DecActivePolls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
}

type progressRecorder struct {
	mu       sync.Mutex
	percents []int
	messages []string
}

func (r *progressRecorder) OnProgress(percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
	r.messages = append(r.messages, message)
}

func (r *progressRecorder) attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.percents)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testIdentifier(t *testing.T) txid.Identifier {
	t.Helper()
	id, err := txid.Parse("5e5f1c2b9a0d4e7f8a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f6071")
	require.NoError(t, err)
	return id
}

func testSender() *address.Address {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(0xa0 + i)
	}
	return address.NewAddress(0, 0, data)
}

func hit(name string, id txid.Identifier) source.Transaction {
	return source.Transaction{Source: name, Hash: "tx-" + name, InMsgHash: id.String(), Success: true}
}

type testPoller struct {
	*Poller
	mu     sync.Mutex
	delays []time.Duration
}

func newTestPoller(cfg config.PollConfig, m metrics.ConfirmerMetrics, primary, secondary []source.Source) *testPoller {
	tp := &testPoller{Poller: NewPoller(testLogger(), cfg, primary, secondary, m)}
	tp.randFn = func() float64 { return 0 }
	tp.sleep = func(ctx context.Context, d time.Duration) error {
		tp.mu.Lock()
		tp.delays = append(tp.delays, d)
		tp.mu.Unlock()
		return ctx.Err()
	}
	return tp
}

func TestPoller_ConfirmsOnThirdAttempt(t *testing.T) {
	id := testIdentifier(t)
	a := &fakeSource{name: "a", byID: func(_ context.Context, call int) (source.Transaction, error) {
		if call == 3 {
			return hit("a", id), nil
		}
		return source.Transaction{}, source.ErrNotFound
	}}
	b := &fakeSource{name: "b"}
	c := &fakeSource{name: "c"}
	m := newCountingMetrics()
	p := newTestPoller(config.DefaultPollConfig(), m, []source.Source{a, b}, []source.Source{c})
	rec := &progressRecorder{}

	out, err := p.Wait(context.Background(), id, testSender(), rec)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, out.State)
	require.True(t, out.Confirmed())
	require.Equal(t, 3, out.Attempts)
	require.Equal(t, 5, out.Progress)
	require.NotNil(t, out.Evidence)
	require.Equal(t, "tx-a", out.Evidence.Hash)

	aCalls, _ := a.calls()
	require.Equal(t, 3, aCalls)
	_, cRecent := c.calls()
	require.Zero(t, cRecent)

	require.Equal(t, []int{2, 3, 5}, rec.percents)
	require.Len(t, p.delays, 2)
	require.Equal(t, 2400*time.Millisecond, p.delays[0])

	require.Equal(t, 3, m.attempts)
	require.Equal(t, 1, m.outcomes["confirmed"])
	require.Zero(t, m.active)
}

func TestPoller_TimesOutAfterMaxAttemptsAndSweep(t *testing.T) {
	id := testIdentifier(t)
	rec := &progressRecorder{}

	var mu sync.Mutex
	var scannedAt []int
	a := &fakeSource{name: "a"}
	b := &fakeSource{name: "b", byID: func(context.Context, int) (source.Transaction, error) {
		return source.Transaction{}, source.ErrProviderUnavailable
	}}
	c := &fakeSource{name: "c", recent: func(context.Context, int) ([]source.Transaction, error) {
		mu.Lock()
		scannedAt = append(scannedAt, rec.attempt())
		mu.Unlock()
		return []source.Transaction{{Hash: "unrelated"}}, nil
	}}
	m := newCountingMetrics()
	p := newTestPoller(config.DefaultPollConfig(), m, []source.Source{a, b}, []source.Source{c})

	out, err := p.Wait(context.Background(), id, testSender(), rec)
	require.NoError(t, err)
	require.Equal(t, StateTimedOut, out.State)
	require.False(t, out.Confirmed())
	require.Nil(t, out.Evidence)
	require.Equal(t, 60, out.Attempts)

	aCalls, _ := a.calls()
	bCalls, _ := b.calls()
	require.Equal(t, 61, aCalls)
	require.Equal(t, 61, bCalls)

	want := []int{5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 60}
	require.Equal(t, want, scannedAt)

	require.Len(t, rec.percents, 60)
	for i := 1; i < len(rec.percents); i++ {
		require.GreaterOrEqual(t, rec.percents[i], rec.percents[i-1])
		if i < len(rec.percents)-1 {
			require.Less(t, rec.percents[i], 100)
		}
	}
	require.Equal(t, 100, rec.percents[59])

	require.Len(t, p.delays, 59)
	for _, d := range p.delays {
		require.LessOrEqual(t, d, 10*time.Second)
	}
	require.Equal(t, 10*time.Second, p.delays[58])

	require.Equal(t, 60, m.attempts)
	require.Equal(t, 1, m.outcomes["timed_out"])
	require.Equal(t, 61, m.sourceErrors["b/unavailable"])
	require.Equal(t, 61, m.sourceErrors["a/not_found"])
}

func TestPoller_FinalSweepCanConfirm(t *testing.T) {
	id := testIdentifier(t)
	cfg := config.DefaultPollConfig()
	cfg.MaxAttempts = 4
	a := &fakeSource{name: "a", byID: func(_ context.Context, call int) (source.Transaction, error) {
		if call == 5 {
			return hit("a", id), nil
		}
		return source.Transaction{}, source.ErrNotFound
	}}
	p := newTestPoller(cfg, nil, []source.Source{a}, nil)

	out, err := p.Wait(context.Background(), id, testSender(), nil)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, out.State)
	require.Equal(t, 4, out.Attempts)
	require.Equal(t, 100, out.Progress)
}

func TestPoller_ToleratesFailingSource(t *testing.T) {
	id := testIdentifier(t)
	a := &fakeSource{name: "a", byID: func(context.Context, int) (source.Transaction, error) {
		return source.Transaction{}, errors.New("connection reset by peer")
	}}
	b := &fakeSource{name: "b", byID: func(_ context.Context, call int) (source.Transaction, error) {
		if call == 2 {
			return hit("b", id), nil
		}
		return source.Transaction{}, source.ErrProviderUnavailable
	}}
	p := newTestPoller(config.DefaultPollConfig(), nil, []source.Source{a, b}, nil)

	out, err := p.Wait(context.Background(), id, testSender(), nil)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, out.State)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, "b", out.Evidence.Source)
}

func TestPoller_PriorityOrderWins(t *testing.T) {
	id := testIdentifier(t)
	a := &fakeSource{name: "a", byID: func(context.Context, int) (source.Transaction, error) {
		return hit("a", id), nil
	}}
	b := &fakeSource{name: "b", byID: func(context.Context, int) (source.Transaction, error) {
		return hit("b", id), nil
	}}
	p := newTestPoller(config.DefaultPollConfig(), nil, []source.Source{a, b}, nil)

	out, err := p.Wait(context.Background(), id, testSender(), nil)
	require.NoError(t, err)
	require.Equal(t, "a", out.Evidence.Source)
	require.Equal(t, 1, out.Attempts)
}

func TestPoller_FirstHitCancelsSlowSibling(t *testing.T) {
	id := testIdentifier(t)
	slowErr := make(chan error, 1)
	a := &fakeSource{name: "a", byID: func(ctx context.Context, _ int) (source.Transaction, error) {
		<-ctx.Done()
		slowErr <- ctx.Err()
		return source.Transaction{}, ctx.Err()
	}}
	b := &fakeSource{name: "b", byID: func(context.Context, int) (source.Transaction, error) {
		return hit("b", id), nil
	}}
	cfg := config.DefaultPollConfig()
	cfg.SourceTimeout = time.Minute
	m := newCountingMetrics()
	p := newTestPoller(cfg, m, []source.Source{a, b}, nil)

	start := time.Now()
	out, err := p.Wait(context.Background(), id, testSender(), nil)
	require.NoError(t, err)
	require.Equal(t, "b", out.Evidence.Source)
	require.Less(t, time.Since(start), 10*time.Second)
	require.ErrorIs(t, <-slowErr, context.Canceled)
	require.Zero(t, m.sourceErrors["a/other"])
}

func TestPoller_SourceTimeoutBoundsAttempt(t *testing.T) {
	id := testIdentifier(t)
	a := &fakeSource{name: "a", byID: func(ctx context.Context, _ int) (source.Transaction, error) {
		<-ctx.Done()
		return source.Transaction{}, ctx.Err()
	}}
	cfg := config.DefaultPollConfig()
	cfg.MaxAttempts = 1
	cfg.SourceTimeout = 20 * time.Millisecond
	m := newCountingMetrics()
	p := newTestPoller(cfg, m, []source.Source{a}, nil)

	out, err := p.Wait(context.Background(), id, testSender(), nil)
	require.NoError(t, err)
	require.Equal(t, StateTimedOut, out.State)
	require.Equal(t, 2, m.sourceErrors["a/timeout"])
}

func TestPoller_SecondaryScanMatchesAlternateEncoding(t *testing.T) {
	id := testIdentifier(t)
	a := &fakeSource{name: "a"}
	c := &fakeSource{name: "c", recent: func(context.Context, int) ([]source.Transaction, error) {
		return []source.Transaction{
			{Source: "c", Hash: "older"},
			{Source: "c", Hash: "match", InMsgHash: base64.RawURLEncoding.EncodeToString(id[:])},
		}, nil
	}}
	p := newTestPoller(config.DefaultPollConfig(), nil, []source.Source{a}, []source.Source{c})

	out, err := p.Wait(context.Background(), id, testSender(), nil)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, out.State)
	require.Equal(t, 5, out.Attempts)
	require.Equal(t, "match", out.Evidence.Hash)

	aCalls, _ := a.calls()
	require.Equal(t, 5, aCalls)
}

func TestPoller_UnsupportedPrimaryScansAccount(t *testing.T) {
	id := testIdentifier(t)
	a := &fakeSource{
		name: "a",
		byID: func(context.Context, int) (source.Transaction, error) {
			return source.Transaction{}, source.ErrUnsupported
		},
		recent: func(context.Context, int) ([]source.Transaction, error) {
			return []source.Transaction{{Source: "a", Hash: id.Base64()}}, nil
		},
	}
	p := newTestPoller(config.DefaultPollConfig(), nil, []source.Source{a}, nil)

	out, err := p.Wait(context.Background(), id, testSender(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, StateConfirmed, out.State)
}

func TestPoller_NoAccountSkipsScans(t *testing.T) {
	id := testIdentifier(t)
	cfg := config.DefaultPollConfig()
	cfg.MaxAttempts = 5
	a := &fakeSource{name: "a", byID: func(context.Context, int) (source.Transaction, error) {
		return source.Transaction{}, source.ErrUnsupported
	}}
	c := &fakeSource{name: "c"}
	p := newTestPoller(cfg, nil, []source.Source{a}, []source.Source{c})

	out, err := p.Wait(context.Background(), id, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StateTimedOut, out.State)

	_, aRecent := a.calls()
	_, cRecent := c.calls()
	require.Zero(t, aRecent)
	require.Zero(t, cRecent)
}

func TestPoller_CancelBetweenAttempts(t *testing.T) {
	id := testIdentifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &fakeSource{name: "a"}
	m := newCountingMetrics()
	p := newTestPoller(config.DefaultPollConfig(), m, []source.Source{a}, nil)
	observer := ProgressFunc(func(percent int, _ string) {
		if percent == 3 {
			cancel()
		}
	})

	out, err := p.Wait(ctx, id, testSender(), observer)
	require.ErrorIs(t, err, ErrPollCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatePolling, out.State)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, 1, m.outcomes["cancelled"])
}

func TestPoller_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeSource{name: "a"}
	p := newTestPoller(config.DefaultPollConfig(), nil, []source.Source{a}, nil)

	out, err := p.Wait(ctx, testIdentifier(t), testSender(), nil)
	require.ErrorIs(t, err, ErrPollCancelled)
	require.Equal(t, StateIdle, out.State)
	require.Zero(t, out.Attempts)

	aCalls, _ := a.calls()
	require.Zero(t, aCalls)
}

func TestPoller_ObserverPanicDoesNotAbort(t *testing.T) {
	id := testIdentifier(t)
	a := &fakeSource{name: "a", byID: func(_ context.Context, call int) (source.Transaction, error) {
		if call == 2 {
			return hit("a", id), nil
		}
		return source.Transaction{}, source.ErrNotFound
	}}
	p := newTestPoller(config.DefaultPollConfig(), nil, []source.Source{a}, nil)

	out, err := p.Wait(context.Background(), id, testSender(), ProgressFunc(func(int, string) {
		panic("render failed")
	}))
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, out.State)
	assert.Equal(t, 2, out.Attempts)
}

func TestPoller_IndependentConcurrentPolls(t *testing.T) {
	first := testIdentifier(t)
	second, err := txid.Parse("00000000000000000000000000000000000000000000000000000000000000ff")
	require.NoError(t, err)

	matcher := &idSource{confirmed: map[txid.Identifier]bool{second: true}}
	p := newTestPoller(config.DefaultPollConfig(), nil, []source.Source{matcher}, nil)
	p.Poller.cfg.MaxAttempts = 3

	var wg sync.WaitGroup
	outs := make([]Outcome, 2)
	for i, id := range []txid.Identifier{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i], _ = p.Wait(context.Background(), id, testSender(), nil)
		}()
	}
	wg.Wait()

	require.Equal(t, StateTimedOut, outs[0].State)
	require.Equal(t, StateConfirmed, outs[1].State)
}

type idSource struct {
	confirmed map[txid.Identifier]bool
}

func (s *idSource) Name() string { return "ids" }

func (s *idSource) LookupByIdentifier(_ context.Context, id txid.Identifier) (source.Transaction, error) {
	if s.confirmed[id] {
		return hit("ids", id), nil
	}
	return source.Transaction{}, source.ErrNotFound
}

func (s *idSource) LookupRecent(context.Context, *address.Address, int) ([]source.Transaction, error) {
	return nil, nil
}

func TestProgressAt(t *testing.T) {
	require.Equal(t, 2, progressAt(1, 60))
	require.Equal(t, 5, progressAt(3, 60))
	require.Equal(t, 8, progressAt(5, 60))
	require.Equal(t, 100, progressAt(60, 60))
	require.Equal(t, 100, progressAt(1, 1))
	require.Equal(t, 99, progressAt(200, 201))
}

func TestProgressAt_FullOnlyOnLastAttempt(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 3, 60, 199, 201, 1000} {
		t.Run(fmt.Sprint(maxAttempts), func(t *testing.T) {
			prev := 0
			for k := 1; k <= maxAttempts; k++ {
				p := progressAt(k, maxAttempts)
				require.GreaterOrEqual(t, p, prev)
				if k < maxAttempts {
					require.Less(t, p, 100, "attempt %d of %d", k, maxAttempts)
				}
				prev = p
			}
			require.Equal(t, 100, prev)
		})
	}
}

func TestPoller_ProgressWithLongBudget(t *testing.T) {
	id := testIdentifier(t)
	cfg := config.DefaultPollConfig()
	cfg.MaxAttempts = 201
	p := newTestPoller(cfg, nil, []source.Source{&fakeSource{name: "a"}}, nil)
	rec := &progressRecorder{}

	out, err := p.Wait(context.Background(), id, nil, rec)
	require.NoError(t, err)
	require.Equal(t, StateTimedOut, out.State)
	require.Len(t, rec.percents, 201)
	require.Equal(t, 99, rec.percents[199])
	require.Equal(t, 100, rec.percents[200])
}

func TestNewPoller_DefaultsJitter(t *testing.T) {
	p := NewPoller(testLogger(), config.PollConfig{}, nil, nil, nil)
	require.Equal(t, time.Second, p.cfg.MaxJitter)
	require.Equal(t, 60, p.cfg.MaxAttempts)

	cfg := config.PollConfig{MaxJitter: -1}
	p = NewPoller(testLogger(), cfg, nil, nil, nil)
	require.Zero(t, p.cfg.MaxJitter)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{source.ErrNotFound, metrics.ErrorKindNotFound},
		{fmt.Errorf("%w: x", source.ErrUnsupported), metrics.ErrorKindUnsupported},
		{fmt.Errorf("%w: x: %w", source.ErrRateLimited, errors.New("would exceed deadline")), metrics.ErrorKindRateLimited},
		{fmt.Errorf("%w: x: %w", source.ErrProviderUnavailable, context.DeadlineExceeded), metrics.ErrorKindTimeout},
		{fmt.Errorf("%w: x returned status 502", source.ErrProviderUnavailable), metrics.ErrorKindUnavailable},
		{errors.New("boom"), metrics.ErrorKindOther},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			require.Equal(t, tc.want, errorKind(tc.err))
		})
	}
}
