package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cmetrics "github.com/vultisig/ton-confirmer/tx_confirmer/pkg/metrics"
)

var (
	confirmerAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmer",
			Name:      "attempts_total",
			Help:      "Total number of confirmation attempts across all polls",
		},
	)

	confirmerSourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmer",
			Name:      "source_errors_total",
			Help:      "Source lookups that did not confirm, by source and kind",
		},
		[]string{"source", "kind"}, // kind: not_found, unavailable, unsupported, timeout, other
	)

	confirmerOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmer",
			Name:      "outcomes_total",
			Help:      "Finished polls by final state",
		},
		[]string{"state"},
	)

	confirmerAttemptsPerPoll = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "confirmer",
			Name:      "attempts_per_poll",
			Help:      "Attempts spent by a poll before it finished",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 30, 45, 60},
		},
		[]string{"state"},
	)

	confirmerPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "confirmer",
			Name:      "poll_duration_seconds",
			Help:      "Wall time of a confirmation poll",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	confirmerActivePolls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "confirmer",
			Name:      "active_polls",
			Help:      "Polls currently in progress",
		},
	)
)

// ConfirmerMetrics is the prometheus implementation of the poller metrics.
type ConfirmerMetrics struct{}

var _ cmetrics.ConfirmerMetrics = (*ConfirmerMetrics)(nil)

func NewConfirmerMetrics() *ConfirmerMetrics {
	return &ConfirmerMetrics{}
}

func (cm *ConfirmerMetrics) RecordAttempt() {
	confirmerAttemptsTotal.Inc()
}

func (cm *ConfirmerMetrics) RecordSourceError(source, kind string) {
	confirmerSourceErrors.WithLabelValues(source, kind).Inc()
}

func (cm *ConfirmerMetrics) RecordOutcome(state string, attempts int) {
	confirmerOutcomesTotal.WithLabelValues(state).Inc()
	confirmerAttemptsPerPoll.WithLabelValues(state).Observe(float64(attempts))
}

func (cm *ConfirmerMetrics) RecordPollDuration(d time.Duration) {
	confirmerPollDuration.Observe(d.Seconds())
}

func (cm *ConfirmerMetrics) IncActivePolls() {
	confirmerActivePolls.Inc()
}

func (cm *ConfirmerMetrics) DecActivePolls() {
	confirmerActivePolls.Dec()
}
