package metrics

import (
	"time"
)

// Error kinds reported by RecordSourceError
const (
	ErrorKindNotFound    = "not_found"
	ErrorKindUnavailable = "unavailable"
	ErrorKindUnsupported = "unsupported"
	ErrorKindTimeout     = "timeout"
	ErrorKindRateLimited = "rate_limited"
	ErrorKindOther       = "other"
)

// ConfirmerMetrics interface for collecting confirmation poller metrics
type ConfirmerMetrics interface {
	// RecordAttempt records one regular polling attempt
	RecordAttempt()

	// RecordSourceError records a failed lookup against a source
	RecordSourceError(source, kind string)

	// RecordOutcome records a terminal poll state (confirmed, timed_out, cancelled)
	RecordOutcome(state string, attempts int)

	// RecordPollDuration records the wall time of a whole poll
	RecordPollDuration(d time.Duration)

	// IncActivePolls and DecActivePolls track polls in flight
	IncActivePolls()
	DecActivePolls()
}

// NilConfirmerMetrics is a no-op implementation for when metrics are disabled
type NilConfirmerMetrics struct{}

func NewNilConfirmerMetrics() ConfirmerMetrics {
	return &NilConfirmerMetrics{}
}

func (n *NilConfirmerMetrics) RecordAttempt()                           {}
func (n *NilConfirmerMetrics) RecordSourceError(source, kind string)    {}
func (n *NilConfirmerMetrics) RecordOutcome(state string, attempts int) {}
func (n *NilConfirmerMetrics) RecordPollDuration(d time.Duration)       {}
func (n *NilConfirmerMetrics) IncActivePolls()                          {}
func (n *NilConfirmerMetrics) DecActivePolls()                          {}
