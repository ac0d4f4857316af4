package plogwatch

import "time"

// Event names passed to MetricsSink.ObserveEvent.
const (
	EventCheckAdded   = "check_added"
	EventCheckRemoved = "check_removed"
	EventPollSkipped  = "poll_skipped"
)

// MetricsSink is a pluggable observer for polls and internal events.
// Implementations must be non-blocking or very fast; the Agent invokes the sink
// best-effort and does not wait for completion.
type MetricsSink interface {
	ObservePoll(PollMetrics)
	ObserveEvent(name string, fields map[string]any)
}

// PollMetrics is a payload-free snapshot of one poll suitable for metrics export.
type PollMetrics struct {
	CheckID   string
	Target    string
	Samples   int
	SizeBytes int
	Dropped   int
	Err       string
	Latency   time.Duration
}

func pollMetricsFromResult(res PollResult) PollMetrics {
	m := PollMetrics{
		CheckID:   res.CheckID,
		Target:    res.Target,
		Samples:   len(res.Samples),
		SizeBytes: res.Exchange.Size,
		Dropped:   res.Exchange.Dropped,
		Latency:   res.Exchange.Latency(),
	}
	if res.Err != nil {
		m.Err = res.Err.Error()
	}
	return m
}
