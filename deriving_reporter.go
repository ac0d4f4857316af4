package plogwatch

import (
	"strings"
	"sync"
	"time"
)

// DerivingReporter turns raw counter samples into per-second rates before forwarding them, the
// way a metrics host treats RATE samples. Gauges pass through unchanged.
//
// A series is identified by name and tags. Its first sample only primes the series, and a counter
// that went backwards restarts it.
type DerivingReporter struct {
	next Reporter
	now  func() time.Time

	mu     sync.Mutex
	series map[string]counterSample
}

type counterSample struct {
	value float64
	at    time.Time
}

// NewDerivingReporter returns a DerivingReporter forwarding to next.
func NewDerivingReporter(next Reporter) *DerivingReporter {
	return &DerivingReporter{
		next:   next,
		now:    time.Now,
		series: make(map[string]counterSample),
	}
}

// Gauge forwards the sample as-is.
func (d *DerivingReporter) Gauge(name string, value float64, tags []string) {
	d.next.Gauge(name, value, tags)
}

// Rate records the counter and forwards its rate since the previous sample of the same series.
func (d *DerivingReporter) Rate(name string, value float64, tags []string) {
	key := seriesKey(name, tags)
	now := d.now()

	d.mu.Lock()
	prev, seen := d.series[key]
	d.series[key] = counterSample{value: value, at: now}
	d.mu.Unlock()

	if !seen {
		return
	}
	elapsed := now.Sub(prev.at).Seconds()
	delta := value - prev.value
	if elapsed <= 0 || delta < 0 {
		return
	}
	d.next.Rate(name, delta/elapsed, tags)
}

// Reset forgets every series.
func (d *DerivingReporter) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.series)
}

func seriesKey(name string, tags []string) string {
	return name + "|" + strings.Join(tags, ",")
}
