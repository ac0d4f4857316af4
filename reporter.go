package plogwatch

import (
	"io"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// Reporter is the host side of metric emission. Implementations own delivery; the check never
// learns whether a sample made it to a backend.
type Reporter interface {
	// Gauge records a last-value sample.
	Gauge(name string, value float64, tags []string)
	// Rate records a raw counter sample the host derives a rate from.
	Rate(name string, value float64, tags []string)
}

// MetricSample is a single value produced by a poll.
type MetricSample struct {
	Name  string
	Value float64
	Kind  MetricKind
	Tags  []string
}

// Emit sends every sample through the primitive matching its kind.
func Emit(rep Reporter, samples []MetricSample) {
	for _, s := range samples {
		switch s.Kind {
		case Rate:
			rep.Rate(s.Name, s.Value, s.Tags)
		default:
			rep.Gauge(s.Name, s.Value, s.Tags)
		}
	}
}

// sampleBuffer holds the samples of one poll until it is known to have succeeded.
type sampleBuffer struct {
	prefix  string
	suffix  string
	tags    []string
	samples []MetricSample
}

func newSampleBuffer(prefix, suffix string, tags []string, capacity int) *sampleBuffer {
	return &sampleBuffer{
		prefix:  prefix,
		suffix:  suffix,
		tags:    append([]string{}, tags...),
		samples: make([]MetricSample, 0, capacity),
	}
}

func (b *sampleBuffer) add(name string, value float64, kind MetricKind) {
	b.samples = append(b.samples, MetricSample{
		Name:  b.prefix + name + b.suffix,
		Value: value,
		Kind:  kind,
		Tags:  b.tags,
	})
}

//
// LogReporter
//

// LogReporter writes every sample to a zerolog logger at info level.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter returns a LogReporter writing to logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Gauge logs a gauge sample.
func (r *LogReporter) Gauge(name string, value float64, tags []string) {
	r.log(name, value, Gauge, tags)
}

// Rate logs a rate sample.
func (r *LogReporter) Rate(name string, value float64, tags []string) {
	r.log(name, value, Rate, tags)
}

func (r *LogReporter) log(name string, value float64, kind MetricKind, tags []string) {
	r.logger.Info().
		Str("metric", name).
		Stringer("kind", kind).
		Float64("value", value).
		Strs("tags", tags).
		Msg("sample")
}

//
// JSONLinesReporter
//

// jsonSample is the wire form of a sample written by JSONLinesReporter.
type jsonSample struct {
	Name  string   `json:"name"`
	Kind  string   `json:"kind"`
	Value float64  `json:"value"`
	Tags  []string `json:"tags"`
}

// JSONLinesReporter writes one JSON object per sample, newline terminated. It is safe for
// concurrent use.
type JSONLinesReporter struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewJSONLinesReporter returns a JSONLinesReporter writing to w.
func NewJSONLinesReporter(w io.Writer) *JSONLinesReporter {
	return &JSONLinesReporter{w: w}
}

// Gauge writes a gauge sample.
func (r *JSONLinesReporter) Gauge(name string, value float64, tags []string) {
	r.write(name, value, Gauge, tags)
}

// Rate writes a rate sample.
func (r *JSONLinesReporter) Rate(name string, value float64, tags []string) {
	r.write(name, value, Rate, tags)
}

// Err returns the first write or encoding error, if any. Samples after an error are discarded.
func (r *JSONLinesReporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *JSONLinesReporter) write(name string, value float64, kind MetricKind, tags []string) {
	if tags == nil {
		tags = []string{}
	}
	line, err := sonic.Marshal(jsonSample{Name: name, Kind: kind.String(), Value: value, Tags: tags})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err != nil {
		r.err = err
		return
	}
	line = append(line, '\n')
	if _, err := r.w.Write(line); err != nil {
		r.err = err
	}
}

//
// MultiReporter
//

// MultiReporter fans every sample out to several reporters, in order.
type MultiReporter []Reporter

// Gauge forwards a gauge sample to every reporter.
func (m MultiReporter) Gauge(name string, value float64, tags []string) {
	for _, r := range m {
		r.Gauge(name, value, tags)
	}
}

// Rate forwards a rate sample to every reporter.
func (m MultiReporter) Rate(name string, value float64, tags []string) {
	for _, r := range m {
		r.Rate(name, value, tags)
	}
}
