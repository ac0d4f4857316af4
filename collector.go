package plogwatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// StatsCollector polls one plog server and turns its statistics into metric samples.
type StatsCollector struct {
	inst     Instance
	schema   Schema
	resolver TTLResolver
	logger   zerolog.Logger

	exchanger *exchanger
}

// CollectorOption configures a StatsCollector.
type CollectorOption func(*StatsCollector)

// WithResolver sets the resolver used for host names. The default queries the system name servers
// so record TTLs can be honored.
func WithResolver(r TTLResolver) CollectorOption {
	return func(c *StatsCollector) {
		c.resolver = r
	}
}

// WithCollectorLogger sets the logger for exchange diagnostics.
func WithCollectorLogger(logger zerolog.Logger) CollectorOption {
	return func(c *StatsCollector) {
		c.logger = logger
	}
}

// NewStatsCollector applies defaults to inst, validates it and returns a collector for it.
func NewStatsCollector(inst Instance, opts ...CollectorOption) (*StatsCollector, error) {
	inst.applyDefaults(0)
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	schema, err := inst.ResolveSchema()
	if err != nil {
		return nil, err
	}

	c := &StatsCollector{
		inst:   inst,
		schema: schema,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.exchanger = newExchanger(c.resolver, c.logger)
	return c, nil
}

// Instance returns the instance with defaults applied.
func (c *StatsCollector) Instance() Instance {
	return c.inst
}

// Schema returns the field table the collector extracts.
func (c *StatsCollector) Schema() Schema {
	return c.schema
}

// Collect performs one exchange and extracts every sample. Either every sample is returned or
// none is.
func (c *StatsCollector) Collect(ctx context.Context) ([]MetricSample, Exchange, error) {
	doc, ex, err := c.exchanger.fetchStats(ctx, c.inst)
	if err != nil {
		return nil, ex, err
	}
	samples, err := c.extract(doc)
	if err != nil {
		return nil, ex, err
	}
	return samples, ex, nil
}

// Poll collects once and emits the samples through rep. Nothing is emitted on error.
func (c *StatsCollector) Poll(ctx context.Context, rep Reporter) error {
	if rep == nil {
		return fmt.Errorf("%w: reporter is nil", ErrInvalidCheck)
	}
	samples, _, err := c.Collect(ctx)
	if err != nil {
		return err
	}
	Emit(rep, samples)
	return nil
}

// extract applies the field table then the handlers walk to a decoded document.
func (c *StatsCollector) extract(doc Value) ([]MetricSample, error) {
	buf := newSampleBuffer(c.inst.MetricPrefix(), c.inst.Suffix, c.inst.Tags, len(c.schema.Fields))

	for _, field := range c.schema.Fields {
		v, err := field.value(doc)
		if err != nil {
			return nil, err
		}
		buf.add(field.Name, v, field.Kind)
	}

	if c.schema.Handlers {
		acc, err := flattenHandlers(doc.Get("handlers"))
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(acc))
		for path := range acc {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			buf.add(path, acc[path], Gauge)
		}
	}

	return buf.samples, nil
}
