package plogwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkbrsn/taskman"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// CheckOption is a functional option for the Check struct.
type CheckOption func(*Check)

// WithCheckResolver sets the resolver the check's collector uses for host names.
func WithCheckResolver(r TTLResolver) CheckOption {
	return func(c *Check) {
		c.resolver = r
	}
}

// Check polls one plog server on the instance's interval and emits its metrics through Reporter.
type Check struct {
	ID       string
	Instance Instance
	Reporter Reporter

	resolver  TTLResolver
	collector *StatsCollector
	logger    zerolog.Logger
	deliver   func(PollResult)
	ctx       context.Context

	inFlight    atomic.Bool
	polls       atomic.Uint64
	failures    atomic.Uint64
	skipped     atomic.Uint64
	lastSuccess atomic.Time
}

// CheckStats is a snapshot of a check's counters.
type CheckStats struct {
	Polls       uint64
	Failures    uint64
	Skipped     uint64
	LastSuccess time.Time
}

// NewCheck creates and validates a Check. An empty id is replaced by a random one.
func NewCheck(id string, inst Instance, rep Reporter, opts ...CheckOption) (*Check, error) {
	if id == "" {
		id = xid.New().String()
	}
	c := &Check{
		ID:       id,
		Instance: inst,
		Reporter: rep,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the Check is ready to be added to an Agent.
func (c *Check) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: check is nil", ErrInvalidCheck)
	}
	if c.ID == "" {
		return fmt.Errorf("%w: ID is empty", ErrInvalidCheck)
	}
	if c.Reporter == nil {
		return fmt.Errorf("%w: reporter is nil", ErrInvalidCheck)
	}
	inst := c.Instance
	inst.applyDefaults(0)
	if err := inst.Validate(); err != nil {
		return errors.Join(ErrInvalidCheck, err)
	}
	return nil
}

// Stats returns a snapshot of the check's counters.
func (c *Check) Stats() CheckStats {
	return CheckStats{
		Polls:       c.polls.Load(),
		Failures:    c.failures.Load(),
		Skipped:     c.skipped.Load(),
		LastSuccess: c.lastSuccess.Load(),
	}
}

// initialize builds the collector and connects the check to its agent.
func (c *Check) initialize(ctx context.Context, logger zerolog.Logger, deliver func(PollResult)) error {
	c.logger = logger.With().Str("check_id", c.ID).Logger()
	opts := []CollectorOption{WithCollectorLogger(c.logger)}
	if c.resolver != nil {
		opts = append(opts, WithResolver(c.resolver))
	}
	collector, err := NewStatsCollector(c.Instance, opts...)
	if err != nil {
		return errors.Join(ErrInvalidCheck, err)
	}
	c.collector = collector
	c.Instance = collector.Instance()
	c.ctx = ctx
	c.deliver = deliver
	return nil
}

// job returns the taskman job that polls the check on its interval.
func (c *Check) job() taskman.Job {
	cadence := c.Instance.IntervalDuration()
	return taskman.Job{
		ID:       c.ID,
		Cadence:  cadence,
		NextExec: time.Now().Add(cadence),
		Tasks:    []taskman.Task{&pollTask{check: c}},
	}
}

// poll runs one collection unless the previous one is still running.
func (c *Check) poll(ctx context.Context) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.skipped.Inc()
		c.logger.Debug().Msg("previous poll still in flight, skipping")
		c.send(PollResult{CheckID: c.ID, Target: c.Instance.Address(), Skipped: true})
		return nil
	}
	defer c.inFlight.Store(false)

	c.polls.Inc()
	samples, ex, err := c.collector.Collect(ctx)
	res := PollResult{
		CheckID:  c.ID,
		Target:   c.Instance.Address(),
		Samples:  samples,
		Exchange: ex,
		Err:      err,
	}
	if err != nil {
		c.failures.Inc()
		c.logger.Warn().Err(err).Str("target", res.Target).Msg("poll failed")
	} else {
		Emit(c.Reporter, samples)
		c.lastSuccess.Store(time.Now())
	}
	c.send(res)
	return err
}

func (c *Check) send(res PollResult) {
	if c.deliver != nil {
		c.deliver(res)
	}
}

// pollTask is an implementation of taskman.Task that polls a check once.
type pollTask struct {
	check *Check
}

// Execute polls the check.
func (t *pollTask) Execute() error {
	ctx := t.check.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return t.check.poll(ctx)
}

// PollResult is the outcome of one scheduled poll.
type PollResult struct {
	CheckID string
	Target  string
	// Samples holds what was emitted; nil when Err is set.
	Samples  []MetricSample
	Exchange Exchange
	Err      error
	// Skipped is set when the poll did not run because the previous one was still in flight.
	Skipped bool
}
