package plogwatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jkbrsn/taskman"
	"github.com/rs/zerolog"
)

const defaultResultBuffer = 1024

// Agent schedules a collection of checks and forwards their poll results.
type Agent struct {
	checks      sync.Map // Key string to value *Check
	taskManager *taskman.TaskManager
	addMu       sync.Mutex

	logger     zerolog.Logger
	sink       MetricsSink
	bufferSize int

	resultMu sync.RWMutex
	results  chan PollResult
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option is a functional option for the Agent struct.
type Option func(*Agent)

// WithLogger sets the logger used by the agent and its checks.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithMetricsSink registers a sink that observes polls and agent events.
func WithMetricsSink(sink MetricsSink) Option {
	return func(a *Agent) {
		a.sink = sink
	}
}

// WithResultBuffer sets the capacity of the results channel.
func WithResultBuffer(size int) Option {
	return func(a *Agent) {
		if size > 0 {
			a.bufferSize = size
		}
	}
}

// New creates, starts, and returns a new Agent.
func New(opts ...Option) *Agent {
	a := &Agent{
		logger:     zerolog.Nop(),
		bufferSize: defaultResultBuffer,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.results = make(chan PollResult, a.bufferSize)
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.taskManager = taskman.New()
	return a
}

// AddCheck validates the check and schedules it on its instance's interval.
func (a *Agent) AddCheck(check *Check) error {
	if check == nil {
		return fmt.Errorf("%w: check is nil", ErrInvalidCheck)
	}
	if err := check.Validate(); err != nil {
		return err
	}

	a.addMu.Lock()
	defer a.addMu.Unlock()

	if a.isClosed() {
		return errors.New("agent is closed")
	}
	if _, loaded := a.checks.Load(check.ID); loaded {
		return fmt.Errorf("%w: check %s already added", ErrInvalidCheck, check.ID)
	}
	if err := check.initialize(a.ctx, a.logger, a.deliver); err != nil {
		return err
	}
	if err := a.taskManager.ScheduleJob(check.job()); err != nil {
		return fmt.Errorf("schedule check %s: %w", check.ID, err)
	}
	a.checks.Store(check.ID, check)

	a.logger.Info().
		Str("check_id", check.ID).
		Str("target", check.Instance.Address()).
		Dur("interval", check.Instance.IntervalDuration()).
		Msg("check added")
	a.observeEvent(EventCheckAdded, map[string]any{
		"check_id": check.ID,
		"target":   check.Instance.Address(),
	})
	return nil
}

// AddChecks adds every check, stopping at the first error.
func (a *Agent) AddChecks(checks ...*Check) error {
	for _, check := range checks {
		if err := a.AddCheck(check); err != nil {
			return err
		}
	}
	return nil
}

// RemoveCheck unschedules the check with the given ID.
func (a *Agent) RemoveCheck(id string) error {
	a.addMu.Lock()
	defer a.addMu.Unlock()

	if _, ok := a.checks.Load(id); !ok {
		return fmt.Errorf("check %s not found", id)
	}
	// The check stays tracked while its job may still be scheduled.
	if err := a.taskManager.RemoveJob(id); err != nil {
		return fmt.Errorf("remove check %s: %w", id, err)
	}
	a.checks.Delete(id)

	a.logger.Info().Str("check_id", id).Msg("check removed")
	a.observeEvent(EventCheckRemoved, map[string]any{"check_id": id})
	return nil
}

// Clear removes every check.
func (a *Agent) Clear() error {
	var errs []error
	for _, id := range a.CheckIDs() {
		if err := a.RemoveCheck(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckIDs returns the IDs of the scheduled checks in sorted order.
func (a *Agent) CheckIDs() []string {
	var ids []string
	a.checks.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Check returns the scheduled check with the given ID.
func (a *Agent) Check(id string) (*Check, bool) {
	v, ok := a.checks.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Check), true
}

// Results returns the channel poll results are delivered on. It is closed by Close.
func (a *Agent) Results() <-chan PollResult {
	return a.results
}

// Close stops scheduling, cancels in-flight polls and closes the results channel. Safe to call
// more than once.
func (a *Agent) Close() error {
	a.addMu.Lock()
	defer a.addMu.Unlock()

	a.resultMu.Lock()
	if a.closed {
		a.resultMu.Unlock()
		return nil
	}
	a.closed = true
	a.resultMu.Unlock()

	a.cancel()
	a.taskManager.Stop()
	a.checks.Clear()

	a.resultMu.Lock()
	close(a.results)
	a.resultMu.Unlock()
	return nil
}

func (a *Agent) isClosed() bool {
	a.resultMu.RLock()
	defer a.resultMu.RUnlock()
	return a.closed
}

// deliver hands a result to the results channel without blocking. When the buffer is full the
// oldest result is dropped.
func (a *Agent) deliver(res PollResult) {
	if res.Skipped {
		a.observeEvent(EventPollSkipped, map[string]any{"check_id": res.CheckID})
	} else if a.sink != nil {
		a.sink.ObservePoll(pollMetricsFromResult(res))
	}

	a.resultMu.RLock()
	defer a.resultMu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.results <- res:
		return
	default:
	}
	select {
	case <-a.results:
		a.logger.Debug().Str("check_id", res.CheckID).Msg("results buffer full, dropped oldest")
	default:
	}
	select {
	case a.results <- res:
	default:
	}
}

func (a *Agent) observeEvent(name string, fields map[string]any) {
	if a.sink != nil {
		a.sink.ObserveEvent(name, fields)
	}
}
