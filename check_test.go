package plogwatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCheck(t *testing.T) {
	rep := &recordingReporter{}

	c, err := NewCheck("", NewInstance(), rep)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID, "random ID assigned")

	c, err = NewCheck("plog-1", Instance{}, rep, WithCheckResolver(newTestResolver(nil, 0)))
	require.NoError(t, err)
	assert.Equal(t, "plog-1", c.ID)
	assert.NotNil(t, c.resolver)

	_, err = NewCheck("plog-2", NewInstance(), nil)
	assert.ErrorIs(t, err, ErrInvalidCheck)

	bad := NewInstance()
	bad.Timeout = -1
	_, err = NewCheck("plog-3", bad, rep)
	assert.ErrorIs(t, err, ErrInvalidCheck)
	assert.ErrorIs(t, err, ErrInvalidInstance)
}

func TestCheckValidate_Nil(t *testing.T) {
	var c *Check
	assert.ErrorIs(t, c.Validate(), ErrInvalidCheck)
}

func TestCheckPoll(t *testing.T) {
	server := newStatsServer(t, []byte(fullStats))
	rep := &recordingReporter{}
	var results []PollResult

	c, err := NewCheck("plog", testInstance(server.port()), rep)
	require.NoError(t, err)
	require.NoError(t, c.initialize(context.Background(), testLogger(t), func(res PollResult) {
		results = append(results, res)
	}))

	require.NoError(t, (&pollTask{check: c}).Execute())

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "plog", results[0].CheckID)
	assert.Equal(t, results[0].Samples, rep.Samples())
	assert.NotEmpty(t, rep.Samples())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Polls)
	assert.Zero(t, stats.Failures)
	assert.False(t, stats.LastSuccess.IsZero())
}

func TestCheckPoll_FailureCounted(t *testing.T) {
	server := newStatsServer(t, []byte(`{"uptime": 1}`))
	rep := &recordingReporter{}
	var last PollResult

	c, err := NewCheck("plog", testInstance(server.port()), rep)
	require.NoError(t, err)
	require.NoError(t, c.initialize(context.Background(), testLogger(t), func(res PollResult) { last = res }))

	err = c.poll(context.Background())
	require.ErrorIs(t, err, ErrMissingField)
	assert.ErrorIs(t, last.Err, ErrMissingField)
	assert.Nil(t, last.Samples)
	assert.Empty(t, rep.Samples())
	assert.Equal(t, uint64(1), c.Stats().Failures)
	assert.True(t, c.Stats().LastSuccess.IsZero())
}

func TestCheckPoll_SkipsWhileInFlight(t *testing.T) {
	server := startStatsServer(t, &statsServer{reply: []byte(fullStats), delay: 300 * time.Millisecond})
	rep := &recordingReporter{}
	skipped := make(chan PollResult, 1)

	c, err := NewCheck("plog", testInstance(server.port()), rep)
	require.NoError(t, err)
	require.NoError(t, c.initialize(context.Background(), testLogger(t), func(res PollResult) {
		if res.Skipped {
			skipped <- res
		}
	}))

	done := make(chan error, 1)
	go func() { done <- c.poll(context.Background()) }()
	require.Eventually(t, func() bool { return server.requests.Load() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, c.poll(context.Background()))
	select {
	case res := <-skipped:
		assert.Equal(t, "plog", res.CheckID)
	case <-time.After(time.Second):
		t.Fatal("expected a skipped result")
	}

	require.NoError(t, <-done)
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Polls)
	assert.Equal(t, uint64(1), stats.Skipped)
	assert.Equal(t, int64(1), server.requests.Load(), "overlapping poll sent nothing")
}

func TestCheckJob(t *testing.T) {
	inst := NewInstance()
	inst.Interval = 2
	c, err := NewCheck("plog", inst, &recordingReporter{})
	require.NoError(t, err)
	require.NoError(t, c.initialize(context.Background(), testLogger(t), nil))

	job := c.job()
	assert.Equal(t, "plog", job.ID)
	assert.Equal(t, 2*time.Second, job.Cadence)
	assert.Len(t, job.Tasks, 1)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), job.NextExec, time.Second)
}
