package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	calls  int
	accept bool
}

func (c *countingSink) EndOfInterval() bool {
	c.calls++
	return c.accept
}

func TestNextBoundary(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 10, 0, 0, time.UTC), NextBoundary(now, 5*time.Minute))

	// a time exactly on a boundary moves to the next one
	on := time.Date(2024, 5, 1, 10, 10, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC), NextBoundary(on, 5*time.Minute))

	assert.Equal(t, now, NextBoundary(now, 0))
}

func TestJobs(t *testing.T) {
	sink := &countingSink{accept: true}
	var pruned []time.Time
	s := New(5*time.Minute, time.Hour, sink, func(now time.Time) { pruned = append(pruned, now) }, nil)
	fixed := time.Unix(1700000000, 0)
	s.now = func() time.Time { return fixed }

	s.endOfInterval()
	sink.accept = false
	s.endOfInterval()
	assert.Equal(t, 2, sink.calls)

	s.runPrune()
	assert.Equal(t, []time.Time{fixed}, pruned)
}

func TestStartSchedulesOnBoundaries(t *testing.T) {
	s := New(5*time.Minute, 0, &countingSink{}, func(time.Time) {}, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	assert.Len(t, s.scheduler.Jobs(), 2)
	jobs, err := s.scheduler.FindJobsByTag(tagEndOfInterval)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Eventually(t, func() bool {
		next := jobs[0].NextRun()
		return !next.IsZero() && next.Unix()%300 == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStartWithoutSink(t *testing.T) {
	s := New(time.Minute, 0, nil, nil, nil)
	assert.Error(t, s.Start())
}

func TestEveryRunsTask(t *testing.T) {
	s := New(5*time.Minute, 0, &countingSink{}, nil, nil)
	var runs atomic.Int32
	require.NoError(t, s.Every("forecast", time.Hour, func() { runs.Add(1) }))
	assert.Error(t, s.Every("never", 0, func() {}))

	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	jobs, err := s.scheduler.FindJobsByTag("forecast")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}
