package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"civicops/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type blockingAssigner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingAssigner) AssignPending(ctx context.Context, actorID string) (engine.TickResult, error) {
	b.calls.Add(1)
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.release != nil {
		<-b.release
	}
	return engine.TickResult{Considered: 1}, ctx.Err()
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	a := &blockingAssigner{started: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(a, time.Hour, nil, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := s.Tick(context.Background())
		assert.NoError(t, err)
		assert.False(t, res.Skipped)
	}()
	<-a.started
	require.True(t, s.Running())

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(a.release)
	wg.Wait()
	assert.EqualValues(t, 1, a.calls.Load())
	assert.False(t, s.Running())
}

func TestRunningTickIgnoresCancellation(t *testing.T) {
	a := &blockingAssigner{started: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(a, time.Hour, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.Tick(ctx)
		done <- err
	}()
	<-a.started
	cancel()
	close(a.release)
	require.NoError(t, <-done)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	a := &blockingAssigner{}
	s := NewScheduler(a, 5*time.Millisecond, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return a.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNextBoundary(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 3, 2, 0, 0, 0, 0, ist)},
		// 18:30 UTC is exactly midnight in IST; the next boundary is a day later
		{time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC), time.Date(2024, 3, 3, 0, 0, 0, 0, ist)},
		{time.Date(2024, 12, 31, 20, 0, 0, 0, time.UTC), time.Date(2025, 1, 2, 0, 0, 0, 0, ist)},
	}
	for _, tc := range cases {
		assert.True(t, tc.want.Equal(NextBoundary(tc.now, ist)), "now=%s got=%s", tc.now, NextBoundary(tc.now, ist))
	}
}

type countingResetter struct {
	calls atomic.Int32
}

func (c *countingResetter) ResetDailyCounts(context.Context, string) (engine.ResetResult, error) {
	c.calls.Add(1)
	return engine.ResetResult{Day: "2024-03-01", Workers: 2}, nil
}

func TestDailyResetCatchesUpThenWaitsForMidnight(t *testing.T) {
	r := &countingResetter{}
	d := NewDailyReset(r, time.UTC, zap.NewNop())
	d.Now = func() time.Time { return time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC) }
	waits := make(chan time.Duration, 4)
	fire := make(chan time.Time)
	d.wait = func(dur time.Duration) <-chan time.Time {
		waits <- dur
		return fire
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	assert.Equal(t, time.Hour, <-waits)
	assert.EqualValues(t, 1, r.calls.Load(), "catch-up reset at start")
	fire <- time.Time{}
	<-waits
	assert.EqualValues(t, 2, r.calls.Load())

	cancel()
	require.NoError(t, <-done)
}

type failingJob struct{ err error }

func (f failingJob) Name() string { return "failing" }
func (f failingJob) Run(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func TestRunnerCancelsSiblingsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	err := Runner{Jobs: []Job{failingJob{}, failingJob{err: boom}}}.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
