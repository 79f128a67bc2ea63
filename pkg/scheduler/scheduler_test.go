package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/metrics"
)

// fakeSleeper records delays and cancels the run after limit sleeps
type fakeSleeper struct {
	delays []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	if len(f.delays) >= f.limit {
		f.cancel()
		return ctx.Err()
	}
	return nil
}

func TestDelayPolicyNext(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	policy := DefaultDelayPolicy()

	seen := map[time.Duration]bool{}
	for i := 0; i < 2000; i++ {
		d := policy.Next(rng)
		require.GreaterOrEqual(t, d, 270*time.Second)
		require.LessOrEqual(t, d, 550*time.Second)
		require.Zero(t, d%time.Second, "whole seconds")
		seen[d] = true
	}
	assert.Greater(t, len(seen), 100)

	fixed := DelayPolicy{Min: time.Minute, Max: time.Minute}
	assert.Equal(t, time.Minute, fixed.Next(rng))
	assert.Equal(t, time.Minute, DelayPolicy{Min: time.Minute, Max: 2 * time.Minute}.Next(nil))
}

func TestDelayPolicyBoundsAreInclusive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	policy := DelayPolicy{Min: time.Second, Max: 2 * time.Second}

	got := map[time.Duration]bool{}
	for i := 0; i < 200; i++ {
		got[policy.Next(rng)] = true
	}
	assert.Equal(t, map[time.Duration]bool{time.Second: true, 2 * time.Second: true}, got)
}

func TestDelayPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultDelayPolicy().Validate())
	assert.NoError(t, DelayPolicy{Min: time.Second, Max: time.Second}.Validate())
	assert.Error(t, DelayPolicy{Min: 2 * time.Second, Max: time.Second}.Validate())
	assert.Error(t, DelayPolicy{Min: -time.Second}.Validate())
}

func TestRunLoopsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &fakeSleeper{limit: 3, cancel: cancel}

	runs := 0
	job := func(ctx context.Context) error {
		runs++
		if runs == 2 {
			return errors.New("feed unavailable")
		}
		return nil
	}

	log := logger.NewTestLogger()
	s := New(job, DelayPolicy{Min: 10 * time.Second, Max: 20 * time.Second}, log,
		WithSleeper(sleeper), WithRand(rand.New(rand.NewSource(3))))

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 3, runs, "a failed cycle does not stop the loop")
	require.Len(t, sleeper.delays, 3)
	for _, d := range sleeper.delays {
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 20*time.Second)
	}
	assert.True(t, log.HasMessage("Cycle failed"))
	assert.True(t, log.HasMessage("Component stopped"))
}

func TestRunRecoversPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &fakeSleeper{limit: 2, cancel: cancel}

	runs := 0
	job := func(ctx context.Context) error {
		runs++
		if runs == 1 {
			panic("nil story")
		}
		return nil
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	s := New(job, DelayPolicy{}, logger.NewNopLogger(), WithSleeper(sleeper), WithMetrics(m))

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 2, runs)

	count, err := testutil.GatherAndCount(reg, "storyrelay_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series each for panic and ok")
}

func TestRunStopsDuringCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := &fakeSleeper{limit: 10, cancel: cancel}

	job := func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	require.NoError(t, New(job, DelayPolicy{}, logger.NewNopLogger(), WithSleeper(sleeper)).Run(ctx))
	assert.Empty(t, sleeper.delays)
}

func TestRunOnce(t *testing.T) {
	want := errors.New("boom")
	s := New(func(ctx context.Context) error { return want }, DefaultDelayPolicy(), logger.NewNopLogger())
	assert.ErrorIs(t, s.RunOnce(context.Background()), want)

	s = New(func(ctx context.Context) error { panic("boom") }, DefaultDelayPolicy(), logger.NewNopLogger())
	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle panicked: boom")
}

func TestTimerSleeper(t *testing.T) {
	assert.NoError(t, timerSleeper{}.Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, timerSleeper{}.Sleep(ctx, time.Hour), context.Canceled)
}
