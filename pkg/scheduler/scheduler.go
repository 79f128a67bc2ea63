// Package scheduler runs the relay cycle forever with a randomized pause
// between runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"storyrelay/pkg/logger"
	"storyrelay/pkg/metrics"
)

// Cycle results, also used as metric labels
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultPanic = "panic"
)

// Job is one unit of scheduled work
type Job func(ctx context.Context) error

// DelayPolicy picks the pause between cycles uniformly from [Min, Max] in
// whole seconds
type DelayPolicy struct {
	Min time.Duration
	Max time.Duration
}

// DefaultDelayPolicy waits between 4.5 and a bit over 9 minutes
func DefaultDelayPolicy() DelayPolicy {
	return DelayPolicy{Min: 270 * time.Second, Max: 550 * time.Second}
}

// Validate checks the bounds
func (p DelayPolicy) Validate() error {
	if p.Min < 0 {
		return fmt.Errorf("min delay must not be negative")
	}
	if p.Max < p.Min {
		return fmt.Errorf("max delay %s is below min delay %s", p.Max, p.Min)
	}
	return nil
}

// Next returns the next delay. Min == Max gives a fixed delay.
func (p DelayPolicy) Next(rng *rand.Rand) time.Duration {
	lo := int64(p.Min / time.Second)
	hi := int64(p.Max / time.Second)
	if hi <= lo || rng == nil {
		return p.Min
	}
	return time.Duration(lo+rng.Int63n(hi-lo+1)) * time.Second
}

// Sleeper pauses between cycles and wakes early when ctx is done
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSleeper replaces the timer based sleeper, e.g. in tests
func WithSleeper(s Sleeper) Option {
	return func(sc *Scheduler) { sc.sleeper = s }
}

// WithRand sets the jitter source
func WithRand(r *rand.Rand) Option {
	return func(sc *Scheduler) { sc.rng = r }
}

// WithMetrics records every cycle
func WithMetrics(m *metrics.Metrics) Option {
	return func(sc *Scheduler) { sc.metrics = m }
}

// Scheduler runs one job at a time; cycles never overlap
type Scheduler struct {
	job     Job
	policy  DelayPolicy
	sleeper Sleeper
	rng     *rand.Rand
	metrics *metrics.Metrics
	logger  logger.Logger
}

// New creates a scheduler for job
func New(job Job, policy DelayPolicy, log logger.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Scheduler{
		job:     job,
		policy:  policy,
		sleeper: timerSleeper{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  log.WithField("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce runs the job a single time. A panic inside the job is recovered
// and returned as an error.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	start := time.Now()
	result := ResultOK

	defer func() {
		if r := recover(); r != nil {
			result = ResultPanic
			err = fmt.Errorf("cycle panicked: %v", r)
			s.logger.WithField("stack", string(debug.Stack())).Error(err.Error())
		}
		s.metrics.ObserveCycle(result, time.Since(start))
	}()

	if err = s.job(ctx); err != nil {
		result = ResultError
	}
	return err
}

// Run repeats the job until ctx is cancelled. Cycle errors are logged and
// never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.LogComponentStart(s.logger, "scheduler", map[string]interface{}{
		"min_delay": s.policy.Min.String(),
		"max_delay": s.policy.Max.String(),
	})

	for cycle := 1; ; cycle++ {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).WithField("cycle", cycle).Warn("Cycle failed, retrying after the next delay")
		}
		if ctx.Err() != nil {
			break
		}

		delay := s.policy.Next(s.rng)
		s.logger.InfoWithFields("Waiting for next cycle", map[string]interface{}{
			"cycle": cycle,
			"delay": delay.String(),
		})
		if err := s.sleeper.Sleep(ctx, delay); err != nil {
			break
		}
	}

	logger.LogComponentStop(s.logger, "scheduler", "context cancelled")
	return nil
}
