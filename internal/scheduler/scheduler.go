package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// IntervalFunc returns the delay before the next tick. It is consulted after
// every tick, so the cadence can adapt to the outcome of the previous one.
type IntervalFunc func() time.Duration

// FailureFunc is notified of every failed or panicked tick.
type FailureFunc func(err error)

// Options tune scheduler behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	NextInterval IntervalFunc
	AlignToStart bool
	StartupDelay time.Duration
	// Immediate runs the first tick right after the startup delay instead of
	// waiting a full interval.
	Immediate bool
	OnFailure FailureFunc
}

// Scheduler drives periodic execution of one component cycle. A failing or
// panicking tick is logged and the loop carries on.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 && opts.NextInterval == nil {
		panic("scheduler interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "scheduler"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("loop", opts.Name).Logger(),
	}
}

// Run blocks, invoking tick every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	var next time.Time
	if s.opts.Immediate {
		next = time.Now().UTC()
	} else {
		next = s.nextTick(time.Now().UTC())
	}

	for {
		delay := time.Until(next)
		if delay > 0 {
			s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		at := s.bucketStart(next)
		if err := s.safeTick(ctx, tick, at); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
			if s.opts.OnFailure != nil {
				s.opts.OnFailure(err)
			}
		}

		next = s.nextTick(time.Now().UTC())
	}
}

func (s *Scheduler) safeTick(ctx context.Context, tick TickFunc, at time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return tick(ctx, at)
}

func (s *Scheduler) interval() time.Duration {
	if s.opts.NextInterval != nil {
		if d := s.opts.NextInterval(); d > 0 {
			return d
		}
	}
	return s.opts.Interval
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	interval := s.interval()
	if !s.opts.AlignToStart {
		return now.Add(interval)
	}
	bucket := now.Truncate(interval)
	if !bucket.After(now) {
		bucket = bucket.Add(interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.interval())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
