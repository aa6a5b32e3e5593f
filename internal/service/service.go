package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arbsignals/internal/metrics"
	"arbsignals/internal/model"
	"arbsignals/internal/scheduler"
	"arbsignals/internal/storage"
)

// Collector polls exchanges and picks its own cadence.
type Collector interface {
	Cycle(ctx context.Context) error
	NextInterval() time.Duration
}

// Detector produces the current signal set.
type Detector interface {
	Cycle(ctx context.Context) ([]model.Signal, error)
}

// Evaluator opens and closes virtual trades.
type Evaluator interface {
	Cycle(ctx context.Context) error
}

// Tuner refreshes the threshold snapshot.
type Tuner interface {
	Cycle(ctx context.Context) (model.ParamSnapshot, error)
}

// Reporter writes market statistics and the system status.
type Reporter interface {
	Cycle(ctx context.Context) (model.SystemStatus, error)
}

// Components are the periodic workers. A nil component is disabled.
type Components struct {
	Collector Collector
	Detector  Detector
	Evaluator Evaluator
	Tuner     Tuner
	Reporter  Reporter
}

// Options configure loop cadences.
type Options struct {
	CollectorInterval time.Duration
	DetectorInterval  time.Duration
	EvalInterval      time.Duration
	TunerInterval     time.Duration
	StatsInterval     time.Duration

	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string

	// LockKey, with a locker, makes this replica wait for leadership before
	// starting any loop.
	LockKey       int64
	LockRetryWait time.Duration
}

// Service runs every component on its own scheduler.
type Service struct {
	opts       Options
	components Components
	locker     storage.AdvisoryLocker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New constructs the signal service.
func New(opts Options, components Components, locker storage.AdvisoryLocker, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if opts.LockRetryWait <= 0 {
		opts.LockRetryWait = 10 * time.Second
	}
	return &Service{
		opts:       opts,
		components: components,
		locker:     locker,
		metrics:    m,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Run blocks until ctx is cancelled or a loop fails fatally.
func (s *Service) Run(ctx context.Context) error {
	if s.components.Collector == nil && s.components.Detector == nil {
		return fmt.Errorf("no components configured")
	}

	unlock, err := s.acquireLeadership(ctx)
	if err != nil {
		return err
	}
	if unlock != nil {
		defer unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.opts.MetricsAddr != "" && s.metrics != nil {
		// A metrics endpoint failure is logged but never stops the loops.
		g.Go(func() error {
			err := s.metrics.Serve(gctx, s.opts.MetricsAddr, s.logger)
			if err != nil && gctx.Err() == nil {
				s.logger.Error().Err(err).Str("addr", s.opts.MetricsAddr).Msg("metrics server stopped")
			}
			return nil
		})
	}

	if c := s.components.Collector; c != nil {
		s.loop(gctx, g, scheduler.Options{Name: "collector", Interval: s.opts.CollectorInterval, NextInterval: c.NextInterval}, func(ctx context.Context, _ time.Time) error {
			return c.Cycle(ctx)
		})
	}
	if d := s.components.Detector; d != nil {
		s.loop(gctx, g, scheduler.Options{Name: "arbitrage", Interval: s.opts.DetectorInterval}, func(ctx context.Context, _ time.Time) error {
			_, err := d.Cycle(ctx)
			return err
		})
	}
	if e := s.components.Evaluator; e != nil {
		s.loop(gctx, g, scheduler.Options{Name: "evaluation", Interval: s.opts.EvalInterval}, func(ctx context.Context, _ time.Time) error {
			return e.Cycle(ctx)
		})
	}
	if t := s.components.Tuner; t != nil {
		s.loop(gctx, g, scheduler.Options{Name: "tuner", Interval: s.opts.TunerInterval}, func(ctx context.Context, _ time.Time) error {
			_, err := t.Cycle(ctx)
			return err
		})
	}
	if r := s.components.Reporter; r != nil {
		s.loop(gctx, g, scheduler.Options{Name: "stats", Interval: s.opts.StatsInterval}, func(ctx context.Context, _ time.Time) error {
			_, err := r.Cycle(ctx)
			return err
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Service) loop(ctx context.Context, g *errgroup.Group, opts scheduler.Options, tick scheduler.TickFunc) {
	name := opts.Name
	opts.Immediate = true
	opts.OnFailure = func(error) { s.metrics.CycleFailed(name) }
	sched := scheduler.New(opts, s.logger)
	g.Go(func() error {
		s.logger.Info().Str("loop", name).Msg("loop started")
		return sched.Run(ctx, tick)
	})
}

// acquireLeadership blocks until this replica holds the advisory lock. It
// returns a nil release func when locking is not configured.
func (s *Service) acquireLeadership(ctx context.Context) (func(), error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, nil
	}
	for {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
		if err != nil {
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if acquired {
			s.logger.Info().Int64("lock_key", s.opts.LockKey).Msg("leadership acquired")
			return unlock, nil
		}
		s.logger.Info().Dur("retry_in", s.opts.LockRetryWait).Msg("another replica holds the lock; standing by")

		timer := time.NewTimer(s.opts.LockRetryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
