package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"arbsignals/internal/model"
)

// GuardedOptions tune the archive breaker.
type GuardedOptions struct {
	// WriteTimeout bounds each archive write.
	WriteTimeout time.Duration
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// Guarded mirrors signals and results into the archive behind a circuit
// breaker, so a slow or absent database never stalls the engine loops.
type Guarded struct {
	signals SignalArchive
	evals   EvalArchive
	opts    GuardedOptions
	cb      *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewGuarded wraps the archives.
func NewGuarded(signals SignalArchive, evals EvalArchive, opts GuardedOptions, logger zerolog.Logger) *Guarded {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 3
	}
	g := &Guarded{
		signals: signals,
		evals:   evals,
		opts:    opts,
		logger:  logger.With().Str("component", "archive").Logger(),
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "archive",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("archive breaker state change")
		},
	})
	return g
}

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

func (g *Guarded) run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
		defer cancel()
		return nil, fn(ctx)
	})
	return err
}

// ArchiveSignals stores signals.
func (g *Guarded) ArchiveSignals(ctx context.Context, signals []model.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	records := make([]SignalRecord, 0, len(signals))
	for _, s := range signals {
		records = append(records, SignalRecordFrom(s))
	}
	return g.run(ctx, func(ctx context.Context) error {
		return g.signals.InsertSignals(ctx, records)
	})
}

// ArchiveEvalResult stores one evaluation result.
func (g *Guarded) ArchiveEvalResult(ctx context.Context, r model.VirtualEvalResult) error {
	rec := EvalRecordFrom(r)
	return g.run(ctx, func(ctx context.Context) error {
		return g.evals.UpsertEvalResult(ctx, rec)
	})
}
