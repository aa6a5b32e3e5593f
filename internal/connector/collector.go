package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arbsignals/internal/metrics"
	"arbsignals/internal/model"
)

// Store is the slice of the state store the collector writes.
type Store interface {
	SetBooks(ctx context.Context, symbol string, books map[string]model.NormalizedBook) error
	SetExchangeHealth(ctx context.Context, health map[string]model.ExchangeHealth) error
}

// CollectorOptions configure the polling cycle.
type CollectorOptions struct {
	Symbols []string
	Retry   RetryOptions

	FastInterval             time.Duration
	SlowInterval             time.Duration
	DegradedInterval         time.Duration
	DegradedFailureThreshold int
}

// Collector fans out to every exchange once per cycle and writes the merged
// books. A failing exchange never blocks the others.
type Collector struct {
	opts      CollectorOptions
	symbols   []string
	exchanges []Exchange
	health    *Health
	store     Store
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewCollector wires exchanges to the store.
func NewCollector(opts CollectorOptions, exchanges []Exchange, health *Health, store Store, m *metrics.Metrics, logger zerolog.Logger) *Collector {
	if opts.FastInterval <= 0 {
		opts.FastInterval = 1500 * time.Millisecond
	}
	if opts.SlowInterval <= 0 {
		opts.SlowInterval = 4 * time.Second
	}
	if opts.DegradedInterval <= 0 {
		opts.DegradedInterval = 12 * time.Second
	}
	if opts.DegradedFailureThreshold <= 0 {
		opts.DegradedFailureThreshold = 5
	}
	if health == nil {
		health = NewHealth(HealthOptions{})
	}
	symbols := make([]string, 0, len(opts.Symbols))
	for _, s := range opts.Symbols {
		symbols = append(symbols, CanonicalSymbol(s))
	}
	return &Collector{
		opts:      opts,
		symbols:   symbols,
		exchanges: exchanges,
		health:    health,
		store:     store,
		metrics:   m,
		logger:    logger.With().Str("component", "collector").Logger(),
	}
}

// Health exposes the tracker for status reporting.
func (c *Collector) Health() *Health { return c.health }

// Cycle fetches every exchange concurrently, then replaces each symbol's book
// set with this cycle's successful quotes.
func (c *Collector) Cycle(ctx context.Context) error {
	results := make([][]model.NormalizedBook, len(c.exchanges))

	var g errgroup.Group
	for i, ex := range c.exchanges {
		g.Go(func() error {
			results[i] = c.fetch(ctx, ex)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	merged := make(map[string]map[string]model.NormalizedBook, len(c.symbols))
	for _, symbol := range c.symbols {
		merged[symbol] = make(map[string]model.NormalizedBook)
	}
	for _, books := range results {
		for _, book := range books {
			bySymbol, ok := merged[book.Symbol]
			if !ok {
				continue
			}
			bySymbol[book.Exchange] = book
		}
	}

	var errs []error
	for _, symbol := range c.symbols {
		books := merged[symbol]
		if err := c.store.SetBooks(ctx, symbol, books); err != nil {
			errs = append(errs, fmt.Errorf("store books %s: %w", symbol, err))
			continue
		}
		c.metrics.SetBooks(symbol, len(books))
		if len(books) < 2 {
			c.logger.Debug().Str("symbol", symbol).Int("exchanges", len(books)).Msg("fewer than two quotes")
		}
	}

	health := c.health.Snapshot()
	c.metrics.SetHealth(health)
	if err := c.store.SetExchangeHealth(ctx, health); err != nil {
		errs = append(errs, fmt.Errorf("store exchange health: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Collector) fetch(ctx context.Context, ex Exchange) []model.NormalizedBook {
	name := ex.Name()
	if !c.health.Allow(name) {
		c.logger.Debug().Str("exchange", name).Msg("circuit open, skipping fetch")
		c.metrics.FetchSkippedFor(name)
		return nil
	}

	start := time.Now()
	var books []model.NormalizedBook
	err := Retry(ctx, c.opts.Retry, func(ctx context.Context) error {
		var err error
		books, err = ex.FetchBooks(ctx, c.symbols)
		return err
	})
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.metrics.ObserveFetch(name, latency, err)
		if c.health.RecordFailure(name, latency, err) {
			c.logger.Warn().Err(err).Str("exchange", name).Dur("cooldown", c.health.Cooldown()).Msg("circuit opened")
		} else {
			c.logger.Warn().Err(err).Str("exchange", name).Msg("fetch failed")
		}
		return nil
	}

	c.metrics.ObserveFetch(name, latency, nil)
	c.health.RecordSuccess(name, latency)
	return books
}

// NextInterval picks the delay before the next cycle from the aggregate
// failure count: fast when every exchange is healthy, slower as failures pile up.
func (c *Collector) NextInterval() time.Duration {
	total := c.health.TotalFailures()
	switch {
	case total == 0:
		return c.opts.FastInterval
	case total <= c.opts.DegradedFailureThreshold:
		return c.opts.SlowInterval
	default:
		return c.opts.DegradedInterval
	}
}
