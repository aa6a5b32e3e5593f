// Package state is the shared market state store every component reads and
// writes. Each key has a single writer; values are replaced whole.
package state

import (
	"context"
	"time"

	"arbsignals/internal/model"
)

// Pub/sub channels.
const (
	ChannelSignals = "signals"
	ChannelStatus  = "status"
)

// BookStore holds the latest normalized books per symbol.
type BookStore interface {
	BooksFor(ctx context.Context, symbol string) (map[string]model.NormalizedBook, error)
	SetBooks(ctx context.Context, symbol string, books map[string]model.NormalizedBook) error
}

// SignalStore holds the current signal set and the bounded signal history.
type SignalStore interface {
	Signals(ctx context.Context) ([]model.Signal, error)
	ReplaceSignals(ctx context.Context, signals []model.Signal) error
	Signal(ctx context.Context, id string) (model.Signal, error)
	AppendSignalHistory(ctx context.Context, signals []model.Signal) error
	RecentSignalHistory(ctx context.Context, limit int) ([]model.Signal, error)
}

// HealthStore holds observability records.
type HealthStore interface {
	ExchangeHealth(ctx context.Context) (map[string]model.ExchangeHealth, error)
	SetExchangeHealth(ctx context.Context, health map[string]model.ExchangeHealth) error
	MarketStats(ctx context.Context) ([]model.MarketStats, error)
	SetMarketStats(ctx context.Context, stats []model.MarketStats) error
	SystemStatus(ctx context.Context) (model.SystemStatus, error)
	SetSystemStatus(ctx context.Context, status model.SystemStatus) error
}

// TradeStore holds pending virtual trades and their terminal results.
type TradeStore interface {
	PendingTrade(ctx context.Context, signalID string) (model.VirtualTrade, error)
	// CreatePendingTrade stores t unless a pending trade already exists for the
	// same signal. It reports whether a new record was written.
	CreatePendingTrade(ctx context.Context, t model.VirtualTrade, ttl time.Duration) (bool, error)
	DeletePendingTrade(ctx context.Context, signalID string) error
	PendingTrades(ctx context.Context) ([]model.VirtualTrade, error)
	EvalResult(ctx context.Context, signalID string) (model.VirtualEvalResult, error)
	// SaveEvalResult writes the result and appends it to the global and
	// per-symbol history logs.
	SaveEvalResult(ctx context.Context, r model.VirtualEvalResult) error
	// RecentEvalResults lists newest first; an empty symbol selects the global log.
	RecentEvalResults(ctx context.Context, symbol string, limit int) ([]model.VirtualEvalResult, error)
}

// ParamStore holds the tuned threshold snapshot.
type ParamStore interface {
	ParamSnapshot(ctx context.Context) (model.ParamSnapshot, error)
	SetParamSnapshot(ctx context.Context, snap model.ParamSnapshot) error
}

// Bus is an at-most-once pub/sub transport. Subscribers that need durability
// must read the authoritative keys.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Store is the full market state contract.
type Store interface {
	BookStore
	SignalStore
	HealthStore
	TradeStore
	ParamStore
	Bus
	Ping(ctx context.Context) error
	Close() error
}
