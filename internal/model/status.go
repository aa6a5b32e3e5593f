package model

import "time"

// ExchangeHealth is the per-exchange connectivity record owned by the connector.
type ExchangeHealth struct {
	Exchange            string    `json:"exchange"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastLatencyMS       float64   `json:"last_latency_ms"`
	CircuitOpen         bool      `json:"circuit_open"`
	CircuitOpenedAt     time.Time `json:"circuit_opened_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// MarketStats summarises the cross-exchange view of one symbol.
type MarketStats struct {
	Symbol        string    `json:"symbol"`
	MidPrice      float64   `json:"mid_price"`
	DispersionBps float64   `json:"dispersion_bps"`
	BestBid       float64   `json:"best_bid"`
	BestAsk       float64   `json:"best_ask"`
	Exchanges     int       `json:"exchanges"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SystemStatus is the aggregate health record published for operators.
type SystemStatus struct {
	StoreOK         bool      `json:"store_ok"`
	Degraded        bool      `json:"degraded"`
	ActiveExchanges []string  `json:"active_exchanges"`
	OpenCircuits    []string  `json:"open_circuits"`
	ActiveSymbols   []string  `json:"active_symbols"`
	CurrentSignals  int       `json:"current_signals"`
	PendingTrades   int       `json:"pending_trades"`
	GeneratedAt     time.Time `json:"generated_at"`
}
