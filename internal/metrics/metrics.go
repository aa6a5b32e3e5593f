// Package metrics exposes Prometheus collectors for every component loop.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"arbsignals/internal/model"
)

const namespace = "arbsignals"

// Metrics holds the registry and collectors.
type Metrics struct {
	registry *prometheus.Registry

	FetchDuration  *prometheus.HistogramVec
	FetchFailures  *prometheus.CounterVec
	FetchSkipped   *prometheus.CounterVec
	CircuitOpen    *prometheus.GaugeVec
	BooksStored    *prometheus.GaugeVec
	SignalsEmitted *prometheus.CounterVec
	SignalsCurrent prometheus.Gauge
	TradesOpened   prometheus.Counter
	EvalResults    *prometheus.CounterVec
	PendingTrades  prometheus.Gauge
	Thresholds     *prometheus.GaugeVec
	CycleErrors    *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Exchange fetch latency including retries",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
			[]string{"exchange", "result"},
		),
		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Exchange fetches that exhausted their retry budget",
			},
			[]string{"exchange"},
		),
		FetchSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_skipped_total",
				Help:      "Exchange fetches skipped because the circuit was open",
			},
			[]string{"exchange"},
		),
		CircuitOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_open",
				Help:      "1 when the exchange circuit breaker is open",
			},
			[]string{"exchange"},
		),
		BooksStored: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "books_stored",
				Help:      "Exchanges with a valid book per symbol after the last collector cycle",
			},
			[]string{"symbol"},
		),
		SignalsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_emitted_total",
				Help:      "Signals produced by the arbitrage engine",
			},
			[]string{"symbol", "severity"},
		),
		SignalsCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "signals_current",
				Help:      "Size of the current signal set",
			},
		),
		TradesOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "virtual_trades_opened_total",
				Help:      "Virtual trades opened",
			},
		),
		EvalResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "virtual_trades_evaluated_total",
				Help:      "Virtual trades closed by grade",
			},
			[]string{"grade"},
		),
		PendingTrades: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "virtual_trades_pending",
				Help:      "Virtual trades waiting for their hold period",
			},
		),
		Thresholds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tuned_threshold",
				Help:      "Current tuned detection thresholds",
			},
			[]string{"param"},
		),
		CycleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_errors_total",
				Help:      "Failed or panicked component cycles",
			},
			[]string{"component"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FetchDuration,
		m.FetchFailures,
		m.FetchSkipped,
		m.CircuitOpen,
		m.BooksStored,
		m.SignalsEmitted,
		m.SignalsCurrent,
		m.TradesOpened,
		m.EvalResults,
		m.PendingTrades,
		m.Thresholds,
		m.CycleErrors,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFetch records one exchange fetch outcome.
func (m *Metrics) ObserveFetch(exchange string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.FetchFailures.WithLabelValues(exchange).Inc()
	}
	m.FetchDuration.WithLabelValues(exchange, result).Observe(d.Seconds())
}

// FetchSkippedFor counts a fetch suppressed by an open circuit.
func (m *Metrics) FetchSkippedFor(exchange string) {
	if m == nil {
		return
	}
	m.FetchSkipped.WithLabelValues(exchange).Inc()
}

// SetHealth mirrors circuit state.
func (m *Metrics) SetHealth(health map[string]model.ExchangeHealth) {
	if m == nil {
		return
	}
	for name, h := range health {
		v := 0.0
		if h.CircuitOpen {
			v = 1
		}
		m.CircuitOpen.WithLabelValues(name).Set(v)
	}
}

// SetBooks records how many exchanges quoted symbol.
func (m *Metrics) SetBooks(symbol string, n int) {
	if m == nil {
		return
	}
	m.BooksStored.WithLabelValues(symbol).Set(float64(n))
}

// SignalsProduced records one arbitrage cycle's output.
func (m *Metrics) SignalsProduced(signals []model.Signal) {
	if m == nil {
		return
	}
	for _, s := range signals {
		m.SignalsEmitted.WithLabelValues(s.Symbol, string(s.Severity)).Inc()
	}
	m.SignalsCurrent.Set(float64(len(signals)))
}

// TradeOpened counts a new pending virtual trade.
func (m *Metrics) TradeOpened() {
	if m == nil {
		return
	}
	m.TradesOpened.Inc()
}

// TradeEvaluated counts a closed virtual trade.
func (m *Metrics) TradeEvaluated(grade model.Grade) {
	if m == nil {
		return
	}
	m.EvalResults.WithLabelValues(string(grade)).Inc()
}

// SetPending records the pending trade count.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingTrades.Set(float64(n))
}

// SetSnapshot mirrors the tuned thresholds.
func (m *Metrics) SetSnapshot(snap model.ParamSnapshot) {
	if m == nil {
		return
	}
	m.Thresholds.WithLabelValues("min_net_profit_usd").Set(snap.MinNetProfitUSD)
	m.Thresholds.WithLabelValues("min_spread_bps").Set(snap.MinSpreadBps)
	m.Thresholds.WithLabelValues("min_volume_usd").Set(snap.MinVolumeUSD)
}

// CycleFailed counts a failed cycle of component.
func (m *Metrics) CycleFailed(component string) {
	if m == nil {
		return
	}
	m.CycleErrors.WithLabelValues(component).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
