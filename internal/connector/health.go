package connector

import (
	"sort"
	"sync"
	"time"

	"arbsignals/internal/model"
)

const (
	minCooldown = 5 * time.Second
	maxCooldown = 30 * time.Second
)

// HealthOptions tune the per-exchange circuit breaker.
type HealthOptions struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is clamped to [5s, 30s].
	Cooldown time.Duration
	Now      func() time.Time
}

type exchangeState struct {
	failures    int
	open        bool
	openedAt    time.Time
	latency     time.Duration
	lastErr     string
	lastSuccess time.Time
	updatedAt   time.Time
}

// Health tracks consecutive failures per exchange and gates fetches through a
// circuit breaker. Once open, the circuit closes after the cooldown whatever
// happened meanwhile, and the failure counter restarts from zero.
type Health struct {
	mu       sync.Mutex
	opts     HealthOptions
	cooldown time.Duration
	states   map[string]*exchangeState
}

// NewHealth builds a tracker.
func NewHealth(opts HealthOptions) *Health {
	if opts.Threshold <= 0 {
		opts.Threshold = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Health{
		opts:     opts,
		cooldown: clampCooldown(opts.Cooldown),
		states:   make(map[string]*exchangeState),
	}
}

func clampCooldown(d time.Duration) time.Duration {
	if d < minCooldown {
		return minCooldown
	}
	if d > maxCooldown {
		return maxCooldown
	}
	return d
}

// Cooldown returns the effective cooldown window.
func (h *Health) Cooldown() time.Duration { return h.cooldown }

func (h *Health) state(exchange string) *exchangeState {
	st, ok := h.states[exchange]
	if !ok {
		st = &exchangeState{}
		h.states[exchange] = st
	}
	return st
}

// Allow reports whether exchange may be fetched now. An open circuit whose
// cooldown has elapsed is closed here.
func (h *Health) Allow(exchange string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.state(exchange)
	if !st.open {
		return true
	}
	now := h.opts.Now()
	if now.Sub(st.openedAt) < h.cooldown {
		return false
	}
	st.open = false
	st.failures = 0
	st.updatedAt = now
	return true
}

// RecordSuccess resets the failure counter and closes the circuit.
func (h *Health) RecordSuccess(exchange string, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.opts.Now()
	st := h.state(exchange)
	st.failures = 0
	st.open = false
	st.openedAt = time.Time{}
	st.latency = latency
	st.lastErr = ""
	st.lastSuccess = now
	st.updatedAt = now
}

// RecordFailure counts a failed fetch and reports whether it opened the circuit.
func (h *Health) RecordFailure(exchange string, latency time.Duration, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.opts.Now()
	st := h.state(exchange)
	st.failures++
	st.latency = latency
	st.updatedAt = now
	if err != nil {
		st.lastErr = err.Error()
	}
	if !st.open && st.failures >= h.opts.Threshold {
		st.open = true
		st.openedAt = now
		return true
	}
	return false
}

// TotalFailures sums consecutive failures across exchanges.
func (h *Health) TotalFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for _, st := range h.states {
		total += st.failures
	}
	return total
}

// Snapshot returns the health record of every exchange seen so far.
func (h *Health) Snapshot() map[string]model.ExchangeHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]model.ExchangeHealth, len(h.states))
	for name, st := range h.states {
		out[name] = model.ExchangeHealth{
			Exchange:            name,
			ConsecutiveFailures: st.failures,
			LastLatencyMS:       float64(st.latency.Microseconds()) / 1000,
			CircuitOpen:         st.open,
			CircuitOpenedAt:     st.openedAt,
			LastError:           st.lastErr,
			LastSuccess:         st.lastSuccess,
			UpdatedAt:           st.updatedAt,
		}
	}
	return out
}

// OpenCircuits lists exchanges whose circuit is currently open, sorted.
func (h *Health) OpenCircuits() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []string
	for name, st := range h.states {
		if st.open {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
