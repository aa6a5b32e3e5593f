package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"arbsignals/internal/model"
)

// Memory is an in-process Store used by tests and single-binary deployments.
// It keeps the same whole-value replace semantics as the Redis store.
type Memory struct {
	mu  sync.RWMutex
	now func() time.Time

	books       map[string]map[string]model.NormalizedBook
	signals     []model.Signal
	signalByID  map[string]signalEntry
	signalTTL   time.Duration
	history     []model.Signal
	historyMax  int
	health      map[string]model.ExchangeHealth
	market      []model.MarketStats
	status      *model.SystemStatus
	pending     map[string]pendingEntry
	results     map[string]model.VirtualEvalResult
	evalLog     []model.VirtualEvalResult
	evalBySym   map[string][]model.VirtualEvalResult
	params      *model.ParamSnapshot
	subscribers map[string][]chan []byte
}

type signalEntry struct {
	signal    model.Signal
	expiresAt time.Time
}

type pendingEntry struct {
	trade     model.VirtualTrade
	expiresAt time.Time
}

// MemoryOptions configure an in-memory store.
type MemoryOptions struct {
	SignalHistoryMax int
	// SignalTTL bounds how long a signal stays addressable by id after it
	// leaves the current set. Defaults to one hour.
	SignalTTL time.Duration
	Clock     func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory(opts MemoryOptions) *Memory {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	max := opts.SignalHistoryMax
	if max <= 0 {
		max = 5000
	}
	ttl := opts.SignalTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{
		now:         now,
		books:       make(map[string]map[string]model.NormalizedBook),
		signalByID:  make(map[string]signalEntry),
		signalTTL:   ttl,
		historyMax:  max,
		health:      make(map[string]model.ExchangeHealth),
		pending:     make(map[string]pendingEntry),
		results:     make(map[string]model.VirtualEvalResult),
		evalBySym:   make(map[string][]model.VirtualEvalResult),
		subscribers: make(map[string][]chan []byte),
	}
}

func (m *Memory) BooksFor(_ context.Context, symbol string) (map[string]model.NormalizedBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return validBooks(m.books[symbol]), nil
}

func (m *Memory) SetBooks(_ context.Context, symbol string, books map[string]model.NormalizedBook) error {
	cp := make(map[string]model.NormalizedBook, len(books))
	for k, v := range books {
		cp[k] = v
	}
	m.mu.Lock()
	m.books[symbol] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Signals(_ context.Context) ([]model.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return validSignals(m.signals), nil
}

func (m *Memory) ReplaceSignals(_ context.Context, signals []model.Signal) error {
	cp := append([]model.Signal(nil), signals...)
	m.mu.Lock()
	now := m.now()
	for id, e := range m.signalByID {
		if !now.Before(e.expiresAt) {
			delete(m.signalByID, id)
		}
	}
	m.signals = cp
	for _, s := range cp {
		m.signalByID[s.ID] = signalEntry{signal: s, expiresAt: now.Add(m.signalTTL)}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Signal(_ context.Context, id string) (model.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.signalByID[id]
	if !ok || !m.now().Before(e.expiresAt) {
		return model.Signal{}, model.ErrNotFound
	}
	return e.signal, nil
}

func (m *Memory) AppendSignalHistory(_ context.Context, signals []model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range signals {
		m.history = append([]model.Signal{s}, m.history...)
	}
	if len(m.history) > m.historyMax {
		m.history = m.history[:m.historyMax]
	}
	return nil
}

func (m *Memory) RecentSignalHistory(_ context.Context, limit int) ([]model.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	return validSignals(m.history[:n]), nil
}

func (m *Memory) ExchangeHealth(_ context.Context) (map[string]model.ExchangeHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.ExchangeHealth, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SetExchangeHealth(_ context.Context, health map[string]model.ExchangeHealth) error {
	cp := make(map[string]model.ExchangeHealth, len(health))
	for k, v := range health {
		cp[k] = v
	}
	m.mu.Lock()
	m.health = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) MarketStats(_ context.Context) ([]model.MarketStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.MarketStats(nil), m.market...), nil
}

func (m *Memory) SetMarketStats(_ context.Context, stats []model.MarketStats) error {
	m.mu.Lock()
	m.market = append([]model.MarketStats(nil), stats...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SystemStatus(_ context.Context) (model.SystemStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == nil {
		return model.SystemStatus{}, model.ErrNotFound
	}
	return *m.status, nil
}

func (m *Memory) SetSystemStatus(_ context.Context, status model.SystemStatus) error {
	m.mu.Lock()
	m.status = &status
	m.mu.Unlock()
	return nil
}

func (m *Memory) PendingTrade(_ context.Context, signalID string) (model.VirtualTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.livePending(signalID)
	if !ok {
		return model.VirtualTrade{}, model.ErrNotFound
	}
	return entry.trade, nil
}

func (m *Memory) CreatePendingTrade(_ context.Context, t model.VirtualTrade, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.livePending(t.SignalID); ok {
		return false, nil
	}
	entry := pendingEntry{trade: t}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.pending[t.SignalID] = entry
	return true, nil
}

func (m *Memory) DeletePendingTrade(_ context.Context, signalID string) error {
	m.mu.Lock()
	delete(m.pending, signalID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) PendingTrades(_ context.Context) ([]model.VirtualTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.VirtualTrade, 0, len(m.pending))
	for id := range m.pending {
		if entry, ok := m.livePending(id); ok {
			out = append(out, entry.trade)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTS.Before(out[j].OpenTS) })
	return out, nil
}

// livePending returns the entry unless its TTL has lapsed. Caller holds mu.
func (m *Memory) livePending(id string) (pendingEntry, bool) {
	entry, ok := m.pending[id]
	if !ok {
		return pendingEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.pending, id)
		return pendingEntry{}, false
	}
	return entry, true
}

func (m *Memory) EvalResult(_ context.Context, signalID string) (model.VirtualEvalResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[signalID]
	if !ok {
		return model.VirtualEvalResult{}, model.ErrNotFound
	}
	return r, nil
}

func (m *Memory) SaveEvalResult(_ context.Context, r model.VirtualEvalResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.SignalID] = r
	m.evalLog = append([]model.VirtualEvalResult{r}, m.evalLog...)
	m.evalBySym[r.Symbol] = append([]model.VirtualEvalResult{r}, m.evalBySym[r.Symbol]...)
	return nil
}

func (m *Memory) RecentEvalResults(_ context.Context, symbol string, limit int) ([]model.VirtualEvalResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.evalLog
	if symbol != "" {
		src = m.evalBySym[symbol]
	}
	n := len(src)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]model.VirtualEvalResult(nil), src[:n]...), nil
}

func (m *Memory) ParamSnapshot(_ context.Context) (model.ParamSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.params == nil {
		return model.ParamSnapshot{}, model.ErrNotFound
	}
	if err := m.params.Validate(); err != nil {
		return model.ParamSnapshot{}, err
	}
	return *m.params, nil
}

func (m *Memory) SetParamSnapshot(_ context.Context, snap model.ParamSnapshot) error {
	m.mu.Lock()
	m.params = &snap
	m.mu.Unlock()
	return nil
}

// Publish delivers payload to current subscribers without blocking; a full
// subscriber buffer drops the message.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subscribers[channel] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is cancelled.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	m.mu.Lock()
	m.subscribers[channel] = append(m.subscribers[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[channel]
		for i, c := range subs {
			if c == ch {
				m.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
