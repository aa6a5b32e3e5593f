package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbsignals/internal/model"
	"arbsignals/internal/state"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func nb(t *testing.T, exchange string, bid, ask float64, at time.Time) model.NormalizedBook {
	t.Helper()
	b, err := model.Normalize(model.Quote{Exchange: exchange, Symbol: "BTCUSDT", Bid: bid, Ask: ask, BidSize: 1, AskSize: 1, Timestamp: at})
	require.NoError(t, err)
	return b
}

func TestMarketStats(t *testing.T) {
	books := map[string]model.NormalizedBook{
		"A": nb(t, "A", 100, 100.1, now),
		"B": nb(t, "B", 100.5, 100.6, now),
		"C": nb(t, "C", 90, 91, now.Add(-time.Minute)),
	}
	ms, ok := Market("BTCUSDT", books, now, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, 2, ms.Exchanges, "stale book excluded")
	assert.Equal(t, 100.5, ms.BestBid)
	assert.Equal(t, 100.1, ms.BestAsk)
	assert.InDelta(t, 100.3, ms.MidPrice, 1e-9)
	assert.InDelta(t, 0.4/100.3*10_000, ms.DispersionBps, 1e-9)

	_, ok = Market("BTCUSDT", nil, now, time.Second)
	assert.False(t, ok)
}

func TestCyclePublishesStatus(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory(state.MemoryOptions{})
	require.NoError(t, store.SetBooks(ctx, "BTCUSDT", map[string]model.NormalizedBook{
		"A": nb(t, "A", 100, 100.1, now),
		"B": nb(t, "B", 100.5, 100.6, now),
	}))
	require.NoError(t, store.SetExchangeHealth(ctx, map[string]model.ExchangeHealth{
		"A": {Exchange: "A"},
		"B": {Exchange: "B"},
		"C": {Exchange: "C", CircuitOpen: true, ConsecutiveFailures: 3},
	}))
	sub, err := store.Subscribe(ctx, state.ChannelStatus)
	require.NoError(t, err)

	e := New(Options{Symbols: []string{"BTCUSDT", "ETHUSDT"}, Now: func() time.Time { return now }}, store, zerolog.Nop())
	status, err := e.Cycle(ctx)
	require.NoError(t, err)

	assert.True(t, status.StoreOK)
	assert.True(t, status.Degraded, "an open circuit degrades the system")
	assert.Equal(t, []string{"A", "B"}, status.ActiveExchanges)
	assert.Equal(t, []string{"C"}, status.OpenCircuits)
	assert.Equal(t, []string{"BTCUSDT"}, status.ActiveSymbols)

	market, err := store.MarketStats(ctx)
	require.NoError(t, err)
	require.Len(t, market, 1)

	select {
	case payload := <-sub:
		var got model.SystemStatus
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, status.OpenCircuits, got.OpenCircuits)
	case <-time.After(time.Second):
		t.Fatal("status not published")
	}
}
