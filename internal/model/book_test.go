package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRejectsBadPrices(t *testing.T) {
	cases := map[string]Quote{
		"zero bid":     {Exchange: "a", Symbol: "BTCUSDT", Bid: 0, Ask: 1, BidSize: 1, AskSize: 1},
		"negative ask": {Exchange: "a", Symbol: "BTCUSDT", Bid: 1, Ask: -1, BidSize: 1, AskSize: 1},
		"nan bid":      {Exchange: "a", Symbol: "BTCUSDT", Bid: math.NaN(), Ask: 1, BidSize: 1, AskSize: 1},
		"inf ask":      {Exchange: "a", Symbol: "BTCUSDT", Bid: 1, Ask: math.Inf(1), BidSize: 1, AskSize: 1},
		"crossed":      {Exchange: "a", Symbol: "BTCUSDT", Bid: 101, Ask: 100, BidSize: 1, AskSize: 1},
		"locked":       {Exchange: "a", Symbol: "BTCUSDT", Bid: 100, Ask: 100, BidSize: 1, AskSize: 1},
		"no exchange":  {Symbol: "BTCUSDT", Bid: 99, Ask: 100, BidSize: 1, AskSize: 1},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataQuality))
		})
	}
}

func TestNormalizeClampsSizes(t *testing.T) {
	book, err := Normalize(Quote{Exchange: "a", Symbol: "ETHUSDT", Bid: 99, Ask: 100, BidSize: 0, AskSize: -3})
	require.NoError(t, err)
	assert.Equal(t, MinSize, book.BidSize)
	assert.Equal(t, MinSize, book.AskSize)
	assert.NoError(t, book.Validate())
	assert.False(t, book.Timestamp.IsZero())
	assert.Equal(t, []Level{{Price: 100, Size: MinSize}}, book.Asks)
}

func TestValidateCatchesStoredGarbage(t *testing.T) {
	book := NormalizedBook{Exchange: "a", Symbol: "X", Bid: 2, Ask: 1, BidSize: 1, AskSize: 1}
	assert.ErrorIs(t, book.Validate(), ErrDataQuality)

	book = NormalizedBook{Exchange: "a", Symbol: "X", Bid: 1, Ask: 2, BidSize: 1, AskSize: 0}
	assert.ErrorIs(t, book.Validate(), ErrDataQuality)
}

func TestLevelsFallBackToTopOfBook(t *testing.T) {
	book := NormalizedBook{Exchange: "a", Symbol: "X", Bid: 1, Ask: 2, BidSize: 3, AskSize: 4, Timestamp: time.Now()}
	assert.Equal(t, []Level{{Price: 2, Size: 4}}, book.AskLevels())
	assert.Equal(t, []Level{{Price: 1, Size: 3}}, book.BidLevels())
	assert.InDelta(t, 1.5, book.Mid(), 1e-12)
}

func TestThresholdsNeverRelaxBelowFloor(t *testing.T) {
	floor := Thresholds{MinNetProfitUSD: 1, MinProfitBps: 5, MinSpreadBps: 10, MinVolumeUSD: 100}
	assert.Equal(t, floor, floor.Effective(nil))

	eff := floor.Effective(&ParamSnapshot{MinNetProfitUSD: 0.2, MinSpreadBps: 25, MinVolumeUSD: 50})
	assert.Equal(t, 1.0, eff.MinNetProfitUSD)
	assert.Equal(t, 25.0, eff.MinSpreadBps)
	assert.Equal(t, 100.0, eff.MinVolumeUSD)
	assert.Equal(t, 5.0, eff.MinProfitBps)
}
