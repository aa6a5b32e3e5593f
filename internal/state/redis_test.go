package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbsignals/internal/model"
)

func TestRedisBooksForDecodesAndFilters(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})
	ctx := context.Background()

	payload, err := encode(map[string]model.NormalizedBook{
		"binance": {Exchange: "binance", Symbol: "BTCUSDT", Bid: 100, Ask: 100.1, BidSize: 1, AskSize: 1},
		"okx":     {Exchange: "okx", Symbol: "BTCUSDT", Bid: 101, Ask: 100, BidSize: 1, AskSize: 1},
	})
	require.NoError(t, err)
	mock.ExpectGet("books:BTCUSDT").SetVal(string(payload))

	books, err := store.BooksFor(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, books, 1)
	assert.Contains(t, books, "binance")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBooksForTreatsGarbageAsEmpty(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})
	ctx := context.Background()

	mock.ExpectGet("books:ETHUSDT").SetVal(`{"v":99,"data":{}}`)
	books, err := store.BooksFor(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Empty(t, books)

	mock.ExpectGet("books:SOLUSDT").RedisNil()
	books, err = store.BooksFor(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Empty(t, books)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisParamSnapshotMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})

	mock.ExpectGet("params:snapshot").RedisNil()
	_, err := store.ParamSnapshot(context.Background())
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCreatePendingTradeUsesSetNX(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})
	ctx := context.Background()
	trade := testTrade("sig-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	payload, err := encode(trade)
	require.NoError(t, err)

	mock.ExpectSAdd("trades:pending", "sig-1").SetVal(1)
	mock.ExpectSetNX("trade:pending:sig-1", payload, 75*time.Second).SetVal(true)
	created, err := store.CreatePendingTrade(ctx, trade, 75*time.Second)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectSAdd("trades:pending", "sig-1").SetVal(0)
	mock.ExpectSetNX("trade:pending:sig-1", payload, 75*time.Second).SetVal(false)
	created, err = store.CreatePendingTrade(ctx, trade, 75*time.Second)
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCreatePendingTradeNeverLeavesUnindexedRecord(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})
	ctx := context.Background()
	trade := testTrade("sig-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	payload, err := encode(trade)
	require.NoError(t, err)

	// Index write fails: no record may be written.
	mock.ExpectSAdd("trades:pending", "sig-1").SetErr(errors.New("connection reset"))
	created, err := store.CreatePendingTrade(ctx, trade, 75*time.Second)
	require.Error(t, err)
	assert.False(t, created)

	// Record write fails after indexing: the retry still creates it.
	mock.ExpectSAdd("trades:pending", "sig-1").SetVal(1)
	mock.ExpectSetNX("trade:pending:sig-1", payload, 75*time.Second).SetErr(errors.New("connection reset"))
	created, err = store.CreatePendingTrade(ctx, trade, 75*time.Second)
	require.Error(t, err)
	assert.False(t, created)

	mock.ExpectSAdd("trades:pending", "sig-1").SetVal(0)
	mock.ExpectSetNX("trade:pending:sig-1", payload, 75*time.Second).SetVal(true)
	created, err = store.CreatePendingTrade(ctx, trade, 75*time.Second)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectSMembers("trades:pending").SetVal([]string{"sig-1"})
	mock.ExpectMGet("trade:pending:sig-1").SetVal([]any{string(payload)})
	pending, err := store.PendingTrades(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "sig-1", pending[0].SignalID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func testSignal(id string) model.Signal {
	return model.Signal{
		ID: id, Symbol: "BTCUSDT", VolumeUSD: 1000, Confidence: 0.8,
		Route: model.Route{Symbol: "BTCUSDT", BuyExchange: "binance", SellExchange: "okx", BuyPrice: 100, SellPrice: 100.5},
	}
}

func TestRedisReplaceSignalsWritesSetAndLookupKeys(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{SignalTTL: 10 * time.Minute})
	ctx := context.Background()
	signals := []model.Signal{testSignal("a"), testSignal("b")}

	set, err := encode(signals)
	require.NoError(t, err)
	pa, err := encode(signals[0])
	require.NoError(t, err)
	pb, err := encode(signals[1])
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet("signals:current", set, 0).SetVal("OK")
	mock.ExpectSet("signal:a", pa, 10*time.Minute).SetVal("OK")
	mock.ExpectSet("signal:b", pb, 10*time.Minute).SetVal("OK")
	mock.ExpectTxPipelineExec()

	require.NoError(t, store.ReplaceSignals(ctx, signals))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisReplaceSignalsWithNoneClearsSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})

	empty, err := encode([]model.Signal{})
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet("signals:current", empty, 0).SetVal("OK")
	mock.ExpectTxPipelineExec()

	require.NoError(t, store.ReplaceSignals(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisAppendSignalHistoryTrimsToMax(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{HistoryMax: 3})
	ctx := context.Background()

	pa, err := encode(testSignal("a"))
	require.NoError(t, err)
	pb, err := encode(testSignal("b"))
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectLPush("history:signals", pa, pb).SetVal(2)
	mock.ExpectLTrim("history:signals", 0, 2).SetVal("OK")
	mock.ExpectTxPipelineExec()

	require.NoError(t, store.AppendSignalHistory(ctx, []model.Signal{testSignal("a"), testSignal("b")}))

	// An empty batch touches nothing.
	require.NoError(t, store.AppendSignalHistory(ctx, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSaveEvalResultWritesBothHistories(t *testing.T) {
	res := model.VirtualEvalResult{SignalID: "sig-1", Symbol: "ETHUSDT", Grade: model.GradeWin}
	payload, err := encode(res)
	require.NoError(t, err)

	t.Run("unbounded", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisFromClient(db, RedisOptions{})

		mock.ExpectTxPipeline()
		mock.ExpectSet("eval:result:sig-1", payload, 0).SetVal("OK")
		mock.ExpectLPush("history:eval", payload).SetVal(1)
		mock.ExpectLPush("history:eval:ETHUSDT", payload).SetVal(1)
		mock.ExpectTxPipelineExec()

		require.NoError(t, store.SaveEvalResult(context.Background(), res))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bounded", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisFromClient(db, RedisOptions{EvalLogMax: 100})

		mock.ExpectTxPipeline()
		mock.ExpectSet("eval:result:sig-1", payload, 0).SetVal("OK")
		mock.ExpectLPush("history:eval", payload).SetVal(1)
		mock.ExpectLPush("history:eval:ETHUSDT", payload).SetVal(1)
		mock.ExpectLTrim("history:eval", 0, 99).SetVal("OK")
		mock.ExpectLTrim("history:eval:ETHUSDT", 0, 99).SetVal("OK")
		mock.ExpectTxPipelineExec()

		require.NoError(t, store.SaveEvalResult(context.Background(), res))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisDeletePendingTradeDropsRecordAndIndex(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})

	mock.ExpectTxPipeline()
	mock.ExpectDel("trade:pending:sig-1").SetVal(1)
	mock.ExpectSRem("trades:pending", "sig-1").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, store.DeletePendingTrade(context.Background(), "sig-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPendingTradesPrunesExpiredIDs(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	late, err := encode(testTrade("late", base.Add(time.Minute)))
	require.NoError(t, err)
	early, err := encode(testTrade("early", base))
	require.NoError(t, err)

	mock.ExpectSMembers("trades:pending").SetVal([]string{"late", "gone", "early", "junk"})
	mock.ExpectMGet("trade:pending:late", "trade:pending:gone", "trade:pending:early", "trade:pending:junk").
		SetVal([]any{string(late), nil, string(early), "not json"})
	mock.ExpectSRem("trades:pending", "gone").SetVal(1)

	trades, err := store.PendingTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "early", trades[0].SignalID)
	assert.Equal(t, "late", trades[1].SignalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPendingTradesEmptyIndex(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})

	mock.ExpectSMembers("trades:pending").SetVal(nil)
	trades, err := store.PendingTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSignalRejectsInvalidRecord(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisFromClient(db, RedisOptions{})

	payload, err := encode(model.Signal{ID: "x"})
	require.NoError(t, err)
	mock.ExpectGet("signal:x").SetVal(string(payload))

	_, err = store.Signal(context.Background(), "x")
	assert.ErrorIs(t, err, model.ErrDataQuality)
	assert.NoError(t, mock.ExpectationsWereMet())
}
