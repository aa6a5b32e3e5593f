package state

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"arbsignals/internal/model"
)

// Key schema:
//
//	books:{symbol}          envelope(map[exchange]NormalizedBook)
//	signals:current         envelope([]Signal), replaced every engine cycle
//	signal:{id}             envelope(Signal), expires after SignalTTL
//	history:signals         list of envelope(Signal), newest first, capped
//	health:exchanges        envelope(map[exchange]ExchangeHealth)
//	stats:market            envelope([]MarketStats)
//	stats:system            envelope(SystemStatus)
//	trade:pending:{id}      envelope(VirtualTrade), soft TTL
//	trades:pending          set of pending signal ids
//	eval:result:{id}        envelope(VirtualEvalResult)
//	history:eval            list of envelope(VirtualEvalResult), newest first
//	history:eval:{symbol}   same, per symbol
//	params:snapshot         envelope(ParamSnapshot)
const (
	keySignalsCurrent = "signals:current"
	keySignalHistory  = "history:signals"
	keyHealth         = "health:exchanges"
	keyMarketStats    = "stats:market"
	keySystemStatus   = "stats:system"
	keyPendingIndex   = "trades:pending"
	keyEvalHistory    = "history:eval"
	keyParamSnapshot  = "params:snapshot"
)

func booksKey(symbol string) string       { return "books:" + symbol }
func signalKey(id string) string          { return "signal:" + id }
func pendingKey(id string) string         { return "trade:pending:" + id }
func resultKey(id string) string          { return "eval:result:" + id }
func evalHistoryKey(symbol string) string { return keyEvalHistory + ":" + symbol }

// RedisOptions parameterise the Redis-backed store.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	TLSEnabled  bool
	DialTimeout time.Duration
	SignalTTL   time.Duration
	HistoryMax  int
	EvalLogMax  int
}

// Redis implements Store on top of go-redis.
type Redis struct {
	rdb  *redis.Client
	opts RedisOptions
}

// NewRedis dials Redis and verifies connectivity.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	ro := &redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	}
	if opts.TLSEnabled {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisFromClient(rdb, opts), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client, opts RedisOptions) *Redis {
	if opts.SignalTTL <= 0 {
		opts.SignalTTL = time.Hour
	}
	if opts.HistoryMax <= 0 {
		opts.HistoryMax = 5000
	}
	return &Redis{rdb: rdb, opts: opts}
}

func (r *Redis) getJSON(ctx context.Context, key string, out any) error {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	return decode(raw, out)
}

func (r *Redis) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	payload, err := encode(v)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) BooksFor(ctx context.Context, symbol string) (map[string]model.NormalizedBook, error) {
	var books map[string]model.NormalizedBook
	err := r.getJSON(ctx, booksKey(symbol), &books)
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrDataQuality) {
		return map[string]model.NormalizedBook{}, nil
	}
	if err != nil {
		return nil, err
	}
	return validBooks(books), nil
}

func (r *Redis) SetBooks(ctx context.Context, symbol string, books map[string]model.NormalizedBook) error {
	return r.setJSON(ctx, booksKey(symbol), books, 0)
}

func (r *Redis) Signals(ctx context.Context) ([]model.Signal, error) {
	var signals []model.Signal
	err := r.getJSON(ctx, keySignalsCurrent, &signals)
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrDataQuality) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return validSignals(signals), nil
}

// ReplaceSignals swaps the current set and indexes each signal by id in one
// MULTI/EXEC block.
func (r *Redis) ReplaceSignals(ctx context.Context, signals []model.Signal) error {
	if signals == nil {
		signals = []model.Signal{}
	}
	set, err := encode(signals)
	if err != nil {
		return fmt.Errorf("redis: encode signals: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, keySignalsCurrent, set, 0)
	for _, s := range signals {
		payload, err := encode(s)
		if err != nil {
			return fmt.Errorf("redis: encode signal %s: %w", s.ID, err)
		}
		pipe.Set(ctx, signalKey(s.ID), payload, r.opts.SignalTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: replace signals: %w", err)
	}
	return nil
}

func (r *Redis) Signal(ctx context.Context, id string) (model.Signal, error) {
	var s model.Signal
	if err := r.getJSON(ctx, signalKey(id), &s); err != nil {
		return model.Signal{}, err
	}
	if err := s.Validate(); err != nil {
		return model.Signal{}, err
	}
	return s, nil
}

func (r *Redis) AppendSignalHistory(ctx context.Context, signals []model.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	values := make([]any, 0, len(signals))
	for _, s := range signals {
		payload, err := encode(s)
		if err != nil {
			return fmt.Errorf("redis: encode signal %s: %w", s.ID, err)
		}
		values = append(values, payload)
	}
	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, keySignalHistory, values...)
	pipe.LTrim(ctx, keySignalHistory, 0, int64(r.opts.HistoryMax-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append signal history: %w", err)
	}
	return nil
}

func (r *Redis) RecentSignalHistory(ctx context.Context, limit int) ([]model.Signal, error) {
	raw, err := r.rdb.LRange(ctx, keySignalHistory, 0, stopIndex(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read signal history: %w", err)
	}
	out := make([]model.Signal, 0, len(raw))
	for _, item := range raw {
		var s model.Signal
		if decode([]byte(item), &s) != nil || s.Validate() != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Redis) ExchangeHealth(ctx context.Context) (map[string]model.ExchangeHealth, error) {
	health := map[string]model.ExchangeHealth{}
	err := r.getJSON(ctx, keyHealth, &health)
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrDataQuality) {
		return map[string]model.ExchangeHealth{}, nil
	}
	return health, err
}

func (r *Redis) SetExchangeHealth(ctx context.Context, health map[string]model.ExchangeHealth) error {
	return r.setJSON(ctx, keyHealth, health, 0)
}

func (r *Redis) MarketStats(ctx context.Context) ([]model.MarketStats, error) {
	var stats []model.MarketStats
	err := r.getJSON(ctx, keyMarketStats, &stats)
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrDataQuality) {
		return nil, nil
	}
	return stats, err
}

func (r *Redis) SetMarketStats(ctx context.Context, stats []model.MarketStats) error {
	return r.setJSON(ctx, keyMarketStats, stats, 0)
}

func (r *Redis) SystemStatus(ctx context.Context) (model.SystemStatus, error) {
	var status model.SystemStatus
	err := r.getJSON(ctx, keySystemStatus, &status)
	return status, err
}

func (r *Redis) SetSystemStatus(ctx context.Context, status model.SystemStatus) error {
	return r.setJSON(ctx, keySystemStatus, status, 0)
}

func (r *Redis) PendingTrade(ctx context.Context, signalID string) (model.VirtualTrade, error) {
	var t model.VirtualTrade
	if err := r.getJSON(ctx, pendingKey(signalID), &t); err != nil {
		return model.VirtualTrade{}, err
	}
	return t, nil
}

// CreatePendingTrade uses SET NX so concurrent or repeated opens for one
// signal write at most one record. The id is indexed before the record is
// written: an index entry without a record is pruned by PendingTrades, while a
// record without an index entry would never be graded.
func (r *Redis) CreatePendingTrade(ctx context.Context, t model.VirtualTrade, ttl time.Duration) (bool, error) {
	payload, err := encode(t)
	if err != nil {
		return false, fmt.Errorf("redis: encode trade %s: %w", t.SignalID, err)
	}
	if err := r.rdb.SAdd(ctx, keyPendingIndex, t.SignalID).Err(); err != nil {
		return false, fmt.Errorf("redis: index pending %s: %w", t.SignalID, err)
	}
	created, err := r.rdb.SetNX(ctx, pendingKey(t.SignalID), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: create pending %s: %w", t.SignalID, err)
	}
	return created, nil
}

func (r *Redis) DeletePendingTrade(ctx context.Context, signalID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, pendingKey(signalID))
	pipe.SRem(ctx, keyPendingIndex, signalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete pending %s: %w", signalID, err)
	}
	return nil
}

// PendingTrades resolves the pending index. Ids whose record expired are
// pruned from the index.
func (r *Redis) PendingTrades(ctx context.Context) ([]model.VirtualTrade, error) {
	ids, err := r.rdb.SMembers(ctx, keyPendingIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list pending: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = pendingKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load pending: %w", err)
	}

	out := make([]model.VirtualTrade, 0, len(vals))
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var t model.VirtualTrade
		if decode([]byte(s), &t) != nil || t.Validate() != nil {
			continue
		}
		out = append(out, t)
	}
	if len(stale) > 0 {
		if err := r.rdb.SRem(ctx, keyPendingIndex, stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis: prune pending index: %w", err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTS.Before(out[j].OpenTS) })
	return out, nil
}

func (r *Redis) EvalResult(ctx context.Context, signalID string) (model.VirtualEvalResult, error) {
	var res model.VirtualEvalResult
	if err := r.getJSON(ctx, resultKey(signalID), &res); err != nil {
		return model.VirtualEvalResult{}, err
	}
	return res, nil
}

func (r *Redis) SaveEvalResult(ctx context.Context, res model.VirtualEvalResult) error {
	payload, err := encode(res)
	if err != nil {
		return fmt.Errorf("redis: encode result %s: %w", res.SignalID, err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, resultKey(res.SignalID), payload, 0)
	pipe.LPush(ctx, keyEvalHistory, payload)
	pipe.LPush(ctx, evalHistoryKey(res.Symbol), payload)
	if r.opts.EvalLogMax > 0 {
		pipe.LTrim(ctx, keyEvalHistory, 0, int64(r.opts.EvalLogMax-1))
		pipe.LTrim(ctx, evalHistoryKey(res.Symbol), 0, int64(r.opts.EvalLogMax-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save result %s: %w", res.SignalID, err)
	}
	return nil
}

func (r *Redis) RecentEvalResults(ctx context.Context, symbol string, limit int) ([]model.VirtualEvalResult, error) {
	key := keyEvalHistory
	if symbol != "" {
		key = evalHistoryKey(symbol)
	}
	raw, err := r.rdb.LRange(ctx, key, 0, stopIndex(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read eval history: %w", err)
	}
	out := make([]model.VirtualEvalResult, 0, len(raw))
	for _, item := range raw {
		var res model.VirtualEvalResult
		if decode([]byte(item), &res) != nil || res.Validate() != nil {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Redis) ParamSnapshot(ctx context.Context) (model.ParamSnapshot, error) {
	var snap model.ParamSnapshot
	if err := r.getJSON(ctx, keyParamSnapshot, &snap); err != nil {
		return model.ParamSnapshot{}, err
	}
	if err := snap.Validate(); err != nil {
		return model.ParamSnapshot{}, err
	}
	return snap, nil
}

func (r *Redis) SetParamSnapshot(ctx context.Context, snap model.ParamSnapshot) error {
	return r.setJSON(ctx, keyParamSnapshot, snap, 0)
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw payloads closed when ctx ends.
func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := r.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func stopIndex(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit - 1)
}

var _ Store = (*Redis)(nil)
