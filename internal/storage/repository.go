package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS signals (
        id            TEXT PRIMARY KEY,
        symbol        TEXT NOT NULL,
        buy_exchange  TEXT NOT NULL,
        sell_exchange TEXT NOT NULL,
        buy_price     NUMERIC NOT NULL,
        sell_price    NUMERIC NOT NULL,
        volume_usd    NUMERIC NOT NULL,
        profit_usd    NUMERIC NOT NULL,
        profit_bps    NUMERIC NOT NULL,
        spread_bps    NUMERIC NOT NULL,
        severity      TEXT NOT NULL,
        confidence    NUMERIC NOT NULL,
        score         DOUBLE PRECISION,
        created_at    TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS signals_symbol_created_idx ON signals (symbol, created_at DESC);
    CREATE TABLE IF NOT EXISTS eval_results (
        signal_id            TEXT PRIMARY KEY,
        symbol               TEXT NOT NULL,
        buy_exchange         TEXT NOT NULL,
        sell_exchange        TEXT NOT NULL,
        open_ts              TIMESTAMPTZ NOT NULL,
        eval_ts              TIMESTAMPTZ NOT NULL,
        predicted_profit_usd NUMERIC NOT NULL,
        final_profit_usd     NUMERIC NOT NULL,
        grade                TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS eval_results_eval_ts_idx ON eval_results (eval_ts DESC);`

	insertSignalSQL = `INSERT INTO signals (
        id,
        symbol,
        buy_exchange,
        sell_exchange,
        buy_price,
        sell_price,
        volume_usd,
        profit_usd,
        profit_bps,
        spread_bps,
        severity,
        confidence,
        score,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (id) DO NOTHING;`

	upsertEvalResultSQL = `INSERT INTO eval_results (
        signal_id,
        symbol,
        buy_exchange,
        sell_exchange,
        open_ts,
        eval_ts,
        predicted_profit_usd,
        final_profit_usd,
        grade
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (signal_id) DO UPDATE
    SET
        eval_ts          = EXCLUDED.eval_ts,
        final_profit_usd = EXCLUDED.final_profit_usd,
        grade            = EXCLUDED.grade;`

	evalColumns = `signal_id,
        symbol,
        buy_exchange,
        sell_exchange,
        open_ts,
        eval_ts,
        predicted_profit_usd,
        final_profit_usd,
        grade`

	listEvalBetweenSQL = `SELECT ` + evalColumns + `
    FROM eval_results
    WHERE eval_ts >= $1
      AND eval_ts < $2
    ORDER BY eval_ts;`

	listRecentEvalSQL = `SELECT ` + evalColumns + `
    FROM eval_results
    ORDER BY eval_ts DESC
    LIMIT $1;`

	gradeSummarySQL = `SELECT
        grade,
        COUNT(*),
        COALESCE(SUM(final_profit_usd), 0),
        COALESCE(SUM(predicted_profit_usd), 0)
    FROM eval_results
    WHERE eval_ts >= $1
    GROUP BY grade
    ORDER BY grade;`

	countSignalsSQL = `SELECT COUNT(*) FROM signals;`

	deleteSignalsBeforeSQL = `DELETE FROM signals WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SignalArchive persists emitted signals.
type SignalArchive interface {
	InsertSignals(ctx context.Context, records []SignalRecord) error
	CountSignals(ctx context.Context) (int64, error)
	DeleteSignalsBefore(ctx context.Context, olderThan time.Time) error
}

// EvalArchive persists virtual trade outcomes.
type EvalArchive interface {
	UpsertEvalResult(ctx context.Context, rec EvalRecord) error
	ListEvalResultsBetween(ctx context.Context, from, to time.Time) ([]EvalRecord, error)
	ListRecentEvalResults(ctx context.Context, limit int) ([]EvalRecord, error)
	GradeSummary(ctx context.Context, since time.Time) ([]GradeSummary, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to archived signals and results.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSignals archives signals in one batch. Known ids are left untouched.
func (s *Store) InsertSignals(ctx context.Context, records []SignalRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		var score interface{}
		if rec.Score != nil {
			score = *rec.Score
		}
		batch.Queue(insertSignalSQL,
			rec.ID,
			rec.Symbol,
			rec.BuyExchange,
			rec.SellExchange,
			rec.BuyPrice.String(),
			rec.SellPrice.String(),
			rec.VolumeUSD.String(),
			rec.ProfitUSD.String(),
			rec.ProfitBps.String(),
			rec.SpreadBps.String(),
			rec.Severity,
			rec.Confidence.String(),
			score,
			rec.CreatedAt,
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert signals: %w", err)
	}
	return nil
}

// CountSignals counts archived signals.
func (s *Store) CountSignals(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSignalsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count signals: %w", scanErr)
	}
	return count, nil
}

// DeleteSignalsBefore prunes old signals.
func (s *Store) DeleteSignalsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSignalsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete signals before: %w", execErr)
	}
	return nil
}

// UpsertEvalResult persists or updates an evaluation result.
func (s *Store) UpsertEvalResult(ctx context.Context, rec EvalRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertEvalResultSQL,
		rec.SignalID,
		rec.Symbol,
		rec.BuyExchange,
		rec.SellExchange,
		rec.OpenTS,
		rec.EvalTS,
		rec.PredictedProfitUSD.String(),
		rec.FinalProfitUSD.String(),
		rec.Grade,
	)
	if execErr != nil {
		return fmt.Errorf("upsert eval result: %w", execErr)
	}
	return nil
}

// ListEvalResultsBetween lists results evaluated within a time window.
func (s *Store) ListEvalResultsBetween(ctx context.Context, from, to time.Time) ([]EvalRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEvalBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list eval results between: %w", queryErr)
	}
	defer rows.Close()
	return collectEvalRecords(rows, 0)
}

// ListRecentEvalResults lists the most recent results, newest first.
func (s *Store) ListRecentEvalResults(ctx context.Context, limit int) ([]EvalRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEvalSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent eval results: %w", queryErr)
	}
	defer rows.Close()
	return collectEvalRecords(rows, limit)
}

// GradeSummary aggregates results evaluated since the given time.
func (s *Store) GradeSummary(ctx context.Context, since time.Time) ([]GradeSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, gradeSummarySQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("grade summary: %w", queryErr)
	}
	defer rows.Close()

	out := make([]GradeSummary, 0, 3)
	for rows.Next() {
		var (
			sum                    GradeSummary
			finalStr, predictedStr string
		)
		if err := rows.Scan(&sum.Grade, &sum.Count, &finalStr, &predictedStr); err != nil {
			return nil, err
		}
		var convErr error
		if sum.TotalFinalUSD, convErr = decimal.NewFromString(finalStr); convErr != nil {
			return nil, fmt.Errorf("parse final profit sum: %w", convErr)
		}
		if sum.TotalPredicted, convErr = decimal.NewFromString(predictedStr); convErr != nil {
			return nil, fmt.Errorf("parse predicted profit sum: %w", convErr)
		}
		out = append(out, sum)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func collectEvalRecords(rows pgx.Rows, capacity int) ([]EvalRecord, error) {
	records := make([]EvalRecord, 0, capacity)
	for rows.Next() {
		rec, scanErr := scanEvalRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanEvalRecord(rows pgx.Rows) (EvalRecord, error) {
	var (
		rec          EvalRecord
		predictedStr string
		finalStr     string
	)
	if err := rows.Scan(
		&rec.SignalID,
		&rec.Symbol,
		&rec.BuyExchange,
		&rec.SellExchange,
		&rec.OpenTS,
		&rec.EvalTS,
		&predictedStr,
		&finalStr,
		&rec.Grade,
	); err != nil {
		return EvalRecord{}, err
	}

	var err error
	if rec.PredictedProfitUSD, err = decimal.NewFromString(predictedStr); err != nil {
		return EvalRecord{}, fmt.Errorf("parse predicted profit: %w", err)
	}
	if rec.FinalProfitUSD, err = decimal.NewFromString(finalStr); err != nil {
		return EvalRecord{}, fmt.Errorf("parse final profit: %w", err)
	}
	return rec, nil
}

var (
	_ SignalArchive  = (*Store)(nil)
	_ EvalArchive    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
