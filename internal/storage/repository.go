package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// recordsLockKey serialises record transactions across processes.
const recordsLockKey int64 = 0x7072_6963

const (
	getRecordSQL = `SELECT value FROM records WHERE namespace = $1 AND key = $2;`

	putRecordSQL = `INSERT INTO records (namespace, key, value, updated_at)
    VALUES ($1, $2, $3, now())
    ON CONFLICT (namespace, key) DO UPDATE
    SET value = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`

	deleteRecordSQL = `DELETE FROM records WHERE namespace = $1 AND key = $2;`

	listRecordsSQL = `SELECT key, value
    FROM records
    WHERE namespace = $1
    ORDER BY key
    OFFSET $2
    LIMIT $3;`

	countRecordsSQL = `SELECT COUNT(*) FROM records WHERE namespace = $1;`

	lockRecordsSQL = `SELECT pg_advisory_xact_lock($1);`

	upsertPriceSampleSQL = `INSERT INTO price_samples (
        bucket_ts,
        asset_id,
        multiplier,
        decimals,
        price,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (bucket_ts, asset_id) DO UPDATE
    SET
        multiplier = EXCLUDED.multiplier,
        decimals   = EXCLUDED.decimals,
        price      = EXCLUDED.price,
        status     = EXCLUDED.status,
        error      = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        bucket_ts,
        asset_id,
        multiplier::text,
        decimals,
        price::text,
        status,
        error,
        created_at
    FROM price_samples
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
      AND ($3 = '' OR asset_id = $3)
    ORDER BY bucket_ts, asset_id;`

	listRecentSamplesSQL = `SELECT
        bucket_ts,
        asset_id,
        multiplier::text,
        decimals,
        price::text,
        status,
        error,
        created_at
    FROM price_samples
    ORDER BY bucket_ts DESC, asset_id
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        sample_ts,
        asset_id,
        period_sec,
        median_price,
        ema_price,
        deviation_pct,
        threshold_pct,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (sample_ts, asset_id, period_sec) DO UPDATE
    SET median_price  = EXCLUDED.median_price,
        ema_price     = EXCLUDED.ema_price,
        deviation_pct = EXCLUDED.deviation_pct,
        threshold_pct = EXCLUDED.threshold_pct,
        direction     = EXCLUDED.direction,
        channels      = EXCLUDED.channels
    RETURNING id, sample_ts, asset_id, period_sec, median_price::text, ema_price::text,
        deviation_pct::text, threshold_pct::text, direction, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        sample_ts,
        asset_id,
        period_sec,
        median_price::text,
        ema_price::text,
        deviation_pct::text,
        threshold_pct::text,
        direction,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// HistoryStore defines operations for served price history.
type HistoryStore interface {
	UpsertPriceSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time, assetID string) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store aggregates access to records, price history and alerts in PostgreSQL.
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
		// Closing the connection releases the lock if the explicit unlock fails.
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Get implements KV.
func (s *Store) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}
	return pgKV{q: pool}.Get(ctx, ns, key)
}

// Put implements KV.
func (s *Store) Put(ctx context.Context, ns Namespace, key string, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pgKV{q: pool}.Put(ctx, ns, key, value)
}

// Delete implements KV.
func (s *Store) Delete(ctx context.Context, ns Namespace, key string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	return pgKV{q: pool}.Delete(ctx, ns, key)
}

// List implements KV.
func (s *Store) List(ctx context.Context, ns Namespace, offset, limit int) ([]Entry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return pgKV{q: pool}.List(ctx, ns, offset, limit)
}

// Count implements KV.
func (s *Store) Count(ctx context.Context, ns Namespace) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	return pgKV{q: pool}.Count(ctx, ns)
}

// Update implements RecordStore with a serialised database transaction.
func (s *Store) Update(ctx context.Context, fn func(tx KV) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockRecordsSQL, recordsLockKey); err != nil {
			return fmt.Errorf("lock records: %w", err)
		}
		return fn(pgKV{q: tx})
	})
}

type pgKV struct {
	q querier
}

func (k pgKV) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := k.q.QueryRow(ctx, getRecordSQL, string(ns), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get record %s/%s: %w", ns, key, err)
	}
	return value, true, nil
}

func (k pgKV) Put(ctx context.Context, ns Namespace, key string, value []byte) error {
	if _, err := k.q.Exec(ctx, putRecordSQL, string(ns), key, value); err != nil {
		return fmt.Errorf("put record %s/%s: %w", ns, key, err)
	}
	return nil
}

func (k pgKV) Delete(ctx context.Context, ns Namespace, key string) (bool, error) {
	tag, err := k.q.Exec(ctx, deleteRecordSQL, string(ns), key)
	if err != nil {
		return false, fmt.Errorf("delete record %s/%s: %w", ns, key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (k pgKV) List(ctx context.Context, ns Namespace, offset, limit int) ([]Entry, error) {
	if offset < 0 {
		offset = 0
	}
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := k.q.Query(ctx, listRecordsSQL, string(ns), offset, lim)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", ns, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func (k pgKV) Count(ctx context.Context, ns Namespace) (int, error) {
	var count int64
	if err := k.q.QueryRow(ctx, countRecordsSQL, string(ns)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records %s: %w", ns, err)
	}
	return int(count), nil
}

// UpsertPriceSample persists or updates a price sample.
func (s *Store) UpsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var priceArg any
	if sample.Price.Valid {
		priceArg = sample.Price.Decimal.String()
	}

	var errMsg any
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.Bucket,
		sample.AssetID,
		sample.Multiplier,
		sample.Decimals,
		priceArg,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window, optionally for one price id.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time, assetID string) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to, assetID)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.SampleTS,
		alert.AssetID,
		alert.PeriodSec,
		alert.MedianPrice.String(),
		alert.EMAPrice.String(),
		alert.DeviationPct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		alert.Channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec                        AlertRecord
		medianStr, emaStr          string
		deviationStr, thresholdStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.SampleTS,
		&rec.AssetID,
		&rec.PeriodSec,
		&medianStr,
		&emaStr,
		&deviationStr,
		&thresholdStr,
		&rec.Direction,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	for _, field := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"median price", medianStr, &rec.MedianPrice},
		{"ema price", emaStr, &rec.EMAPrice},
		{"deviation pct", deviationStr, &rec.DeviationPct},
		{"threshold pct", thresholdStr, &rec.ThresholdPct},
	} {
		parsed, err := decimal.NewFromString(field.src)
		if err != nil {
			return AlertRecord{}, fmt.Errorf("parse %s: %w", field.name, err)
		}
		*field.dst = parsed
	}
	return rec, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		bucket     time.Time
		assetID    string
		multiplier sql.NullString
		decimals   sql.NullInt16
		priceStr   sql.NullString
		status     string
		errMsg     sql.NullString
		createdAt  time.Time
	)

	if err := rows.Scan(
		&bucket,
		&assetID,
		&multiplier,
		&decimals,
		&priceStr,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return PriceSample{}, err
	}

	sample := PriceSample{
		Bucket:    bucket,
		AssetID:   assetID,
		Status:    status,
		CreatedAt: createdAt,
	}
	if multiplier.Valid {
		m := multiplier.String
		sample.Multiplier = &m
	}
	if decimals.Valid {
		d := decimals.Int16
		sample.Decimals = &d
	}
	if priceStr.Valid {
		p, err := decimal.NewFromString(priceStr.String)
		if err != nil {
			return PriceSample{}, fmt.Errorf("parse price: %w", err)
		}
		sample.Price = decimal.NewNullDecimal(p)
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}

var (
	_ RecordStore    = (*Store)(nil)
	_ HistoryStore   = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
