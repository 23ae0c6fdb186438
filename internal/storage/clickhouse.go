package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/models"
)

// clickhouseCandleStore implements CandleStore using the native ClickHouse driver.
// Rows land in a ReplacingMergeTree keyed by (symbol, timeframe, open_time), so a
// re-inserted key replaces the older version; reads use FINAL to see the merged view.
type clickhouseCandleStore struct {
	conn driver.Conn
}

// DriverClickHouse selects the ClickHouse candle store.
const DriverClickHouse = "clickhouse"

// MigrateClickHouse applies the embedded ClickHouse migrations through the
// database/sql driver registered by clickhouse-go.
func MigrateClickHouse(dsn string, logger *logrus.Logger) error {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return fmt.Errorf("failed to open clickhouse: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return runGoose(db, DriverClickHouse, logger)
}

// NewClickHouseCandleStore creates a new ClickHouse storage connection.
// It parses the DSN, opens a connection, and verifies connectivity with a ping.
// Returns an error if connection cannot be established within 5 seconds.
func NewClickHouseCandleStore(dsn string) (CandleStore, func() error, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, nil, err
	}

	return &clickhouseCandleStore{conn: conn}, conn.Close, nil
}

// UpsertCandles sends the whole batch as one insert block.
func (s *clickhouseCandleStore) UpsertCandles(ctx context.Context, candles []models.Candle) (UpsertResult, error) {
	candles = dedupeCandles(candles)
	if len(candles) == 0 {
		return UpsertResult{}, nil
	}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return UpsertResult{}, err
		}
	}

	existing := 0
	for p, times := range groupOpenTimes(candles) {
		n, err := s.countExisting(ctx, p, times)
		if err != nil {
			return UpsertResult{}, &errs.PersistenceError{Op: "upsert candles", Err: err}
		}
		existing += n
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			symbol, timeframe, open_time,
			open, high, low, close, volume, turnover,
			updated_at
		)
	`)
	if err != nil {
		return UpsertResult{}, &errs.PersistenceError{Op: "upsert candles", Err: err}
	}

	now := time.Now().UTC()
	for _, c := range candles {
		err := batch.Append(
			c.Symbol,
			string(c.Timeframe),
			c.OpenTime,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
			c.Turnover,
			now,
		)
		if err != nil {
			_ = batch.Abort()
			return UpsertResult{}, &errs.PersistenceError{Op: "upsert candles", Err: err}
		}
	}

	if err := batch.Send(); err != nil {
		return UpsertResult{}, &errs.PersistenceError{Op: "upsert candles", Err: err}
	}
	return UpsertResult{Inserted: len(candles) - existing, Updated: existing}, nil
}

// countExisting reads the stored keys inside [first, last] and intersects them in memory.
func (s *clickhouseCandleStore) countExisting(ctx context.Context, p models.Partition, times []int64) (int, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT open_time FROM candles
		WHERE symbol = ? AND timeframe = ? AND open_time BETWEEN ? AND ?
	`, p.Symbol, string(p.Timeframe), times[0], times[len(times)-1])
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	want := make(map[int64]struct{}, len(times))
	for _, t := range times {
		want[t] = struct{}{}
	}
	n := 0
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return 0, err
		}
		if _, ok := want[t]; ok {
			n++
		}
	}
	return n, rows.Err()
}

func (s *clickhouseCandleStore) LastOpenTime(ctx context.Context, symbol string, tf models.Timeframe) (int64, bool, error) {
	var (
		last  int64
		count uint64
	)
	row := s.conn.QueryRow(ctx, `
		SELECT max(open_time), count() FROM candles
		WHERE symbol = ? AND timeframe = ?
	`, symbol, string(tf))
	if err := row.Scan(&last, &count); err != nil {
		return 0, false, &errs.PersistenceError{Op: "last open time", Err: err}
	}
	return last, count > 0, nil
}

func (s *clickhouseCandleStore) RecentCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT open_time, open, high, low, close, volume, turnover
		FROM candles FINAL
		WHERE symbol = ? AND timeframe = ?
		ORDER BY open_time DESC
		LIMIT ?
	`, symbol, string(tf), limit)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "recent candles", Err: err}
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		c := models.Candle{Symbol: symbol, Timeframe: tf}
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Turnover); err != nil {
			return nil, &errs.PersistenceError{Op: "recent candles", Err: err}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.PersistenceError{Op: "recent candles", Err: err}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *clickhouseCandleStore) CountCandles(ctx context.Context, symbol string, tf models.Timeframe) (int64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, `
		SELECT count() FROM candles FINAL
		WHERE symbol = ? AND timeframe = ?
	`, symbol, string(tf))
	if err := row.Scan(&n); err != nil {
		return 0, &errs.PersistenceError{Op: "count candles", Err: err}
	}
	return int64(n), nil
}
