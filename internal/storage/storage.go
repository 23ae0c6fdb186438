// Package storage provides database storage implementations for candles,
// order block candidates and exchange symbols.
package storage

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/navid-fn/obradar/internal/models"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// Supported relational drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// CandleStore persists OHLCV rows keyed by (symbol, timeframe, open_time).
// Implementations must be safe for concurrent use.
type CandleStore interface {
	// UpsertCandles inserts new keys and overwrites OHLCV of existing ones.
	// The batch is applied atomically.
	UpsertCandles(ctx context.Context, candles []models.Candle) (UpsertResult, error)

	// LastOpenTime returns the newest stored open_time of a partition.
	LastOpenTime(ctx context.Context, symbol string, tf models.Timeframe) (int64, bool, error)

	// RecentCandles returns up to limit newest candles, ascending by open_time.
	RecentCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error)

	// CountCandles returns the number of stored rows of a partition.
	CountCandles(ctx context.Context, symbol string, tf models.Timeframe) (int64, error)
}

// CandidateStore persists block candidates.
// Implementations must be safe for concurrent use.
type CandidateStore interface {
	// ReplaceUnconfirmed deletes the partition's unconfirmed candidates and
	// inserts the batch, in one transaction. Confirmed rows are untouched.
	ReplaceUnconfirmed(ctx context.Context, p models.Partition, batch []models.BlockCandidate) (ReplaceResult, error)

	// Confirm flips confirmed to true. It reports whether the row changed.
	Confirm(ctx context.Context, id string) (models.BlockCandidate, bool, error)

	Get(ctx context.Context, id string) (models.BlockCandidate, error)

	// DeleteUnconfirmed removes every unconfirmed candidate system-wide.
	DeleteUnconfirmed(ctx context.Context) (int64, error)

	// ListCandidates returns matching candidates, newest anchor first.
	ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]models.BlockCandidate, error)

	DistinctSymbols(ctx context.Context) ([]string, error)
	DistinctTimeframes(ctx context.Context) ([]models.Timeframe, error)
}

// SymbolStore persists the exchange instrument listing.
type SymbolStore interface {
	UpsertSymbols(ctx context.Context, symbols []models.Symbol) (int, error)
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// UpsertResult counts how an upsert batch was applied.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// Total is inserted plus updated.
func (r UpsertResult) Total() int {
	return r.Inserted + r.Updated
}

// ReplaceResult is the outcome of a purge-and-replace.
type ReplaceResult struct {
	Purged   int64
	Inserted []models.BlockCandidate
}

// Config selects and tunes the relational backend.
type Config struct {
	// Driver is one of postgres, mysql, sqlite.
	Driver string

	// DSN is passed to the driver as-is.
	DSN string

	// ConnectRetries bounds the connect/ping retries at startup.
	ConnectRetries uint64

	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to the configured database, retrying with exponential
// backoff while the server is not reachable yet.
func Open(ctx context.Context, cfg Config, logger *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	var db *gorm.DB
	backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		db, err = gorm.Open(dialector, &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			logger.Warnf("Database not reachable yet (%s): %v", cfg.Driver, err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == DriverSQLite {
		// A single connection serializes writers and keeps in-memory databases alive.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the embedded goose migrations of the driver's dialect.
func Migrate(db *gorm.DB, driver string, logger *logrus.Logger) error {
	dialect, err := gooseDialect(driver)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return runGoose(sqlDB, dialect, logger)
}

func gooseDialect(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "postgres", nil
	case DriverMySQL:
		return "mysql", nil
	case DriverSQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("no migrations for driver %q", driver)
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping is used by health checks.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
