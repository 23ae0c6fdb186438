// Package configs provides application configuration loaded from environment variables.
// A .env file in the working directory is read first when present.
package configs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"

	"github.com/navid-fn/obradar/internal/models"
)

// Candle store backends.
const (
	CandleStoreSQL        = "sql"
	CandleStoreClickHouse = "clickhouse"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	LogLevel string

	// Store is the relational database holding candidates, symbols and,
	// unless CandleStore says otherwise, candles.
	Store StoreConfig

	// CandleStore is "sql" or "clickhouse".
	CandleStore string

	// ClickHouseDSN is used when CandleStore is "clickhouse".
	ClickHouseDSN string

	Bybit     BybitConfig
	Ingest    IngestConfig
	Scheduler SchedulerConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Server    ServerConfig

	// problems collects values that were set but could not be parsed.
	problems []error
}

// StoreConfig holds relational database settings.
type StoreConfig struct {
	// Driver is postgres, mysql or sqlite.
	Driver string
	DSN    string

	ConnectRetries int
	MaxOpenConns   int
	MaxIdleConns   int
}

// BybitConfig holds exchange client settings.
type BybitConfig struct {
	BaseURL        string
	Category       string
	RequestTimeout time.Duration

	// RatePerSecond and Burst size the limiter shared by all workers.
	RatePerSecond float64
	Burst         int
}

// IngestConfig holds collector settings.
type IngestConfig struct {
	// Lookback bounds the backfill of an empty partition, e.g. "30d".
	Lookback      time.Duration
	Throttle      time.Duration
	MaxIterations int
	RetryAttempts int
}

// SchedulerConfig holds periodic detection settings.
type SchedulerConfig struct {
	Interval    time.Duration
	Workers     int
	DetectLimit int
	JobTimeout  time.Duration

	// Symbols overrides the active exchange listing (comma-separated in env).
	Symbols []string

	// Timeframes to process (comma-separated in env).
	Timeframes []models.Timeframe
}

// KafkaConfig holds Kafka connection settings for lifecycle events.
type KafkaConfig struct {
	// Enabled turns on publishing. Without it events only reach the websocket hub.
	Enabled bool

	// Broker is the Kafka broker address (e.g., "localhost:9092").
	Broker string

	Topic string

	// GroupID is the consumer group of the API server's event relay.
	GroupID string
}

// RedisConfig holds listing cache settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port           string
	HealthInterval time.Duration
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return ":" + s.Port
}

// getClickHouseDSN constructs the ClickHouse DSN from environment variables.
func getClickHouseDSN() string {
	dbUser := getEnv("CLICKHOUSE_USER", "user")
	dbPassword := getEnv("CLICKHOUSE_PASSWORD", "password")
	dbHost := getEnv("CLICKHOUSE_HOST", "localhost")
	dbPort := getEnv("CLICKHOUSE_TCP_PORT", "9000")
	dbName := getEnv("CLICKHOUSE_DB", "db")

	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%s/%s?dial_timeout=10s&read_timeout=20s",
		dbUser, dbPassword, dbHost, dbPort, dbName,
	)
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup and check Validate.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	cfg := &AppConfig{}
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.Store = StoreConfig{
		Driver:         getEnv("DB_DRIVER", "sqlite"),
		DSN:            getEnv("DB_DSN", "obradar.db"),
		ConnectRetries: getEnvInt("DB_CONNECT_RETRIES", 5),
		MaxOpenConns:   getEnvInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:   getEnvInt("DB_MAX_IDLE_CONNS", 5),
	}
	cfg.CandleStore = strings.ToLower(getEnv("CANDLE_STORE", CandleStoreSQL))
	cfg.ClickHouseDSN = getClickHouseDSN()

	cfg.Bybit = BybitConfig{
		BaseURL:        getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
		Category:       getEnv("BYBIT_CATEGORY", "spot"),
		RequestTimeout: cfg.getEnvDuration("BYBIT_REQUEST_TIMEOUT", 30*time.Second),
		RatePerSecond:  cfg.getEnvFloat("BYBIT_RATE_PER_SECOND", 10),
		Burst:          getEnvInt("BYBIT_BURST", 5),
	}

	cfg.Ingest = IngestConfig{
		Lookback:      cfg.getEnvDuration("INGEST_LOOKBACK", 30*24*time.Hour),
		Throttle:      cfg.getEnvDuration("INGEST_THROTTLE", 200*time.Millisecond),
		MaxIterations: getEnvInt("INGEST_MAX_ITERATIONS", 1000),
		RetryAttempts: getEnvInt("INGEST_RETRY_ATTEMPTS", 3),
	}

	cfg.Scheduler = SchedulerConfig{
		Interval:    cfg.getEnvDuration("SCHEDULER_INTERVAL", 5*time.Minute),
		Workers:     getEnvInt("SCHEDULER_WORKERS", 4),
		DetectLimit: getEnvInt("DETECT_LIMIT", 1000),
		JobTimeout:  cfg.getEnvDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
		Symbols:     getEnvList("SYMBOLS"),
		Timeframes:  models.DefaultDetectionTimeframes,
	}
	if raw := getEnv("TIMEFRAMES", ""); raw != "" {
		tfs, err := models.ParseTimeframes(raw)
		if err != nil {
			cfg.problems = append(cfg.problems, fmt.Errorf("TIMEFRAMES: %w", err))
		} else {
			cfg.Scheduler.Timeframes = tfs
		}
	}

	cfg.Kafka = KafkaConfig{
		Enabled: cfg.getEnvBool("KAFKA_ENABLED", false),
		Broker:  getEnv("KAFKA_BROKER", "localhost:9092"),
		Topic:   getEnv("KAFKA_CANDIDATE_TOPIC", "orderblock_candidates"),
		GroupID: getEnv("KAFKA_CANDIDATE_GROUP_ID", "obradar-api"),
	}

	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
		TTL:      cfg.getEnvDuration("REDIS_TTL", 5*time.Minute),
	}

	cfg.Server = ServerConfig{
		Port:           getEnv("PORT", "8080"),
		HealthInterval: cfg.getEnvDuration("HEALTH_INTERVAL", 30*time.Second),
	}

	return cfg
}

// Validate reports unparsable values and inconsistent settings.
func (c *AppConfig) Validate() error {
	problems := append([]error(nil), c.problems...)

	switch c.Store.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		problems = append(problems, fmt.Errorf("DB_DRIVER: unsupported driver %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		problems = append(problems, errors.New("DB_DSN: must not be empty"))
	}
	switch c.CandleStore {
	case CandleStoreSQL, CandleStoreClickHouse:
	default:
		problems = append(problems, fmt.Errorf("CANDLE_STORE: unknown backend %q", c.CandleStore))
	}
	if c.Bybit.RatePerSecond <= 0 {
		problems = append(problems, errors.New("BYBIT_RATE_PER_SECOND: must be positive"))
	}
	if c.Scheduler.Workers <= 0 {
		problems = append(problems, errors.New("SCHEDULER_WORKERS: must be positive"))
	}
	if c.Ingest.Lookback <= 0 {
		problems = append(problems, errors.New("INGEST_LOOKBACK: must be positive"))
	}

	return errors.Join(problems...)
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.ToUpper(item))
		}
	}
	return out
}

// getEnvDuration accepts Go durations plus days and weeks ("30d", "1w2d").
func (c *AppConfig) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := str2duration.ParseDuration(valueStr)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return value
}

func (c *AppConfig) getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return value
}

func (c *AppConfig) getEnvBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return value
}
