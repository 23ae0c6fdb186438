package configs

import (
	"slices"
	"testing"
	"time"

	"github.com/navid-fn/obradar/internal/models"
)

func TestAppLoadDefaults(t *testing.T) {
	cfg := AppLoad()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.CandleStore != CandleStoreSQL {
		t.Errorf("Expected sqlite with sql candles, got %s/%s", cfg.Store.Driver, cfg.CandleStore)
	}
	if cfg.Ingest.Lookback != 30*24*time.Hour {
		t.Errorf("Expected 30d lookback, got %v", cfg.Ingest.Lookback)
	}
	if !slices.Equal(cfg.Scheduler.Timeframes, models.DefaultDetectionTimeframes) {
		t.Errorf("Expected default timeframes, got %v", cfg.Scheduler.Timeframes)
	}
	if cfg.Server.Addr() != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.Server.Addr())
	}
}

func TestAppLoadFromEnv(t *testing.T) {
	t.Setenv("INGEST_LOOKBACK", "1w2d")
	t.Setenv("SCHEDULER_INTERVAL", "90s")
	t.Setenv("SYMBOLS", "btcusdt, ETHUSDT,,")
	t.Setenv("TIMEFRAMES", "15,d")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("CANDLE_STORE", "ClickHouse")
	t.Setenv("CLICKHOUSE_HOST", "ch")

	cfg := AppLoad()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	if cfg.Ingest.Lookback != 9*24*time.Hour {
		t.Errorf("Expected 9 days, got %v", cfg.Ingest.Lookback)
	}
	if cfg.Scheduler.Interval != 90*time.Second {
		t.Errorf("Expected 90s, got %v", cfg.Scheduler.Interval)
	}
	if !slices.Equal(cfg.Scheduler.Symbols, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Errorf("Expected [BTCUSDT ETHUSDT], got %v", cfg.Scheduler.Symbols)
	}
	if !slices.Equal(cfg.Scheduler.Timeframes, []models.Timeframe{models.Timeframe15, models.TimeframeD}) {
		t.Errorf("Expected [15 D], got %v", cfg.Scheduler.Timeframes)
	}
	if !cfg.Kafka.Enabled || cfg.CandleStore != CandleStoreClickHouse {
		t.Errorf("Expected kafka on and clickhouse candles, got %+v %s", cfg.Kafka, cfg.CandleStore)
	}
	if want := "clickhouse://user:password@ch:9000/db?dial_timeout=10s&read_timeout=20s"; cfg.ClickHouseDSN != want {
		t.Errorf("Expected %s, got %s", want, cfg.ClickHouseDSN)
	}
}

func TestValidateReportsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "INGEST_LOOKBACK", "forever"},
		{"bad timeframe", "TIMEFRAMES", "15,7"},
		{"bad bool", "KAFKA_ENABLED", "maybe"},
		{"bad driver", "DB_DRIVER", "oracle"},
		{"bad candle store", "CANDLE_STORE", "parquet"},
		{"zero rate", "BYBIT_RATE_PER_SECOND", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if err := AppLoad().Validate(); err == nil {
				t.Errorf("Expected an error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
