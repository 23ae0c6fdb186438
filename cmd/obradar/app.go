package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/navid-fn/obradar/configs"
	"github.com/navid-fn/obradar/internal/cache"
	"github.com/navid-fn/obradar/internal/events"
	"github.com/navid-fn/obradar/internal/exchange/bybit"
	"github.com/navid-fn/obradar/internal/faulttolerance"
	"github.com/navid-fn/obradar/internal/ingest"
	"github.com/navid-fn/obradar/internal/lifecycle"
	"github.com/navid-fn/obradar/internal/service"
	"github.com/navid-fn/obradar/internal/storage"
)

// app holds the wired components of one process. Optional parts stay nil
// until the command that needs them asks for them.
type app struct {
	cfg    *configs.AppConfig
	logger *logrus.Logger

	db         *gorm.DB
	candles    storage.CandleStore
	candidates storage.CandidateStore
	symbols    storage.SymbolStore

	client    *bybit.Client
	hub       *events.Hub
	listings  cache.ListingCache
	publisher events.Multi
	manager   *lifecycle.Manager
	service   *service.CandidateService

	closers []func()
}

// openApp connects the relational store and the candle store.
func openApp(ctx context.Context, cfg *configs.AppConfig, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := storage.Open(ctx, storage.Config{
		Driver:         cfg.Store.Driver,
		DSN:            cfg.Store.DSN,
		ConnectRetries: uint64(max(cfg.Store.ConnectRetries, 0)),
		MaxOpenConns:   cfg.Store.MaxOpenConns,
		MaxIdleConns:   cfg.Store.MaxIdleConns,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() {
		if err := storage.Close(db); err != nil {
			logger.Warnf("Error closing database: %v", err)
		}
	})

	a.candidates = storage.NewGormCandidateStore(db)
	a.symbols = storage.NewGormSymbolStore(db)

	if cfg.CandleStore == configs.CandleStoreClickHouse {
		store, closeFn, err := storage.NewClickHouseCandleStore(cfg.ClickHouseDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
		}
		a.candles = store
		a.closers = append(a.closers, func() { _ = closeFn() })
	} else {
		a.candles = storage.NewGormCandleStore(db)
	}

	return a, nil
}

// withExchange creates the Bybit client and its shared limiter.
func (a *app) withExchange() *bybit.Client {
	if a.client == nil {
		limiter := rate.NewLimiter(rate.Limit(a.cfg.Bybit.RatePerSecond), max(a.cfg.Bybit.Burst, 1))
		a.client = bybit.NewClient(bybit.Config{
			BaseURL:        a.cfg.Bybit.BaseURL,
			Category:       a.cfg.Bybit.Category,
			RequestTimeout: a.cfg.Bybit.RequestTimeout,
		}, limiter, a.logger)
	}
	return a.client
}

// collector builds the ingestion collector on the exchange client.
func (a *app) collector() *ingest.Collector {
	cfg := ingest.DefaultConfig()
	cfg.MaxIterations = a.cfg.Ingest.MaxIterations
	cfg.Throttle = a.cfg.Ingest.Throttle
	if a.cfg.Ingest.RetryAttempts > 0 {
		cfg.Retry.MaxAttempts = a.cfg.Ingest.RetryAttempts
	}
	return ingest.NewCollector(a.withExchange(), a.candles, a.logger, cfg)
}

// withLifecycle wires the publishers, the listing cache, the lifecycle
// manager and the query service. withHub adds the websocket hub as a sink.
func (a *app) withLifecycle(ctx context.Context, publishKafka, withHub bool) error {
	if a.manager != nil {
		return nil
	}

	if publishKafka {
		producer, err := events.NewKafkaPublisher(a.cfg.Kafka.Broker, a.cfg.Kafka.Topic, a.logger)
		if err != nil {
			return err
		}
		a.publisher = append(a.publisher, producer)
	}

	a.listings = cache.Nop{}
	if a.cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cache.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			TTL:      a.cfg.Redis.TTL,
		}, a.logger)
		if err != nil {
			// Listings fall back to the database.
			a.logger.Warnf("Listing cache disabled: %v", err)
		} else {
			a.listings = rc
			a.publisher = append(a.publisher, rc)
		}
	}

	if withHub {
		a.hub = events.NewHub(a.logger)
		a.publisher = append(a.publisher, a.hub)
	}
	a.closers = append(a.closers, a.publisher.Close)

	a.manager = lifecycle.NewManager(a.candidates, a.publisher, a.logger)
	a.service = service.NewCandidateService(a.candidates, a.manager, a.listings, a.logger)
	return nil
}

// healthMonitor checks the database and, when the exchange is wired, its breaker.
func (a *app) healthMonitor() *faulttolerance.HealthMonitor {
	hm := faulttolerance.NewHealthMonitor(a.logger, a.cfg.Server.HealthInterval)
	hm.AddCheck("database", func(ctx context.Context) error {
		return storage.Ping(ctx, a.db)
	})
	if a.client != nil {
		hm.AddCheck("bybit", a.client.Breaker().Check)
	}
	return hm
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
