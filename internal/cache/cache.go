// Package cache keeps the derived symbol and timeframe listings of stored
// candidates in Redis so API reads skip the DISTINCT scans.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/events"
	"github.com/navid-fn/obradar/internal/models"
)

const (
	DefaultTTL    = 5 * time.Minute
	DefaultPrefix = "obradar"

	keySymbols    = "candidates:symbols"
	keyTimeframes = "candidates:timeframes"
)

// ListingCache stores the candidate listings. A miss returns ok == false.
type ListingCache interface {
	Symbols(ctx context.Context) ([]string, bool, error)
	SetSymbols(ctx context.Context, symbols []string) error
	Timeframes(ctx context.Context) ([]models.Timeframe, bool, error)
	SetTimeframes(ctx context.Context, tfs []models.Timeframe) error
	Invalidate(ctx context.Context) error
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// Redis is a ListingCache on a go-redis client. It also implements
// events.Publisher: every lifecycle event invalidates the listings.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg Config, logger *logrus.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	logger.WithField("addr", cfg.Addr).Info("Redis connected")
	return newRedis(client, cfg, logger), nil
}

func newRedis(client *redis.Client, cfg Config, logger *logrus.Logger) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Redis{client: client, ttl: cfg.TTL, prefix: cfg.Prefix, logger: logger}
}

func (r *Redis) key(name string) string {
	return r.prefix + ":" + name
}

func (r *Redis) Symbols(ctx context.Context) ([]string, bool, error) {
	var out []string
	ok, err := r.get(ctx, keySymbols, &out)
	return out, ok, err
}

func (r *Redis) SetSymbols(ctx context.Context, symbols []string) error {
	return r.set(ctx, keySymbols, symbols)
}

func (r *Redis) Timeframes(ctx context.Context) ([]models.Timeframe, bool, error) {
	var out []models.Timeframe
	ok, err := r.get(ctx, keyTimeframes, &out)
	return out, ok, err
}

func (r *Redis) SetTimeframes(ctx context.Context, tfs []models.Timeframe) error {
	return r.set(ctx, keyTimeframes, tfs)
}

func (r *Redis) Invalidate(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key(keySymbols), r.key(keyTimeframes)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Publish drops the cached listings after any lifecycle change.
func (r *Redis) Publish(ctx context.Context, _ events.Event) error {
	return r.Invalidate(ctx)
}

func (r *Redis) Close() {
	if err := r.client.Close(); err != nil {
		r.logger.Warnf("Error closing redis client: %v", err)
	}
}

func (r *Redis) get(ctx context.Context, name string, dst any) (bool, error) {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (r *Redis) set(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := r.client.Set(ctx, r.key(name), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

// Nop never hits.
type Nop struct{}

func (Nop) Symbols(context.Context) ([]string, bool, error) { return nil, false, nil }
func (Nop) SetSymbols(context.Context, []string) error { return nil }
func (Nop) Timeframes(context.Context) ([]models.Timeframe, bool, error) { return nil, false, nil }
func (Nop) SetTimeframes(context.Context, []models.Timeframe) error { return nil }
func (Nop) Invalidate(context.Context) error { return nil }
