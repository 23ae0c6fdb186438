// Package ingest pulls candles from the exchange into the candle store.
//
// Collect walks forward from the newest stored candle in pages of at most
// 200 rows, throttled between pages, until the exchange is caught up, returns
// an empty page, stops advancing, or the iteration cap is hit. Pages are
// merged, deduplicated and upserted in one batch at the end.
package ingest

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/exchange"
	"github.com/navid-fn/obradar/internal/faulttolerance"
	"github.com/navid-fn/obradar/internal/logging"
	"github.com/navid-fn/obradar/internal/models"
	"github.com/navid-fn/obradar/internal/storage"
)

// Config holds collector settings.
type Config struct {
	// MaxIterations caps the page requests of one Collect call.
	MaxIterations int

	// PageSize is the row limit of each request, at most 200.
	PageSize int

	// Throttle is the pause between two page requests.
	Throttle time.Duration

	// Retry governs retries of transient page failures.
	Retry faulttolerance.RetryConfig
}

// DefaultConfig mirrors the exchange's public limits.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 1000,
		PageSize:      exchange.MaxPageSize,
		Throttle:      200 * time.Millisecond,
		Retry:         faulttolerance.DefaultRetryConfig("kline-fetch"),
	}
}

// Result describes one Collect call.
type Result struct {
	Partition models.Partition

	// Start and End bound the requested window in epoch ms.
	Start int64
	End   int64

	Pages    int
	Fetched  int
	Inserted int
	Updated  int
	Stalled  bool
}

// Stored is the number of rows inserted or updated.
func (r Result) Stored() int {
	return r.Inserted + r.Updated
}

// Collector runs the paginated ingestion of one partition at a time.
// It is safe for concurrent use across partitions.
type Collector struct {
	source  exchange.Source
	store   storage.CandleStore
	retryer *faulttolerance.Retryer
	logger  *logrus.Logger
	cfg     Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCollector creates a collector. Only transient network errors are retried.
func NewCollector(source exchange.Source, store storage.CandleStore, logger *logrus.Logger, cfg Config) *Collector {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.PageSize <= 0 || cfg.PageSize > exchange.MaxPageSize {
		cfg.PageSize = def.PageSize
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	}
	cfg.Retry.Retryable = errs.IsTransient

	return &Collector{
		source:  source,
		store:   store,
		retryer: faulttolerance.NewRetryer(cfg.Retry, logger),
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Collect brings (symbol, tf) up to date, looking back at most lookback.
//
// A stall still stores what was gathered and returns the result together
// with an *errs.IngestionStallError. Transient errors that outlast the
// retries store the pages gathered so far before returning. Any other error
// stores nothing.
func (c *Collector) Collect(ctx context.Context, symbol string, tf models.Timeframe, lookback time.Duration) (Result, error) {
	p := models.Partition{Symbol: symbol, Timeframe: tf}
	res := Result{Partition: p}
	log := c.logger.WithFields(logging.PartitionFields(p))

	bucket := tf.BucketMillis()
	if bucket <= 0 {
		return res, fmt.Errorf("unsupported timeframe %q", tf)
	}

	now := c.now().UnixMilli()
	start := now - lookback.Milliseconds()
	last, ok, err := c.store.LastOpenTime(ctx, symbol, tf)
	if err != nil {
		return res, err
	}
	if ok && last+bucket > start {
		start = last + bucket
	}
	res.Start, res.End = start, now

	if start >= now {
		log.Debug("Partition already current")
		return res, nil
	}

	var (
		pages  [][]models.Candle
		runErr error
		cursor = start
	)
	for iter := 0; ; iter++ {
		if iter >= c.cfg.MaxIterations {
			log.Warnf("Iteration cap %d reached at cursor %d", c.cfg.MaxIterations, cursor)
			break
		}

		req := exchange.KlineRequest{
			Symbol:    symbol,
			Timeframe: tf,
			Start:     cursor,
			End:       min(cursor+int64(c.cfg.PageSize)*bucket-1, now),
			Limit:     c.cfg.PageSize,
		}
		page, err := c.fetchPage(ctx, req)
		if err != nil {
			if !errs.IsTransient(err) {
				return res, err
			}
			log.Warnf("Giving up at cursor %d: %v", cursor, err)
			runErr = err
			break
		}
		res.Pages++

		if len(page) == 0 {
			// Gaps and pre-listing windows come back empty.
			if req.End >= now {
				break
			}
			cursor = req.End + 1
			if err := c.sleep(ctx, c.cfg.Throttle); err != nil {
				return res, err
			}
			continue
		}

		// The first page may start anywhere; later pages must move forward.
		pageLast := maxOpenTime(page)
		if len(pages) > 0 && pageLast <= cursor {
			runErr = &errs.IngestionStallError{Partition: p.String(), Cursor: cursor, Last: pageLast}
			res.Stalled = true
			log.Warn(runErr.Error())
			break
		}

		pages = append(pages, page)
		res.Fetched += len(page)
		cursor = max(cursor, pageLast+bucket)
		if cursor > now {
			break
		}

		if err := c.sleep(ctx, c.cfg.Throttle); err != nil {
			return res, err
		}
	}

	rows := mergePages(pages, now)
	if len(rows) > 0 {
		up, err := c.store.UpsertCandles(ctx, rows)
		if err != nil {
			return res, err
		}
		res.Inserted, res.Updated = up.Inserted, up.Updated
	}

	log.WithFields(logrus.Fields{
		"pages":    res.Pages,
		"fetched":  res.Fetched,
		"inserted": res.Inserted,
		"updated":  res.Updated,
	}).Info("Collected candles")

	return res, runErr
}

func (c *Collector) fetchPage(ctx context.Context, req exchange.KlineRequest) ([]models.Candle, error) {
	var page []models.Candle
	err := c.retryer.Execute(ctx, func(ctx context.Context) error {
		var err error
		page, err = c.source.FetchCandles(ctx, req)
		return err
	})
	return page, err
}

// mergePages keeps the first occurrence of every open time, sorts ascending
// and drops rows past end.
func mergePages(pages [][]models.Candle, end int64) []models.Candle {
	seen := make(map[int64]struct{})
	var out []models.Candle
	for _, page := range pages {
		for _, c := range page {
			if _, ok := seen[c.OpenTime]; ok {
				continue
			}
			seen[c.OpenTime] = struct{}{}
			out = append(out, c)
		}
	}

	slices.SortStableFunc(out, func(a, b models.Candle) int {
		switch {
		case a.OpenTime < b.OpenTime:
			return -1
		case a.OpenTime > b.OpenTime:
			return 1
		}
		return 0
	})

	cut := len(out)
	for cut > 0 && out[cut-1].OpenTime > end {
		cut--
	}
	return out[:cut]
}

func maxOpenTime(page []models.Candle) int64 {
	last := page[0].OpenTime
	for _, c := range page[1:] {
		if c.OpenTime > last {
			last = c.OpenTime
		}
	}
	return last
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
