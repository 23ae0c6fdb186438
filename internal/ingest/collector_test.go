package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/exchange"
	"github.com/navid-fn/obradar/internal/faulttolerance"
	"github.com/navid-fn/obradar/internal/models"
	"github.com/navid-fn/obradar/internal/storage"
	"github.com/navid-fn/obradar/internal/storage/storagetest"
)

const minute = int64(60_000)

// seriesSource serves a deterministic candle for every bucket in the request
// window. Buckets before listedFrom come back empty.
type seriesSource struct {
	mu         sync.Mutex
	requests   []exchange.KlineRequest
	failures   []error
	listedFrom int64
}

func (s *seriesSource) FetchCandles(ctx context.Context, req exchange.KlineRequest) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return nil, err
		}
	}

	bucket := req.Timeframe.BucketMillis()
	first := (max(req.Start, s.listedFrom) + bucket - 1) / bucket * bucket
	var out []models.Candle
	for t := first; t <= req.End && len(out) < req.Limit; t += bucket {
		price := float64(100 + (t/bucket)%17)
		out = append(out, models.Candle{
			Symbol: req.Symbol, Timeframe: req.Timeframe, OpenTime: t,
			Open: price, High: price + 2, Low: price - 2, Close: price + 1, Volume: 5,
		})
	}
	return out, nil
}

func (s *seriesSource) FetchInstruments(ctx context.Context, category string) ([]models.Symbol, error) {
	return []models.Symbol{{Symbol: "BTCUSDT", BaseCoin: "BTC", QuoteCoin: "USDT", Status: "Trading", IsActive: true}}, nil
}

func (s *seriesSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// stuckSource always answers with the same single candle.
type stuckSource struct {
	openTime int64
	calls    int
}

func (s *stuckSource) FetchCandles(ctx context.Context, req exchange.KlineRequest) ([]models.Candle, error) {
	s.calls++
	return []models.Candle{{
		Symbol: req.Symbol, Timeframe: req.Timeframe, OpenTime: s.openTime,
		Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1,
	}}, nil
}

func (s *stuckSource) FetchInstruments(ctx context.Context, category string) ([]models.Symbol, error) {
	return nil, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestCollector(t *testing.T, source exchange.Source, store storage.CandleStore, now time.Time) *Collector {
	t.Helper()
	c := NewCollector(source, store, testLogger(), Config{
		Retry: faulttolerance.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	c.now = func() time.Time { return now }
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestCollectPaginatesUntilCaughtUp(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	source := &seriesSource{}
	now := time.UnixMilli(1000 * minute)

	c := newTestCollector(t, source, store, now)
	res, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 500*time.Minute)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	// Buckets 500..1000 inclusive.
	if res.Stored() != 501 {
		t.Errorf("Expected 501 stored rows, got %d", res.Stored())
	}
	if res.Pages != 3 || source.calls() != 3 {
		t.Errorf("Expected 3 pages, got %d (calls %d)", res.Pages, source.calls())
	}
	for _, req := range source.requests {
		if req.Limit != exchange.MaxPageSize {
			t.Errorf("Expected page limit %d, got %d", exchange.MaxPageSize, req.Limit)
		}
		if req.End > now.UnixMilli() {
			t.Errorf("Request end %d beyond now", req.End)
		}
	}

	last, _, _ := store.LastOpenTime(ctx, "BTCUSDT", models.Timeframe1)
	if last != 1000*minute {
		t.Errorf("Expected last open time %d, got %d", 1000*minute, last)
	}
}

func TestCollectNoopWhenCurrent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	now := time.UnixMilli(1000*minute + 30_000)

	_, _ = store.UpsertCandles(ctx, []models.Candle{{
		Symbol: "BTCUSDT", Timeframe: models.Timeframe1, OpenTime: 1000 * minute,
		Open: 1, High: 2, Low: 1, Close: 2, Volume: 1,
	}})

	source := &seriesSource{}
	c := newTestCollector(t, source, store, now)
	res, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if source.calls() != 0 || res.Stored() != 0 {
		t.Errorf("Expected no requests and nothing stored, got %d calls, %d stored", source.calls(), res.Stored())
	}
}

func TestCollectResumesFromLastStored(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	source := &seriesSource{}

	c := newTestCollector(t, source, store, time.UnixMilli(100*minute))
	if _, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 50*time.Minute); err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	c.now = func() time.Time { return time.UnixMilli(120 * minute) }
	source.requests = nil
	res, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 50*time.Minute)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if source.requests[0].Start != 101*minute {
		t.Errorf("Expected resume at %d, got %d", 101*minute, source.requests[0].Start)
	}
	if res.Inserted != 20 || res.Updated != 0 {
		t.Errorf("Expected 20 inserted, got %+v", res)
	}
}

func TestCollectIsIdempotentOverOverlappingRanges(t *testing.T) {
	ctx := context.Background()
	twice := storage.NewGormCandleStore(storagetest.NewDB(t))
	once := storage.NewGormCandleStore(storagetest.NewDB(t))

	c := newTestCollector(t, &seriesSource{}, twice, time.UnixMilli(300*minute))
	if _, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 200*time.Minute); err != nil {
		t.Fatalf("first Collect: %v", err)
	}
	c.now = func() time.Time { return time.UnixMilli(450 * minute) }
	if _, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 350*time.Minute); err != nil {
		t.Fatalf("second Collect: %v", err)
	}

	u := newTestCollector(t, &seriesSource{}, once, time.UnixMilli(450*minute))
	if _, err := u.Collect(ctx, "BTCUSDT", models.Timeframe1, 350*time.Minute); err != nil {
		t.Fatalf("union Collect: %v", err)
	}

	a, _ := twice.RecentCandles(ctx, "BTCUSDT", models.Timeframe1, 10_000)
	b, _ := once.RecentCandles(ctx, "BTCUSDT", models.Timeframe1, 10_000)
	if len(a) != len(b) {
		t.Fatalf("Expected equal row counts, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].OpenTime != b[i].OpenTime || a[i].Close != b[i].Close || a[i].Volume != b[i].Volume {
			t.Fatalf("Row %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestCollectReportsStall(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	now := time.UnixMilli(1000 * minute)

	tests := []struct {
		name      string
		openTime  int64
		wantCalls int
		wantRows  int64
	}{
		{"page behind cursor", 10 * minute, 2, 1},
		{"page pinned at cursor", 900 * minute, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &stuckSource{openTime: tt.openTime}
			symbol := "STALL" + tt.name
			c := newTestCollector(t, source, store, now)

			res, err := c.Collect(ctx, symbol, models.Timeframe1, 100*time.Minute)
			if !errs.IsStall(err) {
				t.Fatalf("Expected stall error, got %v", err)
			}
			if !res.Stalled {
				t.Error("Expected result to be marked stalled")
			}
			if source.calls != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, source.calls)
			}
			n, _ := store.CountCandles(ctx, symbol, models.Timeframe1)
			if n != tt.wantRows {
				t.Errorf("Expected %d rows kept, got %d", tt.wantRows, n)
			}
		})
	}
}

func TestCollectSkipsEmptyWindowsBeforeListing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	source := &seriesSource{listedFrom: 9000 * minute}

	c := newTestCollector(t, source, store, time.UnixMilli(10_000*minute))
	res, err := c.Collect(ctx, "NEWUSDT", models.Timeframe1, 5000*time.Minute)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	// Buckets 9000..10000 inclusive, after 20 empty windows.
	if res.Stored() != 1001 {
		t.Errorf("Expected 1001 stored rows, got %d", res.Stored())
	}
	if source.calls() != 26 {
		t.Errorf("Expected 26 calls, got %d", source.calls())
	}
	for i := 1; i < len(source.requests); i++ {
		if source.requests[i].Start != source.requests[i-1].End+1 {
			t.Errorf("Expected request %d to start at %d, got %d", i, source.requests[i-1].End+1, source.requests[i].Start)
		}
	}

	rows, _ := store.RecentCandles(ctx, "NEWUSDT", models.Timeframe1, 10_000)
	if len(rows) == 0 || rows[0].OpenTime != 9000*minute {
		t.Errorf("Expected the first stored candle at %d, got %+v", 9000*minute, rows[:min(len(rows), 1)])
	}
}

func TestCollectKeepsPagesWhenRetriesRunOut(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	transient := &errs.TransientNetworkError{Op: "kline", Err: errors.New("timeout")}
	source := &seriesSource{failures: []error{nil, nil, transient, transient, transient}}

	c := newTestCollector(t, source, store, time.UnixMilli(1000*minute))
	res, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 500*time.Minute)
	if !errs.IsTransient(err) {
		t.Fatalf("Expected transient error, got %v", err)
	}
	if source.calls() != 5 {
		t.Errorf("Expected 5 calls, got %d", source.calls())
	}
	if res.Stored() != 400 {
		t.Errorf("Expected 400 stored rows, got %d", res.Stored())
	}

	n, _ := store.CountCandles(ctx, "BTCUSDT", models.Timeframe1)
	if n != 400 {
		t.Errorf("Expected 400 rows kept, got %d", n)
	}
	last, _, _ := store.LastOpenTime(ctx, "BTCUSDT", models.Timeframe1)
	if last != 899*minute {
		t.Errorf("Expected last open time %d, got %d", 899*minute, last)
	}
}

func TestCollectRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	transient := &errs.TransientNetworkError{Op: "kline", Err: errors.New("timeout")}
	source := &seriesSource{failures: []error{transient, transient}}

	c := newTestCollector(t, source, store, time.UnixMilli(100*minute))
	res, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 10*time.Minute)
	if err != nil {
		t.Fatalf("Expected retries to recover, got %v", err)
	}
	if res.Stored() != 11 {
		t.Errorf("Expected 11 stored rows, got %d", res.Stored())
	}
	if source.calls() != 3 {
		t.Errorf("Expected 3 calls, got %d", source.calls())
	}
}

func TestCollectDoesNotRetryProtocolErrors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	source := &seriesSource{failures: []error{nil, &errs.ExchangeProtocolError{Code: 10001, Message: "params error"}}}

	c := newTestCollector(t, source, store, time.UnixMilli(1000*minute))
	_, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 500*time.Minute)

	var pe *errs.ExchangeProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected protocol error, got %v", err)
	}
	if source.calls() != 2 {
		t.Errorf("Expected 2 calls, got %d", source.calls())
	}
	n, _ := store.CountCandles(ctx, "BTCUSDT", models.Timeframe1)
	if n != 0 {
		t.Errorf("Expected nothing stored after a failed run, got %d", n)
	}
}

func TestCollectStopsAtIterationCap(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))
	source := &seriesSource{}

	c := newTestCollector(t, source, store, time.UnixMilli(10_000*minute))
	c.cfg.MaxIterations = 2
	c.cfg.PageSize = 10

	res, err := c.Collect(ctx, "BTCUSDT", models.Timeframe1, 1000*time.Minute)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if source.calls() != 2 {
		t.Errorf("Expected 2 calls, got %d", source.calls())
	}
	if res.Stored() != 20 {
		t.Errorf("Expected 20 stored rows, got %d", res.Stored())
	}
}

func TestMergePages(t *testing.T) {
	mk := func(ts int64, close float64) models.Candle {
		return models.Candle{OpenTime: ts, Close: close}
	}
	pages := [][]models.Candle{
		{mk(3, 1), mk(1, 1)},
		{mk(3, 2), mk(2, 1), mk(9, 1)},
	}

	got := mergePages(pages, 5)
	if len(got) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(got))
	}
	for i, want := range []int64{1, 2, 3} {
		if got[i].OpenTime != want {
			t.Errorf("Expected open time %d at %d, got %d", want, i, got[i].OpenTime)
		}
	}
	if got[2].Close != 1 {
		t.Errorf("Expected first occurrence kept, got close %v", got[2].Close)
	}
}

func TestSymbolSync(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormSymbolStore(storagetest.NewDB(t))
	syncer := NewSymbolSync(&seriesSource{}, store, testLogger())

	n, err := syncer.Sync(ctx, "spot")
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 synced symbol, got %d err=%v", n, err)
	}
	active, _ := store.ActiveSymbols(ctx)
	if len(active) != 1 || active[0] != "BTCUSDT" {
		t.Errorf("Expected [BTCUSDT], got %v", active)
	}
}
