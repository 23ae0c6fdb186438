package storage_test

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/models"
	"github.com/navid-fn/obradar/internal/storage"
	"github.com/navid-fn/obradar/internal/storage/storagetest"
)

const minute = int64(60_000)

func candle(symbol string, openTime int64, close float64) models.Candle {
	return models.Candle{
		Symbol:    symbol,
		Timeframe: models.Timeframe1,
		OpenTime:  openTime,
		Open:      100,
		High:      max(close, 100) + 1,
		Low:       min(close, 100) - 1,
		Close:     close,
		Volume:    10,
	}
}

func TestUpsertCandlesCountsInsertsAndUpdates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))

	first := []models.Candle{
		candle("BTCUSDT", 1*minute, 101),
		candle("BTCUSDT", 2*minute, 102),
	}
	res, err := store.UpsertCandles(ctx, first)
	if err != nil {
		t.Fatalf("UpsertCandles returned error: %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 {
		t.Errorf("Expected 2 inserted 0 updated, got %+v", res)
	}

	second := []models.Candle{
		candle("BTCUSDT", 2*minute, 150),
		candle("BTCUSDT", 3*minute, 103),
	}
	res, err = store.UpsertCandles(ctx, second)
	if err != nil {
		t.Fatalf("UpsertCandles returned error: %v", err)
	}
	if res.Inserted != 1 || res.Updated != 1 || res.Total() != 2 {
		t.Errorf("Expected 1 inserted 1 updated, got %+v", res)
	}

	n, err := store.CountCandles(ctx, "BTCUSDT", models.Timeframe1)
	if err != nil {
		t.Fatalf("CountCandles returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 stored candles, got %d", n)
	}

	recent, err := store.RecentCandles(ctx, "BTCUSDT", models.Timeframe1, 10)
	if err != nil {
		t.Fatalf("RecentCandles returned error: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 recent candles, got %d", len(recent))
	}
	if recent[1].Close != 150 {
		t.Errorf("Expected overwritten close 150, got %v", recent[1].Close)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].OpenTime <= recent[i-1].OpenTime {
			t.Errorf("Expected ascending order, got %d after %d", recent[i].OpenTime, recent[i-1].OpenTime)
		}
	}
}

func TestUpsertCandlesKeepsKeysUnique(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))

	batch := []models.Candle{
		candle("ETHUSDT", 1*minute, 101),
		candle("ETHUSDT", 1*minute, 999),
		candle("ETHUSDT", 2*minute, 102),
	}
	for i := 0; i < 3; i++ {
		if _, err := store.UpsertCandles(ctx, batch); err != nil {
			t.Fatalf("UpsertCandles returned error: %v", err)
		}
	}

	n, _ := store.CountCandles(ctx, "ETHUSDT", models.Timeframe1)
	if n != 2 {
		t.Errorf("Expected 2 unique candles, got %d", n)
	}
	recent, _ := store.RecentCandles(ctx, "ETHUSDT", models.Timeframe1, 10)
	if recent[0].Close != 101 {
		t.Errorf("Expected first occurrence to win, got close %v", recent[0].Close)
	}
}

func TestUpsertCandlesRejectsBadBatch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))

	bad := candle("BTCUSDT", 2*minute, 101)
	bad.High, bad.Low = 90, 95
	_, err := store.UpsertCandles(ctx, []models.Candle{candle("BTCUSDT", 1*minute, 101), bad})

	var de *errs.DataIntegrityError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DataIntegrityError, got %v", err)
	}
	n, _ := store.CountCandles(ctx, "BTCUSDT", models.Timeframe1)
	if n != 0 {
		t.Errorf("Expected nothing stored from a bad batch, got %d", n)
	}
}

func TestLastOpenTime(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))

	if _, ok, err := store.LastOpenTime(ctx, "BTCUSDT", models.Timeframe1); err != nil || ok {
		t.Fatalf("Expected no last open time on empty store, got ok=%v err=%v", ok, err)
	}

	_, _ = store.UpsertCandles(ctx, []models.Candle{candle("BTCUSDT", 5*minute, 1), candle("BTCUSDT", 9*minute, 1)})
	last, ok, err := store.LastOpenTime(ctx, "BTCUSDT", models.Timeframe1)
	if err != nil || !ok {
		t.Fatalf("Expected last open time, got ok=%v err=%v", ok, err)
	}
	if last != 9*minute {
		t.Errorf("Expected %d, got %d", 9*minute, last)
	}
}

func TestRecentCandlesLimit(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandleStore(storagetest.NewDB(t))

	var batch []models.Candle
	for i := int64(1); i <= 20; i++ {
		batch = append(batch, candle("BTCUSDT", i*minute, 100))
	}
	_, _ = store.UpsertCandles(ctx, batch)

	recent, err := store.RecentCandles(ctx, "BTCUSDT", models.Timeframe1, 5)
	if err != nil {
		t.Fatalf("RecentCandles returned error: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("Expected 5 candles, got %d", len(recent))
	}
	if recent[0].OpenTime != 16*minute || recent[4].OpenTime != 20*minute {
		t.Errorf("Expected newest five ascending, got %d..%d", recent[0].OpenTime, recent[4].OpenTime)
	}
}

func TestSymbolStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormSymbolStore(storagetest.NewDB(t))

	n, err := store.UpsertSymbols(ctx, []models.Symbol{
		{Symbol: "ETHUSDT", BaseCoin: "ETH", QuoteCoin: "USDT", Status: "Trading", IsActive: true},
		{Symbol: "BTCUSDT", BaseCoin: "BTC", QuoteCoin: "USDT", Status: "Trading", IsActive: true},
		{Symbol: "OLDUSDT", BaseCoin: "OLD", QuoteCoin: "USDT", Status: "Closed"},
	})
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 symbols written, got %d err=%v", n, err)
	}

	_, err = store.UpsertSymbols(ctx, []models.Symbol{{Symbol: "ETHUSDT", Status: "Closed"}})
	if err != nil {
		t.Fatalf("UpsertSymbols returned error: %v", err)
	}

	active, err := store.ActiveSymbols(ctx)
	if err != nil {
		t.Fatalf("ActiveSymbols returned error: %v", err)
	}
	if len(active) != 1 || active[0] != "BTCUSDT" {
		t.Errorf("Expected [BTCUSDT], got %v", active)
	}
}

func TestSortTimeframes(t *testing.T) {
	tfs := []models.Timeframe{"D", "15", "240", "5", "W", "60"}
	storage.SortTimeframes(tfs)

	want := []models.Timeframe{"5", "15", "60", "240", "D", "W"}
	for i := range want {
		if tfs[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, tfs)
		}
	}
}

func seedCandidate(t *testing.T, store storage.CandidateStore) models.BlockCandidate {
	t.Helper()
	p := models.Partition{Symbol: "BTCUSDT", Timeframe: models.Timeframe15}
	res, err := store.ReplaceUnconfirmed(context.Background(), p, []models.BlockCandidate{{
		Symbol:               p.Symbol,
		Timeframe:            p.Timeframe,
		AnchorTimestamp:      1000,
		Imbalance:            models.CandleSnapshot{Open: 100, High: 110, Low: 100, Close: 108, Volume: 500},
		Direction:            models.Bullish,
		ConfirmationStrength: 8,
		PriceTarget:          120,
	}})
	if err != nil || len(res.Inserted) != 1 {
		t.Fatalf("Expected one seeded candidate, got %d err=%v", len(res.Inserted), err)
	}
	return res.Inserted[0]
}

func TestConfirmReportsChange(t *testing.T) {
	ctx := context.Background()
	store := storage.NewGormCandidateStore(storagetest.NewDB(t))
	c := seedCandidate(t, store)

	got, changed, err := store.Confirm(ctx, c.ID)
	if err != nil || !changed || !got.Confirmed {
		t.Fatalf("Expected first confirm to change the row, got changed=%v confirmed=%v err=%v", changed, got.Confirmed, err)
	}
	got, changed, err = store.Confirm(ctx, c.ID)
	if err != nil || changed || !got.Confirmed {
		t.Errorf("Expected second confirm to be a no-op, got changed=%v confirmed=%v err=%v", changed, got.Confirmed, err)
	}

	if _, _, err := store.Confirm(ctx, "missing"); !errs.IsNotFound(err) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}

func TestConfirmAfterConcurrentPurgeIsNotFound(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	store := storage.NewGormCandidateStore(db)
	c := seedCandidate(t, store)

	// Delete the row after Confirm has read it but before the update runs.
	err := db.Callback().Update().Before("gorm:update").Register("test:purge", func(tx *gorm.DB) {
		purge := tx.Session(&gorm.Session{NewDB: true}).Exec("DELETE FROM block_candidates WHERE id = ?", c.ID)
		if purge.Error != nil {
			t.Errorf("purge: %v", purge.Error)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	got, changed, err := store.Confirm(ctx, c.ID)
	if !errs.IsNotFound(err) {
		t.Fatalf("Expected NotFoundError, got %+v changed=%v err=%v", got, changed, err)
	}
	if changed {
		t.Error("Expected no change for a purged row")
	}

	_ = db.Callback().Update().Remove("test:purge")
	if _, err := store.Get(ctx, c.ID); !errs.IsNotFound(err) {
		t.Errorf("Expected the row to stay deleted, got %v", err)
	}
}
