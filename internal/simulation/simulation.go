// Package simulation builds synthetic candle series for tests and the seed
// command. Nothing here is used by the scheduler.
package simulation

import (
	"math/rand"

	"github.com/navid-fn/obradar/internal/models"
)

// WalkConfig describes a random-walk series.
type WalkConfig struct {
	Symbol    string
	Timeframe models.Timeframe

	// Start is the open time of the first candle in epoch ms.
	Start int64
	Count int

	// Price is the first open.
	Price float64

	// Seed makes the walk reproducible.
	Seed int64
}

// RandomWalk returns Count consecutive candles, each opening at the previous
// close. Highs, lows and closes stay within a couple of percent of the open
// and volume is drawn from [5000, 50000).
func RandomWalk(cfg WalkConfig) []models.Candle {
	if cfg.Count <= 0 {
		return nil
	}
	if cfg.Price <= 0 {
		cfg.Price = 100
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	bucket := cfg.Timeframe.BucketMillis()

	out := make([]models.Candle, 0, cfg.Count)
	price := cfg.Price
	for i := 0; i < cfg.Count; i++ {
		open := price
		closePrice := open * uniform(rng, 0.995, 1.005)
		high := max(open, closePrice) * uniform(rng, 1.001, 1.02)
		low := min(open, closePrice) * uniform(rng, 0.98, 0.999)

		out = append(out, models.Candle{
			Symbol:    cfg.Symbol,
			Timeframe: cfg.Timeframe,
			OpenTime:  cfg.Start + int64(i)*bucket,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    uniform(rng, 5000, 50000),
		})
		price = closePrice
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
