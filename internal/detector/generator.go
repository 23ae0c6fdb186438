package detector

import (
	"math"

	"github.com/navid-fn/obradar/internal/models"
)

// Generator turns flagged candles into block candidates by checking how price
// moved over the candles right after them.
type Generator struct {
	// Before is the number of candles required strictly before the anchor.
	Before int

	// After is the forward window length; that many candles are required
	// strictly after the anchor.
	After int

	// MinStrength is the continuation, in percent, a candidate must exceed.
	MinStrength float64
}

func NewGenerator() Generator {
	return Generator{Before: 10, After: 5, MinStrength: 5}
}

// Generate emits one unconfirmed candidate for every flagged candle with
// enough context whose forward move exceeds MinStrength. The series must be
// ascending and belong to a single partition.
func (g Generator) Generate(series []models.Candle, flags Flags, tf models.Timeframe) []models.BlockCandidate {
	var out []models.BlockCandidate
	for i, c := range series {
		if !flags.Has(c.OpenTime) {
			continue
		}
		if i < g.Before || len(series)-1-i < g.After || g.After <= 0 {
			continue
		}

		dir := models.Bearish
		if c.Close > c.Open {
			dir = models.Bullish
		}

		forward := series[i+1 : i+1+g.After]
		strength := Strength(dir, forward[0].Open, forward[len(forward)-1].Close)
		if strength <= g.MinStrength {
			continue
		}

		out = append(out, models.BlockCandidate{
			Symbol:               c.Symbol,
			Timeframe:            tf,
			AnchorTimestamp:      c.OpenTime,
			Imbalance:            models.SnapshotOf(c),
			Direction:            dir,
			ConfirmationStrength: strength,
			PriceTarget:          PriceTarget(dir, c.High, c.Low),
			Confirmed:            false,
		})
	}
	return out
}

// Strength is the percent move from entry to exit in the block's direction,
// clamped to [0,100].
func Strength(dir models.Direction, entry, exit float64) float64 {
	if entry <= 0 {
		return 0
	}
	movement := exit - entry
	if dir == models.Bearish {
		movement = entry - exit
	}
	if movement <= 0 || math.IsNaN(movement) {
		return 0
	}
	return math.Min(movement/entry*100, 100)
}

// PriceTarget projects the anchor range once more in the block's direction.
func PriceTarget(dir models.Direction, high, low float64) float64 {
	rng := high - low
	if dir == models.Bullish {
		return high + rng
	}
	return low - rng
}
