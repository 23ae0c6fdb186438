package simulation

import (
	"github.com/navid-fn/obradar/internal/models"
)

// Scenario is a quiet series with one imbalance candle followed by a
// continuation move.
type Scenario struct {
	Series []models.Candle

	// Anchor is the index of the imbalance candle.
	Anchor int
}

// AnchorCandle returns the imbalance candle.
func (s Scenario) AnchorCandle() models.Candle {
	return s.Series[s.Anchor]
}

// ScenarioConfig shapes an imbalance scenario.
type ScenarioConfig struct {
	Symbol    string
	Timeframe models.Timeframe
	Start     int64
	Count     int

	// Anchor is the index of the imbalance candle.
	Anchor    int
	Direction models.Direction

	// MovePercent is the move from the anchor close to the close of the
	// last forward candle.
	MovePercent float64

	// Forward is the number of candles carrying the move.
	Forward int
}

// DefaultScenario is 30 candles with the imbalance at #15 followed by an 8%
// bullish continuation over 5 candles.
func DefaultScenario() ScenarioConfig {
	return ScenarioConfig{
		Symbol:      "BTCUSDT",
		Timeframe:   models.Timeframe15,
		Start:       1_700_000_000_000,
		Count:       30,
		Anchor:      14,
		Direction:   models.Bullish,
		MovePercent: 8,
		Forward:     5,
	}
}

const (
	basePrice   = 100.0
	quietBody   = 0.5
	quietVolume = 100.0
	anchorBody  = 2.0
	anchorWick  = 0.1
	// 2.25x the quiet volume makes the anchor 2x its own 10-candle mean.
	anchorVolume = 225.0
)

// ImbalanceScenario builds the series described by cfg. Quiet candles
// alternate up and down by a small body with wide wicks so none of them
// qualifies as an imbalance. The anchor has a body of about 0.9 of its range.
func ImbalanceScenario(cfg ScenarioConfig) Scenario {
	if cfg.Forward <= 0 {
		cfg.Forward = 5
	}
	if cfg.Count < cfg.Anchor+1+cfg.Forward {
		cfg.Count = cfg.Anchor + 1 + cfg.Forward
	}
	bucket := cfg.Timeframe.BucketMillis()
	at := func(i int) int64 { return cfg.Start + int64(i)*bucket }

	series := make([]models.Candle, 0, cfg.Count)
	price := basePrice
	for i := 0; i < cfg.Anchor; i++ {
		c := quiet(cfg.Symbol, cfg.Timeframe, at(i), price, i%2 == 0)
		series = append(series, c)
		price = c.Close
	}

	anchor := models.Candle{
		Symbol: cfg.Symbol, Timeframe: cfg.Timeframe, OpenTime: at(cfg.Anchor),
		Open: price, Volume: anchorVolume,
	}
	if cfg.Direction == models.Bearish {
		anchor.Close = price - anchorBody
		anchor.High = anchor.Open + anchorWick
		anchor.Low = anchor.Close - anchorWick
	} else {
		anchor.Close = price + anchorBody
		anchor.High = anchor.Close + anchorWick
		anchor.Low = anchor.Open - anchorWick
	}
	series = append(series, anchor)
	price = anchor.Close

	target := price * (1 + cfg.MovePercent/100)
	if cfg.Direction == models.Bearish {
		target = price * (1 - cfg.MovePercent/100)
	}
	step := (target - price) / float64(cfg.Forward)
	for k := 0; k < cfg.Forward; k++ {
		i := cfg.Anchor + 1 + k
		closePrice := price + step
		if k == cfg.Forward-1 {
			closePrice = target
		}
		series = append(series, models.Candle{
			Symbol: cfg.Symbol, Timeframe: cfg.Timeframe, OpenTime: at(i),
			Open:   price,
			High:   max(price, closePrice) + 0.05,
			Low:    min(price, closePrice) - 0.05,
			Close:  closePrice,
			Volume: quietVolume,
		})
		price = closePrice
	}

	for i := len(series); i < cfg.Count; i++ {
		c := quiet(cfg.Symbol, cfg.Timeframe, at(i), price, i%2 == 0)
		series = append(series, c)
		price = c.Close
	}

	return Scenario{Series: series, Anchor: cfg.Anchor}
}

func quiet(symbol string, tf models.Timeframe, openTime int64, open float64, up bool) models.Candle {
	closePrice := open - quietBody
	if up {
		closePrice = open + quietBody
	}
	return models.Candle{
		Symbol: symbol, Timeframe: tf, OpenTime: openTime,
		Open:   open,
		High:   max(open, closePrice) + quietBody,
		Low:    min(open, closePrice) - quietBody,
		Close:  closePrice,
		Volume: quietVolume,
	}
}
