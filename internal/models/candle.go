package models

import (
	"fmt"
	"math"
	"time"

	"github.com/navid-fn/obradar/internal/errs"
)

// Candle is one OHLCV bucket of a (symbol, timeframe) series.
// (Symbol, Timeframe, OpenTime) is unique across the store.
type Candle struct {
	// Symbol is the exchange trading pair (e.g., "BTCUSDT").
	Symbol string `json:"symbol"`

	// Timeframe is the bucket key: "15", "60", "D", ...
	Timeframe Timeframe `json:"timeframe"`

	// OpenTime is the bucket start in epoch milliseconds.
	OpenTime int64 `json:"open_time"`

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	// Turnover is the quote-currency volume, when the exchange reports it.
	Turnover *float64 `json:"turnover,omitempty"`
}

// Time returns OpenTime as a UTC time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Body is the absolute open/close distance.
func (c Candle) Body() float64 {
	return math.Abs(c.Close - c.Open)
}

// Range is the high/low distance.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Partition returns the series this candle belongs to.
func (c Candle) Partition() Partition {
	return Partition{Symbol: c.Symbol, Timeframe: c.Timeframe}
}

// Validate checks the row invariants. A failing row makes the whole page unusable.
func (c Candle) Validate() error {
	if c.Symbol == "" || c.Timeframe == "" {
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("missing required fields: symbol=%q timeframe=%q", c.Symbol, c.Timeframe)}
	}
	if c.OpenTime <= 0 {
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("invalid open_time %d", c.OpenTime)}
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &errs.DataIntegrityError{Reason: "corrupted numeric data detected"}
		}
	}
	if c.High < c.Low {
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("invalid candle at %d: high %v < low %v", c.OpenTime, c.High, c.Low)}
	}
	if c.Volume < 0 {
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("invalid volume: %v", c.Volume)}
	}
	return nil
}

// CandleSnapshot freezes the OHLCV of an anchor candle on a candidate.
type CandleSnapshot struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func SnapshotOf(c Candle) CandleSnapshot {
	return CandleSnapshot{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
}
