// Package models holds the table rows of the relational store.
package models

import (
	"time"

	domain "github.com/navid-fn/obradar/internal/models"
)

// Candle represents a single candlestick row.
// The primary key is (symbol, timeframe, open_time).
type Candle struct {
	// Symbol is the exchange trading pair (e.g., "BTCUSDT").
	Symbol string `gorm:"column:symbol;primaryKey;size:32"`

	// Timeframe is the interval key: "15", "60", "D", ...
	Timeframe string `gorm:"column:timeframe;primaryKey;size:8"`

	// OpenTime is the bucket start in epoch milliseconds.
	OpenTime int64 `gorm:"column:open_time;primaryKey;autoIncrement:false"`

	Open     float64  `gorm:"column:open"`
	High     float64  `gorm:"column:high"`
	Low      float64  `gorm:"column:low"`
	Close    float64  `gorm:"column:close"`
	Volume   float64  `gorm:"column:volume"`
	Turnover *float64 `gorm:"column:turnover"`

	// CreatedAt is when the row was first inserted.
	CreatedAt time.Time `gorm:"column:created_at"`

	// UpdatedAt is refreshed on every upsert.
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Candle) TableName() string {
	return "candles"
}

func CandleFromDomain(c domain.Candle) Candle {
	return Candle{
		Symbol:    c.Symbol,
		Timeframe: string(c.Timeframe),
		OpenTime:  c.OpenTime,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		Turnover:  c.Turnover,
	}
}

func (c Candle) ToDomain() domain.Candle {
	return domain.Candle{
		Symbol:    c.Symbol,
		Timeframe: domain.Timeframe(c.Timeframe),
		OpenTime:  c.OpenTime,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		Turnover:  c.Turnover,
	}
}
