package models

import (
	"fmt"
	"math"
	"time"

	"github.com/navid-fn/obradar/internal/errs"
)

// Direction is the side of an order block.
type Direction string

const (
	Bullish Direction = "Bullish"
	Bearish Direction = "Bearish"
)

func (d Direction) Valid() bool {
	return d == Bullish || d == Bearish
}

// BlockCandidate is a detected order block anchored at an imbalance candle.
type BlockCandidate struct {
	// ID is assigned by the store on insert.
	ID string `json:"id"`

	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`

	// AnchorTimestamp is the OpenTime of the flagged candle.
	AnchorTimestamp int64 `json:"anchor_timestamp"`

	// Imbalance is the anchor candle as seen at detection time.
	Imbalance CandleSnapshot `json:"imbalance"`

	// Direction never changes after creation.
	Direction Direction `json:"direction"`

	// ConfirmationStrength is the forward continuation in percent, within [0,100].
	// It is detection-time metadata and says nothing about Confirmed.
	ConfirmationStrength float64 `json:"confirmation_strength"`

	PriceTarget float64 `json:"price_target"`

	// Confirmed is the operator's acceptance flag. It only moves false to true.
	Confirmed bool `json:"confirmed"`

	CreatedAt time.Time `json:"created_at"`
}

func (b BlockCandidate) Partition() Partition {
	return Partition{Symbol: b.Symbol, Timeframe: b.Timeframe}
}

// Validate checks construction invariants.
func (b BlockCandidate) Validate() error {
	if b.Symbol == "" || !b.Timeframe.Valid() {
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("candidate has invalid partition %q/%q", b.Symbol, b.Timeframe)}
	}
	if !b.Direction.Valid() {
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("unknown direction %q", b.Direction)}
	}
	if math.IsNaN(b.ConfirmationStrength) || b.ConfirmationStrength < 0 || b.ConfirmationStrength > 100 {
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("confirmation strength %v out of [0,100]", b.ConfirmationStrength)}
	}
	return nil
}

// CandidateFilter narrows candidate listings. Empty fields match everything.
type CandidateFilter struct {
	Symbol    string
	Timeframe Timeframe
	Confirmed *bool
}
