package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/navid-fn/obradar/internal/models"
)

// BlockCandidate is a detected order block row.
type BlockCandidate struct {
	ID              string `gorm:"column:id;primaryKey;size:36"`
	Symbol          string `gorm:"column:symbol;size:32"`
	Timeframe       string `gorm:"column:timeframe;size:8"`
	AnchorTimestamp int64  `gorm:"column:anchor_timestamp"`

	ImbalanceOpen   float64 `gorm:"column:imbalance_open"`
	ImbalanceHigh   float64 `gorm:"column:imbalance_high"`
	ImbalanceLow    float64 `gorm:"column:imbalance_low"`
	ImbalanceClose  float64 `gorm:"column:imbalance_close"`
	ImbalanceVolume float64 `gorm:"column:imbalance_volume"`

	Direction            string  `gorm:"column:direction;size:10"`
	ConfirmationStrength float64 `gorm:"column:confirmation_strength"`
	PriceTarget          float64 `gorm:"column:price_target"`

	// Confirmed is only ever flipped from false to true.
	Confirmed bool `gorm:"column:confirmed"`

	CreatedAt time.Time `gorm:"column:created_at"`
}

func (BlockCandidate) TableName() string {
	return "block_candidates"
}

// BeforeCreate assigns the row identity.
func (b *BlockCandidate) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

func CandidateFromDomain(c domain.BlockCandidate) BlockCandidate {
	return BlockCandidate{
		ID:                   c.ID,
		Symbol:               c.Symbol,
		Timeframe:            string(c.Timeframe),
		AnchorTimestamp:      c.AnchorTimestamp,
		ImbalanceOpen:        c.Imbalance.Open,
		ImbalanceHigh:        c.Imbalance.High,
		ImbalanceLow:         c.Imbalance.Low,
		ImbalanceClose:       c.Imbalance.Close,
		ImbalanceVolume:      c.Imbalance.Volume,
		Direction:            string(c.Direction),
		ConfirmationStrength: c.ConfirmationStrength,
		PriceTarget:          c.PriceTarget,
		Confirmed:            c.Confirmed,
		CreatedAt:            c.CreatedAt,
	}
}

func (b BlockCandidate) ToDomain() domain.BlockCandidate {
	return domain.BlockCandidate{
		ID:              b.ID,
		Symbol:          b.Symbol,
		Timeframe:       domain.Timeframe(b.Timeframe),
		AnchorTimestamp: b.AnchorTimestamp,
		Imbalance: domain.CandleSnapshot{
			Open:   b.ImbalanceOpen,
			High:   b.ImbalanceHigh,
			Low:    b.ImbalanceLow,
			Close:  b.ImbalanceClose,
			Volume: b.ImbalanceVolume,
		},
		Direction:            domain.Direction(b.Direction),
		ConfirmationStrength: b.ConfirmationStrength,
		PriceTarget:          b.PriceTarget,
		Confirmed:            b.Confirmed,
		CreatedAt:            b.CreatedAt,
	}
}
