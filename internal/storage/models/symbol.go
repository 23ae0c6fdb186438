package models

import (
	"time"

	domain "github.com/navid-fn/obradar/internal/models"
)

type Symbol struct {
	Symbol    string    `gorm:"column:symbol;primaryKey;size:32"`
	BaseCoin  string    `gorm:"column:base_coin;size:16"`
	QuoteCoin string    `gorm:"column:quote_coin;size:16"`
	Status    string    `gorm:"column:status;size:16"`
	IsActive  bool      `gorm:"column:is_active"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Symbol) TableName() string {
	return "symbols"
}

func SymbolFromDomain(s domain.Symbol) Symbol {
	return Symbol{
		Symbol:    s.Symbol,
		BaseCoin:  s.BaseCoin,
		QuoteCoin: s.QuoteCoin,
		Status:    s.Status,
		IsActive:  s.IsActive,
	}
}

func (s Symbol) ToDomain() domain.Symbol {
	return domain.Symbol{
		Symbol:    s.Symbol,
		BaseCoin:  s.BaseCoin,
		QuoteCoin: s.QuoteCoin,
		Status:    s.Status,
		IsActive:  s.IsActive,
	}
}
