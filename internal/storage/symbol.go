package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/models"
	rows "github.com/navid-fn/obradar/internal/storage/models"
)

type gormSymbolStore struct {
	db *gorm.DB
}

func NewGormSymbolStore(db *gorm.DB) SymbolStore {
	return &gormSymbolStore{db: db}
}

func (s *gormSymbolStore) UpsertSymbols(ctx context.Context, symbols []models.Symbol) (int, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	batch := make([]rows.Symbol, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		if _, ok := seen[sym.Symbol]; ok || sym.Symbol == "" {
			continue
		}
		seen[sym.Symbol] = struct{}{}
		batch = append(batch, rows.SymbolFromDomain(sym))
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"base_coin", "quote_coin", "status", "is_active", "updated_at"}),
	}).CreateInBatches(&batch, keyChunk).Error
	if err != nil {
		return 0, &errs.PersistenceError{Op: "upsert symbols", Err: err}
	}
	return len(batch), nil
}

func (s *gormSymbolStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&rows.Symbol{}).
		Where("is_active = ?", true).
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, &errs.PersistenceError{Op: "active symbols", Err: err}
	}
	return symbols, nil
}
