package ingest

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/exchange"
	"github.com/navid-fn/obradar/internal/storage"
)

// SymbolSync refreshes the symbols table from the exchange listing.
type SymbolSync struct {
	source exchange.Source
	store  storage.SymbolStore
	logger *logrus.Logger
}

func NewSymbolSync(source exchange.Source, store storage.SymbolStore, logger *logrus.Logger) *SymbolSync {
	return &SymbolSync{source: source, store: store, logger: logger}
}

// Sync upserts every listed instrument and returns how many were written.
func (s *SymbolSync) Sync(ctx context.Context, category string) (int, error) {
	symbols, err := s.source.FetchInstruments(ctx, category)
	if err != nil {
		return 0, err
	}
	n, err := s.store.UpsertSymbols(ctx, symbols)
	if err != nil {
		return 0, err
	}
	s.logger.WithField("category", category).Infof("Synced %d symbols", n)
	return n, nil
}
