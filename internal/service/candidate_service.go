// Package service is the query facade used by the HTTP handlers and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/cache"
	"github.com/navid-fn/obradar/internal/lifecycle"
	"github.com/navid-fn/obradar/internal/models"
	"github.com/navid-fn/obradar/internal/storage"
)

// ErrInvalidArgument marks caller mistakes such as an unknown timeframe.
var ErrInvalidArgument = errors.New("invalid argument")

type CandidateService struct {
	store     storage.CandidateStore
	lifecycle *lifecycle.Manager
	cache     cache.ListingCache
	logger    *logrus.Logger
}

func NewCandidateService(store storage.CandidateStore, lc *lifecycle.Manager, listings cache.ListingCache, logger *logrus.Logger) *CandidateService {
	if listings == nil {
		listings = cache.Nop{}
	}
	return &CandidateService{
		store:     store,
		lifecycle: lc,
		cache:     listings,
		logger:    logger,
	}
}

// ListConfirmed returns confirmed candidates, newest anchor first. Empty
// symbol or timeframe match everything.
func (s *CandidateService) ListConfirmed(ctx context.Context, symbol string, tf models.Timeframe) ([]models.BlockCandidate, error) {
	confirmed := true
	return s.ListCandidates(ctx, models.CandidateFilter{Symbol: symbol, Timeframe: tf, Confirmed: &confirmed})
}

// ListCandidates returns candidates matching filter, newest anchor first.
func (s *CandidateService) ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]models.BlockCandidate, error) {
	if filter.Timeframe != "" && !filter.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidArgument, filter.Timeframe)
	}
	return s.store.ListCandidates(ctx, filter)
}

// ListUniqueSymbols returns the symbols of stored candidates in ascending order.
func (s *CandidateService) ListUniqueSymbols(ctx context.Context) ([]string, error) {
	if cached, ok, err := s.cache.Symbols(ctx); err != nil {
		s.logger.Warnf("Symbol cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	symbols, err := s.store.DistinctSymbols(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetSymbols(ctx, symbols); err != nil {
		s.logger.Warnf("Symbol cache write failed: %v", err)
	}
	return symbols, nil
}

// ListUniqueTimeframes returns the timeframes of stored candidates, shortest
// bucket first.
func (s *CandidateService) ListUniqueTimeframes(ctx context.Context) ([]models.Timeframe, error) {
	if cached, ok, err := s.cache.Timeframes(ctx); err != nil {
		s.logger.Warnf("Timeframe cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	tfs, err := s.store.DistinctTimeframes(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetTimeframes(ctx, tfs); err != nil {
		s.logger.Warnf("Timeframe cache write failed: %v", err)
	}
	return tfs, nil
}

// SetConfirmation sets the confirmed flag of a candidate. See
// lifecycle.Manager.SetConfirmation for the allowed transitions.
func (s *CandidateService) SetConfirmation(ctx context.Context, id string, confirmed bool) (models.BlockCandidate, error) {
	if id == "" {
		return models.BlockCandidate{}, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	c, err := s.lifecycle.SetConfirmation(ctx, id, confirmed)
	if err != nil {
		return c, err
	}
	s.invalidate(ctx)
	return c, nil
}

// CleanupUnconfirmed deletes every unconfirmed candidate and returns how many.
func (s *CandidateService) CleanupUnconfirmed(ctx context.Context) (int64, error) {
	n, err := s.lifecycle.CleanupUnconfirmed(ctx)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return n, nil
}

func (s *CandidateService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warnf("Cache invalidation failed: %v", err)
	}
}
