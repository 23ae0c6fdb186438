package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/models"
	rows "github.com/navid-fn/obradar/internal/storage/models"
)

type gormCandidateStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormCandidateStore returns a CandidateStore backed by db.
func NewGormCandidateStore(db *gorm.DB) CandidateStore {
	return &gormCandidateStore{db: db, now: time.Now}
}

func (s *gormCandidateStore) ReplaceUnconfirmed(ctx context.Context, p models.Partition, batch []models.BlockCandidate) (ReplaceResult, error) {
	for _, c := range batch {
		if c.Partition() != p {
			return ReplaceResult{}, &errs.DataIntegrityError{Reason: "candidate " + c.Partition().String() + " outside partition " + p.String()}
		}
		if err := c.Validate(); err != nil {
			return ReplaceResult{}, err
		}
	}

	var res ReplaceResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("symbol = ? AND timeframe = ? AND confirmed = ?", p.Symbol, string(p.Timeframe), false).
			Delete(&rows.BlockCandidate{})
		if del.Error != nil {
			return del.Error
		}
		res.Purged = del.RowsAffected

		if len(batch) == 0 {
			return nil
		}

		now := s.now().UTC()
		inserts := make([]rows.BlockCandidate, 0, len(batch))
		for _, c := range batch {
			r := rows.CandidateFromDomain(c)
			r.ID = ""
			r.Confirmed = false
			r.CreatedAt = now
			inserts = append(inserts, r)
		}
		if err := tx.Create(&inserts).Error; err != nil {
			return err
		}

		res.Inserted = make([]models.BlockCandidate, 0, len(inserts))
		for _, r := range inserts {
			res.Inserted = append(res.Inserted, r.ToDomain())
		}
		return nil
	})
	if err != nil {
		return ReplaceResult{}, &errs.PersistenceError{Op: "replace unconfirmed " + p.String(), Err: err}
	}
	return res, nil
}

func (s *gormCandidateStore) Confirm(ctx context.Context, id string) (models.BlockCandidate, bool, error) {
	var (
		row     rows.BlockCandidate
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		read := tx
		if tx.Dialector.Name() != DriverSQLite {
			read = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := read.First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		if row.Confirmed {
			return nil
		}
		upd := tx.Model(&rows.BlockCandidate{}).
			Where("id = ? AND confirmed = ?", id, false).
			Update("confirmed", true)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected > 0 {
			row.Confirmed = true
			changed = true
			return nil
		}
		// A purge or another confirm got there first.
		row = rows.BlockCandidate{}
		return tx.First(&row, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.BlockCandidate{}, false, &errs.NotFoundError{Kind: "candidate", ID: id}
	}
	if err != nil {
		return models.BlockCandidate{}, false, &errs.PersistenceError{Op: "confirm candidate", Err: err}
	}
	return row.ToDomain(), changed, nil
}

func (s *gormCandidateStore) Get(ctx context.Context, id string) (models.BlockCandidate, error) {
	var row rows.BlockCandidate
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.BlockCandidate{}, &errs.NotFoundError{Kind: "candidate", ID: id}
	}
	if err != nil {
		return models.BlockCandidate{}, &errs.PersistenceError{Op: "get candidate", Err: err}
	}
	return row.ToDomain(), nil
}

func (s *gormCandidateStore) DeleteUnconfirmed(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("confirmed = ?", false).Delete(&rows.BlockCandidate{})
	if res.Error != nil {
		return 0, &errs.PersistenceError{Op: "delete unconfirmed", Err: res.Error}
	}
	return res.RowsAffected, nil
}

func (s *gormCandidateStore) ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]models.BlockCandidate, error) {
	query := s.db.WithContext(ctx).Model(&rows.BlockCandidate{})
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Timeframe != "" {
		query = query.Where("timeframe = ?", string(filter.Timeframe))
	}
	if filter.Confirmed != nil {
		query = query.Where("confirmed = ?", *filter.Confirmed)
	}

	var found []rows.BlockCandidate
	if err := query.Order("anchor_timestamp desc").Order("id").Find(&found).Error; err != nil {
		return nil, &errs.PersistenceError{Op: "list candidates", Err: err}
	}

	out := make([]models.BlockCandidate, 0, len(found))
	for _, r := range found {
		out = append(out, r.ToDomain())
	}
	return out, nil
}

func (s *gormCandidateStore) DistinctSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&rows.BlockCandidate{}).
		Distinct("symbol").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, &errs.PersistenceError{Op: "distinct symbols", Err: err}
	}
	return symbols, nil
}

func (s *gormCandidateStore) DistinctTimeframes(ctx context.Context) ([]models.Timeframe, error) {
	var raw []string
	err := s.db.WithContext(ctx).Model(&rows.BlockCandidate{}).
		Distinct("timeframe").
		Pluck("timeframe", &raw).Error
	if err != nil {
		return nil, &errs.PersistenceError{Op: "distinct timeframes", Err: err}
	}

	out := make([]models.Timeframe, 0, len(raw))
	for _, tf := range raw {
		out = append(out, models.Timeframe(tf))
	}
	SortTimeframes(out)
	return out, nil
}

// SortTimeframes orders by bucket length, shortest first. Unknown keys go last.
func SortTimeframes(tfs []models.Timeframe) {
	slices.SortFunc(tfs, func(a, b models.Timeframe) int {
		ab, bb := a.Bucket(), b.Bucket()
		switch {
		case ab == bb:
			if a < b {
				return -1
			}
			if a > b {
				return 1
			}
			return 0
		case ab == 0:
			return 1
		case bb == 0:
			return -1
		case ab < bb:
			return -1
		default:
			return 1
		}
	})
}
