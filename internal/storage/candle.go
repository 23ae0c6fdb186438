package storage

import (
	"context"
	"database/sql"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/models"
	rows "github.com/navid-fn/obradar/internal/storage/models"
)

// keyChunk bounds the IN list size of existence lookups.
const keyChunk = 500

type gormCandleStore struct {
	db *gorm.DB
}

// NewGormCandleStore returns a CandleStore on top of a relational database.
func NewGormCandleStore(db *gorm.DB) CandleStore {
	return &gormCandleStore{db: db}
}

func (s *gormCandleStore) UpsertCandles(ctx context.Context, candles []models.Candle) (UpsertResult, error) {
	var res UpsertResult
	candles = dedupeCandles(candles)
	if len(candles) == 0 {
		return res, nil
	}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return res, err
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := 0
		for p, times := range groupOpenTimes(candles) {
			n, err := countExisting(tx, p, times)
			if err != nil {
				return err
			}
			existing += n
		}

		batch := make([]rows.Candle, 0, len(candles))
		for _, c := range candles {
			batch = append(batch, rows.CandleFromDomain(c))
		}

		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "open_time"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "volume", "turnover", "updated_at",
			}),
		}).CreateInBatches(&batch, keyChunk).Error
		if err != nil {
			return err
		}

		res.Updated = existing
		res.Inserted = len(candles) - existing
		return nil
	})
	if err != nil {
		return UpsertResult{}, &errs.PersistenceError{Op: "upsert candles", Err: err}
	}
	return res, nil
}

func countExisting(tx *gorm.DB, p models.Partition, times []int64) (int, error) {
	total := 0
	for start := 0; start < len(times); start += keyChunk {
		end := min(start+keyChunk, len(times))
		var n int64
		err := tx.Model(&rows.Candle{}).
			Where("symbol = ? AND timeframe = ? AND open_time IN ?", p.Symbol, string(p.Timeframe), times[start:end]).
			Count(&n).Error
		if err != nil {
			return 0, err
		}
		total += int(n)
	}
	return total, nil
}

func (s *gormCandleStore) LastOpenTime(ctx context.Context, symbol string, tf models.Timeframe) (int64, bool, error) {
	var last sql.NullInt64
	err := s.db.WithContext(ctx).Model(&rows.Candle{}).
		Select("MAX(open_time)").
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Row().Scan(&last)
	if err != nil {
		return 0, false, &errs.PersistenceError{Op: "last open time", Err: err}
	}
	return last.Int64, last.Valid, nil
}

func (s *gormCandleStore) RecentCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	var found []rows.Candle
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Order("open_time desc").
		Limit(limit).
		Find(&found).Error
	if err != nil {
		return nil, &errs.PersistenceError{Op: "recent candles", Err: err}
	}

	out := make([]models.Candle, len(found))
	for i, r := range found {
		out[len(found)-1-i] = r.ToDomain()
	}
	return out, nil
}

func (s *gormCandleStore) CountCandles(ctx context.Context, symbol string, tf models.Timeframe) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&rows.Candle{}).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Count(&n).Error
	if err != nil {
		return 0, &errs.PersistenceError{Op: "count candles", Err: err}
	}
	return n, nil
}

// dedupeCandles drops repeated keys, keeping the first occurrence.
func dedupeCandles(candles []models.Candle) []models.Candle {
	type key struct {
		p models.Partition
		t int64
	}
	seen := make(map[key]struct{}, len(candles))
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		k := key{c.Partition(), c.OpenTime}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

func groupOpenTimes(candles []models.Candle) map[models.Partition][]int64 {
	out := make(map[models.Partition][]int64)
	for _, c := range candles {
		out[c.Partition()] = append(out[c.Partition()], c.OpenTime)
	}
	for p := range out {
		slices.Sort(out[p])
	}
	return out
}
