// Package scheduler drives the per-partition pipeline on a fixed tick:
// ingest, read back, detect, generate, replace.
//
// Partitions run in a bounded worker pool and share nothing but the stores
// and the exchange rate limiter. A failing partition is logged and reported;
// it never stops its siblings or the tick.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/detector"
	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/ingest"
	"github.com/navid-fn/obradar/internal/logging"
	"github.com/navid-fn/obradar/internal/models"
	"github.com/navid-fn/obradar/internal/storage"
)

// Collector brings one partition up to date.
type Collector interface {
	Collect(ctx context.Context, symbol string, tf models.Timeframe, lookback time.Duration) (ingest.Result, error)
}

// Replacer stores a detection run's candidates for one partition.
type Replacer interface {
	Replace(ctx context.Context, p models.Partition, batch []models.BlockCandidate) (storage.ReplaceResult, error)
}

// SymbolSource lists the symbols to process when none are configured.
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// Config holds scheduler settings.
type Config struct {
	// Interval between two ticks.
	Interval time.Duration

	// Workers bounds the partitions processed at once.
	Workers int

	// Lookback bounds how far back an empty partition is backfilled.
	Lookback time.Duration

	// DetectLimit is how many of the newest candles detection reads.
	DetectLimit int

	// JobTimeout bounds one partition job. Jobs are not cut short by
	// shutdown, only by this timeout.
	JobTimeout time.Duration

	Timeframes []models.Timeframe

	// Symbols overrides the active symbols from the symbol store.
	Symbols []string
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Workers:     4,
		Lookback:    30 * 24 * time.Hour,
		DetectLimit: 1000,
		JobTimeout:  5 * time.Minute,
		Timeframes:  models.DefaultDetectionTimeframes,
	}
}

// PartitionReport is the outcome of one partition job.
type PartitionReport struct {
	Partition  models.Partition
	Ingest     ingest.Result
	Candles    int
	Candidates int
	Purged     int64
	Stalled    bool
	Err        error
	Duration   time.Duration
}

// TickReport is the outcome of one tick.
type TickReport struct {
	Started    time.Time
	Partitions []PartitionReport
}

// Failed counts partitions that were abandoned.
func (r TickReport) Failed() int {
	n := 0
	for _, p := range r.Partitions {
		if p.Err != nil {
			n++
		}
	}
	return n
}

type Scheduler struct {
	collector Collector
	candles   storage.CandleStore
	replacer  Replacer
	symbols   SymbolSource
	detector  detector.Detector
	generator detector.Generator
	logger    *logrus.Logger
	cfg       Config
}

// New creates a scheduler. Zero config fields take their defaults.
func New(collector Collector, candles storage.CandleStore, replacer Replacer, symbols SymbolSource, logger *logrus.Logger, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.DetectLimit <= 0 {
		cfg.DetectLimit = def.DetectLimit
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = def.Timeframes
	}

	return &Scheduler{
		collector: collector,
		candles:   candles,
		replacer:  replacer,
		symbols:   symbols,
		detector:  detector.NewDetector(),
		generator: detector.NewGenerator(),
		logger:    logger,
		cfg:       cfg,
	}
}

// Run ticks until ctx is done. The first tick starts immediately.
// In-flight partition jobs are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"interval": s.cfg.Interval,
		"workers":  s.cfg.Workers,
	}).Info("Scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Errorf("Tick failed: %v", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes every partition once and waits for all of them.
// The error is only about enumerating partitions; job failures are in the report.
func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	report := TickReport{Started: time.Now()}

	partitions, err := s.partitions(ctx)
	if err != nil {
		return report, err
	}
	if len(partitions) == 0 {
		s.logger.Warn("No partitions to process")
		return report, nil
	}

	report.Partitions = make([]PartitionReport, len(partitions))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < min(s.cfg.Workers, len(partitions)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report.Partitions[i] = s.RunPartition(ctx, partitions[i])
			}
		}()
	}

dispatch:
	for i := range partitions {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	// Partitions never dispatched because of shutdown.
	for i := range report.Partitions {
		if report.Partitions[i].Partition == (models.Partition{}) {
			report.Partitions[i] = PartitionReport{Partition: partitions[i], Err: ctx.Err()}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"partitions": len(partitions),
		"failed":     report.Failed(),
		"took":       time.Since(report.Started).Round(time.Millisecond),
	}).Info("Tick finished")
	return report, nil
}

// RunPartition runs ingest, detection and replacement for p, strictly in order.
// The job context is detached from ctx cancellation and bounded by JobTimeout.
func (s *Scheduler) RunPartition(ctx context.Context, p models.Partition) PartitionReport {
	start := time.Now()
	rep := PartitionReport{Partition: p}
	log := s.logger.WithFields(logging.PartitionFields(p))

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.JobTimeout)
	defer cancel()

	defer func() {
		rep.Duration = time.Since(start)
		if rep.Err != nil {
			log.WithField("took", rep.Duration).Errorf("Partition abandoned for this tick: %v", rep.Err)
		}
	}()

	res, err := s.collector.Collect(jobCtx, p.Symbol, p.Timeframe, s.cfg.Lookback)
	rep.Ingest = res
	switch {
	case errs.IsStall(err):
		// Whatever was stored still gets a detection pass.
		rep.Stalled = true
	case err != nil:
		rep.Err = err
		return rep
	}

	series, err := s.candles.RecentCandles(jobCtx, p.Symbol, p.Timeframe, s.cfg.DetectLimit)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Candles = len(series)

	flags := s.detector.Detect(series)
	batch := s.generator.Generate(series, flags, p.Timeframe)

	replaced, err := s.replacer.Replace(jobCtx, p, batch)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Candidates = len(replaced.Inserted)
	rep.Purged = replaced.Purged

	log.WithFields(logrus.Fields{
		"candles":    rep.Candles,
		"imbalances": flags.Len(),
		"candidates": rep.Candidates,
		"stalled":    rep.Stalled,
	}).Debug("Partition processed")
	return rep
}

func (s *Scheduler) partitions(ctx context.Context) ([]models.Partition, error) {
	symbols := s.cfg.Symbols
	if len(symbols) == 0 {
		if s.symbols == nil {
			return nil, errors.New("no symbols configured and no symbol source")
		}
		var err error
		symbols, err = s.symbols.ActiveSymbols(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]models.Partition, 0, len(symbols)*len(s.cfg.Timeframes))
	for _, sym := range symbols {
		for _, tf := range s.cfg.Timeframes {
			out = append(out, models.Partition{Symbol: sym, Timeframe: tf})
		}
	}
	return out, nil
}
