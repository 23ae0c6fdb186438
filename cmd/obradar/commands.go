package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/navid-fn/obradar/configs"
	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/events"
	"github.com/navid-fn/obradar/internal/ingest"
	"github.com/navid-fn/obradar/internal/models"
	"github.com/navid-fn/obradar/internal/scheduler"
	"github.com/navid-fn/obradar/internal/simulation"
	"github.com/navid-fn/obradar/internal/storage"
	"github.com/navid-fn/obradar/server"
)

type commands struct {
	cfg    *configs.AppConfig
	logger *logrus.Logger
}

func (c *commands) open(ctx *cli.Context) (*app, error) {
	return openApp(ctx.Context, c.cfg, c.logger)
}

func (c *commands) migrate(ctx *cli.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	c.logger.Info("Running database migrations...")
	if err := storage.Migrate(a.db, c.cfg.Store.Driver, c.logger); err != nil {
		return err
	}
	if c.cfg.CandleStore == configs.CandleStoreClickHouse {
		if err := storage.MigrateClickHouse(c.cfg.ClickHouseDSN, c.logger); err != nil {
			return err
		}
	}
	c.logger.Info("Migrations completed successfully")
	return nil
}

func (c *commands) syncSymbols(ctx *cli.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := ingest.NewSymbolSync(a.withExchange(), a.symbols, c.logger).Sync(ctx.Context, c.cfg.Bybit.Category)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "synced %d symbols\n", n)
	return nil
}

func (c *commands) collect(ctx *cli.Context) error {
	tf, err := models.ParseTimeframe(ctx.String("timeframe"))
	if err != nil {
		return err
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.collector().Collect(ctx.Context, ctx.String("symbol"), tf, c.cfg.Ingest.Lookback)
	if err != nil && !errs.IsStall(err) {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "%s: %d pages, %d fetched, %d inserted, %d updated, stalled=%t\n",
		res.Partition, res.Pages, res.Fetched, res.Inserted, res.Updated, res.Stalled)
	return nil
}

func (c *commands) confirm(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return errors.New("candidate ID is required")
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withLifecycle(ctx.Context, c.cfg.Kafka.Enabled, false); err != nil {
		return err
	}

	cand, err := a.service.SetConfirmation(ctx.Context, id, ctx.Bool("confirmed"))
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "%s %s %s anchor=%d confirmed=%t\n",
		cand.ID, cand.Symbol, cand.Timeframe, cand.AnchorTimestamp, cand.Confirmed)
	return nil
}

func (c *commands) cleanup(ctx *cli.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withLifecycle(ctx.Context, c.cfg.Kafka.Enabled, false); err != nil {
		return err
	}

	n, err := a.service.CleanupUnconfirmed(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "deleted %d unconfirmed candidates\n", n)
	return nil
}

func (c *commands) seed(ctx *cli.Context) error {
	tf, err := models.ParseTimeframe(ctx.String("timeframe"))
	if err != nil {
		return err
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var series []models.Candle
	if n := ctx.Int("walk"); n > 0 {
		series = simulation.RandomWalk(simulation.WalkConfig{
			Symbol:    ctx.String("symbol"),
			Timeframe: tf,
			Start:     alignedStart(tf, n),
			Count:     n,
			Price:     100,
			Seed:      ctx.Int64("seed"),
		})
	} else {
		cfg := simulation.DefaultScenario()
		cfg.Symbol, cfg.Timeframe = ctx.String("symbol"), tf
		cfg.Count, cfg.Anchor = 60, 30
		cfg.Start = alignedStart(tf, cfg.Count)
		series = simulation.ImbalanceScenario(cfg).Series
	}

	res, err := a.candles.UpsertCandles(ctx.Context, series)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "seeded %d candles (%d inserted, %d updated)\n", len(series), res.Inserted, res.Updated)
	return nil
}

// alignedStart puts n candles of tf right behind the current bucket.
func alignedStart(tf models.Timeframe, n int) int64 {
	bucket := tf.BucketMillis()
	now := time.Now().UnixMilli()
	return now - now%bucket - int64(n)*bucket
}

func (c *commands) newScheduler(a *app) *scheduler.Scheduler {
	var symbols scheduler.SymbolSource
	if len(c.cfg.Scheduler.Symbols) == 0 {
		symbols = a.symbols
	}
	return scheduler.New(a.collector(), a.candles, a.manager, symbols, c.logger, scheduler.Config{
		Interval:    c.cfg.Scheduler.Interval,
		Workers:     c.cfg.Scheduler.Workers,
		Lookback:    c.cfg.Ingest.Lookback,
		DetectLimit: c.cfg.Scheduler.DetectLimit,
		JobTimeout:  c.cfg.Scheduler.JobTimeout,
		Timeframes:  c.cfg.Scheduler.Timeframes,
		Symbols:     c.cfg.Scheduler.Symbols,
	})
}

func (c *commands) run(ctx *cli.Context) error {
	withAPI := !ctx.Bool("no-api") && !ctx.Bool("once")

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withLifecycle(ctx.Context, c.cfg.Kafka.Enabled, withAPI); err != nil {
		return err
	}
	sched := c.newScheduler(a)

	if ctx.Bool("once") {
		start := time.Now()
		report, err := sched.RunOnce(ctx.Context)
		if err != nil {
			return err
		}
		for _, p := range report.Partitions {
			status := "ok"
			if p.Err != nil {
				status = p.Err.Error()
			}
			fmt.Fprintf(ctx.App.Writer, "%-20s candles=%d candidates=%d purged=%d stalled=%t %s\n",
				p.Partition, p.Candles, p.Candidates, p.Purged, p.Stalled, status)
		}
		c.logger.WithField("took", since(start)).Info("Single tick finished")
		return nil
	}

	if !withAPI {
		return sched.Run(ctx.Context)
	}

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	health := a.healthMonitor()
	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(3)
	go func() {
		defer wg.Done()
		health.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		errCh <- sched.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		// A server that cannot listen takes the scheduler down with it.
		defer cancel()
		h := server.NewHandler(server.Deps{Service: a.service, Hub: a.hub, Health: health})
		errCh <- server.Run(runCtx, c.cfg.Server.Addr(), h, c.logger)
	}()
	wg.Wait()
	close(errCh)

	var all []error
	for err := range errCh {
		all = append(all, err)
	}
	return errors.Join(all...)
}

func (c *commands) serve(ctx *cli.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// The API process relays what the scheduler process publishes.
	if err := a.withLifecycle(ctx.Context, false, true); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	health := a.healthMonitor()
	var wg sync.WaitGroup
	if c.cfg.Kafka.Enabled {
		consumer, err := events.NewKafkaConsumer(c.cfg.Kafka.Broker, c.cfg.Kafka.GroupID, c.cfg.Kafka.Topic, c.logger)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = consumer.Run(runCtx, func(e events.Event) {
				_ = a.hub.Publish(runCtx, e)
			})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		health.Run(runCtx)
	}()

	h := server.NewHandler(server.Deps{Service: a.service, Hub: a.hub, Health: health})
	err = server.Run(runCtx, c.cfg.Server.Addr(), h, c.logger)
	cancel()
	wg.Wait()
	return err
}
