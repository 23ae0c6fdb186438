package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/navid-fn/obradar/configs"
	"github.com/navid-fn/obradar/internal/logging"
)

func main() {
	appConfig := configs.AppLoad()
	logger := logging.New(appConfig.LogLevel)

	if err := appConfig.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	// Run with Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newCLI(&commands{cfg: appConfig, logger: logger})
	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Errorf("obradar: %v", err)
		os.Exit(1)
	}
}

func newCLI(cmds *commands) *cli.App {
	return &cli.App{
		Name:  "obradar",
		Usage: "detect order block candidates on Bybit candles",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the detection scheduler, with the HTTP API unless --no-api",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "no-api", Usage: "scheduler only"}, &cli.BoolFlag{Name: "once", Usage: "run a single tick and exit"}},
				Action: cmds.run,
			},
			{
				Name:   "serve",
				Usage:  "serve the HTTP API only, relaying Kafka events to websocket clients",
				Action: cmds.serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: cmds.migrate,
			},
			{
				Name:   "sync-symbols",
				Usage:  "refresh the symbol table from the exchange listing",
				Action: cmds.syncSymbols,
			},
			{
				Name:  "collect",
				Usage: "bring one partition up to date",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Required: true},
					&cli.StringFlag{Name: "timeframe", Value: "15"},
				},
				Action: cmds.collect,
			},
			{
				Name:      "confirm",
				Usage:     "mark a candidate as confirmed",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "confirmed", Value: true}},
				Action:    cmds.confirm,
			},
			{
				Name:   "cleanup",
				Usage:  "delete every unconfirmed candidate",
				Action: cmds.cleanup,
			},
			{
				Name:  "seed",
				Usage: "store a synthetic series for local runs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Value: "BTCUSDT"},
					&cli.StringFlag{Name: "timeframe", Value: "15"},
					&cli.IntFlag{Name: "walk", Usage: "store a random walk of this many candles instead of the imbalance scenario"},
					&cli.Int64Flag{Name: "seed", Value: 1},
				},
				Action: cmds.seed,
			},
		},
	}
}
