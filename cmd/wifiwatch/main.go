package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"wifiwatch/internal/api"
	"wifiwatch/internal/config"
	"wifiwatch/internal/ingest"
	"wifiwatch/internal/logging"
	"wifiwatch/internal/model"
	"wifiwatch/internal/scheduler"
)

var version = "dev"

const usage = `usage: wifiwatch [-config path] <command> [flags]

commands:
  serve                              run ingest, scheduler and API (default)
  check                              evaluate poor-signal and disappearance rules once
  degradation -location L -network N evaluate degradation for one network
  prune [-days 7] [-measurement-days 0]
                                     drop old alerts (and measurements)
  stats                              print store statistics
`

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config (default: environment only)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	// .env is for local runs; a missing file is not an error.
	_ = godotenv.Load()

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	cmd := flag.Arg(0)
	logger := logging.NewLogger(mgr.Get().LogLevel)
	if cmd != "" && cmd != "serve" {
		// stdout carries the command's JSON result
		logger = logging.NewLoggerTo(os.Stderr, mgr.Get().LogLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := []string{}
	if flag.NArg() > 1 {
		args = flag.Args()[1:]
	}
	switch cmd {
	case "", "serve":
		err = runServe(ctx, mgr, logger)
	case "check":
		err = runCheck(ctx, mgr, logger)
	case "degradation":
		err = runDegradation(ctx, mgr, logger, args)
	case "prune":
		err = runPrune(ctx, mgr, logger, args)
	case "stats":
		err = runStats(ctx, mgr, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", cmd, "err", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, mgr *config.Manager, logger *slog.Logger) error {
	cfg := mgr.Get()
	a, err := newApp(ctx, mgr, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("wifiwatch starting", "version", version, "storage", cfg.Storage.Driver, "config", mgr.Path())

	measurements := make(chan model.Measurement, cfg.Ingest.ChannelBuffer)
	ingestLogger := logging.WithComponent(logger, "ingest")
	ingest.StartREST(ctx, mgr, measurements, ingestLogger)
	ingest.StartFileTail(ctx, mgr, measurements, ingestLogger)
	ingest.StartKafka(ctx, mgr, ingest.NewParser(), measurements, ingestLogger)

	deps := api.Deps{
		Config:   mgr,
		Engine:   a.engine,
		Ledger:   a.ledger,
		Snapshot: a.snapshot,
		Averager: a.agg,
		Store:    a.store,
		Analyzer: a.analyzer,
		Logger:   logging.WithComponent(logger, "api"),
		Version:  version,
	}
	if a.hub != nil {
		deps.Live = a.hub.ServeWS
		deps.Clients = a.hub
	}
	if a.kafka != nil {
		deps.Breaker = a.kafka
	}
	api.Start(ctx, deps)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ingest.NewWriter(a.store, mgr, ingestLogger).Run(gCtx, measurements)
		return nil
	})
	g.Go(func() error {
		return scheduler.New(mgr, a.engine, a.ledger, a.store, logging.WithComponent(logger, "scheduler")).Run(gCtx)
	})
	g.Go(func() error {
		mgr.Watch(3*time.Second, func(next *config.Config) {
			a.engine.UpdateConfig(next)
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, gCtx.Done())
		return nil
	})
	err = g.Wait()
	logger.Info("wifiwatch stopped")
	return err
}

func runCheck(ctx context.Context, mgr *config.Manager, logger *slog.Logger) error {
	a, err := newApp(ctx, mgr, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()
	got, evalErr := a.engine.EvaluateNow(ctx)
	if err := printJSON(map[string]any{"alerts": got, "count": len(got)}); err != nil {
		return err
	}
	return evalErr
}

func runDegradation(ctx context.Context, mgr *config.Manager, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("degradation", flag.ContinueOnError)
	location := fs.String("location", "", "location to evaluate")
	network := fs.String("network", "", "network id (SSID) to evaluate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *location == "" || *network == "" {
		return errors.New("degradation requires -location and -network")
	}
	a, err := newApp(ctx, mgr, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()
	alert, err := a.engine.EvaluateDegradation(ctx, *location, *network)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"location": *location, "network_id": *network, "alert": alert})
}

func runPrune(ctx context.Context, mgr *config.Manager, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	alertDays := fs.Int("days", 7, "remove alerts older than this many days")
	measurementDays := fs.Int("measurement-days", 0, "remove measurements older than this many days (0 keeps them)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *alertDays < 0 || *measurementDays < 0 {
		return errors.New("retention must not be negative")
	}
	a, err := newApp(ctx, mgr, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()
	removed, err := a.ledger.Prune(ctx, time.Duration(*alertDays)*24*time.Hour)
	if err != nil {
		return err
	}
	out := map[string]any{"alerts_removed": removed}
	if *measurementDays > 0 {
		n, err := a.store.DeleteMeasurementsBefore(ctx, time.Now().UTC().Add(-time.Duration(*measurementDays)*24*time.Hour))
		if err != nil {
			return err
		}
		out["measurements_removed"] = n
	}
	return printJSON(out)
}

func runStats(ctx context.Context, mgr *config.Manager, logger *slog.Logger) error {
	a, err := newApp(ctx, mgr, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
