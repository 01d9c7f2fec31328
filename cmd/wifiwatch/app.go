package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"wifiwatch/internal/aggregate"
	"wifiwatch/internal/alerts"
	"wifiwatch/internal/analysis"
	"wifiwatch/internal/config"
	"wifiwatch/internal/engine"
	"wifiwatch/internal/logging"
	"wifiwatch/internal/metrics"
	"wifiwatch/internal/notify"
	"wifiwatch/internal/storage"
)

// app holds the wired core. Every command builds one; only serve starts the
// transports around it.
type app struct {
	cfg      *config.Manager
	logger   *slog.Logger
	store    storage.Store
	agg      *aggregate.Aggregator
	ledger   alerts.Ledger
	snapshot *metrics.Store
	analyzer *analysis.Analyzer
	engine   *engine.Engine
	hub      *notify.Hub
	kafka    *notify.Kafka
	closers  []io.Closer
}

func newApp(ctx context.Context, mgr *config.Manager, logger *slog.Logger, withNotify bool) (*app, error) {
	cfg := mgr.Get()
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a := &app{
		cfg:      mgr,
		logger:   logger,
		store:    store,
		agg:      aggregate.New(store),
		analyzer: analysis.New(store),
		snapshot: metrics.NewStore(cfg.Metrics.StoreLimit),
		closers:  []io.Closer{store},
	}
	a.ledger = alerts.NewPersistent(store)

	opts := []engine.Option{engine.WithSnapshot(a.snapshot)}
	if withNotify {
		var sinks []notify.Notifier
		if cfg.Notify.Kafka.Enabled {
			a.kafka = notify.NewKafka(cfg.Notify.Kafka, cfg.Notify.Breaker)
			sinks = append(sinks, a.kafka)
			a.closers = append(a.closers, a.kafka)
		}
		if cfg.Notify.Websocket.Enabled {
			a.hub = notify.NewHub(logging.WithComponent(logger, "websocket"))
			sinks = append(sinks, a.hub)
		}
		multi := notify.NewMulti(logging.WithComponent(logger, "notify"), sinks...)
		if multi.Len() > 0 {
			opts = append(opts, engine.WithNotifier(multi))
		}
	}
	suppressor := engine.NewSuppressor(cfg.Cooldown, nil)
	if c, ok := suppressor.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	opts = append(opts, engine.WithSuppressor(suppressor))

	a.engine = engine.NewEngine(cfg, logging.WithComponent(logger, "engine"), a.agg, a.ledger, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}
