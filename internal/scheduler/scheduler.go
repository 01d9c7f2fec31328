// Package scheduler drives periodic evaluation and retention.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wifiwatch/internal/alerts"
	"wifiwatch/internal/config"
	"wifiwatch/internal/metrics"
	"wifiwatch/internal/model"
)

type Evaluator interface {
	EvaluateNow(ctx context.Context) ([]model.Alert, error)
}

type MeasurementPruner interface {
	DeleteMeasurementsBefore(ctx context.Context, before time.Time) (int64, error)
}

type Scheduler struct {
	cfg    *config.Manager
	engine Evaluator
	ledger alerts.Ledger
	store  MeasurementPruner
	logger *slog.Logger
	now    func() time.Time
}

type PruneResult struct {
	Alerts       int   `json:"alerts"`
	Measurements int64 `json:"measurements"`
}

// New builds a scheduler. store may be nil to leave measurements alone.
func New(cfg *config.Manager, engine Evaluator, ledger alerts.Ledger, store MeasurementPruner, logger *slog.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, engine: engine, ledger: ledger, store: store, logger: logger, now: time.Now}
}

// Run evaluates once immediately and then every interval until ctx ends.
// The interval and retention settings are re-read after each tick so a
// config reload takes effect without a restart.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.cfg.Get().Scheduler
	if !cfg.Enabled {
		if s.logger != nil {
			s.logger.Info("scheduler disabled")
		}
		<-ctx.Done()
		return nil
	}
	if s.logger != nil {
		s.logger.Info("scheduler started", "interval", cfg.Interval.String(), "prune_interval", cfg.PruneInterval.String())
	}

	_, _ = s.RunOnce(ctx)
	lastPrune := s.now()
	_, _ = s.Prune(ctx)

	timer := time.NewTimer(interval(cfg))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			_, _ = s.RunOnce(ctx)
			cfg = s.cfg.Get().Scheduler
			if cfg.PruneInterval > 0 && s.now().Sub(lastPrune) >= cfg.PruneInterval {
				_, _ = s.Prune(ctx)
				lastPrune = s.now()
			}
			timer.Reset(interval(cfg))
		}
	}
}

func interval(cfg config.SchedulerConfig) time.Duration {
	if cfg.Interval <= 0 {
		return 5 * time.Minute
	}
	return cfg.Interval
}

// RunOnce performs one pass bounded by the configured pass timeout.
func (s *Scheduler) RunOnce(ctx context.Context) ([]model.Alert, error) {
	timeout := s.cfg.Get().Scheduler.PassTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	got, err := s.engine.EvaluateNow(ctx)
	if err != nil && s.logger != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelInfo
		}
		s.logger.Log(ctx, level, "scheduled pass incomplete", "alerts", len(got), "err", err)
	}
	return got, err
}

// Prune applies alert and measurement retention. Zero retention disables
// the corresponding cleanup.
func (s *Scheduler) Prune(ctx context.Context) (PruneResult, error) {
	cfg := s.cfg.Get().Scheduler
	var res PruneResult
	var errs []error
	if cfg.AlertRetention > 0 {
		n, err := s.ledger.Prune(ctx, cfg.AlertRetention)
		if err != nil {
			errs = append(errs, err)
		}
		res.Alerts = n
		metrics.PrunedTotal.WithLabelValues("alerts").Add(float64(n))
	}
	if cfg.MeasurementRetention > 0 && s.store != nil {
		n, err := s.store.DeleteMeasurementsBefore(ctx, s.now().UTC().Add(-cfg.MeasurementRetention))
		if err != nil {
			errs = append(errs, err)
		}
		res.Measurements = n
		metrics.PrunedTotal.WithLabelValues("measurements").Add(float64(n))
	}
	err := errors.Join(errs...)
	if s.logger != nil {
		if err != nil {
			s.logger.Error("retention failed", "err", err)
		} else if res.Alerts > 0 || res.Measurements > 0 {
			s.logger.Info("retention applied", "alerts_removed", res.Alerts, "measurements_removed", res.Measurements)
		}
	}
	return res, err
}
