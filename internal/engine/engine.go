package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"wifiwatch/internal/aggregate"
	"wifiwatch/internal/alerts"
	"wifiwatch/internal/config"
	"wifiwatch/internal/metrics"
	"wifiwatch/internal/model"
	"wifiwatch/internal/notify"
)

// Engine runs the rules against the sample store and appends what they find
// to the ledger. It keeps no detection state of its own; the optional
// cooldown is the only memory between passes.
type Engine struct {
	logger     *slog.Logger
	agg        *aggregate.Aggregator
	ledger     alerts.Ledger
	notifier   notify.Notifier
	snapshot   *metrics.Store
	suppressor Suppressor
	cfg        atomic.Value
	mu         sync.Mutex
	now        func() time.Time
	newID      func() string
}

type Option func(*Engine)

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithSnapshot records every poor-signal sweep's averages in s.
func WithSnapshot(s *metrics.Store) Option {
	return func(e *Engine) { e.snapshot = s }
}

func WithSuppressor(s Suppressor) Option {
	return func(e *Engine) { e.suppressor = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(cfg *config.Config, logger *slog.Logger, agg *aggregate.Aggregator, ledger alerts.Ledger, opts ...Option) *Engine {
	e := &Engine{
		logger: logger,
		agg:    agg,
		ledger: ledger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.suppressor == nil {
		e.suppressor = NewCooldown(e.now)
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		if cfg, ok := v.(*config.Config); ok && cfg != nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

// EvaluateNow runs the poor-signal and disappearance sweeps. A failing rule
// does not stop the other one: the alerts that were appended come back with
// the joined error. Cancellation is honoured between rules.
func (e *Engine) EvaluateNow(ctx context.Context) ([]model.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	cfg := e.config()
	now := e.now().UTC()

	out := make([]model.Alert, 0)
	var errs []error

	if err := ctx.Err(); err != nil {
		e.observe("now", start, err)
		return out, err
	}
	got, err := e.poorSignal(ctx, cfg, now)
	out = append(out, got...)
	if err != nil {
		metrics.RuleErrors.WithLabelValues(string(model.KindPoorSignal)).Inc()
		errs = append(errs, fmt.Errorf("poor signal: %w", err))
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
		joined := errors.Join(errs...)
		e.observe("now", start, joined)
		return out, joined
	}
	got, err = e.disappearance(ctx, cfg, now)
	out = append(out, got...)
	if err != nil {
		metrics.RuleErrors.WithLabelValues(string(model.KindNetworkDisappeared)).Inc()
		errs = append(errs, fmt.Errorf("disappearance: %w", err))
	}

	joined := errors.Join(errs...)
	e.observe("now", start, joined)
	if e.logger != nil {
		e.logger.Info("evaluation pass", "alerts", len(out), "duration_ms", time.Since(start).Milliseconds(), "error", joined)
	}
	return out, joined
}

// EvaluateDegradation compares the last window of one pair against the one
// before it. It returns nil without error when either window is empty or the
// drop is within threshold.
func (e *Engine) EvaluateDegradation(ctx context.Context, location, networkID string) (*model.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	cfg := e.config()
	now := e.now().UTC()
	span := cfg.Detection.DegradationWindow

	alert, err := e.degradation(ctx, cfg, now, location, networkID, span)
	if err != nil {
		metrics.RuleErrors.WithLabelValues(string(model.KindSignalDegradation)).Inc()
	}
	e.observe("degradation", start, err)
	return alert, err
}

func (e *Engine) degradation(ctx context.Context, cfg *config.Config, now time.Time, location, networkID string, span time.Duration) (*model.Alert, error) {
	recentW, err := model.NewWindow(now.Add(-span), now)
	if err != nil {
		return nil, err
	}
	previousW, err := model.NewWindow(now.Add(-2*span), now.Add(-span))
	if err != nil {
		return nil, err
	}
	recent, err := e.agg.Average(ctx, location, networkID, recentW)
	if err != nil {
		return nil, err
	}
	previous, err := e.agg.Average(ctx, location, networkID, previousW)
	if err != nil {
		return nil, err
	}
	candidate, ok := Degradation(now, previous, recent, cfg.Detection.DegradationThreshold)
	if !ok {
		return nil, nil
	}
	appended, err := e.emit(ctx, cfg, []model.Alert{candidate})
	if err != nil || len(appended) == 0 {
		return nil, err
	}
	return &appended[0], nil
}

func (e *Engine) poorSignal(ctx context.Context, cfg *config.Config, now time.Time) ([]model.Alert, error) {
	w, err := model.NewWindow(now.Add(-cfg.Detection.PoorSignalWindow), now)
	if err != nil {
		return nil, err
	}
	avgs, err := e.agg.AveragesByNetwork(ctx, "", w)
	if err != nil {
		return nil, err
	}
	if e.snapshot != nil {
		e.snapshot.Update(avgs)
	}
	return e.emit(ctx, cfg, PoorSignal(now, avgs, cfg.Detection.PoorSignalFloor))
}

func (e *Engine) disappearance(ctx context.Context, cfg *config.Config, now time.Time) ([]model.Alert, error) {
	grace := cfg.Detection.DisappearanceGrace
	oldW, err := model.NewWindow(now.Add(-cfg.Detection.DisappearanceLookback), now.Add(-grace))
	if err != nil {
		return nil, err
	}
	recentW, err := model.NewWindow(now.Add(-grace), now)
	if err != nil {
		return nil, err
	}
	old, err := e.agg.Presence(ctx, oldW)
	if err != nil {
		return nil, err
	}
	recent, err := e.agg.Presence(ctx, recentW)
	if err != nil {
		return nil, err
	}
	return e.emit(ctx, cfg, Disappearance(now, old, recent, grace))
}

// emit stamps, appends and announces candidates in order. It stops at the
// first ledger failure and returns what was appended before it.
func (e *Engine) emit(ctx context.Context, cfg *config.Config, candidates []model.Alert) ([]model.Alert, error) {
	out := make([]model.Alert, 0, len(candidates))
	cooldown := cfg.Detection.AlertCooldown
	for _, alert := range candidates {
		key := suppressionKey(alert)
		if cooldown > 0 {
			allowed, err := e.suppressor.Check(ctx, key, cooldown)
			if err != nil && e.logger != nil {
				e.logger.Warn("cooldown check failed, emitting", "kind", alert.Kind, "error", err)
			}
			if err == nil && !allowed {
				metrics.AlertsSuppressed.WithLabelValues(string(alert.Kind)).Inc()
				continue
			}
		}
		alert.ID = e.newID()
		if err := e.ledger.Append(ctx, alert); err != nil {
			return out, err
		}
		if cooldown > 0 {
			if err := e.suppressor.Mark(ctx, key, cooldown); err != nil && e.logger != nil {
				e.logger.Warn("cooldown mark failed", "kind", alert.Kind, "error", err)
			}
		}
		metrics.AlertsTotal.WithLabelValues(string(alert.Kind)).Inc()
		if e.logger != nil {
			e.logger.Warn("alert triggered",
				"kind", alert.Kind,
				"severity", alert.Severity,
				"location", alert.Location(),
				"network_id", alert.NetworkID(),
			)
		}
		if e.notifier != nil {
			if err := e.notifier.Notify(ctx, alert); err != nil && e.logger != nil {
				e.logger.Debug("notify failed", "alert_id", alert.ID, "error", err)
			}
		}
		out = append(out, alert)
	}
	return out, nil
}

func suppressionKey(a model.Alert) string {
	return string(a.Kind) + "|" + a.Location() + "|" + a.NetworkID()
}

func (e *Engine) observe(entry string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	case err != nil:
		status = "partial"
	}
	metrics.PassesTotal.WithLabelValues(entry, status).Inc()
	metrics.PassDuration.WithLabelValues(entry).Observe(time.Since(start).Seconds())
}
