// Package notify delivers appended alerts to outside consumers. Delivery is
// best-effort: a failing sink is logged and counted, never retried by the
// caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wifiwatch/internal/metrics"
	"wifiwatch/internal/model"
)

type Notifier interface {
	Notify(ctx context.Context, alert model.Alert) error
}

// Named lets a sink report itself in logs and metrics.
type Named interface {
	Name() string
}

// Multi fans an alert out to every sink and joins their errors.
type Multi struct {
	sinks  []Notifier
	logger *slog.Logger
}

func NewMulti(logger *slog.Logger, sinks ...Notifier) *Multi {
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Notify(ctx context.Context, alert model.Alert) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, alert); err != nil {
			name := sinkName(sink)
			metrics.NotifyFailures.WithLabelValues(name).Inc()
			if m.logger != nil {
				m.logger.Warn("alert notification failed", "sink", name, "alert_id", alert.ID, "error", err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func sinkName(n Notifier) string {
	if named, ok := n.(Named); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", n)
}
