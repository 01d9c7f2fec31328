package ingest

import (
	"context"
	"log/slog"
	"time"

	"wifiwatch/internal/metrics"
	"wifiwatch/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Measurement, m model.Measurement, logger *slog.Logger) bool {
	select {
	case out <- m:
		metrics.MeasurementsIngested.WithLabelValues(m.Source, "accepted").Inc()
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("measurement channel full, dropping", "location", m.Location, "network_id", m.NetworkID, "timestamp", m.Timestamp)
		}
		metrics.MeasurementsIngested.WithLabelValues(m.Source, "dropped").Inc()
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func rejected(source string) {
	metrics.MeasurementsIngested.WithLabelValues(source, "rejected").Inc()
}
