package ingest

import (
	"context"
	"log/slog"
	"time"

	"wifiwatch/internal/config"
	"wifiwatch/internal/metrics"
	"wifiwatch/internal/model"
	"wifiwatch/internal/storage"
)

// Writer drains the ingest channel into the sample store in batches. A batch
// is written when it is full or when the flush interval passes, whichever
// comes first. Failed batches are logged and dropped; the store is not
// retried.
type Writer struct {
	store  storage.SampleWriter
	cfg    *config.Manager
	dedupe *DedupeCache
	logger *slog.Logger
	now    func() time.Time
}

func NewWriter(store storage.SampleWriter, cfg *config.Manager, logger *slog.Logger) *Writer {
	return &Writer{store: store, cfg: cfg, dedupe: NewDedupeCache(), logger: logger, now: time.Now}
}

// Run returns when ctx is done or in is closed, after flushing what it holds.
func (w *Writer) Run(ctx context.Context, in <-chan model.Measurement) {
	current := w.cfg.Get().Ingest
	batchSize := current.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := current.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	batch := make([]model.Measurement, 0, batchSize)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(batch)
			return
		case m, ok := <-in:
			if !ok {
				w.flush(batch)
				return
			}
			if w.duplicate(m) {
				metrics.MeasurementsIngested.WithLabelValues(m.Source, "duplicate").Inc()
				continue
			}
			batch = append(batch, m)
			if len(batch) >= batchSize {
				w.flush(batch)
				batch = batch[:0]
				timer.Reset(interval)
			}
		case <-timer.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(interval)
		}
	}
}

func (w *Writer) duplicate(m model.Measurement) bool {
	ttl := w.cfg.Get().Ingest.DedupeWindow
	if ttl <= 0 {
		return false
	}
	return w.dedupe.Seen(hashMeasurement(m), w.now().UTC(), ttl)
}

func (w *Writer) flush(batch []model.Measurement) {
	if len(batch) == 0 {
		return
	}
	// The caller may already be cancelled; the last batch still gets a chance.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	err := w.store.AppendMeasurements(ctx, batch)
	metrics.MeasurementBatchSize.Observe(float64(len(batch)))
	if err != nil {
		metrics.StoreWriteErrors.Inc()
		if w.logger != nil {
			w.logger.Error("measurement batch write failed", "batch_size", len(batch), "err", err)
		}
		return
	}
	if w.logger != nil {
		w.logger.Debug("measurement batch written", "batch_size", len(batch), "duration_ms", time.Since(start).Milliseconds())
	}
}
