package alerts

import (
	"context"
	"time"

	"wifiwatch/internal/model"
	"wifiwatch/internal/storage"
)

// Ledger is the append-only record of emitted alerts.
type Ledger interface {
	Append(ctx context.Context, alert model.Alert) error
	// Recent returns alerts emitted at or after now-within, oldest first.
	Recent(ctx context.Context, within time.Duration) ([]model.Alert, error)
	// Prune removes alerts emitted before now-olderThan and reports how many.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// Persistent keeps the ledger in the sample store, so store statistics and
// the ledger always agree and sql backends survive restarts.
type Persistent struct {
	store storage.AlertStore
	now   func() time.Time
}

func NewPersistent(store storage.AlertStore) *Persistent {
	return &Persistent{store: store, now: time.Now}
}

// WithClock replaces the time source used by Recent and Prune.
func (p *Persistent) WithClock(now func() time.Time) *Persistent {
	p.now = now
	return p
}

func (p *Persistent) Append(ctx context.Context, alert model.Alert) error {
	return p.store.SaveAlert(ctx, alert)
}

func (p *Persistent) Recent(ctx context.Context, within time.Duration) ([]model.Alert, error) {
	return p.store.AlertsSince(ctx, p.now().Add(-within))
}

func (p *Persistent) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := p.store.DeleteAlertsBefore(ctx, p.now().Add(-olderThan))
	return int(n), err
}
