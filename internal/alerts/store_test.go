package alerts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifiwatch/internal/model"
	"wifiwatch/internal/storage"
)

var now = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()
	lite, err := storage.NewSQLite("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, lite.Init(context.Background()))
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]Ledger{
		"memory": NewPersistent(storage.NewMemory()).WithClock(clock),
		"sqlite": NewPersistent(lite).WithClock(clock),
	}
}

func alertAt(id string, ago time.Duration) model.Alert {
	return model.Alert{
		ID:        id,
		EmittedAt: now.Add(-ago),
		Kind:      model.KindNetworkDisappeared,
		Severity:  model.SeverityWarning,
		Message:   fmt.Sprintf("Network %s not seen in Kitchen for 30 minutes", id),
		Context:   map[string]string{model.CtxLocation: "Kitchen", model.CtxNetworkID: id},
	}
}

func TestAppendThenRecent(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := alertAt("HomeNet", time.Minute)
			require.NoError(t, l.Append(ctx, a))
			got, err := l.Recent(ctx, 24*time.Hour)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, a, got[0])
		})
	}
}

func TestRecentKeepsEmissionOrder(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, l.Append(ctx, alertAt(id, time.Hour)))
			}
			require.NoError(t, l.Append(ctx, alertAt("old", 30*time.Hour)))
			got, err := l.Recent(ctx, 24*time.Hour)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
		})
	}
}

func TestPrune(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Append(ctx, alertAt("stale", 8*24*time.Hour)))
			require.NoError(t, l.Append(ctx, alertAt("edge", 7*24*time.Hour)))
			require.NoError(t, l.Append(ctx, alertAt("fresh", time.Hour)))

			removed, err := l.Prune(ctx, 7*24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			left, err := l.Recent(ctx, 30*24*time.Hour)
			require.NoError(t, err)
			require.Len(t, left, 2)
			assert.Equal(t, "edge", left[0].ID)

			removed, err = l.Prune(ctx, 7*24*time.Hour)
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}
