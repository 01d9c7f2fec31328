package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifiwatch/internal/aggregate"
	"wifiwatch/internal/alerts"
	"wifiwatch/internal/analysis"
	"wifiwatch/internal/config"
	"wifiwatch/internal/metrics"
	"wifiwatch/internal/model"
	"wifiwatch/internal/storage"
)

var now = time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

type fakeEngine struct {
	alerts  []model.Alert
	err     error
	degr    *model.Alert
	calls   []string
	updated *config.Config
}

func (f *fakeEngine) EvaluateNow(context.Context) ([]model.Alert, error) {
	f.calls = append(f.calls, "now")
	return f.alerts, f.err
}

func (f *fakeEngine) EvaluateDegradation(_ context.Context, loc, net string) (*model.Alert, error) {
	f.calls = append(f.calls, loc+"/"+net)
	return f.degr, f.err
}

func (f *fakeEngine) UpdateConfig(cfg *config.Config) {
	f.updated = cfg
}

type fixture struct {
	engine *fakeEngine
	ledger *alerts.Persistent
	store  storage.Store
	snap   *metrics.Store
	mgr    *config.Manager
	h      http.Handler
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	return newFixtureAt(t, "", opts...)
}

func newFixtureAt(t *testing.T, configPath string, opts ...func(*Deps)) *fixture {
	t.Helper()
	mgr, err := config.NewManager(configPath)
	require.NoError(t, err)
	store := storage.NewMemory()
	f := &fixture{
		engine: &fakeEngine{},
		ledger: alerts.NewPersistent(store).WithClock(func() time.Time { return now }),
		store:  store,
		snap:   metrics.NewStore(10),
		mgr:    mgr,
	}
	deps := Deps{
		Config:   mgr,
		Engine:   f.engine,
		Ledger:   f.ledger,
		Snapshot: f.snap,
		Averager: aggregate.New(store),
		Store:    store,
		Analyzer: analysis.New(store),
		Version:  "test",
		Now:      func() time.Time { return now },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.h = NewServer(deps).Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func ledgerAlert(id string, ago time.Duration, kind model.AlertKind) model.Alert {
	return model.Alert{ID: id, EmittedAt: now.Add(-ago), Kind: kind, Severity: model.SeverityInfo, Message: id}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotContains(t, body, "notify")
}

type stubBreaker string

func (b stubBreaker) State() string { return string(b) }

type stubClients int

func (c stubClients) Clients() int { return int(c) }

func TestStatusReportsNotifySinks(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Breaker = stubBreaker("open")
		d.Clients = stubClients(0)
	})
	body := decode(t, f.do(t, http.MethodGet, "/status", ""))
	notify, ok := body["notify"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "open", notify["breaker"])
	assert.EqualValues(t, 0, notify["websocket_clients"])
}

func TestAlertsDefaultsTo24Hours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Append(ctx, ledgerAlert("old", 30*time.Hour, model.KindPoorSignal)))
	require.NoError(t, f.ledger.Append(ctx, ledgerAlert("new", time.Hour, model.KindPoorSignal)))
	require.NoError(t, f.ledger.Append(ctx, ledgerAlert("gone", time.Hour, model.KindNetworkDisappeared)))

	body := decode(t, f.do(t, http.MethodGet, "/alerts", ""))
	assert.EqualValues(t, 2, body["count"])

	body = decode(t, f.do(t, http.MethodGet, "/alerts?hours=48&kind=poor_signal", ""))
	assert.EqualValues(t, 2, body["count"])

	rec := f.do(t, http.MethodGet, "/alerts?hours=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckReturnsPartialResults(t *testing.T) {
	f := newFixture(t)
	f.engine.alerts = []model.Alert{ledgerAlert("a", 0, model.KindNetworkDisappeared)}
	f.engine.err = fmt.Errorf("poor signal: %w", storage.ErrUnavailable)

	rec := f.do(t, http.MethodPost, "/alerts/check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
	assert.Contains(t, body["error"], "store unavailable")

	f.engine.alerts = nil
	rec = f.do(t, http.MethodPost, "/alerts/check", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDegradationRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/alerts/degradation?location=Kitchen", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a := ledgerAlert("d", 0, model.KindSignalDegradation)
	f.engine.degr = &a
	rec = f.do(t, http.MethodPost, "/alerts/degradation", `{"location":"Kitchen","network_id":"HomeNet"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotNil(t, body["alert"])
	assert.Equal(t, []string{"Kitchen/HomeNet"}, f.engine.calls)

	f.engine.degr = nil
	f.engine.err = model.ErrInvalidRange
	rec = f.do(t, http.MethodGet, "/alerts/degradation?location=Kitchen&network_id=HomeNet", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAverages(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AppendMeasurements(context.Background(), []model.Measurement{
		{Timestamp: now.Add(-10 * time.Minute), Location: "Kitchen", NetworkID: "HomeNet", Signal: model.DBmSignal(-70)},
		{Timestamp: now.Add(-5 * time.Minute), Location: "Kitchen", NetworkID: "HomeNet", Signal: model.DBmSignal(-80)},
		{Timestamp: now.Add(-5 * time.Minute), Location: "Office", NetworkID: "HomeNet", Signal: model.DBmSignal(-50)},
	}))
	rec := f.do(t, http.MethodGet, "/averages/Kitchen?window=30m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	list, ok := body["averages"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.EqualValues(t, -75, list[0].(map[string]any)["mean_dbm"])

	rec = f.do(t, http.MethodGet, "/averages/Kitchen?window=-5m", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mean := -85.0
	f.snap.Update([]model.WindowAverage{{Location: "Den", NetworkID: "n", MeanDBm: &mean}})
	body = decode(t, f.do(t, http.MethodGet, "/averages", ""))
	assert.EqualValues(t, 1, body["count"])

	rec = f.do(t, http.MethodGet, "/averages/Den?cached=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	list, ok = body["averages"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.EqualValues(t, -85, list[0].(map[string]any)["mean_dbm"])

	rec = f.do(t, http.MethodGet, "/averages/Kitchen?cached=true", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "Kitchen was never swept")
}

func TestPruneAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Append(ctx, ledgerAlert("stale", 8*24*time.Hour, model.KindPoorSignal)))
	require.NoError(t, f.ledger.Append(ctx, ledgerAlert("fresh", time.Hour, model.KindPoorSignal)))
	require.NoError(t, f.store.AppendMeasurements(ctx, []model.Measurement{
		{Timestamp: now.Add(-40 * 24 * time.Hour), Location: "Kitchen", NetworkID: "HomeNet", Signal: model.DBmSignal(-70)},
		{Timestamp: now.Add(-time.Hour), Location: "Kitchen", NetworkID: "HomeNet", Signal: model.DBmSignal(-70)},
	}))

	rec := f.do(t, http.MethodPost, "/admin/prune", `{"measurement_days":30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["alerts_removed"])
	assert.EqualValues(t, 1, body["measurements_removed"])

	body = decode(t, f.do(t, http.MethodGet, "/stats", ""))
	assert.EqualValues(t, 1, body["measurements"])
	assert.EqualValues(t, 1, body["networks"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalysisRoutes(t *testing.T) {
	f := newFixture(t)
	ch1, ch6 := 1, 6
	require.NoError(t, f.store.AppendMeasurements(context.Background(), []model.Measurement{
		{Timestamp: now.Add(-30 * 24 * time.Hour), Location: "Attic", NetworkID: "Old", Signal: model.DBmSignal(-80), Channel: &ch1},
		{Timestamp: now.Add(-2 * time.Hour), Location: "Kitchen", NetworkID: "HomeNet", Signal: model.DBmSignal(-60), Channel: &ch6, Security: "WPA2"},
		{Timestamp: now.Add(-10 * time.Minute), Location: "Kitchen", NetworkID: "HomeNet", Signal: model.DBmSignal(-62), Channel: &ch6, Security: "WPA2"},
		{Timestamp: now.Add(-5 * time.Minute), Location: "Office", NetworkID: "Guest", Signal: model.DBmSignal(-70), Channel: &ch1},
	}))

	body := decode(t, f.do(t, http.MethodGet, "/analysis/channels", ""))
	assert.EqualValues(t, 11, body["best_channel"])
	assert.EqualValues(t, 3, body["total_networks_24ghz"], "all history by default")

	body = decode(t, f.do(t, http.MethodGet, "/analysis/channels?hours=1", ""))
	assert.EqualValues(t, 2, body["total_networks_24ghz"])

	body = decode(t, f.do(t, http.MethodGet, "/analysis/networks", ""))
	assert.EqualValues(t, 3, body["total_samples"], "one week by default")
	assert.EqualValues(t, 2, body["unique_networks"])
	top, ok := body["top_networks"].([]any)
	require.True(t, ok)
	assert.Equal(t, "HomeNet", top[0].(map[string]any)["network_id"])

	body = decode(t, f.do(t, http.MethodGet, "/measurements/latest", ""))
	assert.EqualValues(t, 2, body["count"], "last hour by default")
	body = decode(t, f.do(t, http.MethodGet, "/measurements/latest?limit=1", ""))
	list, ok := body["measurements"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "Guest", list[0].(map[string]any)["network_id"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/measurements/latest?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/analysis/networks?hours=abc", "").Code)
}

func TestDetectionConfigUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifiwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  enabled: false\n"), 0o644))
	f := newFixtureAt(t, path)

	body := decode(t, f.do(t, http.MethodGet, "/config/detection", ""))
	assert.Equal(t, "0s", body["alert_cooldown"])

	rec := f.do(t, http.MethodPut, "/config/detection", `{"poor_signal_floor":-75,"alert_cooldown":"5m"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "5m0s", body["alert_cooldown"])
	assert.EqualValues(t, -75, f.mgr.Get().Detection.PoorSignalFloor)
	require.NotNil(t, f.engine.updated)
	assert.Equal(t, 5*time.Minute, f.engine.updated.Detection.AlertCooldown)

	saved, err := config.Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, -75, saved.Detection.PoorSignalFloor)
	assert.Equal(t, 5*time.Minute, saved.Detection.AlertCooldown)

	f.engine.updated = nil
	rec = f.do(t, http.MethodPut, "/config/detection", `{"degradation_threshold":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, "/config/detection", `{"poor_signal_window":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, f.engine.updated)
	assert.EqualValues(t, -75, f.mgr.Get().Detection.PoorSignalFloor)
}
