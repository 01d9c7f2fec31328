package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wifiwatch/internal/alerts"
	"wifiwatch/internal/analysis"
	"wifiwatch/internal/config"
	"wifiwatch/internal/metrics"
	"wifiwatch/internal/model"
	"wifiwatch/internal/storage"
)

type Evaluator interface {
	EvaluateNow(ctx context.Context) ([]model.Alert, error)
	EvaluateDegradation(ctx context.Context, location, networkID string) (*model.Alert, error)
	UpdateConfig(cfg *config.Config)
}

type Averager interface {
	AveragesByNetwork(ctx context.Context, location string, w model.Window) ([]model.WindowAverage, error)
}

// Analyzer backs the read-only reporting routes.
type Analyzer interface {
	Channels(ctx context.Context, w model.Window) (analysis.ChannelReport, error)
	Networks(ctx context.Context, w model.Window) (analysis.NetworkStats, error)
	Latest(ctx context.Context, w model.Window, limit int) ([]model.Measurement, error)
}

// Maintenance is the slice of the sample store the admin routes touch.
type Maintenance interface {
	Stats(ctx context.Context) (storage.Stats, error)
	DeleteMeasurementsBefore(ctx context.Context, before time.Time) (int64, error)
}

type Deps struct {
	Config   *config.Manager
	Engine   Evaluator
	Ledger   alerts.Ledger
	Snapshot *metrics.Store
	Averager Averager
	Store    Maintenance
	Analyzer Analyzer
	// Breaker reports the notify circuit state; nil leaves it out of /status.
	Breaker interface{ State() string }
	// Clients counts websocket subscribers.
	Clients interface{ Clients() int }
	// Live serves the websocket alert stream; nil disables the route.
	Live    http.HandlerFunc
	Logger  *slog.Logger
	Version string
	Now     func() time.Time
}

type Server struct {
	Deps
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	Ingest     ingestStatus    `json:"ingest"`
	API        apiStatus       `json:"api"`
	Detection  detectionStatus `json:"detection"`
	Scheduler  schedulerStatus `json:"scheduler"`
	Storage    string          `json:"storage"`
	Notify     *notifyStatus   `json:"notify,omitempty"`
}

type notifyStatus struct {
	Breaker          string `json:"breaker,omitempty"`
	WebsocketClients *int   `json:"websocket_clients,omitempty"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	DegradationWindow     string  `json:"degradation_window"`
	DegradationThreshold  float64 `json:"degradation_threshold"`
	PoorSignalWindow      string  `json:"poor_signal_window"`
	PoorSignalFloor       float64 `json:"poor_signal_floor"`
	DisappearanceLookback string  `json:"disappearance_lookback"`
	DisappearanceGrace    string  `json:"disappearance_grace"`
	AlertCooldown         string  `json:"alert_cooldown"`
}

func newDetectionStatus(d config.DetectionConfig) detectionStatus {
	return detectionStatus{
		DegradationWindow:     d.DegradationWindow.String(),
		DegradationThreshold:  d.DegradationThreshold,
		PoorSignalWindow:      d.PoorSignalWindow.String(),
		PoorSignalFloor:       d.PoorSignalFloor,
		DisappearanceLookback: d.DisappearanceLookback.String(),
		DisappearanceGrace:    d.DisappearanceGrace.String(),
		AlertCooldown:         d.AlertCooldown.String(),
	}
}

type schedulerStatus struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
}

func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Server{Deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", s.handleAlerts)
		r.Post("/check", s.handleCheck)
		r.Get("/degradation", s.handleDegradation)
		r.Post("/degradation", s.handleDegradation)
	})

	r.Route("/averages", func(r chi.Router) {
		r.Get("/", s.handleAverages)
		r.Get("/{location}", s.handleLocationAverages)
	})

	r.Route("/analysis", func(r chi.Router) {
		r.Get("/channels", s.handleChannels)
		r.Get("/networks", s.handleNetworks)
	})
	r.Get("/measurements/latest", s.handleLatest)

	r.Get("/config/detection", s.handleGetDetection)
	r.Put("/config/detection", s.handleSetDetection)

	r.Post("/admin/prune", s.handlePrune)

	if s.Live != nil {
		r.Get("/ws/alerts", s.Live)
	}
	return r
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	current := deps.Config.Get().API
	logger := deps.Logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(deps)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.Config.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       s.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.Version,
		ConfigPath: s.Config.Path(),
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Detection: newDetectionStatus(cfg.Detection),
		Scheduler: schedulerStatus{Enabled: cfg.Scheduler.Enabled, Interval: cfg.Scheduler.Interval.String()},
		Storage:   cfg.Storage.Driver,
	}
	if s.Breaker != nil || s.Clients != nil {
		resp.Notify = &notifyStatus{}
		if s.Breaker != nil {
			resp.Notify.Breaker = s.Breaker.State()
		}
		if s.Clients != nil {
			n := s.Clients.Clients()
			resp.Notify.WebsocketClients = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, http.StatusNotFound, errors.New("stats unavailable"))
		return
	}
	stats, err := s.Store.Stats(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAlerts lists the ledger. hours defaults to 24.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	within := 24 * time.Hour
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("hours must be a positive number"))
			return
		}
		within = time.Duration(n * float64(time.Hour))
	}
	list, err := s.Ledger.Recent(r.Context(), within)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := list[:0]
		for _, a := range list {
			if string(a.Kind) == kind {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	list, err := s.Engine.EvaluateNow(r.Context())
	if err != nil && len(list) == 0 {
		writeError(w, statusFor(err), err)
		return
	}
	resp := map[string]any{"alerts": list, "count": len(list)}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type degradationRequest struct {
	Location  string `json:"location"`
	NetworkID string `json:"network_id"`
}

func (s *Server) handleDegradation(w http.ResponseWriter, r *http.Request) {
	req := degradationRequest{
		Location:  r.URL.Query().Get("location"),
		NetworkID: r.URL.Query().Get("network_id"),
	}
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	req.Location = strings.TrimSpace(req.Location)
	req.NetworkID = strings.TrimSpace(req.NetworkID)
	if req.Location == "" || req.NetworkID == "" {
		writeError(w, http.StatusBadRequest, errors.New("location and network_id are required"))
		return
	}
	alert, err := s.Engine.EvaluateDegradation(r.Context(), req.Location, req.NetworkID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location":   req.Location,
		"network_id": req.NetworkID,
		"alert":      alert,
	})
}

func (s *Server) handleAverages(w http.ResponseWriter, _ *http.Request) {
	if s.Snapshot == nil {
		writeJSON(w, http.StatusOK, map[string]any{"averages": map[string]any{}, "count": 0})
		return
	}
	all := s.Snapshot.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"averages": all,
		"count":    len(all),
	})
}

// handleLocationAverages computes fresh averages for one location over
// ?window= (default: the poor-signal window). ?cached=1 returns the last
// sweep's snapshot instead.
func (s *Server) handleLocationAverages(w http.ResponseWriter, r *http.Request) {
	location := chi.URLParam(r, "location")
	if cached, _ := strconv.ParseBool(r.URL.Query().Get("cached")); cached {
		if s.Snapshot == nil {
			writeError(w, http.StatusNotFound, errors.New("no snapshot"))
			return
		}
		avgs, updated, ok := s.Snapshot.Get(location)
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("location not in last sweep"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"location":   location,
			"updated_at": updated,
			"averages":   avgs,
		})
		return
	}
	span := s.Config.Get().Detection.PoorSignalWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		span = d
	}
	now := s.Now().UTC()
	win, err := model.NewWindow(now.Add(-span), now)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	avgs, err := s.Averager.AveragesByNetwork(r.Context(), location, win)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location":     location,
		"window_start": win.Start,
		"window_end":   win.End,
		"averages":     avgs,
	})
}

// handleChannels reports 2.4GHz channel usage over ?hours= (default: all
// stored history).
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if s.Analyzer == nil {
		writeError(w, http.StatusNotFound, errors.New("analysis unavailable"))
		return
	}
	win, err := s.hoursWindow(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.Analyzer.Channels(r.Context(), win)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleNetworks summarises networks over ?hours= (default one week).
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	if s.Analyzer == nil {
		writeError(w, http.StatusNotFound, errors.New("analysis unavailable"))
		return
	}
	win, err := s.hoursWindow(r, 7*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.Analyzer.Networks(r.Context(), win)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleLatest returns the newest ?limit= samples (default 50) from the
// last ?hours= (default 1).
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.Analyzer == nil {
		writeError(w, http.StatusNotFound, errors.New("analysis unavailable"))
		return
	}
	win, err := s.hoursWindow(r, time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := analysis.DefaultLatest
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	list, err := s.Analyzer.Latest(r.Context(), win, limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"measurements": list,
		"count":        len(list),
	})
}

// hoursWindow ends at now and spans ?hours=, or def when absent. A zero def
// reaches back to the epoch.
func (s *Server) hoursWindow(r *http.Request, def time.Duration) (model.Window, error) {
	now := s.Now().UTC()
	span := def
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 {
			return model.Window{}, errors.New("hours must be a positive number")
		}
		span = time.Duration(n * float64(time.Hour))
	}
	if span == 0 {
		return model.NewWindow(time.Unix(0, 0).UTC(), now)
	}
	return model.NewWindow(now.Add(-span), now)
}

func (s *Server) handleGetDetection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newDetectionStatus(s.Config.Get().Detection))
}

// detectionPatch carries the fields a PUT may change; durations use
// time.ParseDuration syntax.
type detectionPatch struct {
	DegradationWindow     *string  `json:"degradation_window"`
	DegradationThreshold  *float64 `json:"degradation_threshold"`
	PoorSignalWindow      *string  `json:"poor_signal_window"`
	PoorSignalFloor       *float64 `json:"poor_signal_floor"`
	DisappearanceLookback *string  `json:"disappearance_lookback"`
	DisappearanceGrace    *string  `json:"disappearance_grace"`
	AlertCooldown         *string  `json:"alert_cooldown"`
}

func (p detectionPatch) apply(d *config.DetectionConfig) error {
	durations := []struct {
		name string
		in   *string
		out  *time.Duration
	}{
		{"degradation_window", p.DegradationWindow, &d.DegradationWindow},
		{"poor_signal_window", p.PoorSignalWindow, &d.PoorSignalWindow},
		{"disappearance_lookback", p.DisappearanceLookback, &d.DisappearanceLookback},
		{"disappearance_grace", p.DisappearanceGrace, &d.DisappearanceGrace},
		{"alert_cooldown", p.AlertCooldown, &d.AlertCooldown},
	}
	for _, f := range durations {
		if f.in == nil {
			continue
		}
		v, err := time.ParseDuration(*f.in)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = v
	}
	if p.DegradationThreshold != nil {
		d.DegradationThreshold = *p.DegradationThreshold
	}
	if p.PoorSignalFloor != nil {
		d.PoorSignalFloor = *p.PoorSignalFloor
	}
	return nil
}

// handleSetDetection changes detection settings at runtime. The result is
// validated, written back to the config file when there is one, and handed
// to the engine for its next pass.
func (s *Server) handleSetDetection(w http.ResponseWriter, r *http.Request) {
	var patch detectionPatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next := *s.Config.Get()
	if err := patch.apply(&next.Detection); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := config.Validate(&next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Config.Update(&next); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Engine.UpdateConfig(&next)
	if s.Logger != nil {
		s.Logger.Info("detection config updated", "path", s.Config.Path())
	}
	writeJSON(w, http.StatusOK, newDetectionStatus(next.Detection))
}

type pruneRequest struct {
	AlertDays       *float64 `json:"alert_days"`
	MeasurementDays *float64 `json:"measurement_days"`
}

// handlePrune applies retention on demand. Without a body it uses the
// configured retention for alerts only.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	alertAge := s.Config.Get().Scheduler.AlertRetention
	if req.AlertDays != nil {
		alertAge = days(*req.AlertDays)
	}
	if alertAge < 0 {
		writeError(w, http.StatusBadRequest, errors.New("retention must not be negative"))
		return
	}
	removed, err := s.Ledger.Prune(r.Context(), alertAge)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	metrics.PrunedTotal.WithLabelValues("alerts").Add(float64(removed))
	resp := map[string]any{"alerts_removed": removed}
	if req.MeasurementDays != nil && s.Store != nil {
		age := days(*req.MeasurementDays)
		if age < 0 {
			writeError(w, http.StatusBadRequest, errors.New("retention must not be negative"))
			return
		}
		n, err := s.Store.DeleteMeasurementsBefore(r.Context(), s.Now().UTC().Add(-age))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		metrics.PrunedTotal.WithLabelValues("measurements").Add(float64(n))
		resp["measurements_removed"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func days(n float64) time.Duration {
	return time.Duration(n * float64(24*time.Hour))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
