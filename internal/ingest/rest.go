package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wifiwatch/internal/config"
	"wifiwatch/internal/model"
	"wifiwatch/internal/normalize"
)

type RESTServer struct {
	cfg    *config.Manager
	out    chan<- model.Measurement
	logger *slog.Logger
}

func NewRESTServer(cfg *config.Manager, out chan<- model.Measurement, logger *slog.Logger) *RESTServer {
	return &RESTServer{cfg: cfg, out: out, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/measurements", s.handleMeasurements)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.Measurement, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := NewRESTServer(cfg, out, logger)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

// handleMeasurements takes a JSON object, a JSON array, or a text body of
// nmcli/CSV lines. The location query parameter fills records that carry
// none, so a scanner can post raw nmcli output for the room it sits in.
func (s *RESTServer) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cfg := s.cfg.Get()
	location := strings.TrimSpace(r.URL.Query().Get("location"))
	accepted := 0
	failed := 0
	count := func(err error) {
		if err != nil {
			failed++
			return
		}
		accepted++
	}

	switch trim[0] {
	case '[':
		var list []map[string]interface{}
		if err := json.Unmarshal(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, obj := range list {
			count(s.process(r.Context(), ParseJSONMap(obj), location, cfg))
		}
	case '{':
		var obj map[string]interface{}
		if err := json.Unmarshal(trim, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		count(s.process(r.Context(), ParseJSONMap(obj), location, cfg))
	default:
		parser := NewParser()
		scanner := bufio.NewScanner(bytes.NewReader(trim))
		for scanner.Scan() {
			fields, err := parser.ParseLine(scanner.Text())
			if err != nil {
				failed++
				continue
			}
			if fields == nil {
				continue
			}
			count(s.process(r.Context(), fields, location, cfg))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if accepted == 0 && failed > 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": accepted,
		"failed":   failed,
	})
}

func (s *RESTServer) process(ctx context.Context, fields *normalize.MeasurementFields, location string, cfg *config.Config) error {
	if fields.Location == "" {
		fields.Location = location
	}
	if fields.Source == "" {
		fields.Source = "rest"
	}
	m, err := normalize.Normalize(*fields, cfg)
	if err != nil {
		rejected("rest")
		if s.logger != nil {
			s.logger.Warn("rest normalize error", "err", err)
		}
		return err
	}
	SendNonBlocking(ctx, s.out, m, s.logger)
	return nil
}
