package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wifiwatch/internal/config"
	"wifiwatch/internal/model"
)

// ErrUnavailable marks a read or write the backend could not complete.
var ErrUnavailable = errors.New("store unavailable")

// Filter selects measurements inside Window. Empty Location or NetworkID
// match everything.
type Filter struct {
	Location  string
	NetworkID string
	Window    model.Window
}

func (f Filter) Match(m model.Measurement) bool {
	if f.Location != "" && m.Location != f.Location {
		return false
	}
	if f.NetworkID != "" && m.NetworkID != f.NetworkID {
		return false
	}
	return f.Window.Contains(m.Timestamp)
}

type SampleReader interface {
	// QueryMeasurements returns matching rows ordered by timestamp ascending.
	QueryMeasurements(ctx context.Context, f Filter) ([]model.Measurement, error)
}

type SampleWriter interface {
	AppendMeasurements(ctx context.Context, ms []model.Measurement) error
}

type AlertStore interface {
	SaveAlert(ctx context.Context, alert model.Alert) error
	AlertsSince(ctx context.Context, since time.Time) ([]model.Alert, error)
	DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error)
}

type Stats struct {
	Measurements int64      `json:"measurements"`
	Networks     int64      `json:"networks"`
	Locations    int64      `json:"locations"`
	Alerts       int64      `json:"alerts"`
	First        *time.Time `json:"first,omitempty"`
	Last         *time.Time `json:"last,omitempty"`
}

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SampleReader
	SampleWriter
	AlertStore
	DeleteMeasurementsBefore(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func toNanos(ts time.Time) int64 {
	return ts.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
