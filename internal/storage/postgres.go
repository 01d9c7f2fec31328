package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/wifiwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, numbered: true}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.initSchema(ctx, []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			id BIGSERIAL PRIMARY KEY,
			ts_ns BIGINT NOT NULL,
			location TEXT NOT NULL,
			network_id TEXT NOT NULL,
			bssid TEXT,
			signal_value INTEGER NOT NULL,
			signal_unit TEXT,
			channel INTEGER,
			frequency_band TEXT,
			security TEXT,
			vendor_prefix TEXT,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_ts ON measurements(ts_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_pair_ts ON measurements(location, network_id, ts_ns)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL,
			ts_ns BIGINT NOT NULL,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts_ns)`,
	})
}
