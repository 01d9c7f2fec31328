package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"wifiwatch/internal/model"
)

type baseStore struct {
	db *sql.DB
	// numbered switches ? placeholders to $1..$n.
	numbered bool
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) rebind(query string) string {
	if !b.numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func (b *baseStore) initSchema(ctx context.Context, stmts []string) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return unavailable("init schema", err)
		}
	}
	return nil
}

func (b *baseStore) AppendMeasurements(ctx context.Context, ms []model.Measurement) error {
	if b.db == nil || len(ms) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("append measurements", err)
	}
	stmt, err := tx.PrepareContext(ctx, b.rebind(
		`INSERT INTO measurements (ts_ns, location, network_id, bssid, signal_value, signal_unit, channel, frequency_band, security, vendor_prefix, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return unavailable("append measurements", err)
	}
	defer stmt.Close()
	for _, m := range ms {
		var channel sql.NullInt64
		if m.Channel != nil {
			channel = sql.NullInt64{Int64: int64(*m.Channel), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			toNanos(m.Timestamp),
			m.Location,
			m.NetworkID,
			m.BSSID,
			m.Signal.Value,
			string(m.Signal.Unit),
			channel,
			m.FrequencyBand,
			m.Security,
			m.VendorPrefix,
			m.Source,
		); err != nil {
			_ = tx.Rollback()
			return unavailable("append measurements", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("append measurements", err)
	}
	return nil
}

func (b *baseStore) QueryMeasurements(ctx context.Context, f Filter) ([]model.Measurement, error) {
	if err := f.Window.Validate(); err != nil {
		return nil, err
	}
	if b.db == nil {
		return nil, nil
	}
	query := `SELECT ts_ns, location, network_id, bssid, signal_value, signal_unit, channel, frequency_band, security, vendor_prefix, source
		FROM measurements WHERE ts_ns >= ? AND ts_ns < ?`
	args := []any{toNanos(f.Window.Start), toNanos(f.Window.End)}
	if f.Location != "" {
		query += ` AND location = ?`
		args = append(args, f.Location)
	}
	if f.NetworkID != "" {
		query += ` AND network_id = ?`
		args = append(args, f.NetworkID)
	}
	query += ` ORDER BY ts_ns, id`
	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, unavailable("query measurements", err)
	}
	defer rows.Close()
	out := make([]model.Measurement, 0)
	for rows.Next() {
		var (
			ts                                  int64
			m                                   model.Measurement
			bssid, unit, band, sec, vendor, src sql.NullString
			channel                             sql.NullInt64
			value                               int64
		)
		if err := rows.Scan(&ts, &m.Location, &m.NetworkID, &bssid, &value, &unit, &channel, &band, &sec, &vendor, &src); err != nil {
			return nil, unavailable("scan measurement", err)
		}
		m.Timestamp = fromNanos(ts)
		m.BSSID = bssid.String
		m.Signal = decodeSignal(int(value), unit.String)
		if channel.Valid {
			c := int(channel.Int64)
			m.Channel = &c
		}
		m.FrequencyBand = band.String
		m.Security = sec.String
		m.VendorPrefix = vendor.String
		m.Source = src.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query measurements", err)
	}
	return out, nil
}

// decodeSignal falls back to the sign rule for rows written without a unit.
func decodeSignal(value int, unit string) model.Signal {
	switch model.SignalUnit(unit) {
	case model.SignalPercent:
		return model.PercentSignal(value)
	case model.SignalDBm:
		return model.DBmSignal(value)
	}
	return model.SignalFromRaw(value)
}

func (b *baseStore) DeleteMeasurementsBefore(ctx context.Context, before time.Time) (int64, error) {
	if b.db == nil {
		return 0, nil
	}
	res, err := b.db.ExecContext(ctx, b.rebind(`DELETE FROM measurements WHERE ts_ns < ?`), toNanos(before))
	if err != nil {
		return 0, unavailable("delete measurements", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO alerts (alert_id, ts_ns, kind, severity, message, context_json)
		VALUES (?, ?, ?, ?, ?, ?)`),
		alert.ID,
		toNanos(alert.EmittedAt),
		string(alert.Kind),
		string(alert.Severity),
		alert.Message,
		encodeJSON(alert.Context),
	)
	if err != nil {
		return unavailable("save alert", err)
	}
	return nil
}

func (b *baseStore) AlertsSince(ctx context.Context, since time.Time) ([]model.Alert, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT alert_id, ts_ns, kind, severity, message, context_json
		FROM alerts WHERE ts_ns >= ? ORDER BY id`), toNanos(since))
	if err != nil {
		return nil, unavailable("query alerts", err)
	}
	defer rows.Close()
	out := make([]model.Alert, 0)
	for rows.Next() {
		var (
			a           model.Alert
			ts          int64
			kind, sev   string
			contextJSON sql.NullString
		)
		if err := rows.Scan(&a.ID, &ts, &kind, &sev, &a.Message, &contextJSON); err != nil {
			return nil, unavailable("scan alert", err)
		}
		a.EmittedAt = fromNanos(ts)
		a.Kind = model.AlertKind(kind)
		a.Severity = model.Severity(sev)
		if contextJSON.Valid && contextJSON.String != "" && contextJSON.String != "null" {
			if err := json.Unmarshal([]byte(contextJSON.String), &a.Context); err != nil {
				return nil, unavailable("decode alert context", err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query alerts", err)
	}
	return out, nil
}

func (b *baseStore) DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error) {
	if b.db == nil {
		return 0, nil
	}
	res, err := b.db.ExecContext(ctx, b.rebind(`DELETE FROM alerts WHERE ts_ns < ?`), toNanos(before))
	if err != nil {
		return 0, unavailable("delete alerts", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *baseStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if b.db == nil {
		return st, nil
	}
	var first, last sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT network_id), COUNT(DISTINCT location), MIN(ts_ns), MAX(ts_ns) FROM measurements`,
	).Scan(&st.Measurements, &st.Networks, &st.Locations, &first, &last)
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	if first.Valid {
		ts := fromNanos(first.Int64)
		st.First = &ts
	}
	if last.Valid {
		ts := fromNanos(last.Int64)
		st.Last = &ts
	}
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&st.Alerts); err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return st, nil
}
