package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"wifiwatch/internal/config"
	"wifiwatch/internal/model"
)

// MeasurementFields is a parsed but not yet typed record, as produced by the
// ingest parsers.
type MeasurementFields struct {
	Timestamp  string
	Location   string
	NetworkID  string
	BSSID      string
	Signal     string
	SignalUnit string
	Channel    string
	Frequency  string
	Security   string
	Source     string
	Raw        string
}

var validate = validator.New()

func Normalize(fields MeasurementFields, cfg *config.Config) (model.Measurement, error) {
	location := strings.TrimSpace(fields.Location)
	if location == "" {
		location = cfg.Ingest.Parser.DefaultLocation
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Measurement{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	signal, err := ParseSignal(fields.Signal, fields.SignalUnit)
	if err != nil {
		return model.Measurement{}, err
	}

	var channel *int
	if c := strings.TrimSpace(fields.Channel); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			return model.Measurement{}, fmt.Errorf("parse channel: %w", err)
		}
		channel = &n
	}

	band := Band(fields.Frequency)
	if band == "" && channel != nil {
		band = BandFromChannel(*channel)
	}

	bssid := strings.ToUpper(strings.TrimSpace(fields.BSSID))
	source := strings.TrimSpace(fields.Source)
	if source == "" {
		source = "ingest"
	}

	m := model.Measurement{
		Timestamp:     ts,
		Location:      location,
		NetworkID:     strings.TrimSpace(fields.NetworkID),
		BSSID:         bssid,
		Signal:        signal,
		Channel:       channel,
		FrequencyBand: band,
		Security:      strings.TrimSpace(fields.Security),
		VendorPrefix:  VendorPrefix(bssid),
		Source:        source,
	}
	if err := Validate(m); err != nil {
		return model.Measurement{}, err
	}
	return m, nil
}

// Validate checks required fields and the signal range.
func Validate(m model.Measurement) error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid measurement: %w", err)
	}
	if err := m.Signal.Validate(); err != nil {
		return fmt.Errorf("invalid measurement: %w", err)
	}
	return nil
}

// ParseSignal tags a textual reading. An explicit unit or a "%" / "dBm"
// suffix wins; bare integers fall back to the sign rule. Fractional readings
// round to the nearest whole unit, halves away from zero.
func ParseSignal(value, unit string) (model.Signal, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return model.Signal{}, errors.New("missing signal")
	}
	u := strings.ToLower(strings.TrimSpace(unit))
	lower := strings.ToLower(v)
	switch {
	case strings.HasSuffix(lower, "%"):
		u = string(model.SignalPercent)
		v = strings.TrimSpace(v[:len(v)-1])
	case strings.HasSuffix(lower, "dbm"):
		u = string(model.SignalDBm)
		v = strings.TrimSpace(v[:len(v)-3])
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return model.Signal{}, fmt.Errorf("parse signal %q: %w", value, err)
		}
		n = int(math.Round(f))
	}
	switch u {
	case "percent", "pct":
		return model.PercentSignal(n), nil
	case "dbm":
		return model.DBmSignal(n), nil
	case "":
		return model.SignalFromRaw(n), nil
	}
	return model.Signal{}, fmt.Errorf("unknown signal unit %q", unit)
}

// Band maps a frequency ("2437", "2437 MHz", "5 GHz") to its band label.
func Band(freq string) string {
	f := strings.ToLower(strings.TrimSpace(freq))
	if f == "" {
		return ""
	}
	scale := 1.0
	switch {
	case strings.HasSuffix(f, "mhz"):
		f = strings.TrimSpace(strings.TrimSuffix(f, "mhz"))
	case strings.HasSuffix(f, "ghz"):
		f = strings.TrimSpace(strings.TrimSuffix(f, "ghz"))
		scale = 1000
	}
	v, err := strconv.ParseFloat(f, 64)
	if err != nil {
		return ""
	}
	mhz := v * scale
	if mhz < 100 {
		mhz *= 1000
	}
	switch {
	case mhz >= 2400 && mhz < 2500:
		return "2.4GHz"
	case mhz >= 5150 && mhz < 5925:
		return "5GHz"
	case mhz >= 5925 && mhz <= 7125:
		return "6GHz"
	}
	return ""
}

func BandFromChannel(ch int) string {
	switch {
	case ch >= 1 && ch <= 14:
		return "2.4GHz"
	case ch >= 32 && ch <= 177:
		return "5GHz"
	}
	return ""
}

// VendorPrefix is the OUI part of a colon separated BSSID.
func VendorPrefix(bssid string) string {
	if len(bssid) < 8 {
		return ""
	}
	return bssid[:8]
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
