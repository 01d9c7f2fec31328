package normalize

import (
	"testing"
	"time"

	"wifiwatch/internal/config"
	"wifiwatch/internal/model"
)

func TestNormalizeNmcliFields(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.Parser.DefaultLocation = "Kitchen"
	m, err := Normalize(MeasurementFields{
		Timestamp: "2026-02-03 10:11:12",
		NetworkID: "HomeNet",
		BSSID:     "aa:bb:cc:dd:ee:ff",
		Signal:    "62",
		Channel:   "36",
		Frequency: "5180 MHz",
		Security:  "WPA2",
	}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.Location != "Kitchen" {
		t.Fatalf("expected default location, got %q", m.Location)
	}
	if m.Signal != model.PercentSignal(62) {
		t.Fatalf("expected percent signal, got %+v", m.Signal)
	}
	if m.FrequencyBand != "5GHz" || m.VendorPrefix != "AA:BB:CC" {
		t.Fatalf("unexpected band/vendor: %q %q", m.FrequencyBand, m.VendorPrefix)
	}
	if m.Channel == nil || *m.Channel != 36 {
		t.Fatalf("unexpected channel %v", m.Channel)
	}
	want := time.Date(2026, 2, 3, 10, 11, 12, 0, time.UTC)
	if !m.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %s, want %s", m.Timestamp, want)
	}
}

func TestNormalizeRequiresLocationAndNetwork(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := Normalize(MeasurementFields{NetworkID: "HomeNet", Signal: "50"}, cfg); err == nil {
		t.Fatalf("expected error without location")
	}
	if _, err := Normalize(MeasurementFields{Location: "Den", Signal: "50"}, cfg); err == nil {
		t.Fatalf("expected error without network")
	}
	if _, err := Normalize(MeasurementFields{Location: "Den", NetworkID: "n", Signal: "150%"}, cfg); err == nil {
		t.Fatalf("expected error for out of range percent")
	}
}

func TestParseSignal(t *testing.T) {
	cases := []struct {
		value, unit string
		want        model.Signal
	}{
		{"60", "", model.PercentSignal(60)},
		{"-65", "", model.DBmSignal(-65)},
		{"0", "", model.DBmSignal(0)},
		{"45%", "", model.PercentSignal(45)},
		{"-72 dBm", "", model.DBmSignal(-72)},
		{"30", "percent", model.PercentSignal(30)},
		{"-40", "dbm", model.DBmSignal(-40)},
		{"-70.6", "", model.DBmSignal(-71)},
		{"-70.4 dBm", "", model.DBmSignal(-70)},
		{"55.5%", "", model.PercentSignal(56)},
		{"79.9", "", model.PercentSignal(80)},
	}
	for _, tc := range cases {
		got, err := ParseSignal(tc.value, tc.unit)
		if err != nil {
			t.Fatalf("ParseSignal(%q, %q): %v", tc.value, tc.unit, err)
		}
		if got != tc.want {
			t.Fatalf("ParseSignal(%q, %q) = %+v, want %+v", tc.value, tc.unit, got, tc.want)
		}
	}
	if _, err := ParseSignal("strong", ""); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseSignal("10", "watts"); err == nil {
		t.Fatalf("expected unit error")
	}
}

func TestBand(t *testing.T) {
	cases := map[string]string{
		"2437":     "2.4GHz",
		"2412 MHz": "2.4GHz",
		"5.2 GHz":  "5GHz",
		"5745":     "5GHz",
		"5955 MHz": "6GHz",
		"":         "",
		"n/a":      "",
	}
	for in, want := range cases {
		if got := Band(in); got != want {
			t.Fatalf("Band(%q) = %q, want %q", in, got, want)
		}
	}
	if BandFromChannel(6) != "2.4GHz" || BandFromChannel(149) != "5GHz" {
		t.Fatalf("channel band mapping broken")
	}
}

func TestParseTimestamp(t *testing.T) {
	loc := time.UTC
	if _, err := ParseTimestamp("2026-02-03T10:11:12Z", loc); err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	ts, err := ParseTimestamp("1767225600", loc)
	if err != nil || ts.Unix() != 1767225600 {
		t.Fatalf("unix seconds: %v %v", ts, err)
	}
	ts, err = ParseTimestamp("1767225600123", loc)
	if err != nil || ts.UnixMilli() != 1767225600123 {
		t.Fatalf("unix millis: %v %v", ts, err)
	}
	if _, err := ParseTimestamp("yesterday", loc); err == nil {
		t.Fatalf("expected error")
	}
}
