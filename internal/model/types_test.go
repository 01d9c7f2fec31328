package model

import (
	"errors"
	"testing"
	"time"
)

func TestSignalFromRawConvertsOnlyPositive(t *testing.T) {
	cases := []struct {
		raw  int
		want float64
	}{
		{60, -70},
		{40, -80},
		{20, -90},
		{100, -50},
		{0, 0},
		{-65, -65},
	}
	for _, tc := range cases {
		if got := SignalFromRaw(tc.raw).ToDBm(); got != tc.want {
			t.Fatalf("raw %d: got %v want %v", tc.raw, got, tc.want)
		}
	}
}

func TestSignalTagIsNotReconverted(t *testing.T) {
	s := DBmSignal(-72)
	if got := s.ToDBm(); got != -72 {
		t.Fatalf("dbm signal converted: %v", got)
	}
	if got := PercentSignal(0).ToDBm(); got != -100 {
		t.Fatalf("percent 0: %v", got)
	}
}

func TestSignalValidate(t *testing.T) {
	if err := PercentSignal(101).Validate(); err == nil {
		t.Fatalf("expected percent range error")
	}
	if err := DBmSignal(5).Validate(); err == nil {
		t.Fatalf("expected positive dbm error")
	}
	if err := (Signal{Unit: "bars", Value: 3}).Validate(); err == nil {
		t.Fatalf("expected unknown unit error")
	}
	if err := DBmSignal(-40).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWindowHalfOpen(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	w, err := NewWindow(start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if !w.Contains(start) {
		t.Fatalf("start must be included")
	}
	if w.Contains(start.Add(time.Hour)) {
		t.Fatalf("end must be excluded")
	}
	if _, err := NewWindow(start, start); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestAlertContextAccessors(t *testing.T) {
	a := Alert{Context: map[string]string{CtxNetworkID: "HomeNet", CtxLocation: "Kitchen"}}
	if a.Location() != "Kitchen" || a.NetworkID() != "HomeNet" {
		t.Fatalf("context: %s %s", a.Location(), a.NetworkID())
	}
	if (Alert{}).Location() != "" {
		t.Fatalf("missing context must read empty")
	}
}
