package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

type SignalUnit string

const (
	SignalPercent SignalUnit = "percent"
	SignalDBm     SignalUnit = "dbm"
)

// Signal is a reading tagged with its unit so a percent value is never
// mistaken for dBm or converted twice.
type Signal struct {
	Unit  SignalUnit `json:"unit"`
	Value int        `json:"value"`
}

func PercentSignal(v int) Signal {
	return Signal{Unit: SignalPercent, Value: v}
}

func DBmSignal(v int) Signal {
	return Signal{Unit: SignalDBm, Value: v}
}

// SignalFromRaw classifies an untagged integer: positive values are percent,
// zero and negative values are already dBm.
func SignalFromRaw(raw int) Signal {
	if raw > 0 {
		return PercentSignal(raw)
	}
	return DBmSignal(raw)
}

func (s Signal) ToDBm() float64 {
	if s.Unit == SignalPercent {
		return float64(s.Value)/2.0 - 100.0
	}
	return float64(s.Value)
}

func (s Signal) Validate() error {
	switch s.Unit {
	case SignalPercent:
		if s.Value < 0 || s.Value > 100 {
			return fmt.Errorf("percent signal out of range: %d", s.Value)
		}
	case SignalDBm:
		if s.Value > 0 {
			return fmt.Errorf("dbm signal must not be positive: %d", s.Value)
		}
	default:
		return fmt.Errorf("unknown signal unit: %q", s.Unit)
	}
	return nil
}

type Measurement struct {
	Timestamp     time.Time `json:"timestamp"`
	Location      string    `json:"location" validate:"required"`
	NetworkID     string    `json:"network_id" validate:"required"`
	BSSID         string    `json:"bssid,omitempty"`
	Signal        Signal    `json:"signal"`
	Channel       *int      `json:"channel,omitempty"`
	FrequencyBand string    `json:"frequency_band,omitempty"`
	Security      string    `json:"security,omitempty"`
	VendorPrefix  string    `json:"vendor_prefix,omitempty"`
	Source        string    `json:"source,omitempty"`
}

func (m Measurement) Pair() Pair {
	return Pair{Location: m.Location, NetworkID: m.NetworkID}
}

type Pair struct {
	Location  string `json:"location"`
	NetworkID string `json:"network_id"`
}

func (p Pair) Less(o Pair) bool {
	if p.Location != o.Location {
		return p.Location < o.Location
	}
	return p.NetworkID < o.NetworkID
}

func SortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
}

var ErrInvalidRange = errors.New("invalid range: start must be before end")

// Window is the half-open range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Trailing returns [now-d, now).
func Trailing(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

func (w Window) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: [%s, %s)", ErrInvalidRange, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// WindowAverage is derived and never persisted. MeanDBm is nil when the
// window held no samples; that is distinct from any real reading.
type WindowAverage struct {
	Location  string    `json:"location"`
	NetworkID string    `json:"network_id"`
	Start     time.Time `json:"window_start"`
	End       time.Time `json:"window_end"`
	MeanDBm   *float64  `json:"mean_dbm"`
	Samples   int       `json:"samples"`
}

func (w WindowAverage) Value() (float64, bool) {
	if w.MeanDBm == nil {
		return 0, false
	}
	return *w.MeanDBm, true
}

func (w WindowAverage) Pair() Pair {
	return Pair{Location: w.Location, NetworkID: w.NetworkID}
}

type AlertKind string

const (
	KindSignalDegradation  AlertKind = "signal_degradation"
	KindPoorSignal         AlertKind = "poor_signal"
	KindNetworkDisappeared AlertKind = "network_disappeared"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CtxLocation       = "location"
	CtxNetworkID      = "network_id"
	CtxPreviousDBm    = "previous_dbm"
	CtxCurrentDBm     = "current_dbm"
	CtxDeltaDBm       = "delta_dbm"
	CtxMeanDBm        = "mean_dbm"
	CtxMissingMinutes = "missing_minutes"
)

type Alert struct {
	ID        string            `json:"id"`
	EmittedAt time.Time         `json:"emitted_at"`
	Kind      AlertKind         `json:"kind"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

func (a Alert) Location() string {
	return a.Context[CtxLocation]
}

func (a Alert) NetworkID() string {
	return a.Context[CtxNetworkID]
}
