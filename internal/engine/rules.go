package engine

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"wifiwatch/internal/model"
)

// The rule functions are pure: they look only at the averages handed to them
// and stamp candidates with now. IDs are assigned when an alert is appended.

// Degradation compares two consecutive windows of one pair. It fires when
// both are defined and the drop is strictly below threshold.
func Degradation(now time.Time, previous, recent model.WindowAverage, threshold float64) (model.Alert, bool) {
	prev, ok := previous.Value()
	if !ok {
		return model.Alert{}, false
	}
	cur, ok := recent.Value()
	if !ok {
		return model.Alert{}, false
	}
	delta := cur - prev
	if !(delta < threshold) {
		return model.Alert{}, false
	}
	return model.Alert{
		EmittedAt: now,
		Kind:      model.KindSignalDegradation,
		Severity:  model.SeverityWarning,
		Message:   fmt.Sprintf("Signal degradation detected for %s in %s", recent.NetworkID, recent.Location),
		Context: map[string]string{
			model.CtxLocation:    recent.Location,
			model.CtxNetworkID:   recent.NetworkID,
			model.CtxPreviousDBm: formatDBm(prev),
			model.CtxCurrentDBm:  formatDBm(cur),
			model.CtxDeltaDBm:    formatDBm(delta),
		},
	}, true
}

// PoorSignal emits one alert per group whose mean is strictly below floor.
// Input order is preserved.
func PoorSignal(now time.Time, avgs []model.WindowAverage, floor float64) []model.Alert {
	out := make([]model.Alert, 0)
	for _, avg := range avgs {
		mean, ok := avg.Value()
		if !ok || !(mean < floor) {
			continue
		}
		out = append(out, model.Alert{
			EmittedAt: now,
			Kind:      model.KindPoorSignal,
			Severity:  model.SeverityInfo,
			Message:   fmt.Sprintf("Poor signal detected for %s in %s", avg.NetworkID, avg.Location),
			Context: map[string]string{
				model.CtxLocation:  avg.Location,
				model.CtxNetworkID: avg.NetworkID,
				model.CtxMeanDBm:   formatDBm(mean),
			},
		})
	}
	return out
}

// Disappearance flags pairs present in old but absent from recent, sorted by
// location then network.
func Disappearance(now time.Time, old, recent map[model.Pair]struct{}, grace time.Duration) []model.Alert {
	missing := make([]model.Pair, 0)
	for pair := range old {
		if _, ok := recent[pair]; !ok {
			missing = append(missing, pair)
		}
	}
	model.SortPairs(missing)
	minutes := int(grace / time.Minute)
	out := make([]model.Alert, 0, len(missing))
	for _, p := range missing {
		out = append(out, model.Alert{
			EmittedAt: now,
			Kind:      model.KindNetworkDisappeared,
			Severity:  model.SeverityWarning,
			Message:   fmt.Sprintf("Network %s not seen in %s for %d minutes", p.NetworkID, p.Location, minutes),
			Context: map[string]string{
				model.CtxLocation:       p.Location,
				model.CtxNetworkID:      p.NetworkID,
				model.CtxMissingMinutes: strconv.Itoa(minutes),
			},
		})
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatDBm(v float64) string {
	return strconv.FormatFloat(round1(v), 'f', 1, 64)
}
