// Package aggregate reduces stored measurements to per-network window
// averages in dBm.
package aggregate

import (
	"context"
	"sort"

	"wifiwatch/internal/model"
	"wifiwatch/internal/storage"
)

type Aggregator struct {
	store storage.SampleReader
}

func New(store storage.SampleReader) *Aggregator {
	return &Aggregator{store: store}
}

type accumulator struct {
	sum float64
	n   int
}

func (a *accumulator) add(m model.Measurement) {
	a.sum += m.Signal.ToDBm()
	a.n++
}

func (a accumulator) result(pair model.Pair, w model.Window) model.WindowAverage {
	avg := model.WindowAverage{
		Location:  pair.Location,
		NetworkID: pair.NetworkID,
		Start:     w.Start,
		End:       w.End,
		Samples:   a.n,
	}
	if a.n > 0 {
		mean := a.sum / float64(a.n)
		avg.MeanDBm = &mean
	}
	return avg
}

// Average returns the mean converted signal of one network at one location.
// A window without samples yields an average with a nil MeanDBm.
func (a *Aggregator) Average(ctx context.Context, location, networkID string, w model.Window) (model.WindowAverage, error) {
	if err := w.Validate(); err != nil {
		return model.WindowAverage{}, err
	}
	rows, err := a.store.QueryMeasurements(ctx, storage.Filter{Location: location, NetworkID: networkID, Window: w})
	if err != nil {
		return model.WindowAverage{}, err
	}
	var acc accumulator
	for _, m := range rows {
		acc.add(m)
	}
	return acc.result(model.Pair{Location: location, NetworkID: networkID}, w), nil
}

// AveragesByNetwork returns one average per (location, network) present in
// the window, sorted by location then network. An empty location covers
// every location. Groups without samples do not appear.
func (a *Aggregator) AveragesByNetwork(ctx context.Context, location string, w model.Window) ([]model.WindowAverage, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	rows, err := a.store.QueryMeasurements(ctx, storage.Filter{Location: location, Window: w})
	if err != nil {
		return nil, err
	}
	groups := make(map[model.Pair]*accumulator)
	for _, m := range rows {
		acc, ok := groups[m.Pair()]
		if !ok {
			acc = &accumulator{}
			groups[m.Pair()] = acc
		}
		acc.add(m)
	}
	out := make([]model.WindowAverage, 0, len(groups))
	for pair, acc := range groups {
		out = append(out, acc.result(pair, w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair().Less(out[j].Pair()) })
	return out, nil
}

// Presence returns the pairs with at least one sample in the window.
func (a *Aggregator) Presence(ctx context.Context, w model.Window) (map[model.Pair]struct{}, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	rows, err := a.store.QueryMeasurements(ctx, storage.Filter{Window: w})
	if err != nil {
		return nil, err
	}
	seen := make(map[model.Pair]struct{})
	for _, m := range rows {
		seen[m.Pair()] = struct{}{}
	}
	return seen, nil
}
