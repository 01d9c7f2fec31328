// Package analysis summarises stored measurements for operators: channel
// congestion on 2.4GHz, per-network statistics and the latest raw samples.
// Nothing here feeds the alert rules.
package analysis

import (
	"context"
	"sort"
	"time"

	"wifiwatch/internal/model"
	"wifiwatch/internal/storage"
)

const (
	// TopNetworks bounds NetworkStats.TopNetworks.
	TopNetworks = 10
	// DefaultLatest is the sample count Latest returns when limit <= 0.
	DefaultLatest = 50
)

// NonOverlapping are the 2.4GHz channels that do not interfere with each
// other. BestChannel is always one of them.
var NonOverlapping = []int{1, 6, 11}

type Analyzer struct {
	store storage.SampleReader
}

func New(store storage.SampleReader) *Analyzer {
	return &Analyzer{store: store}
}

type ChannelStat struct {
	Channel  int      `json:"channel"`
	Networks int      `json:"networks"`
	MeanDBm  *float64 `json:"mean_dbm"`
}

type ChannelReport struct {
	Start          time.Time     `json:"window_start"`
	End            time.Time     `json:"window_end"`
	Channels       []ChannelStat `json:"channels"`
	BestChannel    int           `json:"best_channel,omitempty"`
	NonOverlapping []int         `json:"non_overlapping_channels"`
	TotalNetworks  int           `json:"total_networks_24ghz"`
	Message        string        `json:"message,omitempty"`
}

// Channels counts distinct networks per 2.4GHz channel (1-14) and picks the
// least used of the non-overlapping channels, the first one on ties.
// Samples without a channel are ignored.
func (a *Analyzer) Channels(ctx context.Context, w model.Window) (ChannelReport, error) {
	rows, err := a.store.QueryMeasurements(ctx, storage.Filter{Window: w})
	if err != nil {
		return ChannelReport{}, err
	}
	type acc struct {
		networks map[string]struct{}
		sum      float64
		n        int
	}
	var perChannel [15]acc
	all := make(map[string]struct{})
	for _, m := range rows {
		if m.Channel == nil || *m.Channel < 1 || *m.Channel > 14 {
			continue
		}
		c := &perChannel[*m.Channel]
		if c.networks == nil {
			c.networks = make(map[string]struct{})
		}
		c.networks[m.NetworkID] = struct{}{}
		c.sum += m.Signal.ToDBm()
		c.n++
		all[m.NetworkID] = struct{}{}
	}

	report := ChannelReport{
		Start:          w.Start,
		End:            w.End,
		Channels:       make([]ChannelStat, 0, 14),
		NonOverlapping: NonOverlapping,
		TotalNetworks:  len(all),
	}
	for ch := 1; ch <= 14; ch++ {
		stat := ChannelStat{Channel: ch, Networks: len(perChannel[ch].networks)}
		if n := perChannel[ch].n; n > 0 {
			mean := perChannel[ch].sum / float64(n)
			stat.MeanDBm = &mean
		}
		report.Channels = append(report.Channels, stat)
	}
	if len(all) == 0 {
		report.Message = "no 2.4GHz channel data"
		return report, nil
	}
	best := NonOverlapping[0]
	for _, ch := range NonOverlapping[1:] {
		if report.Channels[ch-1].Networks < report.Channels[best-1].Networks {
			best = ch
		}
	}
	report.BestChannel = best
	return report, nil
}

type NetworkCount struct {
	NetworkID string `json:"network_id"`
	Samples   int    `json:"samples"`
}

type NetworkStats struct {
	Start           time.Time          `json:"window_start"`
	End             time.Time          `json:"window_end"`
	TotalSamples    int                `json:"total_samples"`
	UniqueNetworks  int                `json:"unique_networks"`
	UniqueLocations int                `json:"unique_locations"`
	First           *time.Time         `json:"first,omitempty"`
	Last            *time.Time         `json:"last,omitempty"`
	TopNetworks     []NetworkCount     `json:"top_networks"`
	SecurityTypes   map[string]int     `json:"security_types"`
	MeanDBmByRoom   map[string]float64 `json:"mean_dbm_by_location"`
}

// Networks reports sample counts, the most frequently seen networks,
// security mix and mean signal per location over w.
func (a *Analyzer) Networks(ctx context.Context, w model.Window) (NetworkStats, error) {
	rows, err := a.store.QueryMeasurements(ctx, storage.Filter{Window: w})
	if err != nil {
		return NetworkStats{}, err
	}
	st := NetworkStats{
		Start:         w.Start,
		End:           w.End,
		TotalSamples:  len(rows),
		TopNetworks:   make([]NetworkCount, 0),
		SecurityTypes: make(map[string]int),
		MeanDBmByRoom: make(map[string]float64),
	}
	if len(rows) == 0 {
		return st, nil
	}
	counts := make(map[string]int)
	sums := make(map[string]float64)
	perRoom := make(map[string]int)
	for _, m := range rows {
		counts[m.NetworkID]++
		security := m.Security
		if security == "" {
			security = "unknown"
		}
		st.SecurityTypes[security]++
		sums[m.Location] += m.Signal.ToDBm()
		perRoom[m.Location]++
	}
	// rows are ordered by timestamp
	first, last := rows[0].Timestamp, rows[len(rows)-1].Timestamp
	st.First, st.Last = &first, &last
	st.UniqueNetworks = len(counts)
	st.UniqueLocations = len(perRoom)
	for loc, n := range perRoom {
		st.MeanDBmByRoom[loc] = sums[loc] / float64(n)
	}
	for id, n := range counts {
		st.TopNetworks = append(st.TopNetworks, NetworkCount{NetworkID: id, Samples: n})
	}
	sort.Slice(st.TopNetworks, func(i, j int) bool {
		if st.TopNetworks[i].Samples != st.TopNetworks[j].Samples {
			return st.TopNetworks[i].Samples > st.TopNetworks[j].Samples
		}
		return st.TopNetworks[i].NetworkID < st.TopNetworks[j].NetworkID
	})
	if len(st.TopNetworks) > TopNetworks {
		st.TopNetworks = st.TopNetworks[:TopNetworks]
	}
	return st, nil
}

// Latest returns the newest limit samples in w, oldest first.
func (a *Analyzer) Latest(ctx context.Context, w model.Window, limit int) ([]model.Measurement, error) {
	if limit <= 0 {
		limit = DefaultLatest
	}
	rows, err := a.store.QueryMeasurements(ctx, storage.Filter{Window: w})
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, nil
}
