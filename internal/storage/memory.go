package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"wifiwatch/internal/model"
)

// memoryStore keeps everything in process. Used for tests and for
// deployments that do not need history across restarts.
type memoryStore struct {
	mu           sync.RWMutex
	measurements []model.Measurement
	alerts       []model.Alert
}

func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) Init(context.Context) error { return nil }
func (s *memoryStore) Close() error               { return nil }

func (s *memoryStore) AppendMeasurements(_ context.Context, ms []model.Measurement) error {
	if len(ms) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		m.Timestamp = m.Timestamp.UTC()
		s.measurements = append(s.measurements, m)
	}
	return nil
}

func (s *memoryStore) QueryMeasurements(_ context.Context, f Filter) ([]model.Measurement, error) {
	if err := f.Window.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Measurement, 0)
	for _, m := range s.measurements {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memoryStore) DeleteMeasurementsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.measurements[:0]
	var removed int64
	for _, m := range s.measurements {
		if m.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.measurements = kept
	return removed, nil
}

func (s *memoryStore) SaveAlert(_ context.Context, alert model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *memoryStore) AlertsSince(_ context.Context, since time.Time) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.alerts {
		if !a.EmittedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memoryStore) DeleteAlertsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.alerts[:0]
	var removed int64
	for _, a := range s.alerts {
		if a.EmittedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.alerts = kept
	return removed, nil
}

func (s *memoryStore) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Measurements: int64(len(s.measurements)), Alerts: int64(len(s.alerts))}
	networks := make(map[string]struct{})
	locations := make(map[string]struct{})
	for i, m := range s.measurements {
		networks[m.NetworkID] = struct{}{}
		locations[m.Location] = struct{}{}
		ts := m.Timestamp
		if i == 0 || ts.Before(*st.First) {
			first := ts
			st.First = &first
		}
		if i == 0 || ts.After(*st.Last) {
			last := ts
			st.Last = &last
		}
	}
	st.Networks = int64(len(networks))
	st.Locations = int64(len(locations))
	return st, nil
}
