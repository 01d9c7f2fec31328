package metrics

import (
	"sort"
	"sync"
	"time"

	"wifiwatch/internal/model"
)

// Store holds the window averages computed by the last sweep, grouped by
// location. Each Update replaces the whole snapshot.
type Store struct {
	mu         sync.RWMutex
	byLocation map[string]map[string]model.WindowAverage
	updatedAt  time.Time
	limit      int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byLocation: make(map[string]map[string]model.WindowAverage),
		limit:      limit,
	}
}

// Update swaps in the averages of a complete sweep. Locations and networks
// absent from avgs are dropped. Past the limit, locations are kept in name
// order.
func (s *Store) Update(avgs []model.WindowAverage) {
	next := make(map[string]map[string]model.WindowAverage)
	for _, avg := range avgs {
		if avg.Location == "" {
			continue
		}
		m, ok := next[avg.Location]
		if !ok {
			m = make(map[string]model.WindowAverage)
			next[avg.Location] = m
		}
		m[avg.NetworkID] = avg
	}
	if len(next) > s.limit {
		locations := make([]string, 0, len(next))
		for location := range next {
			locations = append(locations, location)
		}
		sort.Strings(locations)
		for _, location := range locations[s.limit:] {
			delete(next, location)
		}
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.byLocation = next
	s.updatedAt = now
	s.mu.Unlock()
}

func (s *Store) Get(location string) ([]model.WindowAverage, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byLocation[location]
	if !ok {
		return nil, time.Time{}, false
	}
	return sorted(m), s.updatedAt, true
}

func (s *Store) GetAll() map[string][]model.WindowAverage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.WindowAverage, len(s.byLocation))
	for location, m := range s.byLocation {
		out[location] = sorted(m)
	}
	return out
}

func sorted(m map[string]model.WindowAverage) []model.WindowAverage {
	pairs := make([]model.Pair, 0, len(m))
	for _, avg := range m {
		pairs = append(pairs, avg.Pair())
	}
	model.SortPairs(pairs)
	out := make([]model.WindowAverage, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, m[p.NetworkID])
	}
	return out
}
