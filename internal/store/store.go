// Package store keeps the process-local, append-only observation history.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
)

// ObservationStore is the append-only history the analyzers read lookback windows from.
// Implementations must be safe for concurrent use.
type ObservationStore interface {
	Append(obs models.WeatherObservation)
	// Window matches location exactly, including case.
	Window(location string, d time.Duration) []models.WeatherObservation
	// WindowByDistrict matches district ignoring case.
	WindowByDistrict(district string, d time.Duration) []models.WeatherObservation
	Len() int
}

// InMemoryStore implements ObservationStore with a slice scan. Retention is unbounded.
type InMemoryStore struct {
	mu    sync.RWMutex
	obs   []models.WeatherObservation
	clock clockwork.Clock
}

// NewInMemoryStore returns an empty store. A nil clock uses real time.
func NewInMemoryStore(clock clockwork.Clock) *InMemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryStore{clock: clock}
}

// Append stores one observation.
func (s *InMemoryStore) Append(obs models.WeatherObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, obs)
}

// Window returns observations for location with timestamps in [now-d, now].
func (s *InMemoryStore) Window(location string, d time.Duration) []models.WeatherObservation {
	return s.scan(d, func(o models.WeatherObservation) bool {
		return o.Location == location
	})
}

// WindowByDistrict returns observations for district with timestamps in [now-d, now].
func (s *InMemoryStore) WindowByDistrict(district string, d time.Duration) []models.WeatherObservation {
	district = strings.TrimSpace(district)
	return s.scan(d, func(o models.WeatherObservation) bool {
		return strings.EqualFold(o.District, district)
	})
}

// Len returns the number of stored observations.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.obs)
}

func (s *InMemoryStore) scan(d time.Duration, match func(models.WeatherObservation) bool) []models.WeatherObservation {
	now := s.clock.Now()
	from := now.Add(-d)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WeatherObservation, 0)
	for _, o := range s.obs {
		if o.Timestamp.Before(from) || o.Timestamp.After(now) {
			continue
		}
		if match(o) {
			out = append(out, o)
		}
	}
	return out
}
