// Package registry records emitted risk predictions and serves the non-expired ones.
package registry

import (
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
)

// Filter narrows a query. Empty fields match everything; comparisons ignore case.
type Filter struct {
	District string
	Hazard   string
}

// Matches reports whether p satisfies f. Expiry is not considered.
func (f Filter) Matches(p models.RiskPrediction) bool {
	district := strings.TrimSpace(f.District)
	hazard := strings.TrimSpace(f.Hazard)
	if district != "" && !strings.EqualFold(p.District, district) {
		return false
	}
	if hazard != "" && !strings.EqualFold(string(p.HazardType), hazard) {
		return false
	}
	return true
}

// PredictionRegistry stores predictions and filters out expired ones at query time.
type PredictionRegistry interface {
	Record(p models.RiskPrediction)
	Query(f Filter) []models.RiskPrediction
	Len() int
}

// InMemoryRegistry implements PredictionRegistry. Growth is unbounded unless Prune is called.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	preds []models.RiskPrediction
	clock clockwork.Clock
}

// NewInMemoryRegistry returns an empty registry. A nil clock uses real time.
func NewInMemoryRegistry(clock clockwork.Clock) *InMemoryRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryRegistry{clock: clock}
}

// Record appends a prediction.
func (r *InMemoryRegistry) Record(p models.RiskPrediction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preds = append(r.preds, p)
}

// Query returns predictions still valid now that match f, oldest first.
func (r *InMemoryRegistry) Query(f Filter) []models.RiskPrediction {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RiskPrediction, 0)
	for _, p := range r.preds {
		if p.ActiveAt(now) && f.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of stored predictions, expired ones included.
func (r *InMemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.preds)
}

// Prune drops expired predictions and returns how many were removed.
func (r *InMemoryRegistry) Prune() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.preds[:0]
	for _, p := range r.preds {
		if p.ActiveAt(now) {
			kept = append(kept, p)
		}
	}
	removed := len(r.preds) - len(kept)
	for i := len(kept); i < len(r.preds); i++ {
		r.preds[i] = models.RiskPrediction{}
	}
	r.preds = kept
	return removed
}
