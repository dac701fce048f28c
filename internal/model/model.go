// Package model implements the online linear risk model and its weight persistence.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
	"github.com/kjstillabower/hazard-risk-service/internal/validation"
)

// Training constants. Changing them changes every trained vector.
const (
	Epochs       = 200
	LearningRate = 0.01
)

// MaxFeatureMagnitude bounds every raw training input. Larger values overflow the gradient.
const MaxFeatureMagnitude = 1e6

// TrainResult summarizes one training call.
type TrainResult struct {
	RowsUsed  int     `json:"rowsUsed"`
	Epochs    int     `json:"epochs"`
	Weights   Weights `json:"-"`
	Persisted bool    `json:"persisted"`
}

// LinearModel scores features with a single live weight vector.
// Readers take mu.RLock; the vector is replaced whole under mu.Lock, so no reader sees a mix.
// trainMu serializes Train and Replace.
type LinearModel struct {
	mu      sync.RWMutex
	weights Weights

	trainMu sync.Mutex
	store   WeightStore
	logger  *zap.Logger
}

// NewLinearModel returns a model with default weights. store may be nil to disable persistence.
func NewLinearModel(store WeightStore, logger *zap.Logger) *LinearModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinearModel{weights: DefaultWeights, store: store, logger: logger}
}

// Load replaces the live weights with the persisted vector. Any load failure keeps the defaults.
func (m *LinearModel) Load(ctx context.Context) {
	if m.store == nil {
		return
	}
	w, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoWeights):
		m.logger.Info("no persisted weights, using defaults", zap.String("target", m.store.Target()))
		return
	case err != nil:
		observability.WeightPersistErrorsTotal.WithLabelValues("load").Inc()
		m.logger.Warn("persisted weights unreadable, using defaults",
			zap.String("target", m.store.Target()), zap.Error(err))
		return
	}
	m.set(w)
	m.logger.Info("weights loaded", zap.String("target", m.store.Target()), zap.String("weights", w.String()))
}

// Snapshot returns a copy of the live weights.
func (m *LinearModel) Snapshot() Weights {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights
}

// Replace swaps in w if it differs from the live vector and reports whether it did.
// It waits for any running Train, so a reload is never lost under a training result.
func (m *LinearModel) Replace(w Weights) bool {
	m.trainMu.Lock()
	defer m.trainMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.weights == w {
		return false
	}
	m.weights = w
	return true
}

func (m *LinearModel) set(w Weights) {
	m.mu.Lock()
	m.weights = w
	m.mu.Unlock()
}

// Predict scores the features in [0,1].
func (m *LinearModel) Predict(f models.Features) float64 {
	return PredictWith(m.Snapshot(), f)
}

// PredictWith scores f against an explicit weight vector, so a caller holding a snapshot
// gets a score consistent with it.
func PredictWith(w Weights, f models.Features) float64 {
	return score(w, normalize(f))
}

// Train runs Epochs rounds of full-batch gradient descent starting from the live weights,
// swaps the result in and persists it. A persist failure is logged and reported through
// TrainResult.Persisted; it does not fail the call. Inputs outside MaxFeatureMagnitude, or a
// run that ends with non-finite weights, fail with a validation error and change nothing.
//
// The target for every row is its own normalized rainfall feature, so training pulls the
// model toward reproducing that input rather than any observed outcome.
func (m *LinearModel) Train(ctx context.Context, batch []models.TrainingRecord) (TrainResult, error) {
	if len(batch) == 0 {
		observability.TrainingRunsTotal.WithLabelValues("empty_batch").Inc()
		return TrainResult{}, validation.ErrEmptyBatch
	}

	for i, r := range batch {
		if err := checkRecord(i, r); err != nil {
			observability.TrainingRunsTotal.WithLabelValues("invalid").Inc()
			return TrainResult{}, err
		}
	}

	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	start := time.Now()
	xs := make([][numWeights - 1]float64, len(batch))
	for i, r := range batch {
		xs[i] = normalize(r)
	}
	w := fit(m.Snapshot(), xs)
	if !w.finite() {
		observability.TrainingRunsTotal.WithLabelValues("diverged").Inc()
		m.logger.Warn("training diverged, weights unchanged", zap.Int("rows", len(batch)))
		return TrainResult{}, validation.Invalid("records", "training diverged to non-finite weights")
	}
	m.set(w)

	observability.TrainingRunsTotal.WithLabelValues("success").Inc()
	observability.TrainingRowsTotal.Add(float64(len(batch)))
	observability.TrainingDuration.Observe(time.Since(start).Seconds())

	result := TrainResult{RowsUsed: len(batch), Epochs: Epochs, Weights: w}
	if m.store != nil {
		if err := m.store.Save(ctx, w); err != nil {
			observability.WeightPersistErrorsTotal.WithLabelValues("save").Inc()
			m.logger.Warn("weights not persisted", zap.String("target", m.store.Target()), zap.Error(err))
		} else {
			result.Persisted = true
		}
	}
	m.logger.Info("model trained",
		zap.Int("rows", len(batch)),
		zap.String("weights", w.String()),
		zap.Bool("persisted", result.Persisted),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// fit runs the epoch loop on a local copy of w.
func fit(w Weights, xs [][numWeights - 1]float64) Weights {
	n := float64(len(xs))
	for epoch := 0; epoch < Epochs; epoch++ {
		var grad Weights
		for _, x := range xs {
			y := x[WRain]
			err := score(w, x) - y
			for j := 0; j < Bias; j++ {
				grad[j] += err * x[j]
			}
			grad[Bias] += err
		}
		for j := range w {
			w[j] -= LearningRate * (grad[j] / n)
		}
	}
	return w
}

func checkRecord(i int, r models.TrainingRecord) error {
	fields := [...]struct {
		name string
		v    float64
	}{
		{"rainMm", r.RainMm},
		{"windKph", r.WindKph},
		{"tempC", r.TempC},
		{"humidityPct", r.HumidityPct},
		{"soilSatPct", r.SoilSatPct},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || math.Abs(f.v) > MaxFeatureMagnitude {
			return validation.Invalid(fmt.Sprintf("records[%d].%s", i, f.name),
				fmt.Sprintf("must be a finite number within ±%g", float64(MaxFeatureMagnitude)))
		}
	}
	return nil
}

func normalize(f models.Features) [numWeights - 1]float64 {
	return [numWeights - 1]float64{
		f.RainMm / 200,
		f.WindKph / 120,
		(40 - f.TempC) / 40,
		f.HumidityPct / 100,
		f.SoilSatPct / 100,
	}
}

func score(w Weights, x [numWeights - 1]float64) float64 {
	s := w[Bias]
	for j := 0; j < Bias; j++ {
		s += w[j] * x[j]
	}
	return clamp01(s)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
