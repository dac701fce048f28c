// Package service orchestrates ingestion, hazard analysis, the linear model and alerting.
package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/hazard-risk-service/internal/alert"
	"github.com/kjstillabower/hazard-risk-service/internal/cache"
	"github.com/kjstillabower/hazard-risk-service/internal/districts"
	"github.com/kjstillabower/hazard-risk-service/internal/hazard"
	"github.com/kjstillabower/hazard-risk-service/internal/model"
	"github.com/kjstillabower/hazard-risk-service/internal/models"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
	"github.com/kjstillabower/hazard-risk-service/internal/registry"
	"github.com/kjstillabower/hazard-risk-service/internal/store"
	"github.com/kjstillabower/hazard-risk-service/internal/validation"
)

// Feed labels for ingested observations.
const (
	FeedAdvanced   = "advanced"
	FeedSimplified = "simplified"
	FeedKafka      = "kafka"
)

// Publisher delivers emitted predictions downstream.
type Publisher interface {
	Publish(ctx context.Context, preds []models.RiskPrediction) error
}

// Broadcaster pushes emitted predictions to live subscribers. It must not block.
type Broadcaster interface {
	Broadcast(preds []models.RiskPrediction)
}

// Deps holds the collaborators of a RiskService. Store, Registry, Model and Alerts are
// required; the rest may be nil.
type Deps struct {
	Store       store.ObservationStore
	Registry    registry.PredictionRegistry
	Model       *model.LinearModel
	Alerts      *alert.Evaluator
	Cache       cache.Cache
	Publisher   Publisher
	Broadcaster Broadcaster
	Clock       clockwork.Clock
	Logger      *zap.Logger
}

// Config holds service-level settings.
type Config struct {
	LocationMinLength int
	LocationMaxLength int
	// CacheType labels cache metrics (memory, memcached).
	CacheType string
	// WeightsTarget describes where weights persist, reported by ModelInfo.
	WeightsTarget string
}

// RiskService owns the request-facing operations. Safe for concurrent use.
type RiskService struct {
	store       store.ObservationStore
	registry    registry.PredictionRegistry
	engine      *hazard.Engine
	model       *model.LinearModel
	alerts      *alert.Evaluator
	cache       cache.Cache
	publisher   Publisher
	broadcaster Broadcaster
	clock       clockwork.Clock
	logger      *zap.Logger
	cfg         Config
}

// NewRiskService wires a RiskService from deps.
func NewRiskService(deps Deps, cfg Config) *RiskService {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.CacheType == "" {
		cfg.CacheType = "memory"
	}
	return &RiskService{
		store:       deps.Store,
		registry:    deps.Registry,
		engine:      hazard.NewEngine(deps.Store, deps.Clock),
		model:       deps.Model,
		alerts:      deps.Alerts,
		cache:       deps.Cache,
		publisher:   deps.Publisher,
		broadcaster: deps.Broadcaster,
		clock:       deps.Clock,
		logger:      deps.Logger,
		cfg:         cfg,
	}
}

// loggerFromContext returns the request logger if present, else the service logger.
func (s *RiskService) loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// Ingest validates obs, canonicalizes its district and stores it. A zero timestamp is
// replaced with the current time. The stored observation is returned.
func (s *RiskService) Ingest(ctx context.Context, obs models.WeatherObservation) (models.WeatherObservation, error) {
	return s.ingest(ctx, obs, FeedAdvanced)
}

// IngestReading stores a simplified-feed reading.
func (s *RiskService) IngestReading(ctx context.Context, r models.SensorReading) (models.WeatherObservation, error) {
	return s.ingest(ctx, r.Observation(), FeedSimplified)
}

func (s *RiskService) ingest(ctx context.Context, obs models.WeatherObservation, feed string) (models.WeatherObservation, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherObservation{}, err
	}
	clean, err := s.normalize(obs)
	if err != nil {
		return models.WeatherObservation{}, err
	}
	s.store.Append(clean)
	observability.RecordObservation(feed, clean.District)
	s.loggerFromContext(ctx).Debug("observation stored",
		zap.String("feed", feed),
		zap.String("location", clean.Location),
		zap.String("district", clean.District))
	return clean, nil
}

func (s *RiskService) normalize(obs models.WeatherObservation) (models.WeatherObservation, error) {
	loc, err := validation.ValidateLocation(obs.Location, s.cfg.LocationMinLength, s.cfg.LocationMaxLength)
	if err != nil {
		return models.WeatherObservation{}, err
	}
	obs.Location = loc

	district := obs.District
	if len(district) == 0 {
		district = loc
	}
	if _, err := validation.ValidateLocation(district, 0, s.cfg.LocationMaxLength); err != nil {
		return models.WeatherObservation{}, validation.Invalid("district", "must be a valid place name")
	}
	obs.District = districts.Canonical(district)
	if obs.Province != "" {
		obs.Province = districts.Canonical(obs.Province)
	}

	if err := checkFinite(map[string]float64{
		"temperature":    obs.Temperature,
		"humidity":       obs.Humidity,
		"pressure":       obs.Pressure,
		"windSpeed":      obs.WindSpeed,
		"rainfall":       obs.Rainfall,
		"soilSaturation": obs.SoilSaturation,
	}); err != nil {
		return models.WeatherObservation{}, err
	}
	switch {
	case obs.Rainfall < 0:
		return models.WeatherObservation{}, validation.Invalid("rainfall", "must not be negative")
	case obs.WindSpeed < 0:
		return models.WeatherObservation{}, validation.Invalid("windSpeed", "must not be negative")
	case obs.Humidity < 0 || obs.Humidity > 100:
		return models.WeatherObservation{}, validation.Invalid("humidity", "must be between 0 and 100")
	case obs.SoilSaturation < 0 || obs.SoilSaturation > 100:
		return models.WeatherObservation{}, validation.Invalid("soilSaturation", "must be between 0 and 100")
	case obs.Pressure < 0:
		return models.WeatherObservation{}, validation.Invalid("pressure", "must not be negative")
	}

	if obs.Timestamp.IsZero() {
		obs.Timestamp = s.clock.Now()
	}
	obs.Timestamp = obs.Timestamp.UTC()
	return obs, nil
}

// Observations returns the exact-location history for the last hours hours.
func (s *RiskService) Observations(ctx context.Context, location string, hours int) ([]models.WeatherObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := validation.ValidateLocation(location, s.cfg.LocationMinLength, s.cfg.LocationMaxLength)
	if err != nil {
		return nil, err
	}
	if hours <= 0 {
		return nil, validation.Invalid("hours", "must be a positive integer")
	}
	return s.store.Window(loc, time.Duration(hours)*time.Hour), nil
}

// AnalyzeWeather stores obs, runs every hazard analyzer over it and records the predictions
// that fired. Downstream delivery failures are logged and do not fail the call.
func (s *RiskService) AnalyzeWeather(ctx context.Context, obs models.WeatherObservation) ([]models.RiskPrediction, error) {
	return s.analyze(ctx, obs, FeedAdvanced)
}

// HandleObservation analyzes an observation from the Kafka source topic.
func (s *RiskService) HandleObservation(ctx context.Context, obs models.WeatherObservation) error {
	_, err := s.analyze(ctx, obs, FeedKafka)
	return err
}

func (s *RiskService) analyze(ctx context.Context, obs models.WeatherObservation, feed string) ([]models.RiskPrediction, error) {
	stored, err := s.ingest(ctx, obs, feed)
	if err != nil {
		return nil, err
	}

	start := s.clock.Now()
	preds := s.engine.Assess(stored)
	observability.AnalysisDuration.Observe(s.clock.Since(start).Seconds())

	for _, p := range preds {
		s.registry.Record(p)
		observability.PredictionsEmittedTotal.WithLabelValues(string(p.HazardType), string(p.RiskLevel)).Inc()
	}

	logger := s.loggerFromContext(ctx)
	if len(preds) > 0 {
		logger.Info("risk predictions emitted",
			zap.String("district", stored.District),
			zap.Int("count", len(preds)))
	}
	s.deliver(ctx, logger, preds)
	return preds, nil
}

func (s *RiskService) deliver(ctx context.Context, logger *zap.Logger, preds []models.RiskPrediction) {
	if len(preds) == 0 {
		return
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(preds)
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, preds); err != nil {
		err = fmt.Errorf("%w: %w", ErrPublish, err)
		observability.RequestErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		logger.Warn("prediction publish failed", zap.Int("count", len(preds)), zap.Error(err))
	}
}

// ItemError reports the failure of one batch item by position.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchResult carries the predictions of the items that succeeded and the errors of those
// that did not.
type BatchResult struct {
	Predictions []models.RiskPrediction
	Errors      []ItemError
}

// AnalyzeBatch analyzes each observation independently. An invalid item does not stop the
// rest. A cancelled ctx stops the batch and is returned as the error.
func (s *RiskService) AnalyzeBatch(ctx context.Context, batch []models.WeatherObservation) (BatchResult, error) {
	if len(batch) == 0 {
		return BatchResult{}, validation.Missing("observations")
	}
	res := BatchResult{Predictions: make([]models.RiskPrediction, 0, len(batch))}
	for i, obs := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		preds, err := s.analyze(ctx, obs, FeedAdvanced)
		if err != nil {
			res.Errors = append(res.Errors, ItemError{Index: i, Err: err})
			continue
		}
		res.Predictions = append(res.Predictions, preds...)
	}
	return res, nil
}

// QueryPredictions returns non-expired predictions matching f. An unknown hazard filter is a
// validation error.
func (s *RiskService) QueryPredictions(f registry.Filter) ([]models.RiskPrediction, error) {
	if f.Hazard != "" {
		h, ok := models.ParseHazardType(f.Hazard)
		if !ok {
			return nil, validation.Invalid("hazardType", "must be one of flood, landslide, cyclone, drought")
		}
		f.Hazard = string(h)
	}
	return s.registry.Query(f), nil
}

// Predict scores f with the live model. Scores are memoized per weight vector when a cache is
// configured; cache failures fall through to a direct computation.
func (s *RiskService) Predict(ctx context.Context, f models.Features) (float64, error) {
	if err := checkFeatures("", f); err != nil {
		return 0, err
	}
	observability.ModelPredictionsTotal.Inc()
	w := s.model.Snapshot()
	if s.cache == nil {
		return model.PredictWith(w, f), nil
	}

	logger := s.loggerFromContext(ctx)
	key := cache.ScoreKey(w.String(), f)
	v, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.RequestErrorsTotal.WithLabelValues(string(ErrorCategoryCache)).Inc()
		logger.Warn("score cache get failed", zap.Error(fmt.Errorf("%w: %w", ErrCache, err)))
	case ok:
		observability.CacheHitsTotal.WithLabelValues(s.cfg.CacheType).Inc()
		return v, nil
	}
	observability.CacheMissesTotal.WithLabelValues(s.cfg.CacheType).Inc()

	score := model.PredictWith(w, f)
	if err := s.cache.Set(ctx, key, score); err != nil {
		observability.RequestErrorsTotal.WithLabelValues(string(ErrorCategoryCache)).Inc()
		logger.Warn("score cache set failed", zap.Error(fmt.Errorf("%w: %w", ErrCache, err)))
	}
	return score, nil
}

// Train validates every record and runs one training pass over the batch.
func (s *RiskService) Train(ctx context.Context, batch []models.TrainingRecord) (model.TrainResult, error) {
	for i, r := range batch {
		if err := checkFeatures(fmt.Sprintf("records[%d].", i), r); err != nil {
			return model.TrainResult{}, err
		}
	}
	return s.model.Train(ctx, batch)
}

// EvaluateAlert compares score against threshold, or the configured default when nil.
func (s *RiskService) EvaluateAlert(score float64, threshold *float64, channel, target string) (models.AlertResult, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return models.AlertResult{}, validation.Invalid("score", "must be a finite number")
	}
	if threshold != nil && (math.IsNaN(*threshold) || math.IsInf(*threshold, 0)) {
		return models.AlertResult{}, validation.Invalid("threshold", "must be a finite number")
	}
	return s.alerts.EvaluateAlert(score, threshold, channel, target), nil
}

// ModelInfo describes the live model and the classifier configuration.
type ModelInfo struct {
	Weights        map[string]float64           `json:"weights"`
	Epochs         int                          `json:"epochs"`
	LearningRate   float64                      `json:"learningRate"`
	Thresholds     map[string]hazard.Thresholds `json:"thresholds"`
	Districts      []string                     `json:"districts"`
	AlertThreshold float64                      `json:"alertThreshold"`
	WeightsTarget  string                       `json:"weightsTarget,omitempty"`
}

// ModelInfo returns a snapshot of the model configuration.
func (s *RiskService) ModelInfo() ModelInfo {
	table := hazard.ThresholdTable()
	thresholds := make(map[string]hazard.Thresholds, len(table))
	for h, t := range table {
		thresholds[string(h)] = t
	}
	return ModelInfo{
		Weights:        s.model.Snapshot().Map(),
		Epochs:         model.Epochs,
		LearningRate:   model.LearningRate,
		Thresholds:     thresholds,
		Districts:      districts.All(),
		AlertThreshold: s.alerts.Threshold(),
		WeightsTarget:  s.cfg.WeightsTarget,
	}
}

// pruner is implemented by registries that can drop expired predictions.
type pruner interface {
	Prune() int
}

// RunPruner compacts the registry every interval until ctx is done. It returns immediately
// when interval is not positive or the registry cannot prune.
func (s *RiskService) RunPruner(ctx context.Context, interval time.Duration) {
	p, ok := s.registry.(pruner)
	if !ok || interval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := p.Prune(); n > 0 {
				s.logger.Info("expired predictions pruned", zap.Int("removed", n), zap.Int("remaining", s.registry.Len()))
			}
		}
	}
}

func checkFeatures(prefix string, f models.Features) error {
	return checkFinite(map[string]float64{
		prefix + "rainMm":      f.RainMm,
		prefix + "windKph":     f.WindKph,
		prefix + "tempC":       f.TempC,
		prefix + "humidityPct": f.HumidityPct,
		prefix + "soilSatPct":  f.SoilSatPct,
	})
}

// checkFinite rejects NaN and infinities. Field order in the error is not stable when
// several are bad.
func checkFinite(fields map[string]float64) error {
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return validation.Invalid(name, "must be a finite number")
		}
	}
	return nil
}
