// Package alert turns risk scores into alert decisions.
package alert

import (
	"go.uber.org/zap"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
)

// DefaultThreshold is used when config leaves alert.threshold unset.
const DefaultThreshold = 0.65

// Evaluate returns AlertAlerted when score reaches threshold and AlertOK otherwise.
func Evaluate(score, threshold float64) models.AlertDecision {
	if score >= threshold {
		return models.AlertAlerted
	}
	return models.AlertOK
}

// Evaluator applies a configured default threshold and records every decision.
type Evaluator struct {
	threshold float64
	logger    *zap.Logger
}

// NewEvaluator creates an Evaluator. A non-positive threshold falls back to DefaultThreshold.
func NewEvaluator(threshold float64, logger *zap.Logger) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{threshold: threshold, logger: logger}
}

// Threshold returns the default threshold.
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// EvaluateAlert decides for score. threshold overrides the default when non-nil.
// channel and target are passed through untouched for the caller's router.
func (e *Evaluator) EvaluateAlert(score float64, threshold *float64, channel, target string) models.AlertResult {
	t := e.threshold
	if threshold != nil {
		t = *threshold
	}
	decision := Evaluate(score, t)
	observability.AlertDecisionsTotal.WithLabelValues(string(decision)).Inc()

	fields := []zap.Field{
		zap.Float64("score", score),
		zap.Float64("threshold", t),
		zap.String("decision", string(decision)),
	}
	if channel != "" {
		fields = append(fields, zap.String("channel", channel))
	}
	if target != "" {
		fields = append(fields, zap.String("target", target))
	}
	if decision == models.AlertAlerted {
		e.logger.Warn("risk alert raised", fields...)
	} else {
		e.logger.Debug("risk below alert threshold", fields...)
	}

	return models.AlertResult{Decision: decision, Score: score, Threshold: t, Channel: channel, Target: target}
}
