package service

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/hazard-risk-service/internal/circuitbreaker"
	"github.com/kjstillabower/hazard-risk-service/internal/model"
	"github.com/kjstillabower/hazard-risk-service/internal/validation"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the requestErrorsTotal label.
const (
	ErrorCategoryValidation  ErrorCategory = "validation"
	ErrorCategoryPersistence ErrorCategory = "persistence"
	ErrorCategoryPublish     ErrorCategory = "publish"
	ErrorCategoryCache       ErrorCategory = "cache"
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// ErrPublish wraps failures delivering predictions to the sink topic.
var ErrPublish = errors.New("publish predictions")

// ErrCache wraps score cache failures.
var ErrCache = errors.New("score cache")

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, validation.ErrInvalid) {
		return ErrorCategoryValidation
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	var pe *model.PersistenceError
	if errors.As(err, &pe) || errors.Is(err, model.ErrNoWeights) {
		return ErrorCategoryPersistence
	}
	if errors.Is(err, ErrPublish) || errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryPublish
	}
	if errors.Is(err, ErrCache) {
		return ErrorCategoryCache
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	return ErrorCategoryUnknown
}
