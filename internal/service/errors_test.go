package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjstillabower/hazard-risk-service/internal/circuitbreaker"
	"github.com/kjstillabower/hazard-risk-service/internal/model"
	"github.com/kjstillabower/hazard-risk-service/internal/validation"
)

// TestCategorizeError verifies that errors map to stable metric labels.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"field error", validation.Missing("location"), ErrorCategoryValidation},
		{"empty batch", validation.ErrEmptyBatch, ErrorCategoryValidation},
		{"deadline", fmt.Errorf("train: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"persistence", &model.PersistenceError{Op: "save", Target: "file:w", Err: errors.New("disk full")}, ErrorCategoryPersistence},
		{"publish", fmt.Errorf("%w: %w", ErrPublish, errors.New("leader not available")), ErrorCategoryPublish},
		{"breaker open", circuitbreaker.ErrOpen, ErrorCategoryPublish},
		{"cache", fmt.Errorf("%w: miss", ErrCache), ErrorCategoryCache},
		{"network", errors.New("dial tcp: connection refused"), ErrorCategoryNetwork},
		{"other", errors.New("boom"), ErrorCategoryUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategorizeError(tc.err); got != tc.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
