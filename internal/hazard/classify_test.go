package hazard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		hazard models.HazardType
		score  float64
		want   models.RiskLevel
	}{
		{models.HazardFlood, 0.8, models.RiskCritical},
		{models.HazardFlood, 0.79, models.RiskHigh},
		{models.HazardFlood, 0.6, models.RiskHigh},
		{models.HazardFlood, 0.4, models.RiskMedium},
		{models.HazardFlood, 0.39, models.RiskLow},
		{models.HazardLandslide, 0.75, models.RiskCritical},
		{models.HazardLandslide, 0.55, models.RiskHigh},
		{models.HazardLandslide, 0.35, models.RiskMedium},
		{models.HazardLandslide, 0.34, models.RiskLow},
		{models.HazardCyclone, 0.85, models.RiskCritical},
		{models.HazardCyclone, 0.65, models.RiskHigh},
		{models.HazardCyclone, 0.45, models.RiskMedium},
		{models.HazardCyclone, 0.44, models.RiskLow},
		{models.HazardDrought, 0.7, models.RiskCritical},
		{models.HazardDrought, 0.5, models.RiskHigh},
		{models.HazardDrought, 0.3, models.RiskMedium},
		{models.HazardDrought, 0.0, models.RiskLow},
		{models.HazardType("tsunami"), 1.0, models.RiskLow},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Classify(tc.hazard, tc.score), "Classify(%s, %v)", tc.hazard, tc.score)
	}
}

// TestClassify_Monotonic verifies that a rising score never lowers the level for a fixed hazard.
func TestClassify_Monotonic(t *testing.T) {
	for _, h := range models.HazardTypes {
		prev := models.RiskLow
		for i := 0; i <= 1000; i++ {
			score := float64(i) / 1000
			level := Classify(h, score)
			if level.Rank() < prev.Rank() {
				t.Fatalf("Classify(%s, %v) = %s, lower than previous %s", h, score, level, prev)
			}
			prev = level
		}
		assert.Equal(t, models.RiskCritical, prev, "score 1.0 should be critical for %s", h)
	}
}

func TestConfidenceFor(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Confidence
	}{
		{1.0, models.ConfidenceHigh},
		{0.8, models.ConfidenceHigh},
		{0.79, models.ConfidenceMedium},
		{0.5, models.ConfidenceMedium},
		{0.49, models.ConfidenceLow},
		{0, models.ConfidenceLow},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ConfidenceFor(tc.score), "ConfidenceFor(%v)", tc.score)
	}
}

func TestThresholdTable_IsCopy(t *testing.T) {
	table := ThresholdTable()
	table[models.HazardFlood] = Thresholds{}
	assert.Equal(t, models.RiskCritical, Classify(models.HazardFlood, 0.8))
}
