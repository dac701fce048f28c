package hazard

import "github.com/kjstillabower/hazard-risk-service/internal/models"

// Thresholds are the minimum scores for each tier above low.
type Thresholds struct {
	Critical float64 `json:"critical"`
	High     float64 `json:"high"`
	Medium   float64 `json:"medium"`
}

var thresholds = map[models.HazardType]Thresholds{
	models.HazardFlood:     {Critical: 0.8, High: 0.6, Medium: 0.4},
	models.HazardLandslide: {Critical: 0.75, High: 0.55, Medium: 0.35},
	models.HazardCyclone:   {Critical: 0.85, High: 0.65, Medium: 0.45},
	models.HazardDrought:   {Critical: 0.7, High: 0.5, Medium: 0.3},
}

// ThresholdTable returns a copy of the classifier table.
func ThresholdTable() map[models.HazardType]Thresholds {
	out := make(map[models.HazardType]Thresholds, len(thresholds))
	for k, v := range thresholds {
		out[k] = v
	}
	return out
}

// Classify returns the highest tier whose threshold score meets or exceeds.
// Unknown hazard types always classify as low.
func Classify(hazard models.HazardType, score float64) models.RiskLevel {
	t, ok := thresholds[hazard]
	if !ok {
		return models.RiskLow
	}
	switch {
	case score >= t.Critical:
		return models.RiskCritical
	case score >= t.High:
		return models.RiskHigh
	case score >= t.Medium:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// ConfidenceFor maps a score to a confidence band, independent of hazard.
func ConfidenceFor(score float64) models.Confidence {
	switch {
	case score >= 0.8:
		return models.ConfidenceHigh
	case score >= 0.5:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
