// Package hazard scores weather observations for flood, landslide and cyclone risk.
package hazard

import (
	"math"
	"time"

	"github.com/kjstillabower/hazard-risk-service/internal/districts"
	"github.com/kjstillabower/hazard-risk-service/internal/models"
)

// Assessment is the raw analyzer output before it becomes a prediction.
type Assessment struct {
	Hazard          models.HazardType
	Score           float64
	Recommendations []string
	Validity        time.Duration
}

// Analyzer scores one hazard. Lookback is zero when the rules need no history.
type Analyzer struct {
	Hazard   models.HazardType
	Lookback time.Duration
	Analyze  func(obs models.WeatherObservation, window []models.WeatherObservation) (Assessment, bool)
}

const (
	floodLookback     = 24 * time.Hour
	landslideLookback = 72 * time.Hour

	floodValidity     = 24 * time.Hour
	landslideValidity = 24 * time.Hour
	cycloneValidity   = 20 * time.Hour

	floodEmitAbove     = 0.3
	landslideEmitAbove = 0.35
	cycloneEmitAbove   = 0.45
)

// Analyzers returns the flood, landslide and cyclone analyzers in that order.
func Analyzers() []Analyzer {
	return []Analyzer{
		{Hazard: models.HazardFlood, Lookback: floodLookback, Analyze: AnalyzeFlood},
		{Hazard: models.HazardLandslide, Lookback: landslideLookback, Analyze: AnalyzeLandslide},
		{Hazard: models.HazardCyclone, Analyze: AnalyzeCyclone},
	}
}

// AnalyzeFlood scores flood risk from current rainfall, humidity and pressure, the
// trailing 24h average rainfall and district exposure.
func AnalyzeFlood(obs models.WeatherObservation, window []models.WeatherObservation) (Assessment, bool) {
	var score float64
	var recs []string

	switch {
	case obs.Rainfall > 100:
		score += 0.4
		recs = append(recs, "Heavy rainfall warning - evacuate flood-prone areas")
	case obs.Rainfall > 50:
		score += 0.2
		recs = append(recs, "Moderate rainfall - avoid low-lying areas")
	}
	if obs.Humidity > 85 && obs.Pressure < 1010 {
		score += 0.2
		recs = append(recs, "Saturated air and low pressure - monitor water levels continuously")
	}
	if meanRainfall(window) > 75 {
		score += 0.3
		recs = append(recs, "Sustained rainfall over 24 hours - move to higher ground")
	}
	if districts.FloodProne(obs.District) {
		score += 0.2
		recs = append(recs, "Flood-prone district - prepare emergency supplies")
	}

	return emit(models.HazardFlood, score, floodEmitAbove, floodValidity, recs)
}

// AnalyzeLandslide scores landslide risk from current rainfall, the trailing 72h
// rainfall total and district terrain.
func AnalyzeLandslide(obs models.WeatherObservation, window []models.WeatherObservation) (Assessment, bool) {
	var score float64
	var recs []string

	if obs.Rainfall > 75 {
		score += 0.5
		recs = append(recs, "Heavy rainfall - evacuate steep slope areas")
	}
	if sumRainfall(window) > 150 {
		score += 0.3
		recs = append(recs, "Prolonged rainfall over 72 hours - stay away from hillsides and cliffs")
	}
	if districts.LandslideProne(obs.District) {
		score += 0.25
		recs = append(recs, "Landslide-prone district - listen for unusual sounds (rumbling, cracking)")
	}

	return emit(models.HazardLandslide, score, landslideEmitAbove, landslideValidity, recs)
}

// AnalyzeCyclone scores cyclone risk from wind speed, pressure and humidity. It ignores history.
func AnalyzeCyclone(obs models.WeatherObservation, _ []models.WeatherObservation) (Assessment, bool) {
	var score float64
	var recs []string

	switch {
	case obs.WindSpeed > 100:
		score += 0.4
		recs = append(recs, "Extremely dangerous winds - take immediate shelter")
	case obs.WindSpeed > 60:
		score += 0.2
		recs = append(recs, "Strong winds - secure loose outdoor objects")
	}
	switch {
	case obs.Pressure < 990:
		score += 0.3
		recs = append(recs, "Very low pressure - stay indoors and away from windows")
	case obs.Pressure < 1005:
		score += 0.15
		recs = append(recs, "Falling pressure - monitor weather updates continuously")
	}
	if obs.WindSpeed > 80 && obs.Pressure < 995 && obs.Humidity > 80 {
		score += 0.25
		recs = append(recs, "Cyclonic conditions forming - stock up on emergency supplies")
	}

	return emit(models.HazardCyclone, score, cycloneEmitAbove, cycloneValidity, recs)
}

// emit compares the unclamped rule sum against the cutoff and clamps the reported score to 1.
func emit(h models.HazardType, score, above float64, validity time.Duration, recs []string) (Assessment, bool) {
	score = round4(score)
	if score <= above {
		return Assessment{}, false
	}
	return Assessment{
		Hazard:          h,
		Score:           math.Min(score, 1),
		Recommendations: recs,
		Validity:        validity,
	}, true
}

// round4 removes float noise from the rule sums so tier boundaries compare exactly.
func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func meanRainfall(window []models.WeatherObservation) float64 {
	if len(window) == 0 {
		return 0
	}
	return sumRainfall(window) / float64(len(window))
}

func sumRainfall(window []models.WeatherObservation) float64 {
	var total float64
	for _, o := range window {
		total += o.Rainfall
	}
	return total
}
