package hazard

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/hazard-risk-service/internal/districts"
	"github.com/kjstillabower/hazard-risk-service/internal/models"
)

// WindowReader is the slice of the observation store the engine needs.
type WindowReader interface {
	WindowByDistrict(district string, d time.Duration) []models.WeatherObservation
}

// Engine runs every analyzer against an observation and turns assessments into predictions.
type Engine struct {
	windows   WindowReader
	clock     clockwork.Clock
	newID     func() string
	analyzers []Analyzer
}

// NewEngine builds an engine over the given history. A nil clock uses real time.
func NewEngine(windows WindowReader, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		windows:   windows,
		clock:     clock,
		newID:     uuid.NewString,
		analyzers: Analyzers(),
	}
}

// Assess returns one prediction per analyzer that fired. The observation must already be
// in the store so it counts toward its own lookback window.
func (e *Engine) Assess(obs models.WeatherObservation) []models.RiskPrediction {
	now := e.clock.Now()
	out := make([]models.RiskPrediction, 0, len(e.analyzers))
	for _, a := range e.analyzers {
		var window []models.WeatherObservation
		if a.Lookback > 0 {
			window = e.windows.WindowByDistrict(obs.District, a.Lookback)
		}
		assessment, ok := a.Analyze(obs, window)
		if !ok {
			continue
		}
		out = append(out, models.RiskPrediction{
			ID:              e.newID(),
			HazardType:      assessment.Hazard,
			Score:           assessment.Score,
			RiskLevel:       Classify(assessment.Hazard, assessment.Score),
			Location:        obs.Location,
			District:        obs.District,
			Province:        obs.Province,
			AffectedAreas:   districts.AffectedAreas(obs.District),
			CreatedAt:       now,
			ValidUntil:      now.Add(assessment.Validity),
			Confidence:      ConfidenceFor(assessment.Score),
			Recommendations: assessment.Recommendations,
		})
	}
	return out
}
