package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Weight vector indices, in persisted order.
const (
	WRain = iota
	WWind
	WTemp
	WHumidity
	WSoil
	Bias
	numWeights
)

// Weights is {wRain, wWind, wTemp, wHumidity, wSoil, bias}.
type Weights [numWeights]float64

// DefaultWeights is the baseline vector used until a training run or a persisted file replaces it.
var DefaultWeights = Weights{0.35, 0.25, 0.15, 0.10, 0.15, 0.0}

// String renders the single-line persisted form.
func (w Weights) String() string {
	parts := make([]string, len(w))
	for i, v := range w {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Map returns the weights keyed by name, for JSON responses.
func (w Weights) Map() map[string]float64 {
	return map[string]float64{
		"rain":     w[WRain],
		"wind":     w[WWind],
		"temp":     w[WTemp],
		"humidity": w[WHumidity],
		"soil":     w[WSoil],
		"bias":     w[Bias],
	}
}

func (w Weights) finite() bool {
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ParseWeights decodes the persisted line. Surrounding whitespace and a trailing newline are allowed.
func ParseWeights(s string) (Weights, error) {
	var w Weights
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != numWeights {
		return w, fmt.Errorf("parse weights: want %d values, got %d", numWeights, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Weights{}, fmt.Errorf("parse weights: value %d: %w", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Weights{}, fmt.Errorf("parse weights: value %d is not finite", i)
		}
		w[i] = v
	}
	return w, nil
}
