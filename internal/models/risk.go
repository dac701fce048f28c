package models

import (
	"strings"
	"time"
)

// HazardType identifies the natural hazard a prediction refers to.
type HazardType string

const (
	HazardFlood     HazardType = "flood"
	HazardLandslide HazardType = "landslide"
	HazardCyclone   HazardType = "cyclone"
	HazardDrought   HazardType = "drought"
)

// HazardTypes lists every known hazard in display order.
var HazardTypes = []HazardType{HazardFlood, HazardLandslide, HazardCyclone, HazardDrought}

// ParseHazardType matches s case-insensitively against the known hazards.
func ParseHazardType(s string) (HazardType, bool) {
	for _, h := range HazardTypes {
		if strings.EqualFold(string(h), strings.TrimSpace(s)) {
			return h, true
		}
	}
	return "", false
}

// RiskLevel is the discrete tier derived from a score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders levels so that higher tiers compare greater.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// Confidence is the certainty band attached to a prediction.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RiskPrediction is an immutable, time-bounded hazard assessment.
type RiskPrediction struct {
	ID              string     `json:"id"`
	HazardType      HazardType `json:"hazardType"`
	Score           float64    `json:"score"`
	RiskLevel       RiskLevel  `json:"riskLevel"`
	Location        string     `json:"location"`
	District        string     `json:"district"`
	Province        string     `json:"province,omitempty"`
	AffectedAreas   []string   `json:"affectedAreas"`
	CreatedAt       time.Time  `json:"createdAt"`
	ValidUntil      time.Time  `json:"validUntil"`
	Confidence      Confidence `json:"confidence"`
	Recommendations []string   `json:"recommendations"`
}

// ActiveAt reports whether the prediction is still valid at t.
func (p RiskPrediction) ActiveAt(t time.Time) bool {
	return t.Before(p.ValidUntil)
}

// AlertDecision is the outcome of comparing a score against a threshold.
type AlertDecision string

const (
	AlertAlerted AlertDecision = "alerted"
	AlertOK      AlertDecision = "ok"
)

// AlertResult carries a decision plus the caller-supplied routing tags.
type AlertResult struct {
	Decision  AlertDecision `json:"decision"`
	Score     float64       `json:"score"`
	Threshold float64       `json:"threshold"`
	Channel   string        `json:"channel,omitempty"`
	Target    string        `json:"target,omitempty"`
}
