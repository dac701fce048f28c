package models

import (
	"time"

	"github.com/kjstillabower/hazard-risk-service/internal/validation"
)

// WeatherObservation is a single weather reading for a district. Stored observations are never mutated.
type WeatherObservation struct {
	Location       string    `json:"location"`
	District       string    `json:"district"`
	Province       string    `json:"province,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Temperature    float64   `json:"temperature"`
	Humidity       float64   `json:"humidity"`
	Pressure       float64   `json:"pressure"`
	WindSpeed      float64   `json:"windSpeed"`
	Rainfall       float64   `json:"rainfall"`
	SoilSaturation float64   `json:"soilSaturation,omitempty"`
}

// ObservationInput is the wire shape of an observation as received over HTTP or Kafka.
// Pointer fields distinguish an absent value from zero.
type ObservationInput struct {
	Location       *string    `json:"location"`
	District       string     `json:"district"`
	Province       string     `json:"province"`
	Timestamp      *time.Time `json:"timestamp"`
	Temperature    *float64   `json:"temperature"`
	Humidity       *float64   `json:"humidity"`
	Pressure       *float64   `json:"pressure"`
	WindSpeed      *float64   `json:"windSpeed"`
	Rainfall       *float64   `json:"rainfall"`
	SoilSaturation *float64   `json:"soilSaturation"`
}

// Observation checks required fields and returns the observation. A missing field is a
// validation error, never a zero reading.
func (in ObservationInput) Observation() (WeatherObservation, error) {
	if err := validation.Required(
		validation.Presence{Name: "location", Present: in.Location != nil},
		validation.Presence{Name: "temperature", Present: in.Temperature != nil},
		validation.Presence{Name: "humidity", Present: in.Humidity != nil},
		validation.Presence{Name: "pressure", Present: in.Pressure != nil},
		validation.Presence{Name: "windSpeed", Present: in.WindSpeed != nil},
		validation.Presence{Name: "rainfall", Present: in.Rainfall != nil},
	); err != nil {
		return WeatherObservation{}, err
	}
	obs := WeatherObservation{
		Location:    *in.Location,
		District:    in.District,
		Province:    in.Province,
		Temperature: *in.Temperature,
		Humidity:    *in.Humidity,
		Pressure:    *in.Pressure,
		WindSpeed:   *in.WindSpeed,
		Rainfall:    *in.Rainfall,
	}
	if in.Timestamp != nil {
		obs.Timestamp = *in.Timestamp
	}
	if in.SoilSaturation != nil {
		obs.SoilSaturation = *in.SoilSaturation
	}
	return obs, nil
}

// SensorReading is the simplified feed shape posted by field sensors.
type SensorReading struct {
	Location    string    `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
	RainMm      float64   `json:"rainMm"`
	WindKph     float64   `json:"windKph"`
	TempC       float64   `json:"tempC"`
	HumidityPct float64   `json:"humidityPct"`
	SoilSatPct  float64   `json:"soilSatPct"`
}

// Observation converts the reading to the advanced shape. The location doubles as district.
func (r SensorReading) Observation() WeatherObservation {
	return WeatherObservation{
		Location:       r.Location,
		District:       r.Location,
		Timestamp:      r.Timestamp,
		Temperature:    r.TempC,
		Humidity:       r.HumidityPct,
		WindSpeed:      r.WindKph,
		Rainfall:       r.RainMm,
		SoilSaturation: r.SoilSatPct,
	}
}

// Features are the linear model inputs. TrainingRecord shares the shape.
type Features struct {
	RainMm      float64 `json:"rainMm"`
	WindKph     float64 `json:"windKph"`
	TempC       float64 `json:"tempC"`
	HumidityPct float64 `json:"humidityPct"`
	SoilSatPct  float64 `json:"soilSatPct"`
}

// TrainingRecord is one row of a training batch.
type TrainingRecord = Features
