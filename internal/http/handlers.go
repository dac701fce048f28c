// Package http exposes the risk service over JSON/HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/hazard-risk-service/internal/districts"
	"github.com/kjstillabower/hazard-risk-service/internal/health"
	"github.com/kjstillabower/hazard-risk-service/internal/models"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
	"github.com/kjstillabower/hazard-risk-service/internal/registry"
	"github.com/kjstillabower/hazard-risk-service/internal/service"
	"github.com/kjstillabower/hazard-risk-service/internal/validation"
)

// maxBodyBytes caps request bodies; batches larger than this should be split by the caller.
const maxBodyBytes = 1 << 20

// defaultWindowHours is used by GET /observations/{location} when hours is omitted.
const defaultWindowHours = 24

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc     *service.RiskService
	checker *health.Checker
	logger  *zap.Logger
}

// NewHandler returns a new Handler.
func NewHandler(svc *service.RiskService, checker *health.Checker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, checker: checker, logger: logger}
}

type featuresRequest struct {
	RainMm      *float64 `json:"rainMm"`
	WindKph     *float64 `json:"windKph"`
	TempC       *float64 `json:"tempC"`
	HumidityPct *float64 `json:"humidityPct"`
	SoilSatPct  *float64 `json:"soilSatPct"`
}

func (req featuresRequest) toModel(prefix string) (models.Features, error) {
	if err := validation.Required(
		validation.Presence{Name: prefix + "rainMm", Present: req.RainMm != nil},
		validation.Presence{Name: prefix + "windKph", Present: req.WindKph != nil},
		validation.Presence{Name: prefix + "tempC", Present: req.TempC != nil},
		validation.Presence{Name: prefix + "humidityPct", Present: req.HumidityPct != nil},
		validation.Presence{Name: prefix + "soilSatPct", Present: req.SoilSatPct != nil},
	); err != nil {
		return models.Features{}, err
	}
	return models.Features{
		RainMm:      *req.RainMm,
		WindKph:     *req.WindKph,
		TempC:       *req.TempC,
		HumidityPct: *req.HumidityPct,
		SoilSatPct:  *req.SoilSatPct,
	}, nil
}

type readingRequest struct {
	Location  *string    `json:"location"`
	Timestamp *time.Time `json:"timestamp"`
	featuresRequest
}

type alertRequest struct {
	Score     *float64 `json:"score"`
	Threshold *float64 `json:"threshold"`
	Channel   string   `json:"channel"`
	Target    string   `json:"target"`
}

type itemErrorResponse struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PostObservation handles POST /observations (advanced feed).
func (h *Handler) PostObservation(w http.ResponseWriter, r *http.Request) {
	var req models.ObservationInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	obs, err := req.Observation()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	stored, err := h.svc.Ingest(r.Context(), obs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// PostReading handles POST /readings (simplified feed).
func (h *Handler) PostReading(w http.ResponseWriter, r *http.Request) {
	var req readingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.Location == nil {
		writeServiceError(w, r, validation.Missing("location"))
		return
	}
	f, err := req.toModel("")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	reading := models.SensorReading{
		Location:    *req.Location,
		RainMm:      f.RainMm,
		WindKph:     f.WindKph,
		TempC:       f.TempC,
		HumidityPct: f.HumidityPct,
		SoilSatPct:  f.SoilSatPct,
	}
	if req.Timestamp != nil {
		reading.Timestamp = *req.Timestamp
	}
	stored, err := h.svc.IngestReading(r.Context(), reading)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// GetObservations handles GET /observations/{location}?hours=N.
func (h *Handler) GetObservations(w http.ResponseWriter, r *http.Request) {
	location := mux.Vars(r)["location"]
	hours := defaultWindowHours
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeServiceError(w, r, validation.Invalid("hours", "must be a positive integer"))
			return
		}
		hours = n
	}
	obs, err := h.svc.Observations(r.Context(), location, hours)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if obs == nil {
		obs = []models.WeatherObservation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location":     strings.TrimSpace(location),
		"hours":        hours,
		"count":        len(obs),
		"observations": obs,
	})
}

// PostPredict handles POST /predict: store one observation and run every hazard analyzer.
func (h *Handler) PostPredict(w http.ResponseWriter, r *http.Request) {
	var req models.ObservationInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	obs, err := req.Observation()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	preds, err := h.svc.AnalyzeWeather(r.Context(), obs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writePredictions(w, preds)
}

// PostPredictBatch handles POST /predict/batch. Each item is decoded and analyzed
// independently; failed items are reported by index next to the predictions of the rest.
func (h *Handler) PostPredictBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []json.RawMessage
	if err := decodeJSON(w, r, &reqs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(reqs) == 0 {
		writeError(w, r, http.StatusBadRequest, "EMPTY_BATCH", "observations must not be empty")
		return
	}

	itemErrs := make([]itemErrorResponse, 0)
	batch := make([]models.WeatherObservation, 0, len(reqs))
	positions := make([]int, 0, len(reqs))
	for i, raw := range reqs {
		var req models.ObservationInput
		if err := json.Unmarshal(raw, &req); err != nil {
			itemErrs = append(itemErrs, itemError(i, validation.Invalid(fmt.Sprintf("observations[%d]", i), "must be a valid observation object")))
			continue
		}
		obs, err := req.Observation()
		if err != nil {
			itemErrs = append(itemErrs, itemError(i, err))
			continue
		}
		batch = append(batch, obs)
		positions = append(positions, i)
	}

	preds := make([]models.RiskPrediction, 0)
	if len(batch) > 0 {
		res, err := h.svc.AnalyzeBatch(r.Context(), batch)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		preds = append(preds, res.Predictions...)
		for _, ie := range res.Errors {
			itemErrs = append(itemErrs, itemError(positions[ie.Index], ie.Err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": preds,
		"count":       len(preds),
		"errors":      itemErrs,
	})
}

// GetPredictions handles GET /predictions?district=&hazardType=.
func (h *Handler) GetPredictions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	preds, err := h.svc.QueryPredictions(registry.Filter{
		District: q.Get("district"),
		Hazard:   q.Get("hazardType"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writePredictions(w, preds)
}

// PostModelPredict handles POST /model/predict.
func (h *Handler) PostModelPredict(w http.ResponseWriter, r *http.Request) {
	var req featuresRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	f, err := req.toModel("")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	score, err := h.svc.Predict(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"score": score})
}

// PostModelTrain handles POST /model/train. The body is a JSON array of training records.
func (h *Handler) PostModelTrain(w http.ResponseWriter, r *http.Request) {
	var reqs []featuresRequest
	if err := decodeJSON(w, r, &reqs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	batch := make([]models.TrainingRecord, 0, len(reqs))
	for i, req := range reqs {
		rec, err := req.toModel(fmt.Sprintf("records[%d].", i))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		batch = append(batch, rec)
	}
	res, err := h.svc.Train(r.Context(), batch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rowsUsed":  res.RowsUsed,
		"epochs":    res.Epochs,
		"persisted": res.Persisted,
		"weights":   res.Weights.Map(),
	})
}

// GetModelInfo handles GET /model/info.
func (h *Handler) GetModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ModelInfo())
}

// GetDistricts handles GET /districts.
func (h *Handler) GetDistricts(w http.ResponseWriter, r *http.Request) {
	all := districts.All()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"districts": all,
		"count":     len(all),
	})
}

// PostAlertEvaluate handles POST /alerts/evaluate.
func (h *Handler) PostAlertEvaluate(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.Score == nil {
		writeServiceError(w, r, validation.Missing("score"))
		return
	}
	res, err := h.svc.EvaluateAlert(*req.Score, req.Threshold, req.Channel, req.Target)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Check(r.Context())
	writeJSON(w, report.StatusCode, report)
}

func writePredictions(w http.ResponseWriter, preds []models.RiskPrediction) {
	if preds == nil {
		preds = []models.RiskPrediction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": preds,
		"count":       len(preds),
	})
}

// decodeJSON reads the body into v. Malformed or oversized bodies are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return validation.Invalid("body", "exceeds size limit")
		}
		return validation.Invalid("body", "must be valid JSON")
	}
	return nil
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}

// errorStatus maps a service error to its HTTP status, envelope code and client message.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, validation.ErrEmptyBatch):
		return http.StatusBadRequest, "EMPTY_BATCH", err.Error()
	case errors.Is(err, validation.ErrInvalid):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "REQUEST_CANCELLED", "Request cancelled"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error"
	}
}

// writeServiceError writes the error envelope for err and counts it by category.
// Client errors log at DEBUG, server errors at ERROR.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorStatus(err)
	writeError(w, r, status, code, message)
	observability.RequestErrorsTotal.WithLabelValues(string(service.CategorizeError(err))).Inc()
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", zap.Error(err))
		} else {
			logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
		}
	}
}

func itemError(index int, err error) itemErrorResponse {
	_, code, message := errorStatus(err)
	return itemErrorResponse{Index: index, Code: code, Message: message}
}
