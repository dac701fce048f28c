package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/hazard-risk-service/internal/health"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
)

// RouterConfig carries the pieces NewRouter mounts. Limiter, Stream and InFlight may be nil.
type RouterConfig struct {
	Handler        *Handler
	Tracker        *health.Tracker
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	// Stream serves GET /ws/predictions when set.
	Stream   http.Handler
	InFlight *InFlightTracker
	Logger   *zap.Logger
}

// NewRouter builds the service routes. /health and /metrics bypass rate limiting and timeouts;
// the websocket route bypasses the timeout because its connection is long-lived.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := cfg.Handler

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	if cfg.InFlight != nil {
		router.Use(cfg.InFlight.Middleware())
	}
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	if cfg.Stream != nil {
		ws := router.PathPrefix("/ws").Subrouter()
		ws.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
		ws.Handle("/predictions", cfg.Stream).Methods(http.MethodGet)
	}

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
	if cfg.Tracker != nil {
		api.Use(OutcomeMiddleware(cfg.Tracker))
	}
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/observations", h.PostObservation).Methods(http.MethodPost)
	api.HandleFunc("/observations/{location}", h.GetObservations).Methods(http.MethodGet)
	api.HandleFunc("/readings", h.PostReading).Methods(http.MethodPost)
	api.HandleFunc("/predict", h.PostPredict).Methods(http.MethodPost)
	api.HandleFunc("/predict/batch", h.PostPredictBatch).Methods(http.MethodPost)
	api.HandleFunc("/predictions", h.GetPredictions).Methods(http.MethodGet)
	api.HandleFunc("/model/predict", h.PostModelPredict).Methods(http.MethodPost)
	api.HandleFunc("/model/train", h.PostModelTrain).Methods(http.MethodPost)
	api.HandleFunc("/model/info", h.GetModelInfo).Methods(http.MethodGet)
	api.HandleFunc("/districts", h.GetDistricts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/evaluate", h.PostAlertEvaluate).Methods(http.MethodPost)
	return router
}
