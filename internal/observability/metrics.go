package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Request failures by category. Watch for: persistence or publish categories climbing.
	RequestErrorsTotal *prometheus.CounterVec

	// Observations accepted, by feed (advanced, simplified, kafka).
	ObservationsIngestedTotal *prometheus.CounterVec

	// Per-district ingest count (allow-list; others go to "other"). Watch for: districts going silent.
	ObservationsByDistrictTotal *prometheus.CounterVec

	// Predictions emitted by hazard and level. Watch for: bursts of critical.
	PredictionsEmittedTotal *prometheus.CounterVec

	// Time to run all analyzers for one observation.
	AnalysisDuration prometheus.Histogram

	// Linear model scoring calls.
	ModelPredictionsTotal prometheus.Counter

	// Score cache hits and misses. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Training runs by outcome (success, empty_batch).
	TrainingRunsTotal *prometheus.CounterVec

	// Training wall time. 200 epochs over the batch.
	TrainingDuration prometheus.Histogram

	// Rows consumed by training.
	TrainingRowsTotal prometheus.Counter

	// Weight load/save failures. Watch for: any save errors (model lost on restart).
	WeightPersistErrorsTotal *prometheus.CounterVec

	// Weight reloads triggered by an external change to the weight file.
	WeightReloadsTotal prometheus.Counter

	// Alert decisions. Watch for: alerted ratio.
	AlertDecisionsTotal *prometheus.CounterVec

	// Predictions published to Kafka by status (success, error, skipped).
	PredictionsPublishedTotal *prometheus.CounterVec

	// Observations read from Kafka by status (processed, invalid, failed).
	ObservationsConsumedTotal *prometheus.CounterVec

	// Circuit breaker state per component (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Connected websocket subscribers.
	StreamClients prometheus.Gauge

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trackedDistrictsMu sync.RWMutex
	trackedDistricts   map[string]struct{}

	registrySizeOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RequestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestErrorsTotal",
			Help: "Request failures by error category",
		},
		[]string{"category"},
	)
	ObservationsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observationsIngestedTotal",
			Help: "Total number of weather observations stored",
		},
		[]string{"feed"},
	)
	ObservationsByDistrictTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observationsByDistrictTotal",
			Help: "Observations by district (allow-list; others use district=other)",
		},
		[]string{"district"},
	)
	PredictionsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionsEmittedTotal",
			Help: "Risk predictions emitted by the hazard analyzers",
		},
		[]string{"hazardType", "riskLevel"},
	)
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysisDurationSeconds",
			Help:    "Time to run all hazard analyzers for one observation",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)
	ModelPredictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelPredictionsTotal",
			Help: "Total number of linear model scoring calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of score cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of score cache misses",
		},
		[]string{"cacheType"},
	)
	TrainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainingRunsTotal",
			Help: "Training calls by outcome",
		},
		[]string{"outcome"},
	)
	TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trainingDurationSeconds",
			Help:    "Wall time of a training run",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
	TrainingRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trainingRowsTotal",
			Help: "Total number of training rows consumed",
		},
	)
	WeightPersistErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weightPersistErrorsTotal",
			Help: "Weight load or save failures",
		},
		[]string{"op"},
	)
	WeightReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weightReloadsTotal",
			Help: "Weight reloads after an external change to the weight file",
		},
	)
	AlertDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertDecisionsTotal",
			Help: "Alert evaluations by decision",
		},
		[]string{"decision"},
	)
	PredictionsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionsPublishedTotal",
			Help: "Predictions written to the Kafka sink topic by status",
		},
		[]string{"status"},
	)
	ObservationsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observationsConsumedTotal",
			Help: "Observations read from the Kafka source topic by status",
		},
		[]string{"status"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamClients",
			Help: "Connected websocket prediction subscribers",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight, RequestErrorsTotal,
		ObservationsIngestedTotal, ObservationsByDistrictTotal,
		PredictionsEmittedTotal, AnalysisDuration,
		ModelPredictionsTotal, CacheHitsTotal, CacheMissesTotal,
		TrainingRunsTotal, TrainingDuration, TrainingRowsTotal,
		WeightPersistErrorsTotal, WeightReloadsTotal,
		AlertDecisionsTotal,
		PredictionsPublishedTotal, ObservationsConsumedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		StreamClients,
		RateLimitDeniedTotal,
	)
}

// RegisterRegistrySizeGauge exposes the prediction registry size. Growth is unbounded
// unless pruning is enabled, so this is the capacity signal. Only the first call registers.
func RegisterRegistrySizeGauge(size func() int) {
	registrySizeOnce.Do(func() {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "predictionRegistrySize",
				Help: "Predictions held in memory, expired ones included",
			},
			func() float64 { return float64(size()) },
		))
	})
}

// RecordCircuitBreakerTransition counts a state change and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// SetTrackedDistricts sets the allow-list for district metrics. Untracked districts increment "other".
func SetTrackedDistricts(districts []string) {
	trackedDistrictsMu.Lock()
	defer trackedDistrictsMu.Unlock()
	trackedDistricts = make(map[string]struct{}, len(districts))
	for _, d := range districts {
		trackedDistricts[normalizeDistrictForMetrics(d)] = struct{}{}
	}
}

// RecordObservation records an ingested observation for the given feed and district.
func RecordObservation(feed, district string) {
	ObservationsIngestedTotal.WithLabelValues(feed).Inc()
	d := normalizeDistrictForMetrics(district)
	trackedDistrictsMu.RLock()
	_, ok := trackedDistricts[d] // nil map read is safe in Go
	trackedDistrictsMu.RUnlock()
	if ok {
		ObservationsByDistrictTotal.WithLabelValues(d).Inc()
	} else {
		ObservationsByDistrictTotal.WithLabelValues("other").Inc()
	}
}

func normalizeDistrictForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
