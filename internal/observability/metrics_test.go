package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across the http, service, model and queue packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("POST", "/predict", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("POST", "/predict").Observe(0.01)
	RequestErrorsTotal.WithLabelValues("validation").Inc()
	PredictionsEmittedTotal.WithLabelValues("flood", "critical").Inc()
	AnalysisDuration.Observe(0.0002)
	ModelPredictionsTotal.Inc()
	CacheHitsTotal.WithLabelValues("score").Inc()
	CacheMissesTotal.WithLabelValues("score").Inc()
	TrainingRunsTotal.WithLabelValues("success").Inc()
	TrainingDuration.Observe(0.02)
	TrainingRowsTotal.Add(3)
	WeightPersistErrorsTotal.WithLabelValues("save").Inc()
	WeightReloadsTotal.Inc()
	AlertDecisionsTotal.WithLabelValues("alerted").Inc()
	PredictionsPublishedTotal.WithLabelValues("success").Inc()
	ObservationsConsumedTotal.WithLabelValues("processed").Inc()
	StreamClients.Set(2)
	RecordCircuitBreakerTransition("kafka_publisher", "closed", "open", 1)
}

// TestSetTrackedDistricts_and_RecordObservation verifies that tracked districts get their own
// label (case-insensitive) and everything else is counted as "other".
func TestSetTrackedDistricts_and_RecordObservation(t *testing.T) {
	SetTrackedDistricts([]string{"Colombo", "Nuwara Eliya"})
	defer SetTrackedDistricts(nil)

	beforeTracked := testutil.ToFloat64(ObservationsByDistrictTotal.WithLabelValues("nuwara eliya"))
	beforeOther := testutil.ToFloat64(ObservationsByDistrictTotal.WithLabelValues("other"))

	RecordObservation("advanced", "NUWARA ELIYA")
	RecordObservation("simplified", "sensor-42")

	if got := testutil.ToFloat64(ObservationsByDistrictTotal.WithLabelValues("nuwara eliya")); got != beforeTracked+1 {
		t.Errorf("tracked district count = %v, want %v", got, beforeTracked+1)
	}
	if got := testutil.ToFloat64(ObservationsByDistrictTotal.WithLabelValues("other")); got != beforeOther+1 {
		t.Errorf("other count = %v, want %v", got, beforeOther+1)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	RegisterRegistrySizeGauge(func() int { return 7 })
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
	if !strings.Contains(body, "predictionRegistrySize 7") {
		t.Error("MetricsHandler response should contain the registry size gauge")
	}
}
