package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/hazard-risk-service/internal/circuitbreaker"
	"github.com/kjstillabower/hazard-risk-service/internal/models"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
	"github.com/kjstillabower/hazard-risk-service/internal/validation"
)

type fakeWriter struct {
	mu      sync.Mutex
	written []kafkago.Message
	err     error
	calls   int
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func samplePrediction(district string) models.RiskPrediction {
	return models.RiskPrediction{
		ID:         "pred-1",
		HazardType: models.HazardFlood,
		Score:      0.8,
		RiskLevel:  models.RiskHigh,
		Location:   district,
		District:   district,
		ValidUntil: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(samplePrediction("Ratnapura"))
	require.NoError(t, err)

	assert.Equal(t, []byte("Ratnapura"), msg.Key)
	assert.Contains(t, string(msg.Value), `"hazardType":"flood"`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "hazard_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("flood"), msg.Headers[0].Value)
	assert.Equal(t, []byte("high"), msg.Headers[1].Value)
	assert.Equal(t, []byte("2024-05-01T12:00:00Z"), msg.Headers[2].Value)
}

// TestPredictionPublisher_Publish verifies that predictions are written in one call keyed by
// district and that an empty slice writes nothing.
func TestPredictionPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newPredictionPublisher(w, nil, nil)

	require.NoError(t, p.Publish(context.Background(), nil))
	assert.Zero(t, w.calls)

	err := p.Publish(context.Background(), []models.RiskPrediction{samplePrediction("Kandy"), samplePrediction("Galle")})
	require.NoError(t, err)
	assert.Equal(t, 1, w.calls)
	require.Len(t, w.written, 2)
	assert.Equal(t, []byte("Galle"), w.written[1].Key)
}

// TestPredictionPublisher_BreakerOpens verifies that repeated write failures open the breaker
// and later publishes are skipped without touching the writer.
func TestPredictionPublisher_BreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2, Timeout: time.Minute, Component: "kafka_test", Clock: clockwork.NewFakeClock(),
	})
	p := newPredictionPublisher(w, cb, nil)
	preds := []models.RiskPrediction{samplePrediction("Colombo")}
	ctx := context.Background()

	skippedBefore := testutil.ToFloat64(observability.PredictionsPublishedTotal.WithLabelValues("skipped"))

	assert.Error(t, p.Publish(ctx, preds))
	assert.Error(t, p.Publish(ctx, preds))
	assert.ErrorIs(t, p.Publish(ctx, preds), circuitbreaker.ErrOpen)
	assert.Equal(t, 2, w.calls)
	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(observability.PredictionsPublishedTotal.WithLabelValues("skipped")))
}

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafkago.Message
	fetchErrs []error
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafkago.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func observationMessage(t *testing.T, offset int64, obs models.WeatherObservation) kafkago.Message {
	t.Helper()
	data, err := json.Marshal(obs)
	require.NoError(t, err)
	return kafkago.Message{Offset: offset, Value: data}
}

// TestObservationConsumer_Run verifies that valid messages reach the handler, bad ones are
// counted without stopping the loop and every offset is committed.
func TestObservationConsumer_Run(t *testing.T) {
	good := models.WeatherObservation{Location: "Ratnapura", District: "Ratnapura", Rainfall: 150}
	reader := &fakeReader{msgs: []kafkago.Message{
		observationMessage(t, 1, good),
		{Offset: 2, Value: []byte("{not json")},
		observationMessage(t, 3, models.WeatherObservation{Location: "x"}),
		observationMessage(t, 4, models.WeatherObservation{Location: "Kandy", District: "Kandy"}),
	}}

	var mu sync.Mutex
	var handled []string
	handler := func(ctx context.Context, obs models.WeatherObservation) error {
		switch obs.Location {
		case "x":
			return validation.Invalid("location", "too short")
		case "Kandy":
			return errors.New("store unavailable")
		}
		mu.Lock()
		handled = append(handled, obs.District)
		mu.Unlock()
		return nil
	}

	invalidBefore := testutil.ToFloat64(observability.ObservationsConsumedTotal.WithLabelValues("invalid"))
	failedBefore := testutil.ToFloat64(observability.ObservationsConsumedTotal.WithLabelValues("failed"))

	c := newObservationConsumer(reader, handler, clockwork.NewFakeClock(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.committedOffsets()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committedOffsets())
	assert.Equal(t, []string{"Ratnapura"}, handled)
	assert.Equal(t, invalidBefore+2, testutil.ToFloat64(observability.ObservationsConsumedTotal.WithLabelValues("invalid")))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(observability.ObservationsConsumedTotal.WithLabelValues("failed")))
}

// TestObservationConsumer_RetriesFetchErrors verifies that a broker error waits out the retry
// delay and then resumes fetching.
func TestObservationConsumer_RetriesFetchErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reader := &fakeReader{
		fetchErrs: []error{fmt.Errorf("leader not available")},
		msgs:      []kafkago.Message{observationMessage(t, 7, models.WeatherObservation{Location: "Galle", District: "Galle"})},
	}
	c := newObservationConsumer(reader, func(context.Context, models.WeatherObservation) error { return nil }, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, reader.committedOffsets())
	clock.Advance(fetchRetryDelay)

	require.Eventually(t, func() bool { return len(reader.committedOffsets()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDecodeObservation(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr string
	}{
		{"complete", `{"location":"Galle","district":"Galle","temperature":28,"humidity":90,"pressure":1004,"windSpeed":70,"rainfall":10}`, ""},
		{"missing pressure", `{"location":"Galle","district":"Galle","temperature":28,"humidity":90,"windSpeed":70,"rainfall":10}`, "pressure is required"},
		{"missing wind", `{"location":"Galle","temperature":28,"humidity":90,"pressure":1004,"rainfall":10}`, "windSpeed is required"},
		{"missing location", `{"temperature":28,"humidity":90,"pressure":1004,"windSpeed":70,"rainfall":10}`, "location is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			obs, err := decodeObservation([]byte(tc.value))
			if tc.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, 1004.0, obs.Pressure)
				assert.Equal(t, 70.0, obs.WindSpeed)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, validation.ErrInvalid)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// TestObservationConsumer_SkipsIncompleteMessage verifies that a message missing a required
// reading never reaches the handler and is still committed.
func TestObservationConsumer_SkipsIncompleteMessage(t *testing.T) {
	reader := &fakeReader{msgs: []kafkago.Message{
		{Offset: 9, Value: []byte(`{"location":"Galle","district":"Galle","temperature":28,"humidity":90,"windSpeed":70,"rainfall":10}`)},
	}}
	called := false
	handler := func(context.Context, models.WeatherObservation) error {
		called = true
		return nil
	}
	invalidBefore := testutil.ToFloat64(observability.ObservationsConsumedTotal.WithLabelValues("invalid"))

	c := newObservationConsumer(reader, handler, clockwork.NewFakeClock(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.committedOffsets()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.False(t, called)
	assert.Equal(t, invalidBefore+1, testutil.ToFloat64(observability.ObservationsConsumedTotal.WithLabelValues("invalid")))
}
