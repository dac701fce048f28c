// Package queue connects the risk engine to Kafka: observations in from a source topic,
// predictions out to a sink topic.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/hazard-risk-service/internal/circuitbreaker"
	"github.com/kjstillabower/hazard-risk-service/internal/models"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// PredictionPublisher writes emitted predictions to the sink topic, keyed by district so
// every prediction for a district lands on the same partition.
type PredictionPublisher struct {
	writer  messageWriter
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPredictionPublisher creates a publisher for topic. breaker may be nil.
func NewPredictionPublisher(brokers []string, topic string, batchTimeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *PredictionPublisher {
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: batchTimeout,
	}
	return newPredictionPublisher(w, breaker, logger)
}

func newPredictionPublisher(w messageWriter, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *PredictionPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictionPublisher{writer: w, breaker: breaker, logger: logger}
}

// Publish sends preds in one WriteMessages call. An open breaker skips the write and
// returns circuitbreaker.ErrOpen.
func (p *PredictionPublisher) Publish(ctx context.Context, preds []models.RiskPrediction) error {
	if len(preds) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(preds))
	for i := range preds {
		msg, err := serializeToMessage(preds[i])
		if err != nil {
			observability.PredictionsPublishedTotal.WithLabelValues("error").Add(float64(len(preds)))
			return err
		}
		msgs[i] = msg
	}

	write := func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, msgs...)
	}
	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(ctx, write)
	} else {
		err = write(ctx)
	}

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		observability.PredictionsPublishedTotal.WithLabelValues("skipped").Add(float64(len(preds)))
		return err
	case err != nil:
		observability.PredictionsPublishedTotal.WithLabelValues("error").Add(float64(len(preds)))
		return fmt.Errorf("publish predictions: %w", err)
	}
	observability.PredictionsPublishedTotal.WithLabelValues("success").Add(float64(len(preds)))
	p.logger.Debug("predictions published", zap.Int("count", len(preds)))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *PredictionPublisher) Close() error {
	return p.writer.Close()
}

func serializeToMessage(pred models.RiskPrediction) (kafkago.Message, error) {
	data, err := json.Marshal(pred)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize prediction: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(pred.District),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "hazard_type", Value: []byte(pred.HazardType)},
			{Key: "risk_level", Value: []byte(pred.RiskLevel)},
			{Key: "valid_until", Value: []byte(pred.ValidUntil.UTC().Format(time.RFC3339))},
		},
	}, nil
}
