package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
	"github.com/kjstillabower/hazard-risk-service/internal/validation"
)

// fetchRetryDelay is how long Run waits after a broker fetch error.
const fetchRetryDelay = time.Second

// messageReader is the subset of *kafkago.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Handler processes one decoded observation.
type Handler func(ctx context.Context, obs models.WeatherObservation) error

// ObservationConsumer feeds observations from the source topic into a Handler.
type ObservationConsumer struct {
	reader messageReader
	handle Handler
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewObservationConsumer creates a consumer in groupID. Offsets are committed manually after
// each message is handled.
func NewObservationConsumer(brokers []string, topic, groupID string, handle Handler, logger *zap.Logger) *ObservationConsumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafkago.LastOffset,
	})
	return newObservationConsumer(r, handle, clockwork.NewRealClock(), logger)
}

func newObservationConsumer(r messageReader, handle Handler, clock clockwork.Clock, logger *zap.Logger) *ObservationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservationConsumer{reader: r, handle: handle, clock: clock, logger: logger}
}

// Run fetches until ctx is done. Malformed or invalid messages are counted, logged and
// committed so they are not redelivered. Handler failures are committed too; the engine is
// in-memory, so replay after restart would not restore lost history.
func (c *ObservationConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(fetchRetryDelay):
			}
			continue
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *ObservationConsumer) process(ctx context.Context, msg kafkago.Message) {
	log := c.logger.With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	obs, err := decodeObservation(msg.Value)
	if err != nil {
		observability.ObservationsConsumedTotal.WithLabelValues("invalid").Inc()
		log.Warn("undecodable observation message", zap.Error(err))
		return
	}
	if err := c.handle(ctx, obs); err != nil {
		if errors.Is(err, validation.ErrInvalid) {
			observability.ObservationsConsumedTotal.WithLabelValues("invalid").Inc()
			log.Warn("invalid observation message", zap.Error(err))
			return
		}
		observability.ObservationsConsumedTotal.WithLabelValues("failed").Inc()
		log.Error("observation handling failed", zap.Error(err))
		return
	}
	observability.ObservationsConsumedTotal.WithLabelValues("processed").Inc()
}

// Close closes the reader and leaves the consumer group.
func (c *ObservationConsumer) Close() error {
	return c.reader.Close()
}

// decodeObservation parses a message value. Missing required fields are validation errors so
// an absent pressure or wind reading is never scored as zero.
func decodeObservation(data []byte) (models.WeatherObservation, error) {
	var in models.ObservationInput
	if err := json.Unmarshal(data, &in); err != nil {
		return models.WeatherObservation{}, fmt.Errorf("decode observation: %w", err)
	}
	return in.Observation()
}
