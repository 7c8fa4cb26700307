package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Accountant applies one invocation to the origin of record.
type Accountant interface {
	RecordInvocation(ctx context.Context, interfaceID, userID int64) error
}

const (
	applyAttempts     = 3
	applyRetryBackoff = 200 * time.Millisecond
)

// UsageConsumer applies usage events published by the gateways. Every fetched
// message is committed once handled, so an event is applied at most once.
type UsageConsumer struct {
	reader     MessageReader
	accountant Accountant
	logger     logger.Logger
	stop       chan struct{}
	backoff    time.Duration
}

// NewUsageConsumer creates a consumer in cfg.GroupID; all origin instances
// share the group so each event is applied by exactly one of them.
func NewUsageConsumer(cfg config.KafkaConfig, accountant Accountant, log logger.Logger) *UsageConsumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.UsageTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
	return NewUsageConsumerWithReader(reader, accountant, log)
}

// NewUsageConsumerWithReader creates a consumer over an existing reader.
func NewUsageConsumerWithReader(r MessageReader, accountant Accountant, log logger.Logger) *UsageConsumer {
	return &UsageConsumer{
		reader:     r,
		accountant: accountant,
		logger:     log.WithComponent("UsageConsumer"),
		stop:       make(chan struct{}),
		backoff:    applyRetryBackoff,
	}
}

// Start runs the consumer loop until ctx is cancelled or Stop is called.
// It blocks and should be run in a goroutine.
func (c *UsageConsumer) Start(ctx context.Context) {
	c.logger.Info(ctx, "starting usage consumer...")
	for {
		select {
		case <-c.stop:
			c.logger.Info(ctx, "stopping usage consumer...")
			return
		case <-ctx.Done():
			c.logger.Info(ctx, "usage consumer context done")
			return
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error(ctx, "failed to fetch message from kafka", err)
			continue
		}

		c.handleMessage(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error(ctx, "failed to commit usage event", err)
		}
	}
}

// handleMessage applies msg. Storage failures are retried a bounded number of
// times; after that the event is dropped and logged.
func (c *UsageConsumer) handleMessage(ctx context.Context, msg kafkago.Message) {
	var event models.UsageEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error(ctx, "failed to unmarshal usage event", err, logger.String("kafka_message", string(msg.Value)))
		return
	}

	var err error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		err = c.accountant.RecordInvocation(ctx, event.InterfaceID, event.UserID)
		if err == nil {
			c.logger.Debug(ctx, "usage event applied",
				logger.String("request_id", event.RequestID),
				logger.Int64("interface_id", event.InterfaceID),
				logger.Int64("user_id", event.UserID),
			)
			return
		}
		// Rejections are final.
		if !stderrors.Is(err, errors.ErrSystem) {
			c.logger.Warn(ctx, "usage event rejected by origin",
				logger.String("request_id", event.RequestID),
				logger.String("error", err.Error()),
			)
			return
		}
		if attempt == applyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			c.logger.Error(ctx, "usage event dropped on shutdown", err, logger.String("request_id", event.RequestID))
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	c.logger.Error(ctx, "usage event dropped after retries", err,
		logger.String("request_id", event.RequestID),
		logger.Int("attempts", applyAttempts),
	)
}

// Stop gracefully shuts down the consumer.
func (c *UsageConsumer) Stop() {
	close(c.stop)
	if err := c.reader.Close(); err != nil {
		c.logger.Error(context.Background(), "failed to close kafka reader", err)
	}
}
