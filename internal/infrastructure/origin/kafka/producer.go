// Package kafka moves usage accounting off the request path: the gateway
// publishes usage events and the origin applies them from a consumer group.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

var _ service.OriginClient = (*UsageProducer)(nil)

// UsageProducer decorates an OriginClient: lookups pass through, while
// RecordInvocation publishes a UsageEvent instead of calling the origin.
type UsageProducer struct {
	service.OriginClient
	writer MessageWriter
	logger logger.Logger
	now    func() time.Time
}

// NewUsageProducer creates a producer writing to cfg.UsageTopic.
func NewUsageProducer(cfg config.KafkaConfig, next service.OriginClient, log logger.Logger) *UsageProducer {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.UsageTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return NewUsageProducerWithWriter(writer, next, log)
}

// NewUsageProducerWithWriter creates a producer over an existing writer.
func NewUsageProducerWithWriter(w MessageWriter, next service.OriginClient, log logger.Logger) *UsageProducer {
	return &UsageProducer{
		OriginClient: next,
		writer:       w,
		logger:       log.WithComponent("UsageProducer"),
		now:          time.Now,
	}
}

// RecordInvocation publishes the usage event. Messages are keyed by grant so
// events for the same (user, interface) pair stay ordered on one partition.
func (p *UsageProducer) RecordInvocation(ctx context.Context, interfaceID, userID int64) error {
	requestID, _ := ctx.Value(constants.ContextKeyRequestID).(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	event := models.UsageEvent{
		RequestID:   requestID,
		InterfaceID: interfaceID,
		UserID:      userID,
		OccurredAt:  p.now().UTC(),
	}
	bytes, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal usage event", err)
		return errors.ErrSystem.WithCause(err)
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(grantKey(interfaceID, userID)),
		Value: bytes,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to write usage event to Kafka", err,
			logger.Int64("interface_id", interfaceID),
			logger.Int64("user_id", userID),
		)
		return errors.ErrSystem.WithCause(err)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *UsageProducer) Close() error {
	return p.writer.Close()
}

func grantKey(interfaceID, userID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(interfaceID, 10)
}
