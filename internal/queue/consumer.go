package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultMaxMessageAge bounds how late a redispatched notification may still
// reach a wali. Older messages are acknowledged and dropped.
const DefaultMaxMessageAge = 24 * time.Hour

type settlement int

const (
	settleAck settlement = iota
	settleReject
	settleDeadLetter
)

func (s settlement) apply(d amqp.Delivery) error {
	switch s {
	case settleReject:
		return d.Reject(false)
	case settleDeadLetter:
		return d.Nack(false, false)
	default:
		return d.Ack(false)
	}
}

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	maxAge   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		maxAge:   DefaultMaxMessageAge,
		logger:   logger,
		now:      time.Now,
	}
}

// SetMaxMessageAge overrides DefaultMaxMessageAge. Zero disables expiry.
func (c *RabbitMQConsumer) SetMaxMessageAge(d time.Duration) {
	c.maxAge = max(d, 0)
}

// Consume blocks until ctx is done. A dropped channel is reopened with
// backoff.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for ctx.Err() == nil {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, retrying",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		wait = nextBackoff(wait)
	}
	return nil
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery never requeues. Malformed messages are rejected, handler
// failures go to the dead-letter queue and expired messages are acked.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	outcome := c.process(ctx, d, handler)
	if err := outcome.apply(d); err != nil {
		return fmt.Errorf("failed to settle delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler MessageHandler) settlement {
	logger := c.logger.With(zap.String("routingKey", d.RoutingKey), zap.String("messageId", d.MessageId))

	var msg RedispatchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		logger.Warn("rejecting message: invalid JSON", zap.Error(err))
		return settleReject
	}
	if err := msg.Validate(); err != nil {
		logger.Warn("rejecting message: validation failed", zap.Error(err))
		return settleReject
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}

	logger = logger.With(
		zap.String("sourceJobId", msg.SourceJobID),
		zap.String("event", msg.Event.String()),
	)

	if c.expired(d.Timestamp) {
		logger.Warn("dropping message: too old to deliver", zap.Time("publishedAt", d.Timestamp))
		return settleAck
	}

	if err := handler(ctx, msg); err != nil {
		logger.Warn("dead-lettering message: handler failed", zap.Error(err))
		return settleDeadLetter
	}
	return settleAck
}

func (c *RabbitMQConsumer) expired(publishedAt time.Time) bool {
	if c.maxAge <= 0 || publishedAt.IsZero() {
		return false
	}
	return c.now().Sub(publishedAt) > c.maxAge
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
