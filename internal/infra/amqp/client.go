// Package amqp carries document change events over RabbitMQ.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ port.EventPublisher = (*Client)(nil)

// EventHandler processes one decoded event. An error means the event is
// malformed and is dropped.
type EventHandler func(ctx context.Context, event *domain.DocumentEvent) error

// Client is a publisher and consumer bound to one exchange and queue.
type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	logger       *zap.Logger

	mu sync.Mutex // guards channel for publishing
}

// Dial connects to the broker, retrying with backoff, and declares the
// exchange and queue.
func Dial(ctx context.Context, url, exchangeName, queueName string, retry resilience.Config, logger *zap.Logger) (*Client, error) {
	var conn *amqp091.Connection
	err := resilience.RetryWithBackoff(ctx, retry, func() error {
		c, err := amqp091.Dial(url)
		if err != nil {
			logger.Warn("amqp: dial failed, retrying", zap.Error(err))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger,
	}
	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return client, nil
}

func (c *Client) setup() error {
	if err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key
		c.exchangeName, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Publish sends event as a persistent JSON message.
func (c *Client) Publish(ctx context.Context, event *domain.DocumentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c.mu.Lock()
	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.EventID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	c.logger.Debug("amqp: event published",
		zap.String("event_id", event.EventID),
		zap.String("kind", string(event.Kind)),
		zap.String("path", event.Path),
	)
	return nil
}

// Consume delivers queued events to handler until ctx is done. At most
// bulkhead-capacity events are handled at once; Consume waits for them
// before returning.
func (c *Client) Consume(ctx context.Context, bulkhead *resilience.Bulkhead, prefetch int, handler EventHandler) error {
	if prefetch > 0 {
		if err := c.channel.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.Info("amqp: consuming events", zap.String("queue", c.queueName))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("amqp: stopping consumer", zap.Error(ctx.Err()))
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			if err := bulkhead.Acquire(ctx); err != nil {
				_ = delivery.Nack(false, true)
				return err
			}
			wg.Add(1)
			go func(d amqp091.Delivery) {
				defer wg.Done()
				defer bulkhead.Release()
				handleDelivery(ctx, d, handler, c.logger)
			}(delivery)
		}
	}
}

// handleDelivery acks handled events and drops malformed ones without
// requeueing.
func handleDelivery(ctx context.Context, d amqp091.Delivery, handler EventHandler, logger *zap.Logger) {
	event, err := DecodeEvent(d.Body)
	if err != nil {
		logger.Error("amqp: undecodable event", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := handler(ctx, event); err != nil {
		logger.Warn("amqp: event rejected",
			zap.String("event_id", event.EventID),
			zap.String("path", event.Path),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// DecodeEvent parses and validates a message body.
func DecodeEvent(body []byte) (*domain.DocumentEvent, error) {
	var event domain.DocumentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &domain.ErrValidation{Field: "body", Message: err.Error()}
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
