package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Bill lifecycle event names, also used as routing key suffixes
const (
	EventBillOpened = "bill.opened"
	EventBillClosed = "bill.closed"
)

// RoutingKeyPrefix namespaces billing routing keys on the exchange
const RoutingKeyPrefix = "billing."

// BillEvent is published after a bill is opened or closed
type BillEvent struct {
	BillID          string  `json:"bill_id"`
	TriggerDeviceID string  `json:"trigger_device_id"`
	TriggerAddress  string  `json:"trigger_address"`
	Event           string  `json:"event"`
	StartedAt       string  `json:"started_at"`
	FinishedAt      *string `json:"finished_at,omitempty"`
	Sum             *string `json:"sum,omitempty"`
	Occupants       int     `json:"occupants"`
}

// RoutingKey returns the routing key of the event
func (e BillEvent) RoutingKey() string {
	return RoutingKeyPrefix + e.Event
}

// FormatTime renders timestamps of bill events
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// BillEventPublisher delivers bill events to downstream consumers
type BillEventPublisher interface {
	PublishBillEvent(ctx context.Context, event BillEvent) error
}

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

var _ BillEventPublisher = (*Publisher)(nil)

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// PublishBillEvent publishes a bill lifecycle event
func (p *Publisher) PublishBillEvent(ctx context.Context, event BillEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := event.RoutingKey()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published bill event",
		zap.String("routing_key", routingKey),
		zap.String("bill_id", event.BillID),
		zap.String("trigger_device_id", event.TriggerDeviceID),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

// NopPublisher drops bill events. It is wired when no broker is configured.
type NopPublisher struct{}

// PublishBillEvent implements BillEventPublisher
func (NopPublisher) PublishBillEvent(context.Context, BillEvent) error {
	return nil
}
