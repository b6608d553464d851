package order

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const eventQueue = "orders.events"

// EventPublisher emits order lifecycle events. Publish failures must be
// tolerable; the saga logs and continues.
type EventPublisher interface {
	Publish(ctx context.Context, o *Order) error
}

// Event is the message body placed on the queue.
type Event struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	SagaState   string `json:"saga_state"`
	TotalAmount int64  `json:"total_amount"`
	OccurredAt  string `json:"occurred_at"`
}

// RabbitPublisher publishes events to RabbitMQ. Each publish dials, declares
// the durable queue and sends a persistent message, so a broker restart never
// wedges the service.
type RabbitPublisher struct {
	url string
}

var _ EventPublisher = (*RabbitPublisher)(nil)

// NewRabbitPublisher builds a publisher for the given AMQP URL.
func NewRabbitPublisher(url string) *RabbitPublisher {
	return &RabbitPublisher{url: url}
}

func (p *RabbitPublisher) Publish(ctx context.Context, o *Order) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(eventQueue, true, false, false, false, nil); err != nil {
		return err
	}

	body, err := json.Marshal(Event{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		SagaState:   string(o.SagaState),
		TotalAmount: o.TotalAmount,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, "", eventQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}
