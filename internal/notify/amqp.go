package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// publisher is the part of *amqp.Channel the mirror uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQ mirrors every notification onto a durable queue so other
// consumers can pick them up. It does not retry or requeue failed cards.
type RabbitMQ struct {
	queue string
	conn  *amqp.Connection

	// amqp091-go channels are not goroutine-safe and deliveries run concurrently.
	mu    sync.Mutex
	pubCh publisher
}

// NewRabbitMQ dials the broker, opens a publish channel, and declares queue.
func NewRabbitMQ(url, queue string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: failed to connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: failed to open publish channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // auto-delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: failed to declare queue %q: %w", queue, err)
	}

	return &RabbitMQ{queue: queue, conn: conn, pubCh: ch}, nil
}

// Name identifies the channel in logs.
func (mq *RabbitMQ) Name() string { return "amqp" }

// Send publishes n as a persistent JSON message on the default exchange.
func (mq *RabbitMQ) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("rabbitmq: failed to marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	mq.mu.Lock()
	defer mq.mu.Unlock()

	if err := mq.pubCh.PublishWithContext(ctx,
		"",       // default exchange
		mq.queue, // routing key = queue name
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    n.DeliveryID,
			Type:         "pull_request." + n.Action,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("rabbitmq: failed to publish to %q: %w", mq.queue, err)
	}
	return nil
}

// Close releases the channel and the connection.
func (mq *RabbitMQ) Close() error {
	if mq.conn == nil {
		return nil
	}
	return mq.conn.Close()
}
