// Package rabbitmq provides the broker adapter over the mlapi_exchange
// direct exchange. The Gateway publishes one message per admitted job to the
// queue named after the owning worker; each worker consumes its own queue.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// ExchangeName is the durable direct exchange shared by all workers.
const ExchangeName = "mlapi_exchange"

// Publisher implements domain.Publisher over a lazily established AMQP
// connection. A fresh channel is opened per publish because the passive
// queue check closes the channel when the queue is absent.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewPublisher constructs a Publisher; the connection is dialed on first use.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

func (p *Publisher) connection() (*amqp.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

// Publish asserts that the worker queue exists and delivers the job body to
// it. An absent queue maps to domain.ErrNoWorkers (the model has no live
// worker); any transport failure maps to domain.ErrBrokerUnavailable.
func (p *Publisher) Publish(ctx context.Context, workerID string, body []byte) error {
	conn, err := p.connection()
	if err != nil {
		return fmt.Errorf("op=amqp.dial: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("op=amqp.channel: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	defer func() { _ = ch.Close() }()

	// Passive declare: succeeds only when the worker has declared its queue.
	// Auto-delete queues vanish with their consumer, so this doubles as a
	// liveness check for the model's worker.
	if _, err := ch.QueueDeclarePassive(workerID, false, true, false, false, nil); err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return fmt.Errorf("op=amqp.queue_check: %w: queue %q", domain.ErrNoWorkers, workerID)
		}
		return fmt.Errorf("op=amqp.queue_check: %w: %v", domain.ErrBrokerUnavailable, err)
	}

	pub := amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}
	if err := ch.PublishWithContext(ctx, ExchangeName, workerID, false, false, pub); err != nil {
		return fmt.Errorf("op=amqp.publish: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		slog.Error("failed to close broker connection", slog.Any("error", err))
		return err
	}
	p.conn = nil
	return nil
}
