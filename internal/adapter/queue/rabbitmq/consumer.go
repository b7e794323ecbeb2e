package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// HandlerFunc processes one job message. It must not panic; whatever it does,
// the delivery is acknowledged afterwards so a crashing job cannot wedge the
// queue in an endless redelivery loop.
type HandlerFunc func(ctx context.Context, body []byte)

// Consumer binds a worker's private queue to the shared exchange and feeds
// deliveries to a handler, one goroutine per message. Prefetch is 1, so at
// most one unacknowledged delivery is in flight per worker.
type Consumer struct {
	workerID string
	conn     *amqp.Connection
	ch       *amqp.Channel
	log      *slog.Logger
}

// NewConsumer dials the broker and declares the worker topology: the durable
// direct exchange, the worker's auto-delete queue, and the binding keyed by
// the worker id.
func NewConsumer(url, workerID string, log *slog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("op=amqp.dial: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("op=amqp.channel: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("op=amqp.exchange_declare: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	// The queue dies with its last consumer; the Gateway relies on that to
	// detect models without workers.
	if _, err := ch.QueueDeclare(workerID, false, true, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("op=amqp.queue_declare: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	if err := ch.QueueBind(workerID, workerID, ExchangeName, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("op=amqp.queue_bind: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("op=amqp.qos: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	return &Consumer{workerID: workerID, conn: conn, ch: ch, log: log}, nil
}

// Run consumes until ctx is cancelled or the channel closes. Handlers run on
// their own goroutines; acknowledgements are sent back to this loop because
// the channel is not safe for concurrent use.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	tag := "worker-" + uuid.NewString()
	deliveries, err := c.ch.Consume(c.workerID, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=amqp.consume: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	c.log.Info("consuming jobs",
		slog.String("queue", c.workerID),
		slog.String("consumer_tag", tag))

	acks := make(chan uint64)
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			if err := c.ch.Cancel(tag, false); err != nil {
				c.log.Warn("failed to cancel consumer", slog.Any("error", err))
			}
			c.drain(&wg, acks)
			return nil
		case deliveryTag := <-acks:
			if err := c.ch.Ack(deliveryTag, false); err != nil {
				c.log.Error("failed to ack delivery",
					slog.Uint64("delivery_tag", deliveryTag),
					slog.Any("error", err))
			}
		case d, ok := <-deliveries:
			if !ok {
				c.drain(&wg, acks)
				return fmt.Errorf("op=amqp.consume: %w: delivery channel closed", domain.ErrBrokerUnavailable)
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				handle(ctx, d.Body)
				acks <- d.DeliveryTag
			}(d)
		}
	}
}

// drain waits for in-flight handlers while still acknowledging their
// completions, so no goroutine blocks on the acks channel during shutdown.
func (c *Consumer) drain(wg *sync.WaitGroup, acks chan uint64) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case deliveryTag := <-acks:
			if err := c.ch.Ack(deliveryTag, false); err != nil {
				c.log.Error("failed to ack delivery during shutdown", slog.Any("error", err))
			}
		case <-done:
			return
		}
	}
}

// Close tears down the channel and connection.
func (c *Consumer) Close() error {
	if err := c.ch.Close(); err != nil {
		c.log.Warn("failed to close broker channel", slog.Any("error", err))
	}
	return c.conn.Close()
}
