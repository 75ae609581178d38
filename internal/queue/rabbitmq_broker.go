package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// rabbitMQBroker transports DispatchMessage over RabbitMQ, adapted from
// the teacher's publisher.Publisher: same amqp.Dial + Channel +
// PublishWithContext shape, repointed from the "discovery.events"
// exchange to a "task.dispatch" one, and additionally consumes (the
// teacher's publisher is publish-only).
type rabbitMQBroker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	logger  *zap.SugaredLogger
}

const dispatchExchange = "task.dispatch"
const dispatchRoutingKey = "dispatch.scan"

// NewRabbitMQBroker connects to RabbitMQ and declares the exchange/queue
// used for task dispatch.
func NewRabbitMQBroker(url string, logger *zap.SugaredLogger) (Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(dispatchExchange, "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := channel.QueueDeclare("task.dispatch.scan", true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(q.Name, dispatchRoutingKey, dispatchExchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &rabbitMQBroker{conn: conn, channel: channel, queue: q, logger: logger}, nil
}

func (b *rabbitMQBroker) Publish(ctx context.Context, msg DispatchMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = b.channel.PublishWithContext(
		publishCtx,
		dispatchExchange,
		dispatchRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			MessageId:   uuid.New().String(),
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish dispatch message: %w", err)
	}

	return nil
}

func (b *rabbitMQBroker) Consume(ctx context.Context) (<-chan DispatchMessage, error) {
	deliveries, err := b.channel.Consume(b.queue.Name, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	out := make(chan DispatchMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var msg DispatchMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					b.logger.Errorw("failed to unmarshal dispatch message", "error", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *rabbitMQBroker) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
