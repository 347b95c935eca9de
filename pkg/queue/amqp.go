package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/doctriage/doctriage/pkg/models"
)

const amqpJobsQueue = "doctriage.jobs.queue"

// AMQPQueue is a RabbitMQ-backed Queue. Descriptors are persistent
// messages consumed with manual acks; Requeue is publish-then-ack so a
// retried job lands at the tail instead of the head.
//
// Claim-time tracking lives broker-side as unacked deliveries, so a
// crashed consumer's descriptors are redelivered by the broker itself;
// the stuck-job sweep then reconciles the store against redelivery.
type AMQPQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery

	mu      sync.Mutex
	pending map[string]amqp.Delivery // claimed jobID -> unacked delivery
}

// NewAMQPQueue connects to RabbitMQ and declares the jobs queue
func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to open channel: %v", models.ErrQueueUnavailable, err)
	}

	if _, err := ch.QueueDeclare(amqpJobsQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%w: failed to declare queue: %v", models.ErrQueueUnavailable, err)
	}

	// One unacked delivery per consumer keeps claim ownership exclusive.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%w: failed to set qos: %v", models.ErrQueueUnavailable, err)
	}

	deliveries, err := ch.Consume(amqpJobsQueue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%w: failed to start consumer: %v", models.ErrQueueUnavailable, err)
	}

	return &AMQPQueue{
		conn:       conn,
		ch:         ch,
		deliveries: deliveries,
		pending:    make(map[string]amqp.Delivery),
	}, nil
}

// Enqueue publishes a persistent descriptor message
func (q *AMQPQueue) Enqueue(ctx context.Context, d models.Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, "", amqpJobsQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue waits up to timeout for a delivery
func (q *AMQPQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Descriptor, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg, ok := <-q.deliveries:
		if !ok {
			return nil, models.ErrQueueUnavailable
		}
		var d models.Descriptor
		if err := json.Unmarshal(msg.Body, &d); err != nil {
			// Corrupt message: reject without requeue.
			msg.Nack(false, false)
			return nil, fmt.Errorf("failed to unmarshal descriptor: %w", err)
		}
		q.mu.Lock()
		q.pending[d.JobID] = msg
		q.mu.Unlock()
		return &d, nil
	}
}

// Requeue publishes the descriptor at the tail, then acks the claimed delivery
func (q *AMQPQueue) Requeue(ctx context.Context, d models.Descriptor) error {
	if err := q.Enqueue(ctx, d); err != nil {
		return err
	}
	return q.Ack(ctx, d.JobID)
}

// Ack acknowledges the claimed delivery for the job
func (q *AMQPQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	msg, ok := q.pending[jobID]
	delete(q.pending, jobID)
	q.mu.Unlock()
	if !ok {
		// Claim held by another consumer (sweep path); broker redelivery
		// already covers it.
		return nil
	}
	if err := msg.Ack(false); err != nil {
		return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return nil
}

// Depth returns the broker's ready-message count for the queue
func (q *AMQPQueue) Depth(ctx context.Context) (int, error) {
	state, err := q.ch.QueueDeclarePassive(amqpJobsQueue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return state.Messages, nil
}

// Ping checks broker reachability
func (q *AMQPQueue) Ping(ctx context.Context) error {
	if q.conn.IsClosed() {
		return models.ErrQueueUnavailable
	}
	return nil
}

// Close closes channel and connection
func (q *AMQPQueue) Close() error {
	q.ch.Close()
	return q.conn.Close()
}
