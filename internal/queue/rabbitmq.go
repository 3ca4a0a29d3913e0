package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQ publishes and consumes JobMessages on one durable queue through
// the default exchange.
type RabbitMQ struct {
	conn            *amqp.Connection
	queue           string
	redeliveryDelay time.Duration
	log             *zap.Logger
	mu              sync.Mutex
}

func Dial(cfg config.QueueConfig, log *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	r := &RabbitMQ{conn: conn, queue: cfg.Name, redeliveryDelay: cfg.RedeliveryDelay, log: log}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := r.declare(ch); err != nil {
		conn.Close()
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) IsConnected() bool {
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		r.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	return nil
}

// Publish sends msg and waits for the broker confirm. It returns only after
// the broker has routed the message to the queue and taken responsibility
// for it.
func (r *RabbitMQ) Publish(ctx context.Context, msg dto.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.IsConnected() {
		return fmt.Errorf("publish: %w: connection closed", ErrUnavailable)
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("publish: %w: %w", ErrUnavailable, err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("publish: %w: confirm mode: %w", ErrUnavailable, err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	err = ch.PublishWithContext(ctx,
		"",      // exchange
		r.queue, // routing key
		true,    // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s:%d", msg.JobID, msg.AttemptNumber),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish: %w: %w", ErrUnavailable, err)
	}

	return awaitConfirm(ctx, confirms, returns)
}

// awaitConfirm waits for the confirm of a single mandatory publish. The
// broker sends basic.return before the ack of an unroutable message, so a
// return already in hand when the ack arrives means nothing was queued.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, returns <-chan amqp.Return) error {
	select {
	case ret := <-returns:
		return fmt.Errorf("publish: %w: message returned: %d %s", ErrUnavailable, ret.ReplyCode, ret.ReplyText)
	case confirmed, ok := <-confirms:
		if !ok {
			return fmt.Errorf("publish: %w: confirmation channel closed", ErrUnavailable)
		}
		if !confirmed.Ack {
			return fmt.Errorf("publish: %w: broker nacked message", ErrUnavailable)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish: %w: %w", ErrUnavailable, ctx.Err())
	}

	select {
	case ret := <-returns:
		return fmt.Errorf("publish: %w: message returned: %d %s", ErrUnavailable, ret.ReplyCode, ret.ReplyText)
	default:
		return nil
	}
}

// Consume reads deliveries with manual acknowledgement, one unacked message
// at a time, until ctx is done or the channel closes.
func (r *RabbitMQ) Consume(ctx context.Context, h Handler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx,
		r.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			r.handle(ctx, d, h)
		}
	}
}

func (r *RabbitMQ) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	var msg dto.JobMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		r.log.Error("dropping undecodable message", zap.Error(err), zap.ByteString("body", d.Body))
		_ = d.Nack(false, false)
		return
	}

	if err := h(ctx, msg); err != nil {
		r.log.Warn("requeueing message",
			zap.String("job_id", msg.JobID),
			zap.Int("attempt", msg.AttemptNumber),
			zap.Duration("delay", r.redeliveryDelay),
			zap.Error(err),
		)
		// with one unacked message per channel, holding it back also pauses
		// this consumer while the store is failing
		if r.redeliveryDelay > 0 {
			select {
			case <-time.After(r.redeliveryDelay):
			case <-ctx.Done():
			}
		}
		if nackErr := d.Nack(false, true); nackErr != nil {
			r.log.Error("failed to nack message", zap.Error(nackErr))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		r.log.Error("failed to acknowledge message", zap.String("job_id", msg.JobID), zap.Error(err))
	}
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.IsConnected() {
		return nil
	}

	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	return nil
}
