package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPSink publishes dead-lettered actions to a durable RabbitMQ queue
// for external replay tooling, adapted from the teacher pack's
// RabbitMQ publisher.
type AMQPSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

func NewAMQPSink(url, queueName string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare amqp queue: %w", err)
	}
	return &AMQPSink{conn: conn, channel: ch, queue: queueName}, nil
}

func (s *AMQPSink) Push(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	err = s.channel.Publish("", s.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// List is unsupported: AMQP is a queue, not a queryable store. Callers
// that need listing should pair AMQPSink with an external consumer that
// persists entries, or use MySQLSink instead.
func (s *AMQPSink) List(ctx context.Context, limit int) ([]Entry, error) {
	return nil, fmt.Errorf("dlq: list is not supported by the amqp sink")
}

func (s *AMQPSink) Depth(ctx context.Context) (int, error) {
	q, err := s.channel.QueueInspect(s.queue)
	if err != nil {
		return 0, fmt.Errorf("inspect amqp queue: %w", err)
	}
	return q.Messages, nil
}

func (s *AMQPSink) Close() error {
	if err := s.channel.Close(); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}
