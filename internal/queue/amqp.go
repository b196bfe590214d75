package queue

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPQueue is a RabbitMQ-backed queue using a single durable queue with
// default-exchange routing.
type AMQPQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string
}

// NewAMQPQueue dials the broker and declares the queue.
func NewAMQPQueue(url, name string) (*AMQPQueue, error) {
	if name == "" {
		name = "geoattend.checkins"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	logrus.WithField("queue", name).Info("connected to AMQP broker")
	return &AMQPQueue{conn: conn, channel: channel, name: name}, nil
}

// Publish enqueues a message.
func (q *AMQPQueue) Publish(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.channel.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
	})
}

// Consume streams messages until the context is cancelled.
func (q *AMQPQueue) Consume(ctx context.Context) (<-chan Message, error) {
	deliveries, err := q.channel.Consume(q.name, "", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan Message)
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
				var msg Message
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					logrus.WithError(err).Warn("dropping malformed queue message")
					continue
				}
				out <- msg
			}
		}
	}()
	return out, nil
}

// Close closes the channel and connection.
func (q *AMQPQueue) Close() error {
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
