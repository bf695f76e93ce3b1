// Package events publishes payment lifecycle notifications: state changes on
// the kafka event stream, review alerts on NATS for the operator tooling.
package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"github.com/eventtix/paygate/internal/models"
)

const (
	StateChangedTopic = "payment.state.changed"
	ReviewSubject     = "payment.review"
)

// KafkaPublisher writes state-change events keyed by payment id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    StateChangedTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) PublishStateChange(ctx context.Context, change models.StateChange) error {
	value, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.PaymentID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NATSNotifier publishes review alerts for payments and refunds an operator
// has to look at.
type NATSNotifier struct {
	conn *nats.Conn
}

func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

func (n *NATSNotifier) NotifyReview(_ context.Context, alert models.ReviewAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return n.conn.Publish(ReviewSubject, data)
}

// NoopPublisher discards state-change events; used when no broker is
// configured and in tests.
type NoopPublisher struct{}

func (NoopPublisher) PublishStateChange(context.Context, models.StateChange) error { return nil }

// NoopNotifier discards review alerts.
type NoopNotifier struct{}

func (NoopNotifier) NotifyReview(context.Context, models.ReviewAlert) error { return nil }
