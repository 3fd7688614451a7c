package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by request id, so every transition of
// one request lands on the same partition in order.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
	now     func() time.Time
}

// NewKafkaWriter builds a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) (*kgo.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("events: kafka topic is required")
	}
	return &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
	}, nil
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, timeout: 3 * time.Second, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(ev.RequestID),
		Value: b,
		Time:  p.now(),
		Headers: []kgo.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", ev.RequestID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
