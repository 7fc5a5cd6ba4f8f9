package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Envelope wraps every published payload.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON envelopes to one Kafka topic. Messages with the same key land on
// the same partition, so events of one document stay ordered.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
	now     func() time.Time
}

// NewKafkaPublisher builds a Publisher for brokers and topic. It returns nil when no broker is configured.
func NewKafkaPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return NewPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	})
}

// NewPublisher wraps an existing writer.
func NewPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, timeout: 5 * time.Second, now: func() time.Time { return time.Now().UTC() }}
}

// Publish encodes payload into an Envelope and writes it synchronously.
// A nil Publisher drops the event.
func (p *Publisher) Publish(ctx context.Context, key, eventType string, payload any) error {
	if p == nil || p.writer == nil {
		return nil
	}
	if eventType == "" {
		return errors.New("events: event type required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", eventType, err)
	}
	env := Envelope{ID: uuid.NewString(), Type: eventType, OccurredAt: p.now(), Payload: body}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
		Time:    env.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("events: write %s: %w", eventType, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
