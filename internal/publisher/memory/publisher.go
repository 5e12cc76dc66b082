// Package memory keeps completion events in process, encoded the same way the
// Pub/Sub publisher encodes them. It backs the "memory" pubsub kind and tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Data       json.RawMessage
	Attributes map[string]string
}

// Publisher records messages per topic.
type Publisher struct {
	mu       sync.RWMutex
	seq      int
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload as JSON and records it under topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := propagation.MapCarrier{"content_type": "application/json"}
	otel.GetTextMapPropagator().Inject(ctx, attrs)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{
		ID:         fmt.Sprintf("memory-%d", p.seq),
		Topic:      topic,
		Data:       data,
		Attributes: attrs,
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns every recorded message in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// ByTopic returns the messages published to topic.
func (p *Publisher) ByTopic(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}
