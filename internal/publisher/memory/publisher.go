// Package memory keeps sync notifications in process. It stands in for
// Pub/Sub when no topic is configured and backs the notification tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetain is how many messages a Publisher keeps by default.
const DefaultRetain = 256

// Message is one recorded publish. Data holds the JSON encoding a Pub/Sub
// subscriber would receive.
type Message struct {
	ID          string
	EventType   string
	Data        json.RawMessage
	PublishedAt time.Time
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s message: %w", m.EventType, err)
	}
	return nil
}

// Publisher records the most recent messages, oldest first.
type Publisher struct {
	retain int
	logger *zap.Logger

	mu       sync.RWMutex
	seq      int
	messages []Message
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithRetain bounds how many messages are kept; older ones are discarded.
func WithRetain(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.retain = n
		}
	}
}

// WithLogger logs every publish at info level.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New returns an empty Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{retain: DefaultRetain, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish encodes payload as JSON and records it under a sequential ID.
func (p *Publisher) Publish(_ context.Context, eventType string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	p.seq++
	msg := Message{
		ID:          fmt.Sprintf("memory-%d", p.seq),
		EventType:   eventType,
		Data:        data,
		PublishedAt: time.Now().UTC(),
	}
	p.messages = append(p.messages, msg)
	if over := len(p.messages) - p.retain; over > 0 {
		p.messages = append(p.messages[:0], p.messages[over:]...)
	}
	p.mu.Unlock()

	p.logger.Info("notification published",
		zap.String("id", msg.ID),
		zap.String("event_type", eventType),
		zap.ByteString("data", data))
	return msg.ID, nil
}

// Messages returns a copy of the retained messages.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
