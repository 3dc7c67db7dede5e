// Package memory keeps store notifications in process. It backs the dev
// profile when Pub/Sub is disabled and lets tests assert on what a worker
// announced.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// DefaultCapacity bounds the retained history of a long-running dev server.
const DefaultCapacity = 1000

// PublishedMessage is one notification as handed to Publish.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher retains the most recent notifications, oldest first.
type Publisher struct {
	capacity int

	mu   sync.RWMutex
	seq  int
	msgs []PublishedMessage
}

// New returns a Publisher retaining DefaultCapacity messages.
func New() *Publisher {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity returns a Publisher that drops the oldest message once n
// are held. n <= 0 selects DefaultCapacity.
func NewWithCapacity(n int) *Publisher {
	if n <= 0 {
		n = DefaultCapacity
	}
	return &Publisher{capacity: n}
}

// Publish records payload under topic. IDs are "memory-<n>" and keep
// counting after old messages are dropped.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	if len(p.msgs) == p.capacity {
		p.msgs = append(p.msgs[:0], p.msgs[1:]...)
	}
	p.msgs = append(p.msgs, PublishedMessage{Topic: topic, Payload: payload})
	return "memory-" + strconv.Itoa(p.seq), nil
}

// Messages returns a copy of the retained notifications.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.msgs...)
}

// Topic returns the retained payloads published to topic.
func (p *Publisher) Topic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.msgs {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
