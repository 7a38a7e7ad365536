// Package memory implements an in-process messaging queue with redelivery
// and a dead-letter buffer.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/internal/idgen"
	"github.com/flowgrid/flowgrid/service/messaging"
)

// Config controls redelivery behaviour of the memory queue.
type Config struct {
	MaxRedeliveries int
	RedeliveryDelay time.Duration
	DeadLetter      bool
	Buffer          int
}

// DefaultConfig returns the standard memory queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRedeliveries: 3,
		RedeliveryDelay: 100 * time.Millisecond,
		DeadLetter:      true,
		Buffer:          128,
	}
}

// Stats is a point-in-time snapshot of queue activity. Redelivered and
// DeadLettered are cumulative over the queue's lifetime.
type Stats struct {
	Depth        int `json:"depth"`
	Redelivered  int `json:"redelivered"`
	DeadLettered int `json:"deadLettered"`
}

// Message carries one payload through the queue.
type Message[T any] struct {
	id         string
	payload    T
	queue      *Queue[T]
	deliveries int
	mu         sync.Mutex
	settled    bool
	createdAt  time.Time
}

// T returns the message payload.
func (m *Message[T]) T() *T {
	return &m.payload
}

// Ack marks the message as processed.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return fmt.Errorf("message %s already settled", m.id)
	}
	m.settled = true
	return nil
}

// Nack reports a failure; the message is redelivered after a delay until
// the redelivery budget is exhausted, then moved to the dead-letter buffer.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return fmt.Errorf("message %s already settled", m.id)
	}
	m.settled = true
	m.deliveries++

	if m.deliveries <= m.queue.config.MaxRedeliveries {
		m.queue.scheduleRedelivery(m)
		return nil
	}
	m.queue.deadLetter(m)
	return nil
}

// Queue is an in-memory messaging.Queue backed by a buffered channel.
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config

	mu          sync.Mutex
	dlq         []*Message[T]
	redelivered int
}

var _ messaging.Queue[any] = (*Queue[any])(nil)

// NewQueue creates an in-memory queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.Buffer <= 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	return &Queue[T]{
		messages: make(chan *Message[T], config.Buffer),
		config:   config,
	}
}

// Publish adds a new payload to the queue.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	msg := &Message[T]{
		id:        idgen.New(),
		payload:   *t,
		queue:     q,
		createdAt: time.Now(),
	}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume retrieves a single message, blocking until available.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats reports the current depth together with the cumulative redelivery
// and dead-letter counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:        len(q.messages),
		Redelivered:  q.redelivered,
		DeadLettered: len(q.dlq),
	}
}

// scheduleRedelivery re-enqueues a fresh copy of the message after the
// configured delay. The copy keeps the id and delivery count so the
// redelivery budget spans attempts.
func (q *Queue[T]) scheduleRedelivery(m *Message[T]) {
	q.mu.Lock()
	q.redelivered++
	q.mu.Unlock()
	time.AfterFunc(q.config.RedeliveryDelay, func() {
		q.messages <- &Message[T]{
			id:         m.id,
			payload:    m.payload,
			queue:      q,
			deliveries: m.deliveries,
			createdAt:  time.Now(),
		}
	})
}

func (q *Queue[T]) deadLetter(m *Message[T]) {
	if !q.config.DeadLetter {
		return
	}
	q.mu.Lock()
	q.dlq = append(q.dlq, m)
	q.mu.Unlock()
}
