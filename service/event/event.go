// Package event is the publish/subscribe fabric of the engine. Events are
// fanned out to named queue-backed subscriptions with at-least-once
// delivery; the engine's own resume subscription wakes paused flows whose
// resume policy matches a published event.
package event

import (
	"time"

	"github.com/flowgrid/flowgrid/internal/clock"
	"github.com/flowgrid/flowgrid/internal/idgen"
)

// Event is a published fact. The payload is opaque to the fabric; resume
// filters and subscribers interpret it.
type Event struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	Payload       interface{} `json:"payload,omitempty"`
	PublishedBy   string      `json:"publishedBy,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// NewEvent creates an event of the given type with an opaque payload.
func NewEvent(eventType string, payload interface{}) *Event {
	return &Event{
		ID:        idgen.New(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: clock.Now(),
	}
}

// WithPublisher records the publishing principal.
func (e *Event) WithPublisher(userID string) *Event {
	e.PublishedBy = userID
	return e
}

// WithCorrelation tags the event with a correlation identifier.
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}
