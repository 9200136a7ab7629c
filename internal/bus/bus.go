// Package bus provides the in-process event bus that carries session update
// notifications from the stream core to UI subscribers.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Subjects published by the session core.
const (
	SubjectSessionUpdated    = "session.updated"    // messages, draft, or activity changed
	SubjectSessionConnection = "session.connection" // connected flag changed
	SubjectSessionQuestion   = "session.question"   // pending question raised or cleared
)

// Event represents a message on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp.
func NewEvent(eventType, sessionID string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler is a function that handles an event.
type Handler func(event *Event)

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe()
	IsValid() bool
}

// Bus is the interface for event bus operations.
type Bus interface {
	// Publish sends an event to a subject. Delivery is synchronous and
	// in publish order so UI projections never observe updates out of order.
	Publish(subject string, event *Event)

	// Subscribe creates a subscription to a subject. The subject "*"
	// receives every event.
	Subscribe(subject string, handler Handler) Subscription

	// Close deactivates all subscriptions.
	Close()
}
