// Package events publishes Flame lifecycle events (session/task/executor
// state transitions) to a message bus for external observers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published on the lifecycle subjects.
const (
	SessionOpened   = "flame.session.opened"
	SessionClosed   = "flame.session.closed"
	TaskCompleted   = "flame.task.completed"
	ExecutorBound   = "flame.executor.bound"
	ExecutorUnbound = "flame.executor.unbound"
)

// Event is the wire shape published to the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps an Event with a fresh id and the current time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Bus is the lifecycle event publish/subscribe contract.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler func(ctx context.Context, event *Event)) (Subscription, error)
	Close()
}

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
}
