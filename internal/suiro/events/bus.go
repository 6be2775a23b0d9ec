package events

import (
	"context"
	"sync"
	"time"

	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/pkg/errors"
)

// EventType identifies the kinds of events the control plane emits.
type EventType string

const (
	SessionStatusChanged  EventType = "session.status_changed"
	JobStatusChanged      EventType = "job.status_changed"
	CheckpointWritten     EventType = "checkpoint.written"
	RecoveryPlanGenerated EventType = "recovery.plan_generated"
)

// Event is a notification about session progress. Events are advisory; the
// checkpoint log remains the source of truth.
type Event struct {
	Type      EventType
	SessionID string
	Data      interface{}
	Timestamp time.Time
}

// EventHandler handles published events
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
	SupportedEvents() []EventType
}

// EventBus manages event publishing and subscription
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) error
	Unsubscribe(eventType EventType, handler EventHandler) error
}

// InMemoryEventBus is a simple in-memory event bus implementation
type InMemoryEventBus struct {
	handlers map[EventType][]EventHandler
	mutex    sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus for decoupled
// component communication
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Publish sends an event to all registered handlers concurrently
func (b *InMemoryEventBus) Publish(ctx context.Context, event Event) error {
	b.mutex.RLock()
	handlers, exists := b.handlers[event.Type]
	b.mutex.RUnlock()

	if !exists {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 0)
	errorMutex := sync.Mutex{}

	for _, handler := range handlers {
		wg.Add(1)
		go func(h EventHandler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errorMutex.Lock()
				errs = append(errs, err)
				errorMutex.Unlock()
			}
		}(handler)
	}

	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Subscribe registers an event handler to receive events of a specific type
func (b *InMemoryEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make([]EventHandler, 0)
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Unsubscribe removes an event handler from receiving events of a specific type
func (b *InMemoryEventBus) Unsubscribe(eventType EventType, handler EventHandler) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	handlers, exists := b.handlers[eventType]
	if !exists {
		return nil
	}

	for i, h := range handlers {
		if h == handler {
			b.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return nil
}

// SessionEventData carries the transition for a session status change.
type SessionEventData struct {
	From domain.SessionStatus
	To   domain.SessionStatus
}

// JobEventData carries the transition for a job status change.
type JobEventData struct {
	JobID string
	From  domain.JobState
	To    domain.JobState
}

// CheckpointEventData carries the sequence of a written checkpoint.
type CheckpointEventData struct {
	Sequence int64
	Event    domain.CheckpointEvent
}

// RecoveryEventData carries the id of a generated recovery plan.
type RecoveryEventData struct {
	PlanID     string
	Incomplete bool
}
