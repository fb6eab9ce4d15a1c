package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the API
const (
	TypeUserCreated        = "user.created"
	TypeGroupCreated       = "group.created"
	TypeGroupDeleted       = "group.deleted"
	TypeMemberAdded        = "group.member_added"
	TypeMemberRemoved      = "group.member_removed"
	TypeExpenseCreated     = "expense.created"
	TypeExpenseDeleted     = "expense.deleted"
	TypeSettlementRecorded = "settlement.recorded"
	TypeHealthRequest      = "health_request"
)

// Event is one audit record of something that happened to the ledger
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"event_type"`
	Data      map[string]string `json:"event_data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// EventOption configures an Event under construction
type EventOption func(*Event)

// WithType sets the event type
func WithType(eventType string) EventOption {
	return func(e *Event) {
		e.Type = eventType
	}
}

// WithData sets the event payload
func WithData(data map[string]string) EventOption {
	return func(e *Event) {
		e.Data = data
	}
}

// NewEvent builds an event with a fresh id and timestamp
func NewEvent(opts ...EventOption) Event {
	e := Event{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Store persists events. Implementations must be safe for use from the
// worker goroutine.
type Store interface {
	Save(ctx context.Context, e Event) error
}
