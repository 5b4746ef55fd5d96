// Package events carries the domain facts the rest of the system reacts to:
// account lifecycle, membership changes, and invitation traffic. Events are
// delivered synchronously to in-process subscribers; a failing subscriber is
// logged and never fails the operation that emitted the event.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/quayside-labs/saaskit/pkg/observability"
)

// Event is a domain fact with a stable name and a payload map suitable for
// structured logging and the audit trail.
type Event struct {
	Name       string
	OccurredAt time.Time
	AccountID  int64
	// ActorID is who performed the operation; UserID is who it affected.
	// They coincide for self-service operations.
	ActorID int64
	UserID  int64
	Payload map[string]any
}

// Event names.
const (
	AccountCreated     = "account.created"
	AccountConverted   = "account.converted"
	AccountDestroyed   = "account.destroyed"
	MembershipChanged  = "membership.changed"
	InvitationIssued   = "invitation.issued"
	InvitationAccepted = "invitation.accepted"
	UserRegistered     = "user.registered"
	EmailVerified      = "user.email_verified"
	PasswordChanged    = "user.password_changed"
)

// Handler consumes one event. Handlers must tolerate replays and must not
// block for long: they run inline with the emitting request.
type Handler func(ctx context.Context, event Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *observability.Logger
}

// NewBus creates an event bus.
func NewBus(logger *observability.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a handler for every event.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish delivers the event to all subscribers. A panicking subscriber is
// contained so one bad sink cannot take down the request.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(ctx, handler, event)
	}
}

func (b *Bus) deliver(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("event", event.Name).
				WithField("panic", r).
				Error("event subscriber panicked")
		}
	}()
	handler(ctx, event)
}
