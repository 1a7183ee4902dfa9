package trigger

import (
	"context"
	"errors"
	"time"
)

// Trigger is an external entity whose presence and attributes drive the
// creation of managed records. The ID is opaque and stable for the lifetime
// of the entity; Attributes are owned by the dispatcher that reported it.
type Trigger struct {
	// ID identifies the trigger within its dispatcher.
	ID string

	// Attributes exposed by the trigger. Values are strings, numbers,
	// booleans or string arrays.
	Attributes map[string]any
}

// Property returns the named attribute.
func (t Trigger) Property(name string) (any, bool) {
	v, ok := t.Attributes[name]
	return v, ok
}

// Clone returns a copy of t that shares no mutable state with it.
func (t Trigger) Clone() Trigger {
	return Trigger{ID: t.ID, Attributes: cloneAttributes(t.Attributes)}
}

func cloneAttributes(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.([]string); ok {
			v = append([]string(nil), s...)
		}
		out[k] = v
	}
	return out
}

// EventKind describes what happened to a trigger.
type EventKind string

const (
	// EventRegistered indicates a trigger started matching a subscription.
	EventRegistered EventKind = "Registered"

	// EventModified indicates the attributes of a matching trigger changed.
	EventModified EventKind = "Modified"

	// EventUnregistered indicates a trigger stopped matching a subscription,
	// either because it went away or because its attributes changed.
	EventUnregistered EventKind = "Unregistered"
)

// Event is a single trigger lifecycle notification.
type Event struct {
	Kind      EventKind
	Trigger   Trigger
	Timestamp time.Time
}

// Sink receives events for a subscription. Sinks are invoked while the
// dispatcher holds its lock, so they must not block and must not call back
// into the dispatcher.
type Sink func(Event)

// Subscription is a live registration of a Sink.
type Subscription interface {
	// Unsubscribe stops event delivery. It is safe to call more than once.
	Unsubscribe()
}

// Dispatcher delivers trigger lifecycle events and enumerates the current
// trigger population.
type Dispatcher interface {
	// Subscribe starts delivering events for triggers matching filter.
	Subscribe(ctx context.Context, filter string, sink Sink) (Subscription, error)

	// Enumerate returns a consistent snapshot of all triggers matching
	// filter, ordered by ID.
	Enumerate(ctx context.Context, filter string) ([]Trigger, error)
}

var (
	// ErrInvalidFilter is returned for filter expressions that cannot be parsed.
	ErrInvalidFilter = errors.New("invalid trigger filter")

	// ErrUnknownTrigger is returned when modifying a trigger that is not registered.
	ErrUnknownTrigger = errors.New("unknown trigger")
)
