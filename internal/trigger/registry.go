package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry is an in-memory Dispatcher. Sources (files, Kubernetes) feed it
// through Upsert and Unregister; tests drive it directly.
//
// All mutations and event deliveries happen under one lock, so every
// subscriber observes the same order of events and Enumerate always
// returns a consistent snapshot.
type Registry struct {
	mu sync.Mutex

	triggers map[string]Trigger
	subs     map[uint64]*subscription
	nextID   uint64
}

type subscription struct {
	id       uint64
	filter   Filter
	sink     Sink
	registry *Registry
	once     sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		triggers: make(map[string]Trigger),
		subs:     make(map[uint64]*subscription),
	}
}

// Subscribe registers sink for triggers matching filter.
func (r *Registry) Subscribe(ctx context.Context, filter string, sink Sink) (Subscription, error) {
	if sink == nil {
		return nil, fmt.Errorf("subscribe: sink must not be nil")
	}
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &subscription{id: r.nextID, filter: f, sink: sink, registry: r}
	r.nextID++
	r.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes the subscription from its registry.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.registry.mu.Lock()
		delete(s.registry.subs, s.id)
		s.registry.mu.Unlock()
	})
}

// Enumerate returns all triggers matching filter, ordered by ID.
func (r *Registry) Enumerate(ctx context.Context, filter string) ([]Trigger, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Trigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Register adds a new trigger. Registering an ID that already exists is
// treated as a modification.
func (r *Registry) Register(id string, attributes map[string]any) {
	r.Upsert(id, attributes)
}

// Modify replaces the attributes of an existing trigger.
func (r *Registry) Modify(id string, attributes map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.triggers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, id)
	}
	r.replaceLocked(&old, Trigger{ID: id, Attributes: cloneAttributes(attributes)})
	return nil
}

// Upsert registers the trigger if it is new and modifies it otherwise.
func (r *Registry) Upsert(id string, attributes map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := Trigger{ID: id, Attributes: cloneAttributes(attributes)}
	if old, ok := r.triggers[id]; ok {
		r.replaceLocked(&old, next)
		return
	}
	r.replaceLocked(nil, next)
}

// Unregister removes a trigger. It reports whether the trigger existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.triggers[id]
	if !ok {
		return false
	}
	delete(r.triggers, id)

	now := time.Now()
	for _, sub := range r.sortedSubsLocked() {
		if sub.filter.Matches(old) {
			sub.sink(Event{Kind: EventUnregistered, Trigger: old.Clone(), Timestamp: now})
		}
	}
	return true
}

// Len returns the number of registered triggers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggers)
}

// replaceLocked stores next and notifies subscribers. A modification that
// moves a trigger into or out of a subscription's filter is reported to
// that subscription as Registered or Unregistered respectively.
func (r *Registry) replaceLocked(old *Trigger, next Trigger) {
	r.triggers[next.ID] = next

	now := time.Now()
	for _, sub := range r.sortedSubsLocked() {
		matchedBefore := old != nil && sub.filter.Matches(*old)
		matchesNow := sub.filter.Matches(next)

		var kind EventKind
		switch {
		case matchedBefore && matchesNow:
			kind = EventModified
		case matchesNow:
			kind = EventRegistered
		case matchedBefore:
			kind = EventUnregistered
		default:
			continue
		}

		t := next
		if kind == EventUnregistered {
			t = *old
		}
		sub.sink(Event{Kind: kind, Trigger: t.Clone(), Timestamp: now})
	}
}

func (r *Registry) sortedSubsLocked() []*subscription {
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}
