package reconciler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"autoconf/internal/config"
	"autoconf/internal/store"
	"autoconf/internal/template"
	"autoconf/internal/trigger"
	"autoconf/pkg/logging"
)

const (
	tracerName = "autoconf/reconciler"

	spanApplyPolicy = "autoconf.apply_policy"
	spanEvent       = "autoconf.event"
	spanDeactivate  = "autoconf.deactivate"
)

// Span attribute keys.
const (
	AttrPolicy       = attribute.Key("autoconf.policy")
	AttrFilter       = attribute.Key("autoconf.filter")
	AttrMultiplicity = attribute.Key("autoconf.multiplicity")
	AttrEventKind    = attribute.Key("autoconf.event.kind")
	AttrTriggerID    = attribute.Key("autoconf.trigger.id")
	AttrOperation    = attribute.Key("autoconf.operation")
	AttrRecords      = attribute.Key("autoconf.records")
)

// Reconciler keeps the records of one policy in line with the triggers
// matching the policy's filter.
//
// All mutation happens under a single mutex: a policy application or an
// event is processed completely, including every store call it causes,
// before the next one starts. Events delivered by the dispatcher are queued
// and handled by Run.
type Reconciler struct {
	mu sync.Mutex

	// name identifies the reconciler in logs and spans
	name string

	dispatcher trigger.Dispatcher
	store      store.Store
	logger     logging.Logger
	tracer     trace.Tracer
	metrics    *ReconcilerMetrics

	// events buffers dispatcher notifications until Run handles them
	events *eventQueue

	// policy is the active policy, nil while inactive
	policy *config.Policy

	// sub is the live subscription for policy.Filter
	sub trigger.Subscription

	// generation changes with every subscription; queued events of an
	// older subscription are dropped
	generation uint64

	// state maps triggers to records, nil while inactive
	state mappingState

	// orphans are records that left the mapping but could not be deleted
	orphans []*entry
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer. The default is a no-op tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Reconciler) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMetrics makes the reconciler record into m.
func WithMetrics(m *ReconcilerMetrics) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New returns an inactive reconciler. Call ApplyPolicy to activate it and
// Run to process trigger events.
func New(name string, dispatcher trigger.Dispatcher, st store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		name:       name,
		dispatcher: dispatcher,
		store:      st,
		logger:     logging.Discard(),
		tracer:     noop.NewTracerProvider().Tracer(tracerName),
		metrics:    NewReconcilerMetrics(),
		events:     newEventQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the reconciler's name.
func (r *Reconciler) Name() string {
	return r.name
}

// ApplyPolicy activates the reconciler with p, or replaces the active
// policy.
//
// A changed filter drops every record and resubscribes. A changed target,
// scope or template mode drops every record but keeps the subscription.
// Switching from PER_TRIGGER to a shared mode keeps the record of the lowest
// trigger ID, switching back hands the shared record to its owning trigger.
// The records are then re-derived from a fresh enumeration.
//
// A *SubscriptionError leaves the reconciler inactive with no records.
func (r *Reconciler) ApplyPolicy(ctx context.Context, p config.Policy) (err error) {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("policy %s: %w", p.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, spanApplyPolicy, trace.WithAttributes(
		AttrPolicy.String(r.name),
		AttrFilter.String(p.Filter),
		AttrMultiplicity.String(string(p.Multiplicity)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(AttrRecords.Int(len(r.recordsLocked())))
		span.End()
	}()

	next := p
	next.PropertyTemplates = slices.Clone(p.PropertyTemplates)

	old := r.policy
	switch {
	case old == nil || old.Filter != next.Filter:
		r.unsubscribeLocked()
		r.dropAllLocked(ctx)
		if err := r.subscribeLocked(ctx, next); err != nil {
			r.policy = nil
			return err
		}
	case recordShapeChanged(*old, next):
		r.logger.Info("%s: target changed from %s to %s, recreating records", r.name, old.TargetIdentity, next.TargetIdentity)
		r.dropAllLocked(ctx)
	}
	r.policy = &next

	triggers, err := r.dispatcher.Enumerate(ctx, next.Filter)
	if err != nil {
		r.unsubscribeLocked()
		r.dropAllLocked(ctx)
		r.policy = nil
		return &SubscriptionError{Policy: r.name, Filter: next.Filter, Err: err}
	}

	r.convertLocked(ctx, triggers)
	r.rederiveLocked(ctx, triggers)
	r.retryOrphansLocked(ctx)

	r.metrics.RecordPolicyApplied()
	r.logger.Info("%s: applied policy for %s (%s, %d matching triggers)", r.name, next.TargetIdentity, next.Multiplicity, len(triggers))
	return nil
}

// recordShapeChanged reports whether records created under old cannot serve
// next.
func recordShapeChanged(old, next config.Policy) bool {
	return old.TargetIdentity != next.TargetIdentity ||
		old.TargetScope != next.TargetScope ||
		old.IsTemplate != next.IsTemplate
}

// HandleEvent processes a single trigger event immediately. Events for an
// inactive reconciler are ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, ev trigger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handleLocked(ctx, ev)
}

// Run processes queued trigger events until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		qe, ok := r.events.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		r.processQueued(ctx, qe)
	}
}

// Flush processes the events queued so far without blocking and returns
// how many were taken from the queue.
func (r *Reconciler) Flush(ctx context.Context) int {
	n := 0
	for {
		qe, ok := r.events.TryPop()
		if !ok {
			return n
		}
		r.processQueued(ctx, qe)
		n++
	}
}

func (r *Reconciler) processQueued(ctx context.Context, qe queuedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if qe.generation != r.generation {
		r.logger.Debug("%s: dropping %s event for %s from a previous subscription", r.name, qe.event.Kind, qe.event.Trigger.ID)
		return
	}
	r.handleLocked(ctx, qe.event)
}

// Deactivate deletes every record, drops the subscription and clears the
// policy. Queued events are discarded.
func (r *Reconciler) Deactivate(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy == nil && len(r.orphans) == 0 {
		return
	}

	ctx, span := r.tracer.Start(ctx, spanDeactivate, trace.WithAttributes(AttrPolicy.String(r.name)))
	defer span.End()

	r.unsubscribeLocked()
	r.dropAllLocked(ctx)
	r.policy = nil

	if len(r.orphans) > 0 {
		r.logger.Warn(nil, "%s: deactivated with %d records that could not be deleted", r.name, len(r.orphans))
		return
	}
	r.logger.Info("%s: deactivated", r.name)
}

// Active reports whether a policy is applied.
func (r *Reconciler) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy != nil
}

// Policy returns the active policy.
func (r *Reconciler) Policy() (config.Policy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy == nil {
		return config.Policy{}, false
	}
	p := *r.policy
	p.PropertyTemplates = slices.Clone(p.PropertyTemplates)
	return p, true
}

// Records returns the records currently mapped, ordered by ID.
func (r *Reconciler) Records() []store.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordsLocked()
}

func (r *Reconciler) recordsLocked() []store.Record {
	if r.state == nil {
		return nil
	}
	var out []store.Record
	for _, e := range r.state.entries() {
		out = append(out, e.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pending returns the number of queued events.
func (r *Reconciler) Pending() int {
	return r.events.Len()
}

// Metrics returns a snapshot of the reconciler's metrics.
func (r *Reconciler) Metrics() ReconcilerMetricsSummary {
	return r.metrics.GetMetricsSummary()
}

func (r *Reconciler) subscribeLocked(ctx context.Context, p config.Policy) error {
	r.generation++
	generation := r.generation
	sink := func(ev trigger.Event) {
		r.events.Push(queuedEvent{generation: generation, event: ev})
	}

	sub, err := r.dispatcher.Subscribe(ctx, p.Filter, sink)
	if err != nil {
		return &SubscriptionError{Policy: r.name, Filter: p.Filter, Err: err}
	}
	r.sub = sub
	return nil
}

func (r *Reconciler) unsubscribeLocked() {
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
	r.generation++
}

func (r *Reconciler) handleLocked(ctx context.Context, ev trigger.Event) {
	if r.policy == nil {
		r.logger.Debug("%s: ignoring %s event for %s while inactive", r.name, ev.Kind, ev.Trigger.ID)
		return
	}

	ctx, span := r.tracer.Start(ctx, spanEvent, trace.WithAttributes(
		AttrPolicy.String(r.name),
		AttrEventKind.String(string(ev.Kind)),
		AttrTriggerID.String(ev.Trigger.ID),
	))
	defer span.End()

	r.metrics.RecordEvent(ev.Kind)
	id := ev.Trigger.ID

	switch st := r.state.(type) {
	case *perTriggerState:
		switch ev.Kind {
		case trigger.EventRegistered, trigger.EventModified:
			r.upsertLocked(ctx, st, ev.Trigger)
		case trigger.EventUnregistered:
			r.removeLocked(ctx, st, id)
		default:
			r.logger.Debug("%s: ignoring unknown event kind %q", r.name, ev.Kind)
		}

	case *sharedState:
		switch ev.Kind {
		case trigger.EventRegistered, trigger.EventModified:
			st.matched[id] = ev.Trigger
			if st.owner == "" || id < st.owner {
				st.owner = id
			}
		case trigger.EventUnregistered:
			if _, ok := st.matched[id]; !ok {
				return
			}
			st.forget(id)
		default:
			r.logger.Debug("%s: ignoring unknown event kind %q", r.name, ev.Kind)
			return
		}
		r.syncSharedLocked(ctx, st)
	}
}

// convertLocked moves the mapping into the shape required by the active
// policy's multiplicity.
func (r *Reconciler) convertLocked(ctx context.Context, triggers []trigger.Trigger) {
	shared := r.policy.Multiplicity.Shared()

	switch st := r.state.(type) {
	case nil:
		if shared {
			r.state = newSharedState()
		} else {
			r.state = newPerTriggerState()
		}

	case *perTriggerState:
		if !shared {
			return
		}
		next := newSharedState()
		ids := st.triggerIDs()
		if len(ids) > 0 {
			next.entry, next.owner = st.records[ids[0]], ids[0]
			for _, id := range ids[1:] {
				surplus := st.records[id]
				if surplus.record.ID == next.entry.record.ID {
					continue
				}
				r.logger.Debug("%s: dropping surplus record %s of trigger %s", r.name, surplus.record.ID, id)
				r.dropEntryLocked(ctx, surplus)
			}
		}
		r.state = next

	case *sharedState:
		if shared {
			return
		}
		next := newPerTriggerState()
		if st.entry != nil {
			if st.owner != "" && containsTrigger(triggers, st.owner) {
				next.records[st.owner] = st.entry
			} else {
				r.dropEntryLocked(ctx, st.entry)
			}
		}
		r.state = next
	}
}

// rederiveLocked brings the mapping in line with a full enumeration of
// the matching triggers.
func (r *Reconciler) rederiveLocked(ctx context.Context, triggers []trigger.Trigger) {
	switch st := r.state.(type) {
	case *perTriggerState:
		seen := make(map[string]bool, len(triggers))
		for _, t := range triggers {
			seen[t.ID] = true
			r.upsertLocked(ctx, st, t)
		}
		for _, id := range st.triggerIDs() {
			if !seen[id] {
				r.removeLocked(ctx, st, id)
			}
		}

	case *sharedState:
		st.matched = make(map[string]trigger.Trigger, len(triggers))
		for _, t := range triggers {
			st.matched[t.ID] = t
		}
		if _, ok := st.matched[st.owner]; !ok {
			st.owner = st.lowestMatched()
		}
		r.syncSharedLocked(ctx, st)
	}
}

func (r *Reconciler) upsertLocked(ctx context.Context, st *perTriggerState, t trigger.Trigger) {
	props, err := template.Resolve(r.policy.PropertyTemplates, t)
	if err != nil {
		r.fail(ctx, OpTemplate, err, "cannot resolve property templates for trigger %s", t.ID)
		return
	}

	if e, ok := st.records[t.ID]; ok {
		if r.writeLocked(ctx, e, props) {
			return
		}
		delete(st.records, t.ID)
	}
	if e := r.createLocked(ctx, props); e != nil {
		st.records[t.ID] = e
	}
}

// removeLocked unmaps id and deletes its record. A named record still
// mapped by another trigger is kept.
func (r *Reconciler) removeLocked(ctx context.Context, st *perTriggerState, id string) {
	e, ok := st.records[id]
	if !ok {
		return
	}
	if st.sharesRecord(id, e.record.ID) {
		r.logger.Debug("%s: record %s is still mapped by other triggers", r.name, e.record.ID)
		delete(st.records, id)
		return
	}
	if r.deleteLocked(ctx, e) {
		delete(st.records, id)
	}
}

// syncSharedLocked creates, re-templates or deletes the shared record for
// the current matched set.
func (r *Reconciler) syncSharedLocked(ctx context.Context, st *sharedState) {
	if len(st.matched) == 0 && r.policy.Multiplicity == config.SharedLazy {
		if st.entry != nil && r.deleteLocked(ctx, st.entry) {
			st.entry, st.owner = nil, ""
		}
		return
	}

	props, err := template.Resolve(r.policy.PropertyTemplates, template.NewAggregate(st.matchedTriggers()))
	if err != nil {
		r.fail(ctx, OpTemplate, err, "cannot resolve property templates for the shared record")
		return
	}

	if st.entry != nil {
		if r.writeLocked(ctx, st.entry, props) {
			return
		}
		st.entry = nil
	}
	if e := r.createLocked(ctx, props); e != nil {
		st.entry = e
		st.owner = st.lowestMatched()
	}
}

// createLocked creates a record and writes props to it. A record whose
// first write fails is deleted again. It returns nil on failure.
func (r *Reconciler) createLocked(ctx context.Context, props map[string]any) *entry {
	p := r.policy

	rec, err := r.store.Create(ctx, p.TargetIdentity, p.TargetScope, p.IsTemplate)
	if err != nil {
		r.fail(ctx, OpCreate, err, "cannot create a record for %s", p.TargetIdentity)
		return nil
	}

	if err := r.store.Update(ctx, rec, props); err != nil {
		r.fail(ctx, OpUpdate, err, "cannot configure new record %s", rec.ID)
		r.dropEntryLocked(ctx, &entry{record: rec})
		return nil
	}

	r.metrics.RecordCreate()
	r.logger.Info("%s: created record %s", r.name, rec.ID)
	return &entry{record: rec, props: props}
}

// writeLocked updates e unless props equal the last written properties.
// It returns false when the store no longer holds the record, leaving the
// caller to create a new one.
func (r *Reconciler) writeLocked(ctx context.Context, e *entry, props map[string]any) bool {
	if reflect.DeepEqual(e.props, props) {
		r.metrics.RecordSkippedWrite()
		return true
	}

	if err := r.store.Update(ctx, e.record, props); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Info("%s: record %s is gone from the store, recreating it", r.name, e.record.ID)
			return false
		}
		r.fail(ctx, OpUpdate, err, "cannot update record %s", e.record.ID)
		return true
	}

	e.props = props
	r.metrics.RecordUpdate()
	r.logger.Debug("%s: updated record %s", r.name, e.record.ID)
	return true
}

// deleteLocked deletes e's record. A record the store no longer holds
// counts as deleted.
func (r *Reconciler) deleteLocked(ctx context.Context, e *entry) bool {
	err := r.store.Delete(ctx, e.record)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		r.logger.Debug("%s: record %s was already gone", r.name, e.record.ID)
	default:
		r.fail(ctx, OpDelete, err, "cannot delete record %s", e.record.ID)
		return false
	}

	r.metrics.RecordDelete()
	r.logger.Info("%s: deleted record %s", r.name, e.record.ID)
	return true
}

// dropEntryLocked deletes a record that is leaving the mapping, keeping it
// as an orphan if the store refuses.
func (r *Reconciler) dropEntryLocked(ctx context.Context, e *entry) {
	if !r.deleteLocked(ctx, e) {
		r.orphans = append(r.orphans, e)
	}
}

// dropAllLocked deletes every record and clears the mapping.
func (r *Reconciler) dropAllLocked(ctx context.Context) {
	r.retryOrphansLocked(ctx)
	if r.state != nil {
		dropped := make(map[string]bool)
		for _, e := range r.state.entries() {
			if dropped[e.record.ID] {
				continue
			}
			dropped[e.record.ID] = true
			r.dropEntryLocked(ctx, e)
		}
		r.state = nil
	}
}

func (r *Reconciler) retryOrphansLocked(ctx context.Context) {
	if len(r.orphans) == 0 {
		return
	}
	remaining := r.orphans[:0]
	for _, e := range r.orphans {
		if !r.deleteLocked(ctx, e) {
			remaining = append(remaining, e)
		}
	}
	r.orphans = remaining
}

// fail logs a failed operation and records it on the current span.
func (r *Reconciler) fail(ctx context.Context, op Operation, err error, messageFmt string, args ...interface{}) {
	r.metrics.RecordFailure(op)
	r.logger.Warn(err, "%s: %s", r.name, fmt.Sprintf(messageFmt, args...))
	trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(AttrOperation.String(string(op))))
}

func containsTrigger(triggers []trigger.Trigger, id string) bool {
	for _, t := range triggers {
		if t.ID == id {
			return true
		}
	}
	return false
}
