package reconciler

import (
	"sync"
	"time"

	"autoconf/internal/trigger"
)

// ReconcilerMetrics tracks the store operations and events of one
// reconciler. It is safe for concurrent use.
type ReconcilerMetrics struct {
	mu sync.RWMutex

	creates         int64
	updates         int64
	deletes         int64
	skippedWrites   int64
	createFailures  int64
	updateFailures  int64
	deleteFailures  int64
	templateErrors  int64
	policiesApplied int64
	events          map[trigger.EventKind]int64

	lastEventAt   time.Time
	lastFailureAt time.Time
}

// NewReconcilerMetrics creates a new ReconcilerMetrics instance.
func NewReconcilerMetrics() *ReconcilerMetrics {
	return &ReconcilerMetrics{
		events: make(map[trigger.EventKind]int64),
	}
}

func (m *ReconcilerMetrics) RecordCreate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
}

func (m *ReconcilerMetrics) RecordUpdate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
}

func (m *ReconcilerMetrics) RecordDelete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
}

// RecordSkippedWrite records an update that was skipped because the
// resolved properties had not changed.
func (m *ReconcilerMetrics) RecordSkippedWrite() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skippedWrites++
}

// RecordFailure records a failed store operation or template resolution.
func (m *ReconcilerMetrics) RecordFailure(op Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch op {
	case OpCreate:
		m.createFailures++
	case OpUpdate:
		m.updateFailures++
	case OpDelete:
		m.deleteFailures++
	case OpTemplate:
		m.templateErrors++
	}
	m.lastFailureAt = time.Now()
}

func (m *ReconcilerMetrics) RecordEvent(kind trigger.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[kind]++
	m.lastEventAt = time.Now()
}

func (m *ReconcilerMetrics) RecordPolicyApplied() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policiesApplied++
}

// Operation names a kind of work whose failure is counted.
type Operation string

const (
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpTemplate Operation = "template"
)

// ReconcilerMetricsSummary is a read-only snapshot of ReconcilerMetrics.
type ReconcilerMetricsSummary struct {
	Creates         int64                       `json:"creates"`
	Updates         int64                       `json:"updates"`
	Deletes         int64                       `json:"deletes"`
	SkippedWrites   int64                       `json:"skipped_writes"`
	CreateFailures  int64                       `json:"create_failures"`
	UpdateFailures  int64                       `json:"update_failures"`
	DeleteFailures  int64                       `json:"delete_failures"`
	TemplateErrors  int64                       `json:"template_errors"`
	PoliciesApplied int64                       `json:"policies_applied"`
	Events          map[trigger.EventKind]int64 `json:"events"`
	LastEventAt     time.Time                   `json:"last_event_at,omitempty"`
	LastFailureAt   time.Time                   `json:"last_failure_at,omitempty"`
}

// Failures returns the total number of failed operations.
func (s ReconcilerMetricsSummary) Failures() int64 {
	return s.CreateFailures + s.UpdateFailures + s.DeleteFailures + s.TemplateErrors
}

// GetMetricsSummary returns a snapshot of the current metrics.
func (m *ReconcilerMetrics) GetMetricsSummary() ReconcilerMetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make(map[trigger.EventKind]int64, len(m.events))
	for k, v := range m.events {
		events[k] = v
	}

	return ReconcilerMetricsSummary{
		Creates:         m.creates,
		Updates:         m.updates,
		Deletes:         m.deletes,
		SkippedWrites:   m.skippedWrites,
		CreateFailures:  m.createFailures,
		UpdateFailures:  m.updateFailures,
		DeleteFailures:  m.deleteFailures,
		TemplateErrors:  m.templateErrors,
		PoliciesApplied: m.policiesApplied,
		Events:          events,
		LastEventAt:     m.lastEventAt,
		LastFailureAt:   m.lastFailureAt,
	}
}

// Reset clears all counters.
func (m *ReconcilerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creates, m.updates, m.deletes, m.skippedWrites = 0, 0, 0, 0
	m.createFailures, m.updateFailures, m.deleteFailures, m.templateErrors = 0, 0, 0, 0
	m.policiesApplied = 0
	m.events = make(map[trigger.EventKind]int64)
	m.lastEventAt, m.lastFailureAt = time.Time{}, time.Time{}
}
