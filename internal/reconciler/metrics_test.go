package reconciler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"autoconf/internal/trigger"
)

func TestReconcilerMetrics_Counters(t *testing.T) {
	m := NewReconcilerMetrics()

	m.RecordCreate()
	m.RecordCreate()
	m.RecordUpdate()
	m.RecordDelete()
	m.RecordSkippedWrite()
	m.RecordFailure(OpCreate)
	m.RecordFailure(OpTemplate)
	m.RecordFailure(OpTemplate)
	m.RecordEvent(trigger.EventRegistered)
	m.RecordPolicyApplied()

	s := m.GetMetricsSummary()
	assert.Equal(t, int64(2), s.Creates)
	assert.Equal(t, int64(1), s.Updates)
	assert.Equal(t, int64(1), s.Deletes)
	assert.Equal(t, int64(1), s.SkippedWrites)
	assert.Equal(t, int64(1), s.CreateFailures)
	assert.Equal(t, int64(2), s.TemplateErrors)
	assert.Equal(t, int64(3), s.Failures())
	assert.Equal(t, int64(1), s.Events[trigger.EventRegistered])
	assert.Equal(t, int64(1), s.PoliciesApplied)
	assert.False(t, s.LastEventAt.IsZero())
	assert.False(t, s.LastFailureAt.IsZero())
}

func TestReconcilerMetrics_SummaryIsSnapshot(t *testing.T) {
	m := NewReconcilerMetrics()
	m.RecordEvent(trigger.EventModified)

	s := m.GetMetricsSummary()
	s.Events[trigger.EventModified] = 100

	assert.Equal(t, int64(1), m.GetMetricsSummary().Events[trigger.EventModified])
}

func TestReconcilerMetrics_Reset(t *testing.T) {
	m := NewReconcilerMetrics()
	m.RecordCreate()
	m.RecordFailure(OpDelete)
	m.RecordEvent(trigger.EventUnregistered)

	m.Reset()

	s := m.GetMetricsSummary()
	assert.Zero(t, s.Creates)
	assert.Zero(t, s.Failures())
	assert.Empty(t, s.Events)
	assert.True(t, s.LastFailureAt.IsZero())
}

func TestReconcilerMetrics_ConcurrentAccess(t *testing.T) {
	m := NewReconcilerMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordUpdate()
				m.RecordEvent(trigger.EventModified)
				_ = m.GetMetricsSummary()
			}
		}()
	}
	wg.Wait()

	s := m.GetMetricsSummary()
	assert.Equal(t, int64(1000), s.Updates)
	assert.Equal(t, int64(1000), s.Events[trigger.EventModified])
}
