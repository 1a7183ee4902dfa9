package reconciler

import (
	"sort"

	"autoconf/internal/store"
	"autoconf/internal/trigger"
)

// entry is a record the reconciler owns together with the properties last
// written to it. props is nil until the first successful write.
type entry struct {
	record store.Record
	props  map[string]any
}

// mappingState is either *perTriggerState or *sharedState, chosen by the
// multiplicity of the active policy.
type mappingState interface {
	// entries returns every record held by the state, ordered by record ID.
	entries() []*entry
}

// perTriggerState maps each matched trigger to its own record.
type perTriggerState struct {
	records map[string]*entry
}

func newPerTriggerState() *perTriggerState {
	return &perTriggerState{records: make(map[string]*entry)}
}

func (s *perTriggerState) entries() []*entry {
	out := make([]*entry, 0, len(s.records))
	for _, id := range s.triggerIDs() {
		out = append(out, s.records[id])
	}
	return out
}

// triggerIDs returns the mapped trigger IDs in ascending order.
func (s *perTriggerState) triggerIDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sharesRecord reports whether a trigger other than id maps to recordID.
func (s *perTriggerState) sharesRecord(id, recordID string) bool {
	for other, e := range s.records {
		if other != id && e.record.ID == recordID {
			return true
		}
	}
	return false
}

// sharedState holds at most one record templated against every matched
// trigger. owner is the trigger the record is handed to when switching back
// to per-trigger mode.
type sharedState struct {
	entry   *entry
	owner   string
	matched map[string]trigger.Trigger
}

func newSharedState() *sharedState {
	return &sharedState{matched: make(map[string]trigger.Trigger)}
}

func (s *sharedState) entries() []*entry {
	if s.entry == nil {
		return nil
	}
	return []*entry{s.entry}
}

// matchedTriggers returns the matched set ordered by trigger ID.
func (s *sharedState) matchedTriggers() []trigger.Trigger {
	out := make([]trigger.Trigger, 0, len(s.matched))
	for _, t := range s.matched {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// lowestMatched returns the smallest matched trigger ID, or "" when nothing
// matches.
func (s *sharedState) lowestMatched() string {
	lowest := ""
	for id := range s.matched {
		if lowest == "" || id < lowest {
			lowest = id
		}
	}
	return lowest
}

// forget removes id from the matched set, moving ownership to the lowest
// remaining trigger.
func (s *sharedState) forget(id string) {
	delete(s.matched, id)
	if s.owner == id {
		s.owner = s.lowestMatched()
	}
}
