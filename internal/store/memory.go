package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Snapshot)}
}

func (s *MemoryStore) Create(ctx context.Context, target, scope string, isTemplate bool) (Record, error) {
	if target == "" {
		return Record{}, fmt.Errorf("target cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewRecordID(target, isTemplate)
	if existing, ok := s.records[id]; ok {
		return existing.Record, nil
	}

	rec := Record{ID: id, Target: target, Scope: scope}
	s.records[id] = Snapshot{Record: rec}
	return rec, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec Record, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	existing.Properties = cloneProps(props)
	s.records[rec.ID] = existing
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	delete(s.records, rec.ID)
	return nil
}

// List returns all records ordered by ID.
func (s *MemoryStore) List(ctx context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.records))
	for _, snap := range s.records {
		out = append(out, Snapshot{Record: snap.Record, Properties: cloneProps(snap.Properties)})
	}
	sortSnapshots(out)
	return out, nil
}

// Get returns a single record.
func (s *MemoryStore) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.records[id]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Record: snap.Record, Properties: cloneProps(snap.Properties)}, true
}

// Len returns the number of records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
