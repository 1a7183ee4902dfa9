package store

import (
	"context"
	"errors"
	"maps"
	"sort"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable is wrapped by every error caused by the backing store
	// being unreachable or refusing the operation.
	ErrUnavailable = errors.New("record store unavailable")

	// ErrNotFound is returned when updating or deleting a record the store
	// does not hold.
	ErrNotFound = errors.New("record not found")
)

// Record is an opaque handle to a managed record. Only the store that
// created it may interpret it.
type Record struct {
	// ID is unique within the store.
	ID string

	// Target is the identity of the consumer the record configures.
	Target string

	// Scope binds the record to a location; empty means unbound.
	Scope string
}

// Store creates, updates and deletes managed records.
type Store interface {
	// Create returns a new record for target. When isTemplate is true every
	// call yields a fresh record; otherwise the single record named target
	// is returned, created if needed.
	Create(ctx context.Context, target, scope string, isTemplate bool) (Record, error)

	// Update replaces the record's properties.
	Update(ctx context.Context, rec Record, props map[string]any) error

	// Delete removes the record.
	Delete(ctx context.Context, rec Record) error
}

// Snapshot is a record together with its last written properties.
type Snapshot struct {
	Record
	Properties map[string]any
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context) ([]Snapshot, error)
}

// NewRecordID returns the ID for a new record of target.
func NewRecordID(target string, isTemplate bool) string {
	if !isTemplate {
		return target
	}
	return target + "." + uuid.NewString()
}

func sortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
}

func cloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	return maps.Clone(props)
}
