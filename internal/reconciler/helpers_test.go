package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"autoconf/internal/config"
	"autoconf/internal/store"
	"autoconf/internal/trigger"
)

var errStoreDown = fmt.Errorf("connection refused: %w", store.ErrUnavailable)

// fakeStore is a MemoryStore that counts calls and fails on demand.
type fakeStore struct {
	*store.MemoryStore

	mu      sync.Mutex
	creates int
	updates int
	deletes int

	// failCreate, failUpdate and failDelete return the error for the n-th
	// call of that kind, counting from 1.
	failCreate func(n int) error
	failUpdate func(n int, rec store.Record) error
	failDelete func(n int, rec store.Record) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: store.NewMemoryStore()}
}

func (s *fakeStore) Create(ctx context.Context, target, scope string, isTemplate bool) (store.Record, error) {
	s.mu.Lock()
	s.creates++
	n, fail := s.creates, s.failCreate
	s.mu.Unlock()

	if fail != nil {
		if err := fail(n); err != nil {
			return store.Record{}, err
		}
	}
	return s.MemoryStore.Create(ctx, target, scope, isTemplate)
}

func (s *fakeStore) Update(ctx context.Context, rec store.Record, props map[string]any) error {
	s.mu.Lock()
	s.updates++
	n, fail := s.updates, s.failUpdate
	s.mu.Unlock()

	if fail != nil {
		if err := fail(n, rec); err != nil {
			return err
		}
	}
	return s.MemoryStore.Update(ctx, rec, props)
}

func (s *fakeStore) Delete(ctx context.Context, rec store.Record) error {
	s.mu.Lock()
	s.deletes++
	n, fail := s.deletes, s.failDelete
	s.mu.Unlock()

	if fail != nil {
		if err := fail(n, rec); err != nil {
			return err
		}
	}
	return s.MemoryStore.Delete(ctx, rec)
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates + s.updates + s.deletes
}

func (s *fakeStore) resetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates, s.updates, s.deletes = 0, 0, 0
}

func (s *fakeStore) setFailures(create func(int) error, update, del func(int, store.Record) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates, s.updates, s.deletes = 0, 0, 0
	s.failCreate, s.failUpdate, s.failDelete = create, update, del
}

func (s *fakeStore) snapshots(t *testing.T) []store.Snapshot {
	t.Helper()
	snaps, err := s.List(context.Background())
	require.NoError(t, err)
	return snaps
}

// propertyValues returns the value of key in every stored record, sorted.
func (s *fakeStore) propertyValues(t *testing.T, key string) []string {
	t.Helper()
	var out []string
	for _, snap := range s.snapshots(t) {
		out = append(out, trigger.FormatValue(snap.Properties[key]))
	}
	sort.Strings(out)
	return out
}

// flakyDispatcher wraps a Registry and fails the first subscribeFailures
// subscriptions and every enumeration while enumerateErr is set.
type flakyDispatcher struct {
	*trigger.Registry

	mu                sync.Mutex
	subscribeFailures int
	subscribeCalls    int
	enumerateErr      error
}

func (d *flakyDispatcher) Subscribe(ctx context.Context, filter string, sink trigger.Sink) (trigger.Subscription, error) {
	d.mu.Lock()
	d.subscribeCalls++
	fail := d.subscribeCalls <= d.subscribeFailures
	d.mu.Unlock()

	if fail {
		return nil, errors.New("dispatcher not ready")
	}
	return d.Registry.Subscribe(ctx, filter, sink)
}

func (d *flakyDispatcher) Enumerate(ctx context.Context, filter string) ([]trigger.Trigger, error) {
	d.mu.Lock()
	err := d.enumerateErr
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return d.Registry.Enumerate(ctx, filter)
}

func (d *flakyDispatcher) subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribeCalls
}

func portPolicy(m config.Multiplicity, templates ...string) config.Policy {
	p := config.NewPolicy("ports", "port.handler")
	p.Filter = "kind=port"
	p.Multiplicity = m
	p.PropertyTemplates = templates
	return p
}

func registerPort(reg *trigger.Registry, id, port string) {
	reg.Register(id, map[string]any{"kind": "port", "port": port, "name": id})
}

func registerPorts(reg *trigger.Registry, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%02d", i)
		registerPort(reg, id, fmt.Sprintf("%d", 8000+i))
		ids = append(ids, id)
	}
	return ids
}
