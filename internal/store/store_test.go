package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

type listingStore interface {
	Store
	Lister
}

func testScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	return scheme
}

func stores(t *testing.T) map[string]listingStore {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	kube := NewKubernetesStore(fake.NewClientBuilder().WithScheme(testScheme()).Build(), "autoconf")

	return map[string]listingStore{
		"memory":     NewMemoryStore(),
		"file":       NewFileStore(t.TempDir()),
		"sqlite":     sqlite,
		"kubernetes": kube,
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := s.Create(ctx, "ports", "", true)
			require.NoError(t, err)
			b, err := s.Create(ctx, "ports", "", true)
			require.NoError(t, err)

			assert.NotEqual(t, a.ID, b.ID, "templated creates yield fresh records")
			assert.True(t, strings.HasPrefix(a.ID, "ports."))
			assert.Equal(t, "ports", a.Target)

			require.NoError(t, s.Update(ctx, a, map[string]any{"port": "8080", "name": "web"}))

			snaps, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, snaps, 2)

			var found bool
			for _, snap := range snaps {
				if snap.ID == a.ID {
					found = true
					assert.Equal(t, "8080", snap.Properties["port"])
					assert.Equal(t, "web", snap.Properties["name"])
				}
			}
			assert.True(t, found)

			require.NoError(t, s.Delete(ctx, a))
			require.NoError(t, s.Delete(ctx, b))

			snaps, err = s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, snaps)
		})
	}
}

func TestStoreSingletonRecord(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := s.Create(ctx, "global", "", false)
			require.NoError(t, err)
			assert.Equal(t, "global", first.ID)
			require.NoError(t, s.Update(ctx, first, map[string]any{"k": "v"}))

			second, err := s.Create(ctx, "global", "", false)
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)

			snaps, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, snaps, 1)
			assert.Equal(t, "v", snaps[0].Properties["k"], "re-creating keeps properties")
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ghost := Record{ID: "ghost.1", Target: "ghost"}

			err := s.Update(ctx, ghost, map[string]any{"a": "b"})
			assert.True(t, errors.Is(err, ErrNotFound), "update: %v", err)

			err = s.Delete(ctx, ghost)
			assert.True(t, errors.Is(err, ErrNotFound), "delete: %v", err)
		})
	}
}

func TestStoreRejectsEmptyTarget(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create(context.Background(), "", "", true)
			assert.Error(t, err)
		})
	}
}

func TestNewRecordID(t *testing.T) {
	assert.Equal(t, "target", NewRecordID("target", false))

	id := NewRecordID("target", true)
	assert.True(t, strings.HasPrefix(id, "target."))
	assert.Len(t, id, len("target.")+36)
}

func TestMemoryStoreIsolatesProperties(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := s.Create(ctx, "t", "scope", true)
	require.NoError(t, err)

	props := map[string]any{"a": "1"}
	require.NoError(t, s.Update(ctx, rec, props))
	props["a"] = "2"

	snap, ok := s.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "1", snap.Properties["a"])
	assert.Equal(t, "scope", snap.Scope)
	assert.Equal(t, 1, s.Len())
}
