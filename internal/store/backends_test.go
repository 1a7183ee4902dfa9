package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFileStore(dir)

	rec, err := s.Create(ctx, "a/b", "edge", false)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, rec, map[string]any{"port": 8080}))

	data, err := os.ReadFile(filepath.Join(dir, "a_b.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "id: a/b")
	assert.Contains(t, string(data), "scope: edge")
	assert.Contains(t, string(data), "port: 8080")

	snaps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "a/b", snaps[0].ID)
	assert.Equal(t, 8080, snaps[0].Properties["port"])
}

func TestFileStoreListSkipsBrokenFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: ["), 0644))

	s := NewFileStore(dir)
	_, err := s.Create(ctx, "ok", "", false)
	require.NoError(t, err)

	snaps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "ok", snaps[0].ID)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ports.1234", "ports.1234"},
		{"a/b\\c", "a_b_c"},
		{"with space", "with_space"},
		{"..", "unnamed"},
		{"x:y", "x_y"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "records.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	rec, err := s.Create(ctx, "ports", "edge", true)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, rec, map[string]any{"port": "80"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	snaps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, rec, snaps[0].Record)
	assert.Equal(t, "80", snaps[0].Properties["port"])
}

func TestSQLiteStoreCloseNil(t *testing.T) {
	var s *SQLiteStore
	assert.NoError(t, s.Close())
}

func TestKubernetesStoreObjects(t *testing.T) {
	ctx := context.Background()
	c := fake.NewClientBuilder().WithScheme(testScheme()).Build()
	s := NewKubernetesStore(c, "")

	rec, err := s.Create(ctx, "My_Target", "edge", false)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, rec, map[string]any{"port": "80"}))

	cm := &corev1.ConfigMap{}
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "edge", Name: "my-target"}, cm))
	assert.Equal(t, ManagedByValue, cm.Labels[ManagedByLabel])
	assert.Equal(t, "My_Target", cm.Annotations[RecordIDAnnotation])
	assert.Equal(t, "My_Target", cm.Annotations[TargetAnnotation])
	assert.Equal(t, "port: \"80\"\n", cm.Data[PropertiesKey])

	unscoped, err := s.Create(ctx, "other", "", true)
	require.NoError(t, err)
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "default", Name: ObjectName(unscoped.ID)}, &corev1.ConfigMap{}))

	snaps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "My_Target", snaps[0].ID)
	assert.Equal(t, "edge", snaps[0].Scope)
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "ports.abc-1", ObjectName("Ports.abc_1"))
	assert.Equal(t, "unnamed", ObjectName("__"))
	assert.Len(t, ObjectName(string(make([]byte, 300))), len("unnamed"))
}
