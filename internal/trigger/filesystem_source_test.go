package trigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTriggerFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadTriggerFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTriggerFile(t, dir, "db-1.yaml", `
kind: database
port: 5432
primary: true
ratio: 0.5
tags: [primary, eu]
ports: [80, 443]
`)

	attrs, err := ReadTriggerFile(path)
	require.NoError(t, err)

	assert.Equal(t, "database", attrs["kind"])
	assert.Equal(t, 5432, attrs["port"])
	assert.Equal(t, true, attrs["primary"])
	assert.Equal(t, 0.5, attrs["ratio"])
	assert.Equal(t, []string{"primary", "eu"}, attrs["tags"])
	assert.Equal(t, []string{"80", "443"}, attrs["ports"])
}

func TestReadTriggerFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeTriggerFile(t, dir, "bad.yaml", "kind: [unclosed")

	_, err := ReadTriggerFile(path)
	assert.Error(t, err)

	_, err = ReadTriggerFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestTriggerIDFromPath(t *testing.T) {
	assert.Equal(t, "db-1", TriggerIDFromPath("/x/y/db-1.yaml"))
	assert.Equal(t, "web", TriggerIDFromPath("web.yml"))
}

func TestFilesystemSourceLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeTriggerFile(t, dir, "b.yaml", "kind: web\n")
	writeTriggerFile(t, dir, "a.yml", "kind: db\n")
	writeTriggerFile(t, dir, "broken.yaml", "kind: [")
	writeTriggerFile(t, dir, "notes.txt", "ignored")

	src := NewFilesystemSource(dir, 10*time.Millisecond)
	require.NoError(t, src.LoadAll())

	triggers, err := src.Enumerate(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, "a", triggers[0].ID)
	assert.Equal(t, "b", triggers[1].ID)
}

func TestFilesystemSourceLoadAllMissingDir(t *testing.T) {
	src := NewFilesystemSource(filepath.Join(t.TempDir(), "nope"), 0)
	assert.NoError(t, src.LoadAll())
	assert.Equal(t, 0, src.Len())
}

func TestFilesystemSourceSync(t *testing.T) {
	dir := t.TempDir()
	src := NewFilesystemSource(dir, 10*time.Millisecond)
	rec := &recorder{}
	_, err := src.Subscribe(context.Background(), "", rec.sink)
	require.NoError(t, err)

	path := writeTriggerFile(t, dir, "a.yaml", "kind: db\n")
	src.sync(path)
	writeTriggerFile(t, dir, "a.yaml", "kind: cache\n")
	src.sync(path)
	require.NoError(t, os.Remove(path))
	src.sync(path)

	assert.Equal(t, []string{"Registered:a", "Modified:a", "Unregistered:a"}, rec.kinds())
}

func TestFilesystemSourceWatchesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTriggerFile(t, dir, "existing.yaml", "kind: db\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewFilesystemSource(dir, 10*time.Millisecond)
	require.NoError(t, src.Start(ctx))
	defer src.Stop()

	assert.Equal(t, 1, src.Len())

	writeTriggerFile(t, dir, "new.yaml", "kind: web\n")
	require.Eventually(t, func() bool { return src.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "existing.yaml")))
	require.Eventually(t, func() bool { return src.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	triggers, err := src.Enumerate(ctx, "")
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "new", triggers[0].ID)
}

func TestFilesystemSourceStopWithoutStart(t *testing.T) {
	src := NewFilesystemSource(t.TempDir(), 0)
	assert.NoError(t, src.Stop())
}
