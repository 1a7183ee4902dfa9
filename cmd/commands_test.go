package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	checkOutputFormat = outputTable
	renderOutputFormat = outputTable
	renderTriggersDir = ""
	renderVerbose = false
	if f := rootCmd.Flags().Lookup("version"); f != nil {
		_ = f.Value.Set("false")
	}

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	lastStderr = errOut.String()
	return out.String(), err
}

// lastStderr holds what the last executeCommand wrote to stderr.
var lastStderr string

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "triggers", "db-1.yaml"), "kind: database\nhost: db1\nport: 5432\n")
	writeTestFile(t, filepath.Join(dir, "triggers", "db-2.yaml"), "kind: database\nhost: db2\nport: 5433\n")
	writeTestFile(t, filepath.Join(dir, "triggers", "cache.yaml"), "kind: cache\nhost: redis\n")
	writeTestFile(t, filepath.Join(dir, "policies", "databases.yaml"), `
filter: kind=database
targetIdentity: db.client
isTemplate: true
propertyTemplates:
  - url=postgres://{host}:{port}
`)
	writeTestFile(t, filepath.Join(dir, "policies", "pool.yaml"), `
filter: kind=database
multiplicity: SHARED_LAZY
targetIdentity: db.pool
propertyTemplates:
  - hosts={concat:host:[%,]}
  - size={count}
`)
	return dir
}

func TestRenderPerTrigger(t *testing.T) {
	dir := newConfigDir(t)

	out, err := executeCommand(t, "render", filepath.Join(dir, "policies", "databases.yaml"),
		"--config-path", dir, "-o", "json")
	require.NoError(t, err)

	var records []renderedRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "db-1", records[0].Trigger)
	assert.Equal(t, "postgres://db1:5432", records[0].Properties["url"])
	assert.Equal(t, "postgres://db2:5433", records[1].Properties["url"])
}

func TestRenderShared(t *testing.T) {
	dir := newConfigDir(t)

	out, err := executeCommand(t, "render", filepath.Join(dir, "policies", "pool.yaml"), "--config-path", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "2 triggers")
	assert.Contains(t, out, "db1,db2,")
	assert.Contains(t, out, "db.pool")
}

func TestRenderSharedLazyWithoutTriggers(t *testing.T) {
	dir := newConfigDir(t)
	empty := t.TempDir()

	out, err := executeCommand(t, "render", filepath.Join(dir, "policies", "pool.yaml"), "--triggers", empty)
	require.NoError(t, err)
	assert.Contains(t, out, "maintains no records")
}

func TestRenderVerboseLogsToStderr(t *testing.T) {
	dir := newConfigDir(t)

	out, err := executeCommand(t, "render", filepath.Join(dir, "policies", "databases.yaml"),
		"--config-path", dir, "--verbose")
	require.NoError(t, err)

	assert.Contains(t, out, "postgres://db1:5432")
	assert.Contains(t, lastStderr, `databases: 2 triggers match filter "kind=database"`)
	assert.Contains(t, lastStderr, "resolved 1 properties for trigger db-2")
	assert.NotContains(t, out, "triggers match")
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	dir := newConfigDir(t)

	_, err := executeCommand(t, "render", filepath.Join(dir, "policies", "pool.yaml"), "--config-path", dir, "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestCheck(t *testing.T) {
	dir := newConfigDir(t)

	out, err := executeCommand(t, "check", "--config-path", dir, "-o", "json")
	require.NoError(t, err)

	var reports []policyReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, "databases", reports[0].Name)
	assert.Equal(t, "PER_TRIGGER", reports[0].Multiplicity)
	assert.Equal(t, "pool", reports[1].Name)
	assert.Equal(t, 2, reports[1].Templates)
	assert.Empty(t, reports[1].Warnings)
}

func TestCheckReportsLintWarnings(t *testing.T) {
	dir := newConfigDir(t)
	writeTestFile(t, filepath.Join(dir, "policies", "broken.yaml"), `
targetIdentity: broken
propertyTemplates:
  - no separator here
`)

	out, err := executeCommand(t, "check", "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "broken:")
	assert.Contains(t, out, "propertyTemplates[0]")
}

func TestCheckFailsOnInvalidPolicy(t *testing.T) {
	dir := newConfigDir(t)
	writeTestFile(t, filepath.Join(dir, "policies", "bad.yaml"), "multiplicity: SOMETIMES\n")

	_, err := executeCommand(t, "check", "--config-path", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCodeInvalidConfig, getExitCode(err))
}
