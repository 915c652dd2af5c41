package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioDir = filepath.Join("..", "..", "testdata", "scenarios")

const pointScenario = `name: point
description: "Point lookup on a single-field index"
namespace: db.c
setup:
  - index: { key: { a: 1 } }
  - insert: { _id: 1, a: 1 }
  - insert: { _id: 2, a: 2 }
flow:
  - query: { a: 2 }
    expect:
      ids: ["2"]
      plans: [a_1]
`

const wrongScenario = `name: wrong
description: "Expects a candidate that does not exist"
namespace: db.c
setup:
  - index: { key: { a: 1 } }
  - insert: { _id: 1, a: 1 }
flow:
  - query: { a: 1 }
    expect:
      ids: ["9"]
`

// writeScenario writes a scenario file into dir and returns its path.
func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestTestCommand_ScenarioDirectoryPasses(t *testing.T) {
	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), scenarioDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ compound_range")
	assert.Contains(t, out, "✓ or_clauses")
	assert.Contains(t, out, "Test Summary: 4 passed, 0 failed, 4 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), scenarioDir, "--filter", "or_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "or_clauses", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", wrongScenario)

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommand_UpdateThenCompareGolden(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "point.yaml", pointScenario)
	goldenPath := filepath.Join(dir, "golden", "point.golden")

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ point (golden updated)")
	require.FileExists(t, goldenPath)

	_, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}"), 0644))
	out, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingPath(t *testing.T) {
	_, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFilterScenarios(t *testing.T) {
	files := []string{"a/or_clauses.yaml", "a/point.yml", "b/or_empty.yaml"}

	got, err := filterScenarios(files, "or_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/or_clauses.yaml", "b/or_empty.yaml"}, got)

	got, err = filterScenarios(files, "")
	require.NoError(t, err)
	assert.Equal(t, files, got)

	_, err = filterScenarios(files, "[")
	assert.Error(t, err)
}
