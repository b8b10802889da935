package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/harness"
)

const scenariosDir = "../harness/testdata/scenarios"

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandAllPass(t *testing.T) {
	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Results: 8 passed, 0 failed, 8 total")
	assert.NotContains(t, out, "✗")
}

func TestTestCommandWorkersOverride(t *testing.T) {
	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), "--workers", "3", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "8 passed")
}

func TestTestCommandJSON(t *testing.T) {
	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Status string              `json:"status"`
		Data   harness.SuiteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 8, resp.Data.TotalScenarios)
	assert.Equal(t, 8, resp.Data.Passed)
}

func TestTestCommandReportsFailures(t *testing.T) {
	dir := t.TempDir()
	query, err := filepath.Abs(filepath.Join(queriesDir, "count.cue"))
	require.NoError(t, err)
	writeFile(t, dir, "wrong.yaml", `name: wrong_total
description: expects the wrong sum
query: `+query+`
expect:
  rows: [[5051]]
`)

	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_total")
	assert.Contains(t, out, "Results: 0 passed, 1 failed, 1 total")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), filepath.Join(os.TempDir(), "mutrec-no-such-dir"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}
