package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadScenario_ResolvesPaths(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/count_to_100.yaml")
	require.NoError(t, err)

	assert.Equal(t, "count_to_100", scenario.Name)
	assert.Equal(t, 4, scenario.Workers)
	assert.Equal(t, filepath.Join("testdata", "queries", "count.cue"), scenario.Query)
	assert.Equal(t, filepath.Join("testdata", "golden", "count_to_100.golden"), scenario.Expect.ExplainGolden)
	assert.Equal(t, [][]any{{5050}}, scenario.Expect.Rows)
	assert.Equal(t, int64(101), scenario.Expect.RoundsAtMost)
}

func TestLoadScenario_Updates(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/incremental_reach.yaml")
	require.NoError(t, err)

	require.Len(t, scenario.Updates, 3)
	step := scenario.Updates[0]
	assert.Equal(t, "extend the path", step.Description)
	assert.Equal(t, []Change{{Relation: "edges", Insert: [][]any{{3, 4}}}}, step.Changes)
	require.NotNil(t, step.Expect.ReusedLoops)
	assert.Equal(t, 1, *step.Expect.ReusedLoops)
	assert.Equal(t, "EvaluationFailure", scenario.Updates[2].Expect.ErrorCode)
}

func TestLoadScenario_MissingQueryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	writeFile(t, path, `
name: missing
description: "query file does not exist"
query: nowhere.cue
expect:
  rows: []
`)
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "query file not found")
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_EmptyRowsAreChecked(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: empty
description: "expects no rows"
query: q.cue
expect:
  rows: []
`))
	require.NoError(t, err)
	assert.NotNil(t, scenario.Expect.Rows)
	assert.Empty(t, scenario.Expect.Rows)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: a\ndescription: b\nquery: q.cue\nexpects:\n  rows: []\n",
			wantErr: "field expects not found",
		},
		{
			name:    "missing name",
			yaml:    "description: b\nquery: q.cue\nexpect:\n  rows: []\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: a\nquery: q.cue\nexpect:\n  rows: []\n",
			wantErr: "description is required",
		},
		{
			name:    "missing query",
			yaml:    "name: a\ndescription: b\nexpect:\n  rows: []\n",
			wantErr: "query is required",
		},
		{
			name:    "nothing expected",
			yaml:    "name: a\ndescription: b\nquery: q.cue\nexpect: {}\n",
			wantErr: "expect: at least one of rows",
		},
		{
			name:    "rows and error",
			yaml:    "name: a\ndescription: b\nquery: q.cue\nexpect:\n  rows: []\n  error_code: SchemaMismatch\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "negative workers",
			yaml:    "name: a\ndescription: b\nquery: q.cue\nworkers: -1\nexpect:\n  rows: []\n",
			wantErr: "workers must be non-negative",
		},
		{
			name:    "reused loops outside updates",
			yaml:    "name: a\ndescription: b\nquery: q.cue\nexpect:\n  rows: []\n  reused_loops: 1\n",
			wantErr: "reused_loops is only valid in updates",
		},
		{
			name: "updates after error",
			yaml: `name: a
description: b
query: q.cue
expect:
  error_code: SchemaMismatch
updates:
  - changes: [{relation: edges, insert: [[1, 2]]}]
    expect: {rows: []}
`,
			wantErr: "updates cannot follow an expected error",
		},
		{
			name: "update without changes",
			yaml: `name: a
description: b
query: q.cue
expect: {rows: []}
updates:
  - expect: {rows: []}
`,
			wantErr: "updates[0]: changes list is required",
		},
		{
			name: "change without rows",
			yaml: `name: a
description: b
query: q.cue
expect: {rows: []}
updates:
  - changes: [{relation: edges}]
    expect: {rows: []}
`,
			wantErr: "updates[0].changes[0]: insert or delete is required",
		},
		{
			name: "change without relation",
			yaml: `name: a
description: b
query: q.cue
expect: {rows: []}
updates:
  - changes: [{insert: [[1]]}]
    expect: {rows: []}
`,
			wantErr: "updates[0].changes[0]: relation is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
