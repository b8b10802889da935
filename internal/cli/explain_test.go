package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/explain"
)

func TestExplainMatchesGolden(t *testing.T) {
	out, _, err := execute(t, NewExplainCommand(&RootOptions{Format: "text"}), filepath.Join(queriesDir, "count.cue"))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("../harness/testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "count_to_100", []byte(out))
}

func TestExplainJSON(t *testing.T) {
	out, _, err := execute(t, NewExplainCommand(&RootOptions{Format: "json"}), filepath.Join(queriesDir, "reach.cue"))
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   ExplainResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Contains(t, resp.Data.Plan, explain.Header)
	assert.Contains(t, resp.Data.Plan, "With Mutually Recursive")
	assert.Equal(t, 2, resp.Data.Loops)
	assert.NotEmpty(t, resp.Data.Fingerprint)
}

func TestExplainVerboseFingerprint(t *testing.T) {
	_, errOut, err := execute(t, NewExplainCommand(&RootOptions{Format: "text", Verbose: true}), filepath.Join(queriesDir, "count.cue"))
	require.NoError(t, err)
	assert.Contains(t, errOut, "fingerprint ")
}

func TestExplainRejectedQuery(t *testing.T) {
	out, _, err := execute(t, NewExplainCommand(&RootOptions{Format: "text"}), filepath.Join(queriesDir, "type_mismatch.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [SchemaMismatch]")
}

func TestExplainMissingFile(t *testing.T) {
	_, _, err := execute(t, NewExplainCommand(&RootOptions{Format: "text"}), "/nonexistent/query.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
