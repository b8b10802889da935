package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const queriesDir = "../harness/testdata/queries"

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execute runs cmd with args and returns its stdout and stderr.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// closureQuery counts the pairs of the transitive closure of edges, which
// it expects to find in a database.
const closureQuery = `
query: {
	with_mutually_recursive: bindings: [{
		name: "reach"
		columns: [{name: "src", type: "int"}, {name: "dst", type: "int"}]
		query: union: [
			{select: ["*"], from: ["edges"]},
			{
				select: ["r.src", "e.dst"]
				from: ["reach r", "edges e"]
				where: "r.dst == e.src"
			},
		]
	}]
	select: [{expr: "count()", as: "pairs"}]
	from: ["reach"]
}
`

const edgesYAML = `
relations:
  - name: edges
    columns:
      - {name: src, type: int}
      - {name: dst, type: int}
changes:
  - relation: edges
    insert: [[1, 2], [2, 3]]
`

// seedDatabase creates a database holding the edges relation and returns its
// path together with the path of closureQuery.
func seedDatabase(t *testing.T) (db, query string) {
	t.Helper()
	dir := t.TempDir()
	db = filepath.Join(dir, "mutrec.db")
	updates := writeFile(t, dir, "edges.yaml", edgesYAML)
	query = writeFile(t, dir, "closure.cue", closureQuery)

	_, _, err := execute(t, NewIngestCommand(&RootOptions{Format: "text"}), "--db", db, updates)
	require.NoError(t, err)
	return db, query
}
