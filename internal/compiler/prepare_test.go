package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/catalog"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/explain"
)

func TestPrepare(t *testing.T) {
	doc, err := compileDoc(t, countDoc)
	require.NoError(t, err)
	cat, err := doc.Catalog()
	require.NoError(t, err)

	p, err := Prepare(doc.Query, cat, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"total"}, p.Type.Names())
	assert.Len(t, p.Program.Loops, 1)
	assert.Empty(t, p.Program.Inputs, "the query reads no catalog relation")
	assert.NotEmpty(t, p.Fingerprint())

	text, err := p.Explain()
	require.NoError(t, err)
	assert.Contains(t, text, explain.Header)
	assert.Contains(t, text, "With Mutually Recursive")
}

func TestPrepareReturnsDiagnostics(t *testing.T) {
	doc, err := compileDoc(t, `
query: {
	with_mutually_recursive: bindings: [
		{name: "a", columns: [{name: "x", type: "int"}], query: {select: ["x"], from: ["b"]}},
		{name: "b", columns: [{name: "x", type: "int"}], query: {select: ["x"], from: ["a"]}},
		{name: "a", columns: [{name: "x", type: "int"}], query: {values: [[1]]}},
	]
	select: ["x"]
	from: ["a"]
}
`)
	require.NoError(t, err)

	_, err = Prepare(doc.Query, catalog.NewMemory(), nil)
	require.Error(t, err)
	assert.Equal(t, diag.DuplicateBindingName, diag.CodeOf(err))
}
