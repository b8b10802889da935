package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

const countDoc = `
tables: {
	edges: {
		columns: [{name: "src", type: "int"}, {name: "dst", type: "int"}]
		rows: [[1, 2], [2, 3]]
	}
}
query: {
	with_mutually_recursive: {
		options: {recursion_limit: 100, return_at_limit: false}
		bindings: [{
			name: "t"
			columns: [{name: "n", type: "int"}]
			query: union_all: [{values: [[1]]}, {select: ["n + 1"], from: ["t"], where: "n < 100"}]
		}]
	}
	select: [{expr: "sum(n)", as: "total"}]
	from: ["t"]
}
`

func compileDoc(t *testing.T, src string) (*Document, error) {
	t.Helper()
	return CompileQuery([]byte(src), "query.cue")
}

func TestCompileQueryDocument(t *testing.T) {
	doc, err := compileDoc(t, countDoc)
	require.NoError(t, err)

	require.Len(t, doc.Tables, 1)
	assert.Equal(t, "edges", doc.Tables[0].Name)
	assert.Equal(t, [][]ir.Value{{ir.Int(1), ir.Int(2)}, {ir.Int(2), ir.Int(3)}}, doc.Tables[0].Rows)

	w, ok := doc.Query.(*ast.With)
	require.True(t, ok, "query should be a With, got %T", doc.Query)
	assert.True(t, w.Recursive)
	assert.Equal(t, ast.RecursionOptions{Limit: 100}, w.Options)
	require.Len(t, w.Bindings, 1)
	assert.Equal(t, []ast.ColumnDef{{Name: "n", Type: "int"}}, w.Bindings[0].Columns)

	union, ok := w.Bindings[0].Query.(*ast.SetOp)
	require.True(t, ok)
	assert.Equal(t, ast.UnionAll, union.Op)
	require.Len(t, union.Inputs, 2)
	assert.Equal(t, &ast.Values{Rows: [][]ast.Expr{{ast.Int(1)}}}, union.Inputs[0])

	step := union.Inputs[1].(*ast.Select)
	assert.Equal(t, []ast.FromItem{&ast.TableRef{Name: "t"}}, step.From)
	assert.Equal(t, &ast.Binary{Op: ast.OpLt, Left: ast.Col("n"), Right: ast.Int(100)}, step.Where)

	body := w.Body.(*ast.Select)
	assert.Equal(t, "total", body.Items[0].Alias)
}

func TestCompileQuerySelectForms(t *testing.T) {
	doc, err := compileDoc(t, `
query: {
	select: ["*", "e.*", {expr: "row_number()", as: "rn", over: {partition_by: ["e.src"], order_by: [{expr: "e.dst", desc: true}]}}]
	distinct: true
	from: ["edges AS e", {table: "edges", as: "f"}, {query: {values: [[1, "x"]]}, as: "v"}]
	group_by: ["e.src"]
	having: "count() > 1"
	order_by: ["e.src", {expr: "e.dst", desc: true}]
	limit: 10
}
`)
	require.NoError(t, err)
	s := doc.Query.(*ast.Select)

	assert.True(t, s.Distinct)
	assert.Equal(t, ast.SelectItem{Star: true}, s.Items[0])
	assert.Equal(t, ast.SelectItem{Star: true, StarTable: "e"}, s.Items[1])
	call := s.Items[2].Expr.(*ast.Call)
	require.NotNil(t, call.Over)
	assert.Equal(t, []ast.OrderItem{{Expr: &ast.ColumnRef{Table: "e", Name: "dst"}, Desc: true}}, call.Over.OrderBy)

	require.Len(t, s.From, 3)
	assert.Equal(t, &ast.TableRef{Name: "edges", Alias: "e"}, s.From[0])
	assert.Equal(t, &ast.TableRef{Name: "edges", Alias: "f"}, s.From[1])
	assert.Equal(t, "v", s.From[2].(*ast.Subquery).Alias)

	require.NotNil(t, s.Limit)
	assert.Equal(t, int64(10), *s.Limit)
	assert.Len(t, s.OrderBy, 2)
	assert.NotNil(t, s.Having)
}

func TestCompileQueryErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		contains string
	}{
		{"missing query", `tables: {}`, "query is required"},
		{"unknown top-level field", `query: {values: [[1]]}, extra: 1`, "document.extra: unknown field"},
		{"two forms", `query: {values: [[1]], select: ["1"]}`, "exactly one of"},
		{"clause without select", `query: {values: [[1]], where: "true"}`, "where can only be used with select"},
		{"bad expression", `query: {select: ["n +"]}`, "query.select[0]"},
		{"float value", `query: {values: [[1.5]]}`, "float values are not supported"},
		{"except arity", `query: {except: [{values: [[1]]}]}`, "needs at least two queries"},
		{"bad from", `query: {select: ["*"], from: ["a b c d"]}`, "name AS alias"},
		{"combined with", `query: {with: {bindings: []}, with_mutually_recursive: {bindings: []}, values: [[1]]}`, "cannot be combined"},
		{"binding without query", `query: {with_mutually_recursive: {bindings: [{name: "t"}]}, values: [[1]]}`, "binding query is required"},
		{"cue syntax", `query: {`, "cue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileDoc(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestCompileErrorHasPosition(t *testing.T) {
	_, err := compileDoc(t, "query: {\n\tselect: [\"n +\"]\n}\n")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Pos.IsValid())
	assert.Equal(t, 2, ce.Pos.Line())
	assert.Contains(t, ce.Error(), "query.cue:2:")
}

func TestCompileQueryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "count.cue")
	require.NoError(t, os.WriteFile(path, []byte(countDoc), 0o644))

	doc, err := CompileQueryFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, doc.Filename)

	_, err = CompileQueryFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.ErrorContains(t, err, "read query document")
}

func TestDocumentCatalog(t *testing.T) {
	doc, err := compileDoc(t, countDoc)
	require.NoError(t, err)

	cat, err := doc.Catalog()
	require.NoError(t, err)

	typ, ok := cat.Relation("edges")
	require.True(t, ok)
	assert.Equal(t, []string{"src", "dst"}, typ.Names())

	rows, err := cat.Snapshot(context.Background(), "edges")
	require.NoError(t, err)
	assert.Equal(t, zset.Consolidate(zset.FromRows(ir.NewRow(1, 2), ir.NewRow(2, 3))), rows)
}
