package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/ir"
)

func codes(errs ValidationErrors) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateTables(t *testing.T) {
	doc := &Document{
		Tables: []Table{
			{Name: "empty"},
			{Name: "bad", Columns: []ColumnDecl{
				{Name: "a", Type: "int"},
				{Name: "a", Type: "int"},
				{Name: "f", Type: "float"},
				{Name: "u", Type: "uuid"},
				{Name: "n"},
			}},
			{Name: "rows", Columns: []ColumnDecl{{Name: "a", Type: "int"}, {Name: "b", Type: "text"}},
				Rows: [][]ir.Value{
					{ir.Int(1), ir.Text("x")},
					{ir.Int(1)},
					{ir.Text("x"), ir.Null{}},
				}},
		},
		Query: &ast.Values{Rows: [][]ast.Expr{{ast.Int(1)}}},
	}

	errs := Validate(doc)
	assert.Equal(t, []string{
		ErrTableNoColumns,
		ErrDuplicateColumn,
		ErrFloatTypeForbidden,
		ErrInvalidColumnType,
		ErrInvalidColumnType,
		ErrRowArity,
		ErrRowValueType,
	}, codes(errs))
}

func TestValidateQuery(t *testing.T) {
	body := &ast.Values{Rows: [][]ast.Expr{{ast.Int(1)}, {ast.Int(1), ast.Int(2)}}}
	doc := &Document{Query: &ast.With{
		Recursive: true,
		Options:   ast.RecursionOptions{Limit: -1},
		Bindings: []ast.CTE{{
			Name:    "t",
			Columns: []ast.ColumnDef{{Name: "n", Type: "double"}, {Name: "n"}},
			Query:   &ast.With{Recursive: true, Options: ast.RecursionOptions{ReturnAtLimit: true}, Body: body},
		}},
		Body: body,
	}}

	errs := Validate(doc)
	assert.Equal(t, []string{
		ErrNegativeLimit,
		ErrFloatTypeForbidden,
		ErrDuplicateBindingCol,
		ErrEmptyBindings,
		ErrReturnWithoutLimit,
		ErrValuesArity,
		ErrValuesArity,
	}, codes(errs))
	assert.Contains(t, errs.Error(), "[E112] query.with_mutually_recursive.options.recursion_limit")
}

func TestValidateValid(t *testing.T) {
	doc, err := CompileQuery([]byte(countDoc), "query.cue")
	require.NoError(t, err)
	assert.Empty(t, Validate(doc))
}

func TestCompileQueryReturnsValidationErrors(t *testing.T) {
	_, err := CompileQuery([]byte(`
tables: t: {columns: [{name: "a", type: "int"}], rows: [["x"]]}
query: {select: ["*"], from: ["t"]}
`), "query.cue")
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{ErrRowValueType}, codes(verrs))
}
