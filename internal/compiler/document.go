package compiler

import (
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/catalog"
	"github.com/roach88/mutrec/internal/ir"
)

// Document is a compiled query document: inline tables plus one query.
type Document struct {
	Filename string
	Tables   []Table
	Query    ast.Query
}

// Table is a relation declared inline in a document.
type Table struct {
	Name    string
	Columns []ColumnDecl
	Rows    [][]ir.Value
}

// ColumnDecl is a declared table column. Type is the name as written.
type ColumnDecl struct {
	Name string
	Type string
}

// Type returns the relation type of the table. It assumes the document has
// been validated.
func (t Table) Type() ir.RelationType {
	cols := make([]ir.Column, len(t.Columns))
	for i, c := range t.Columns {
		typ, _ := ir.ParseScalarType(c.Type)
		cols[i] = ir.Column{Name: c.Name, Type: typ, Nullable: true}
	}
	return ir.RelationType{Columns: cols}
}

// CompileQueryFile reads and compiles a query document.
func CompileQueryFile(path string) (*Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query document: %w", err)
	}
	return CompileQuery(src, path)
}

// CompileQuery compiles a query document. The document must define a query
// field and may define tables. The compiled document is validated; a
// document with validation errors returns them as ValidationErrors.
func CompileQuery(src []byte, filename string) (*Document, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	if err := checkFields(v, "document", "tables", "query"); err != nil {
		return nil, err
	}

	doc := &Document{Filename: filename}
	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if tablesVal.Exists() {
		tables, err := parseTables(tablesVal)
		if err != nil {
			return nil, err
		}
		doc.Tables = tables
	}

	queryVal := v.LookupPath(cue.ParsePath("query"))
	if !queryVal.Exists() {
		return nil, &CompileError{Field: "query", Message: "query is required", Pos: v.Pos()}
	}
	q, err := parseQuery(queryVal, "query")
	if err != nil {
		return nil, err
	}
	doc.Query = q

	if errs := Validate(doc); len(errs) > 0 {
		return nil, errs
	}
	return doc, nil
}

// Catalog returns an in-memory catalog holding the document's tables.
func (d *Document) Catalog() (*catalog.Memory, error) {
	m := catalog.NewMemory()
	for _, t := range d.Tables {
		m.Define(t.Name, t.Type())
		rows := make([]ir.Row, len(t.Rows))
		for i, r := range t.Rows {
			rows[i] = ir.Row(r)
		}
		if err := m.Insert(t.Name, rows...); err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
	}
	return m, nil
}

// parseTables extracts table definitions in declaration order.
func parseTables(v cue.Value) ([]Table, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var tables []Table
	for iter.Next() {
		name := iter.Label()
		tv := iter.Value()
		field := "tables." + name
		if err := checkFields(tv, field, "columns", "rows"); err != nil {
			return nil, err
		}

		table := Table{Name: name}
		colsVal := tv.LookupPath(cue.ParsePath("columns"))
		if !colsVal.Exists() {
			return nil, errorAt(tv, field+".columns", "table columns are required")
		}
		table.Columns, err = parseColumns(colsVal, field+".columns")
		if err != nil {
			return nil, err
		}

		rowsVal := tv.LookupPath(cue.ParsePath("rows"))
		if rowsVal.Exists() {
			rowIter, err := rowsVal.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for i := 0; rowIter.Next(); i++ {
				row, err := parseLiteralRow(rowIter.Value(), fmt.Sprintf("%s.rows[%d]", field, i))
				if err != nil {
					return nil, err
				}
				table.Rows = append(table.Rows, row)
			}
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// parseColumns parses a list of {name, type} column declarations. The type
// may be omitted.
func parseColumns(v cue.Value, field string) ([]ColumnDecl, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var cols []ColumnDecl
	for i := 0; iter.Next(); i++ {
		cv := iter.Value()
		f := fmt.Sprintf("%s[%d]", field, i)
		if err := checkFields(cv, f, "name", "type"); err != nil {
			return nil, err
		}
		name, err := stringField(cv, "name", f)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, errorAt(cv, f+".name", "column name is required")
		}
		col := ColumnDecl{Name: name}
		if tv := cv.LookupPath(cue.ParsePath("type")); tv.Exists() {
			if col.Type, err = tv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// parseLiteralRow parses a list of CUE scalars.
func parseLiteralRow(v cue.Value, field string) ([]ir.Value, error) {
	iter, err := v.List()
	if err != nil {
		return nil, errorAt(v, field, "row must be a list of values")
	}
	var row []ir.Value
	for i := 0; iter.Next(); i++ {
		val, err := literalValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		row = append(row, val)
	}
	return row, nil
}

// literalValue converts a concrete CUE scalar. Floats are rejected.
func literalValue(v cue.Value, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Text(s), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.FloatKind, cue.NumberKind:
		return nil, errorAt(v, field, "float values are not supported; use int")
	default:
		return nil, errorAt(v, field, "unsupported value kind: %v", v.Kind())
	}
}

// checkFields rejects struct fields other than the allowed ones.
func checkFields(v cue.Value, field string, allowed ...string) error {
	iter, err := v.Fields()
	if err != nil {
		return errorAt(v, field, "must be an object")
	}
	for iter.Next() {
		label := iter.Label()
		if !slices.Contains(allowed, label) {
			return errorAt(iter.Value(), field+"."+label, "unknown field")
		}
	}
	return nil
}

func stringField(v cue.Value, name, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", errorAt(fv, field+"."+name, "must be a string")
	}
	return s, nil
}
