// Package resolve resolves parsed queries into typed logical plans.
//
// Resolution is all-or-nothing: every table and column reference in every
// binding of every recursive scope is resolved and type checked before a plan
// is returned, and the first error aborts the whole query.
//
// Visible relations are found through an explicit scope stack, innermost
// last. A WITH MUTUALLY RECURSIVE clause pushes one frame holding all of its
// bindings, so any binding may reference any other (or itself) regardless of
// declaration order. The frame is popped when the clause is done, which keeps
// sibling clauses invisible to each other.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/catalog"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
)

// Relation is a resolved query: its plan and its named output columns.
type Relation struct {
	Expr plan.Expr
	Type ir.RelationType
}

// Resolver resolves queries against a catalog.
type Resolver struct {
	catalog   catalog.Catalog
	stack     scopeStack
	nextID    plan.LocalID
	nextGroup int
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a Resolver over a catalog.
func New(cat catalog.Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: cat,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves a complete query.
func (r *Resolver) Resolve(q ast.Query) (*Relation, error) {
	r.stack = nil
	r.nextID = 0
	r.nextGroup = 0

	rel, err := r.resolveQuery(q)
	if err != nil {
		var unshaped *errUnshaped
		if errors.As(err, &unshaped) {
			return nil, diag.Errorf(diag.SchemaMismatch,
				"cannot infer the column types of binding %q; declare its column types", unshaped.name)
		}
		return nil, err
	}
	return rel, nil
}

func (r *Resolver) push(f frame) {
	r.stack = append(r.stack, f)
}

func (r *Resolver) pop() {
	r.stack = r.stack[:len(r.stack)-1]
}

func (r *Resolver) resolveQuery(q ast.Query) (*Relation, error) {
	switch n := q.(type) {
	case *ast.Select:
		return r.resolveSelect(n)
	case *ast.SetOp:
		return r.resolveSetOp(n)
	case *ast.Values:
		return r.resolveValues(n)
	case *ast.With:
		if n.Recursive {
			return r.resolveRecursive(n)
		}
		return r.resolveWith(n)
	case nil:
		return nil, diag.Errorf(diag.InvalidQuery, "missing query")
	}
	return nil, fmt.Errorf("unsupported query node %T", q)
}

// lookupRelation resolves a table reference: bindings innermost first, then the catalog.
func (r *Resolver) lookupRelation(name string) (*Relation, error) {
	rel, found, err := r.stack.lookup(name)
	if err != nil {
		return nil, err
	}
	if found {
		return r.instantiate(rel), nil
	}
	if r.catalog != nil {
		if typ, ok := r.catalog.Relation(name); ok {
			return &Relation{Expr: &plan.Get{Ref: plan.Global(name), Typ: typ}, Type: typ}, nil
		}
	}
	return nil, diag.RelationNotFound(name)
}

// instantiate gives the recursive blocks inside a plain CTE fresh binding
// identifiers. A CTE is inlined at every reference, and two copies of one
// block must not declare the same identifiers.
func (r *Resolver) instantiate(rel *Relation) *Relation {
	mapping := make(map[plan.LocalID]plan.LocalID)
	plan.Walk(rel.Expr, func(n plan.Expr) bool {
		if block, ok := n.(*plan.WithMutuallyRecursive); ok {
			for _, b := range block.Bindings {
				mapping[b.ID] = r.nextID
				r.nextID++
			}
		}
		return true
	})
	if len(mapping) == 0 {
		return rel
	}
	return &Relation{Expr: plan.RenameLocals(rel.Expr, mapping), Type: rel.Type}
}

// unitRelation is the single empty row a FROM-less SELECT reads.
func unitRelation() *plan.Constant {
	return &plan.Constant{Rows: []plan.DiffRow{{Row: ir.Row{}, Diff: 1}}}
}

func (r *Resolver) resolveFrom(items []ast.FromItem) (plan.Expr, *columnScope, error) {
	cs := &columnScope{}
	seen := make(map[string]bool, len(items))
	inputs := make([]plan.Expr, 0, len(items))
	for _, it := range items {
		var (
			rel  *Relation
			name string
			err  error
		)
		switch f := it.(type) {
		case *ast.TableRef:
			rel, err = r.lookupRelation(f.Name)
			name = f.Name
			if f.Alias != "" {
				name = f.Alias
			}
		case *ast.Subquery:
			rel, err = r.resolveQuery(f.Query)
			name = f.Alias
		default:
			return nil, nil, fmt.Errorf("unsupported FROM item %T", it)
		}
		if err != nil {
			return nil, nil, err
		}
		if name != "" {
			if seen[name] {
				return nil, nil, diag.Errorf(diag.InvalidQuery, "table name %q specified more than once", name)
			}
			seen[name] = true
		}
		cs.add(name, rel.Type.Columns)
		inputs = append(inputs, rel.Expr)
	}

	switch len(inputs) {
	case 0:
		return unitRelation(), cs, nil
	case 1:
		return inputs[0], cs, nil
	}
	return &plan.Join{Inputs: inputs}, cs, nil
}

func (r *Resolver) resolveSelect(s *ast.Select) (*Relation, error) {
	input, cols, err := r.resolveFrom(s.From)
	if err != nil {
		return nil, err
	}

	if s.Where != nil {
		pred, typ, err := r.resolveExpr(s.Where, plainContext(cols, "WHERE"))
		if err != nil {
			return nil, err
		}
		if err := expectBool("WHERE", typ); err != nil {
			return nil, err
		}
		input = applyPredicates(input, cols, splitConjuncts(pred))
	}

	var out *Relation
	if len(s.GroupBy) > 0 || s.Having != nil || selectHasAggregates(s) {
		out, err = r.aggregate(s, input, cols)
	} else {
		out, err = r.project(s, input, cols)
	}
	if err != nil {
		return nil, err
	}

	if s.Distinct {
		out = &Relation{Expr: &plan.Distinct{Input: out.Expr}, Type: out.Type}
	}
	return r.applyOrderLimit(out, s)
}

// project resolves a non-aggregating select list.
func (r *Resolver) project(s *ast.Select, input plan.Expr, cols *columnScope) (*Relation, error) {
	win := &windowState{expr: input, arity: cols.arity}
	ctx := &exprContext{cols: cols, clause: "SELECT", win: win}

	items, err := expandStars(s.Items, cols)
	if err != nil {
		return nil, err
	}
	scalars := make([]plan.Scalar, len(items))
	outCols := make([]ir.Column, len(items))
	for i, item := range items {
		if item.star {
			scalars[i] = plan.Col(item.column)
			outCols[i] = item.info
			continue
		}
		sc, typ, err := r.resolveExpr(item.Expr, ctx)
		if err != nil {
			return nil, err
		}
		scalars[i] = sc
		outCols[i] = ir.Column{Name: outputName(item.SelectItem), Type: typ, Nullable: true}
	}
	typ := ir.RelationType{Columns: outCols}

	if c, ok := input.(*plan.Constant); ok && len(s.From) == 0 && s.Where == nil && win.expr == input {
		if row, ok := literalRow(scalars); ok && len(c.Rows) == 1 {
			return &Relation{Expr: &plan.Constant{Rows: []plan.DiffRow{{Row: row, Diff: 1}}, Typ: typ}, Type: typ}, nil
		}
	}
	return &Relation{Expr: projectScalars(win.expr, win.arity, scalars), Type: typ}, nil
}

// projectScalars maps non-column scalars onto input and projects the outputs.
func projectScalars(input plan.Expr, arity int, scalars []plan.Scalar) plan.Expr {
	var mapped []plan.Scalar
	outputs := make([]int, len(scalars))
	for i, sc := range scalars {
		if c, ok := sc.(*plan.Column); ok {
			outputs[i] = c.Index
			continue
		}
		outputs[i] = arity + len(mapped)
		mapped = append(mapped, sc)
	}
	expr := input
	if len(mapped) > 0 {
		expr = &plan.Map{Input: expr, Scalars: mapped}
	}
	if isIdentity(outputs, arity+len(mapped)) {
		return expr
	}
	return &plan.Project{Input: expr, Outputs: outputs}
}

func isIdentity(outputs []int, arity int) bool {
	if len(outputs) != arity {
		return false
	}
	for i, o := range outputs {
		if o != i {
			return false
		}
	}
	return true
}

func literalRow(scalars []plan.Scalar) (ir.Row, bool) {
	row := make(ir.Row, len(scalars))
	for i, sc := range scalars {
		lit, ok := sc.(*plan.Literal)
		if !ok {
			return nil, false
		}
		row[i] = lit.Value
	}
	return row, true
}

// applyOrderLimit turns ORDER BY ... LIMIT into a TopK. Ordering without a
// limit does not change a multiset, so it is validated and dropped.
func (r *Resolver) applyOrderLimit(out *Relation, s *ast.Select) (*Relation, error) {
	if len(s.OrderBy) == 0 && s.Limit == nil {
		return out, nil
	}
	arity := out.Type.Arity()
	outCols := &columnScope{}
	outCols.add("", out.Type.Columns)
	ctx := plainContext(outCols, "ORDER BY")

	var (
		keys  []plan.ColumnOrder
		extra []plan.Scalar
	)
	for _, item := range s.OrderBy {
		sc, _, err := r.resolveExpr(item.Expr, ctx)
		if err != nil {
			return nil, err
		}
		col, ok := sc.(*plan.Column)
		if !ok {
			col = plan.Col(arity + len(extra))
			extra = append(extra, sc)
		}
		keys = append(keys, plan.ColumnOrder{Column: col.Index, Desc: item.Desc})
	}
	if s.Limit == nil {
		return out, nil
	}
	if *s.Limit < 0 {
		return nil, diag.Errorf(diag.InvalidQuery, "LIMIT must not be negative")
	}

	expr := out.Expr
	if len(extra) > 0 {
		expr = &plan.Map{Input: expr, Scalars: extra}
	}
	expr = &plan.TopK{Input: expr, OrderKey: keys, Limit: *s.Limit}
	if len(extra) > 0 {
		outputs := make([]int, arity)
		for i := range outputs {
			outputs[i] = i
		}
		expr = &plan.Project{Input: expr, Outputs: outputs}
	}
	return &Relation{Expr: expr, Type: out.Type}, nil
}

func (r *Resolver) resolveSetOp(op *ast.SetOp) (*Relation, error) {
	if len(op.Inputs) == 0 {
		return nil, diag.Errorf(diag.InvalidQuery, "%s requires at least one input", op.Op)
	}
	rels := make([]*Relation, len(op.Inputs))
	for i, in := range op.Inputs {
		rel, err := r.resolveQuery(in)
		if err != nil {
			return nil, err
		}
		rels[i] = rel
	}
	typ, err := unifyInputs(op.Op.String(), rels)
	if err != nil {
		return nil, err
	}
	exprs := make([]plan.Expr, len(rels))
	for i, rel := range rels {
		exprs[i] = rel.Expr
	}

	var expr plan.Expr
	switch op.Op {
	case ast.UnionAll:
		expr = &plan.Union{Inputs: exprs}
	case ast.Union:
		expr = &plan.Distinct{Input: &plan.Union{Inputs: exprs}}
	case ast.ExceptAll:
		expr = exprs[0]
		for _, e := range exprs[1:] {
			expr = &plan.Threshold{Input: &plan.Union{Inputs: []plan.Expr{expr, &plan.Negate{Input: e}}}}
		}
	case ast.Except:
		expr = &plan.Distinct{Input: exprs[0]}
		for _, e := range exprs[1:] {
			expr = &plan.Threshold{Input: &plan.Union{Inputs: []plan.Expr{expr, &plan.Negate{Input: &plan.Distinct{Input: e}}}}}
		}
	default:
		return nil, fmt.Errorf("unsupported set operation %v", op.Op)
	}
	return &Relation{Expr: expr, Type: typ}, nil
}

// unifyInputs checks that set operation inputs agree on arity and column
// types, and returns the combined type named after the first input.
func unifyInputs(what string, rels []*Relation) (ir.RelationType, error) {
	first := rels[0].Type
	cols := append([]ir.Column(nil), first.Columns...)
	for _, rel := range rels[1:] {
		if rel.Type.Arity() != len(cols) {
			return ir.RelationType{}, diag.Errorf(diag.InvalidQuery,
				"each %s query must have the same number of columns", what)
		}
		for i, c := range rel.Type.Columns {
			t, ok := ir.Unify(cols[i].Type, c.Type)
			if !ok {
				return ir.RelationType{}, diag.Errorf(diag.InvalidQuery,
					"%s types %s and %s cannot be matched", what, cols[i].Type, c.Type)
			}
			cols[i].Type = t
		}
	}
	return ir.RelationType{Columns: cols}, nil
}

func (r *Resolver) resolveValues(v *ast.Values) (*Relation, error) {
	if len(v.Rows) == 0 {
		return nil, diag.Errorf(diag.InvalidQuery, "VALUES requires at least one row")
	}
	arity := len(v.Rows[0])
	cols := make([]ir.Column, arity)
	for i := range cols {
		cols[i] = ir.Column{Name: fmt.Sprintf("column%d", i+1), Type: ir.TypeNull, Nullable: true}
	}
	rows := make([]plan.DiffRow, 0, len(v.Rows))
	for _, exprs := range v.Rows {
		if len(exprs) != arity {
			return nil, diag.Errorf(diag.InvalidQuery, "VALUES lists must all be the same length")
		}
		row := make(ir.Row, arity)
		for i, e := range exprs {
			val, ok := constValue(e)
			if !ok {
				return nil, diag.Errorf(diag.InvalidQuery, "VALUES lists must contain constants")
			}
			t, ok := ir.Unify(cols[i].Type, ir.TypeOf(val))
			if !ok {
				return nil, diag.Errorf(diag.InvalidQuery,
					"VALUES types %s and %s cannot be matched", cols[i].Type, ir.TypeOf(val))
			}
			cols[i].Type = t
			row[i] = val
		}
		rows = append(rows, plan.DiffRow{Row: row, Diff: 1})
	}
	typ := ir.RelationType{Columns: cols}
	return &Relation{Expr: &plan.Constant{Rows: rows, Typ: typ}, Type: typ}, nil
}

func constValue(e ast.Expr) (ir.Value, bool) {
	switch n := e.(type) {
	case *ast.Literal:
		if n.Value == nil {
			return ir.Null{}, true
		}
		return n.Value, true
	case *ast.Unary:
		if n.Op != ast.OpNeg {
			return nil, false
		}
		v, ok := constValue(n.Expr)
		if i, isInt := v.(ir.Int); ok && isInt {
			return -i, true
		}
	}
	return nil, false
}

// resolveWith resolves a plain WITH clause. Each binding sees the bindings
// declared before it; references are inlined.
func (r *Resolver) resolveWith(w *ast.With) (*Relation, error) {
	f := frame{ctes: make(map[string]*Relation, len(w.Bindings))}
	r.push(f)
	defer r.pop()

	for _, cte := range w.Bindings {
		if _, dup := f.ctes[cte.Name]; dup {
			return nil, diag.Errorf(diag.DuplicateBindingName, "WITH query name %q specified more than once", cte.Name)
		}
		rel, err := r.resolveQuery(cte.Query)
		if err != nil {
			return nil, diag.AttributeTo(err, cte.Name)
		}
		rel, err = applyDeclaredColumns(cte, rel)
		if err != nil {
			return nil, err
		}
		f.ctes[cte.Name] = rel
	}
	return r.resolveQuery(w.Body)
}

// applyDeclaredColumns renames (and type checks) a plain CTE's columns.
func applyDeclaredColumns(cte ast.CTE, rel *Relation) (*Relation, error) {
	if cte.Columns == nil {
		return rel, nil
	}
	if len(cte.Columns) != rel.Type.Arity() {
		return nil, diag.Errorf(diag.SchemaMismatch,
			"WITH query %q declares %d columns, but its query returns %d",
			cte.Name, len(cte.Columns), rel.Type.Arity()).InBinding(cte.Name)
	}
	cols := append([]ir.Column(nil), rel.Type.Columns...)
	for i, c := range cte.Columns {
		cols[i].Name = c.Name
		if c.Type == "" {
			continue
		}
		want, err := ir.ParseScalarType(c.Type)
		if err != nil {
			return nil, diag.Wrap(diag.InvalidQuery, err, "%s", err.Error()).InBinding(cte.Name)
		}
		if !cols[i].Type.AssignableTo(want) {
			return nil, diag.Errorf(diag.SchemaMismatch,
				"declared type %s of column %q did not match inferred type %s",
				want, c.Name, cols[i].Type).InBinding(cte.Name)
		}
		cols[i].Type = want
	}
	return &Relation{Expr: rel.Expr, Type: ir.RelationType{Columns: cols}}, nil
}

func outputName(item ast.SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case *ast.ColumnRef:
		return e.Name
	case *ast.Call:
		return e.Name
	}
	return "?column?"
}

// selectItem is a select list entry after star expansion. Expanded star
// columns are already resolved to an input column.
type selectItem struct {
	ast.SelectItem
	star   bool
	column int
	info   ir.Column
}

// expandStars replaces * and t.* items by one entry per column.
func expandStars(items []ast.SelectItem, cols *columnScope) ([]selectItem, error) {
	out := make([]selectItem, 0, len(items))
	for _, item := range items {
		if !item.Star {
			out = append(out, selectItem{SelectItem: item})
			continue
		}
		indexes, infos, err := cols.star(item.StarTable)
		if err != nil {
			return nil, err
		}
		for i, idx := range indexes {
			out = append(out, selectItem{star: true, column: idx, info: infos[i]})
		}
	}
	return out, nil
}
