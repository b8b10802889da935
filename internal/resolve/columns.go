package resolve

import (
	"slices"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
)

// fromItem is one relation visible to column references in a SELECT.
type fromItem struct {
	name   string // alias or table name; empty for an unaliased subquery
	cols   []ir.Column
	offset int // index of the first column in the combined input
}

// columnScope is the set of columns a SELECT block can reference.
type columnScope struct {
	items []fromItem
	arity int
}

func (cs *columnScope) add(name string, cols []ir.Column) {
	cs.items = append(cs.items, fromItem{name: name, cols: cols, offset: cs.arity})
	cs.arity += len(cols)
}

func (cs *columnScope) types() []ir.ScalarType {
	out := make([]ir.ScalarType, 0, cs.arity)
	for _, it := range cs.items {
		for _, c := range it.cols {
			out = append(out, c.Type)
		}
	}
	return out
}

// itemOf returns the index of the FROM item that owns a combined column.
func (cs *columnScope) itemOf(col int) int {
	for i, it := range cs.items {
		if col >= it.offset && col < it.offset+len(it.cols) {
			return i
		}
	}
	return -1
}

// resolve finds the single column a reference names.
func (cs *columnScope) resolve(ref *ast.ColumnRef) (int, ir.Column, error) {
	display := ref.Name
	if ref.Table != "" {
		display = ref.Table + "." + ref.Name
	}
	found := -1
	var col ir.Column
	for _, it := range cs.items {
		if ref.Table != "" && it.name != ref.Table {
			continue
		}
		for j, c := range it.cols {
			if c.Name != ref.Name {
				continue
			}
			if found >= 0 {
				return 0, ir.Column{}, diag.ColumnAmbiguous(display)
			}
			found = it.offset + j
			col = c
		}
	}
	if found < 0 {
		return 0, ir.Column{}, diag.ColumnNotFound(display)
	}
	return found, col, nil
}

// star lists the columns selected by * (table == "") or table.*.
func (cs *columnScope) star(table string) ([]int, []ir.Column, error) {
	var (
		idx  []int
		cols []ir.Column
		hit  bool
	)
	for _, it := range cs.items {
		if table != "" && it.name != table {
			continue
		}
		hit = true
		for j, c := range it.cols {
			idx = append(idx, it.offset+j)
			cols = append(cols, c)
		}
	}
	if table != "" && !hit {
		return nil, nil, diag.Errorf(diag.UnknownRelation, "missing FROM-clause entry for table %q", table)
	}
	return idx, cols, nil
}

// exprContext controls what a scalar expression may contain.
type exprContext struct {
	cols   *columnScope
	clause string
	agg    *aggState    // set after aggregation: only group keys and aggregates are visible
	win    *windowState // set where window functions are allowed
}

func plainContext(cols *columnScope, clause string) *exprContext {
	return &exprContext{cols: cols, clause: clause}
}

// splitConjuncts flattens nested ANDs.
func splitConjuncts(s plan.Scalar) []plan.Scalar {
	if b, ok := s.(*plan.CallBinary); ok && b.Func == plan.FuncAnd {
		return append(splitConjuncts(b.Left), splitConjuncts(b.Right)...)
	}
	return []plan.Scalar{s}
}

// applyPredicates filters input. Over a join, equalities between columns of
// different inputs become join equivalences and the rest stay predicates.
func applyPredicates(input plan.Expr, cols *columnScope, preds []plan.Scalar) plan.Expr {
	join, isJoin := input.(*plan.Join)
	var residual []plan.Scalar
	var classes [][]int
	for _, p := range preds {
		if isJoin {
			if l, r, ok := columnEquality(p); ok && cols.itemOf(l) != cols.itemOf(r) {
				classes = addEquivalence(classes, l, r)
				continue
			}
		}
		residual = append(residual, p)
	}
	out := input
	if len(classes) > 0 {
		out = &plan.Join{Inputs: join.Inputs, Equivalences: append(slices.Clone(join.Equivalences), classes...)}
	}
	if len(residual) > 0 {
		out = &plan.Filter{Input: out, Predicates: residual}
	}
	return out
}

func columnEquality(s plan.Scalar) (int, int, bool) {
	b, ok := s.(*plan.CallBinary)
	if !ok || b.Func != plan.FuncEq {
		return 0, 0, false
	}
	l, lok := b.Left.(*plan.Column)
	r, rok := b.Right.(*plan.Column)
	if !lok || !rok {
		return 0, 0, false
	}
	return l.Index, r.Index, true
}

// addEquivalence merges l = r into a list of sorted equivalence classes.
func addEquivalence(classes [][]int, l, r int) [][]int {
	merged := []int{l, r}
	var rest [][]int
	for _, c := range classes {
		if slices.Contains(c, l) || slices.Contains(c, r) {
			merged = append(merged, c...)
			continue
		}
		rest = append(rest, c)
	}
	slices.Sort(merged)
	merged = slices.Compact(merged)
	return append(rest, merged)
}
