package resolve

import (
	"strings"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
)

// aggState tracks the group keys and aggregates of one aggregating SELECT.
// Scalars resolved under it address the Reduce output: group keys first,
// then aggregates.
type aggState struct {
	cols       *columnScope
	groups     []plan.Scalar // in input column space
	groupTypes []ir.ScalarType
	aggs       []plan.Aggregate
	aggTypes   []ir.ScalarType
}

// match resolves e if it is an aggregate call or equal to a group key.
// ok is false when e must be resolved structurally instead.
func (a *aggState) match(r *Resolver, e ast.Expr) (plan.Scalar, ir.ScalarType, bool, error) {
	if call, isCall := e.(*ast.Call); isCall && isAggregate(call) {
		sc, typ, err := a.addAggregate(r, call)
		return sc, typ, err == nil, err
	}
	if ref, isRef := e.(*ast.ColumnRef); isRef {
		idx, _, err := a.cols.resolve(ref)
		if err != nil {
			return nil, "", false, err
		}
		if g := a.groupIndex(plan.Col(idx)); g >= 0 {
			return plan.Col(g), a.groupTypes[g], true, nil
		}
		return nil, "", false, nil
	}
	if _, isLit := e.(*ast.Literal); isLit || containsCall(e, isAggregate) {
		return nil, "", false, nil
	}
	sc, _, err := r.resolveExpr(e, plainContext(a.cols, "GROUP BY"))
	if err != nil {
		return nil, "", false, nil
	}
	if g := a.groupIndex(sc); g >= 0 {
		return plan.Col(g), a.groupTypes[g], true, nil
	}
	return nil, "", false, nil
}

func (a *aggState) groupIndex(sc plan.Scalar) int {
	for i, g := range a.groups {
		if plan.ScalarEqual(g, sc) {
			return i
		}
	}
	return -1
}

func (a *aggState) addAggregate(r *Resolver, call *ast.Call) (plan.Scalar, ir.ScalarType, error) {
	fn := aggregateFuncs[strings.ToLower(call.Name)]
	for _, arg := range call.Args {
		if containsCall(arg, isAggregate) {
			return nil, "", diag.Errorf(diag.InvalidQuery, "aggregate function calls cannot be nested")
		}
	}

	agg := plan.Aggregate{Func: fn, Distinct: call.Distinct}
	typ := ir.TypeInt
	switch {
	case call.Star:
		if fn != plan.AggCount || len(call.Args) > 0 {
			return nil, "", diag.Errorf(diag.InvalidQuery, "%s(*) is not allowed", call.Name)
		}
	case len(call.Args) != 1:
		return nil, "", diag.Errorf(diag.InvalidQuery, "function %s requires exactly one argument", call.Name)
	default:
		arg, argType, err := r.resolveExpr(call.Args[0], plainContext(a.cols, "aggregate function arguments"))
		if err != nil {
			return nil, "", err
		}
		agg.Expr = arg
		switch fn {
		case plan.AggSum:
			if !argType.AssignableTo(ir.TypeInt) {
				return nil, "", diag.Errorf(diag.InvalidQuery, "function sum(%s) does not exist", argType)
			}
		case plan.AggMin, plan.AggMax:
			typ = argType
		}
	}

	want := plan.AggregateString(agg)
	for j, existing := range a.aggs {
		if plan.AggregateString(existing) == want {
			return plan.Col(len(a.groups) + j), a.aggTypes[j], nil
		}
	}
	a.aggs = append(a.aggs, agg)
	a.aggTypes = append(a.aggTypes, typ)
	return plan.Col(len(a.groups) + len(a.aggs) - 1), typ, nil
}

// aggregate resolves a SELECT with GROUP BY, HAVING, or aggregate calls.
func (r *Resolver) aggregate(s *ast.Select, input plan.Expr, cols *columnScope) (*Relation, error) {
	state := &aggState{cols: cols}
	var (
		keys   []int
		preMap []plan.Scalar
	)
	for _, g := range s.GroupBy {
		if containsCall(g, isAggregate) {
			return nil, diag.Errorf(diag.InvalidQuery, "aggregate functions are not allowed in GROUP BY")
		}
		sc, typ, err := r.resolveExpr(g, plainContext(cols, "GROUP BY"))
		if err != nil {
			return nil, err
		}
		if state.groupIndex(sc) >= 0 {
			continue
		}
		state.groups = append(state.groups, sc)
		state.groupTypes = append(state.groupTypes, typ)
		if c, ok := sc.(*plan.Column); ok {
			keys = append(keys, c.Index)
			continue
		}
		keys = append(keys, cols.arity+len(preMap))
		preMap = append(preMap, sc)
	}

	ctx := &exprContext{cols: cols, clause: "SELECT", agg: state}
	var (
		scalars []plan.Scalar
		outCols []ir.Column
	)
	for _, item := range s.Items {
		if item.Star {
			indexes, infos, err := cols.star(item.StarTable)
			if err != nil {
				return nil, err
			}
			for i, idx := range indexes {
				g := state.groupIndex(plan.Col(idx))
				if g < 0 {
					return nil, diag.Errorf(diag.InvalidQuery,
						"column %q must appear in the GROUP BY clause or be used in an aggregate function", infos[i].Name)
				}
				scalars = append(scalars, plan.Col(g))
				outCols = append(outCols, infos[i])
			}
			continue
		}
		if containsCall(item.Expr, isWindow) {
			return nil, diag.Errorf(diag.InvalidQuery, "window functions are not supported in aggregating queries")
		}
		sc, typ, err := r.resolveExpr(item.Expr, ctx)
		if err != nil {
			return nil, err
		}
		scalars = append(scalars, sc)
		outCols = append(outCols, ir.Column{Name: outputName(item), Type: typ, Nullable: true})
	}

	var having plan.Scalar
	if s.Having != nil {
		ctx.clause = "HAVING"
		sc, typ, err := r.resolveExpr(s.Having, ctx)
		if err != nil {
			return nil, err
		}
		if err := expectBool("HAVING", typ); err != nil {
			return nil, err
		}
		having = sc
	}

	expr := input
	if len(preMap) > 0 {
		expr = &plan.Map{Input: expr, Scalars: preMap}
	}
	if keys == nil {
		keys = []int{}
	}
	expr = &plan.Reduce{Input: expr, GroupKey: keys, Aggregates: state.aggs}
	if having != nil {
		expr = &plan.Filter{Input: expr, Predicates: splitConjuncts(having)}
	}
	typ := ir.RelationType{Columns: outCols}
	return &Relation{Expr: projectScalars(expr, len(state.groups)+len(state.aggs), scalars), Type: typ}, nil
}

func isWindow(c *ast.Call) bool { return c.Over != nil }

// windowState accumulates window columns appended to a SELECT's input.
type windowState struct {
	expr  plan.Expr
	arity int
}

// add appends a row_number() column and returns a reference to it.
func (w *windowState) add(r *Resolver, call *ast.Call, cols *columnScope) (plan.Scalar, ir.ScalarType, error) {
	if !strings.EqualFold(call.Name, "row_number") || len(call.Args) > 0 || call.Star {
		return nil, "", diag.Errorf(diag.InvalidQuery, "window function %s is not supported", call.Name)
	}
	ctx := plainContext(cols, "window definitions")
	var extra []plan.Scalar
	column := func(e ast.Expr) (int, error) {
		if containsCall(e, func(c *ast.Call) bool { return isAggregate(c) || isWindow(c) }) {
			return 0, diag.Errorf(diag.InvalidQuery, "aggregate and window functions are not allowed in window definitions")
		}
		sc, _, err := r.resolveExpr(e, ctx)
		if err != nil {
			return 0, err
		}
		if c, ok := sc.(*plan.Column); ok {
			return c.Index, nil
		}
		extra = append(extra, sc)
		return w.arity + len(extra) - 1, nil
	}

	var partition []int
	for _, e := range call.Over.PartitionBy {
		idx, err := column(e)
		if err != nil {
			return nil, "", err
		}
		partition = append(partition, idx)
	}
	var order []plan.ColumnOrder
	for _, o := range call.Over.OrderBy {
		idx, err := column(o.Expr)
		if err != nil {
			return nil, "", err
		}
		order = append(order, plan.ColumnOrder{Column: idx, Desc: o.Desc})
	}

	if len(extra) > 0 {
		w.expr = &plan.Map{Input: w.expr, Scalars: extra}
		w.arity += len(extra)
	}
	w.expr = &plan.Window{Input: w.expr, PartitionBy: partition, OrderBy: order}
	w.arity++
	return plan.Col(w.arity - 1), ir.TypeInt, nil
}
