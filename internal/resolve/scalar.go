package resolve

import (
	"fmt"
	"strings"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
)

var aggregateFuncs = map[string]plan.AggFunc{
	"sum":   plan.AggSum,
	"count": plan.AggCount,
	"min":   plan.AggMin,
	"max":   plan.AggMax,
}

func isAggregate(c *ast.Call) bool {
	_, ok := aggregateFuncs[strings.ToLower(c.Name)]
	return ok && c.Over == nil
}

// resolveExpr resolves and type checks a scalar expression.
func (r *Resolver) resolveExpr(e ast.Expr, ctx *exprContext) (plan.Scalar, ir.ScalarType, error) {
	if ctx.agg != nil {
		sc, typ, ok, err := ctx.agg.match(r, e)
		if err != nil || ok {
			return sc, typ, err
		}
		if ref, isRef := e.(*ast.ColumnRef); isRef {
			return nil, "", diag.Errorf(diag.InvalidQuery,
				"column %q must appear in the GROUP BY clause or be used in an aggregate function", refName(ref))
		}
	}

	switch n := e.(type) {
	case *ast.ColumnRef:
		idx, col, err := ctx.cols.resolve(n)
		if err != nil {
			return nil, "", err
		}
		return plan.Col(idx), col.Type, nil

	case *ast.Literal:
		v := n.Value
		if v == nil {
			v = ir.Null{}
		}
		return plan.Lit(v), ir.TypeOf(v), nil

	case *ast.Binary:
		l, lt, err := r.resolveExpr(n.Left, ctx)
		if err != nil {
			return nil, "", err
		}
		rs, rt, err := r.resolveExpr(n.Right, ctx)
		if err != nil {
			return nil, "", err
		}
		return binary(n.Op, l, lt, rs, rt)

	case *ast.Unary:
		sc, t, err := r.resolveExpr(n.Expr, ctx)
		if err != nil {
			return nil, "", err
		}
		switch n.Op {
		case ast.OpNot:
			if err := expectBool("NOT", t); err != nil {
				return nil, "", err
			}
			return &plan.CallUnary{Func: plan.FuncNot, Expr: sc}, ir.TypeBool, nil
		case ast.OpNeg:
			if !t.AssignableTo(ir.TypeInt) {
				return nil, "", diag.Errorf(diag.InvalidQuery, "operator does not exist: -%s", t)
			}
			if lit, ok := sc.(*plan.Literal); ok {
				if i, ok := lit.Value.(ir.Int); ok {
					return plan.Lit(-i), ir.TypeInt, nil
				}
			}
			return &plan.CallUnary{Func: plan.FuncNeg, Expr: sc}, ir.TypeInt, nil
		}
		return nil, "", fmt.Errorf("unsupported unary operator %q", n.Op)

	case *ast.IsNull:
		sc, _, err := r.resolveExpr(n.Expr, ctx)
		if err != nil {
			return nil, "", err
		}
		fn := plan.FuncIsNull
		if n.Not {
			fn = plan.FuncIsNotNull
		}
		return &plan.CallUnary{Func: fn, Expr: sc}, ir.TypeBool, nil

	case *ast.If:
		cond, ct, err := r.resolveExpr(n.Cond, ctx)
		if err != nil {
			return nil, "", err
		}
		if err := expectBool("CASE", ct); err != nil {
			return nil, "", err
		}
		th, tt, err := r.resolveExpr(n.Then, ctx)
		if err != nil {
			return nil, "", err
		}
		el, et, err := r.resolveExpr(n.Else, ctx)
		if err != nil {
			return nil, "", err
		}
		t, ok := ir.Unify(tt, et)
		if !ok {
			return nil, "", diag.Errorf(diag.InvalidQuery, "CASE types %s and %s cannot be matched", tt, et)
		}
		return &plan.If{Cond: cond, Then: th, Else: el}, t, nil

	case *ast.Call:
		if n.Over != nil {
			if ctx.win == nil {
				return nil, "", diag.Errorf(diag.InvalidQuery, "window functions are not allowed in %s", ctx.clause)
			}
			return ctx.win.add(r, n, ctx.cols)
		}
		if isAggregate(n) {
			return nil, "", diag.Errorf(diag.InvalidQuery, "aggregate functions are not allowed in %s", ctx.clause)
		}
		return r.call(n, ctx)
	}
	return nil, "", fmt.Errorf("unsupported expression %T", e)
}

func (r *Resolver) call(n *ast.Call, ctx *exprContext) (plan.Scalar, ir.ScalarType, error) {
	args := make([]plan.Scalar, len(n.Args))
	types := make([]ir.ScalarType, len(n.Args))
	for i, a := range n.Args {
		sc, t, err := r.resolveExpr(a, ctx)
		if err != nil {
			return nil, "", err
		}
		args[i], types[i] = sc, t
	}
	switch strings.ToLower(n.Name) {
	case "coalesce":
		if len(args) == 0 {
			return nil, "", diag.Errorf(diag.InvalidQuery, "coalesce requires at least one argument")
		}
		out := ir.TypeNull
		for _, t := range types {
			u, ok := ir.Unify(out, t)
			if !ok {
				return nil, "", diag.Errorf(diag.InvalidQuery, "COALESCE types %s and %s cannot be matched", out, t)
			}
			out = u
		}
		return &plan.CallVariadic{Func: plan.FuncCoalesce, Exprs: args}, out, nil
	case "abs":
		if len(args) != 1 || !types[0].AssignableTo(ir.TypeInt) {
			return nil, "", diag.Errorf(diag.InvalidQuery, "function abs(%s) does not exist", strings.Join(typeNames(types), ", "))
		}
		return &plan.CallUnary{Func: plan.FuncAbs, Expr: args[0]}, ir.TypeInt, nil
	case "row_number":
		return nil, "", diag.Errorf(diag.InvalidQuery, "window function row_number requires an OVER clause")
	}
	return nil, "", diag.Errorf(diag.InvalidQuery, "function %s(%s) does not exist", n.Name, strings.Join(typeNames(types), ", "))
}

var comparisons = map[ast.BinaryOp]plan.BinaryFunc{
	ast.OpEq:    plan.FuncEq,
	ast.OpNotEq: plan.FuncNotEq,
	ast.OpLt:    plan.FuncLt,
	ast.OpLte:   plan.FuncLte,
	ast.OpGt:    plan.FuncGt,
	ast.OpGte:   plan.FuncGte,
}

var arithmetic = map[ast.BinaryOp]plan.BinaryFunc{
	ast.OpAdd: plan.FuncAdd,
	ast.OpSub: plan.FuncSub,
	ast.OpMul: plan.FuncMul,
	ast.OpDiv: plan.FuncDiv,
	ast.OpMod: plan.FuncMod,
}

// binary type checks an infix operator application.
func binary(op ast.BinaryOp, l plan.Scalar, lt ir.ScalarType, r plan.Scalar, rt ir.ScalarType) (plan.Scalar, ir.ScalarType, error) {
	noOperator := func() error {
		return diag.Errorf(diag.InvalidQuery, "operator does not exist: %s %s %s", lt, op, rt)
	}
	if fn, ok := comparisons[op]; ok {
		if _, ok := ir.Unify(lt, rt); !ok {
			return nil, "", noOperator()
		}
		return &plan.CallBinary{Func: fn, Left: l, Right: r}, ir.TypeBool, nil
	}
	if fn, ok := arithmetic[op]; ok {
		t, unified := ir.Unify(lt, rt)
		switch {
		case unified && (t == ir.TypeInt || t == ir.TypeNull):
			return &plan.CallBinary{Func: fn, Left: l, Right: r}, ir.TypeInt, nil
		case unified && t == ir.TypeText && op == ast.OpAdd:
			return &plan.CallBinary{Func: plan.FuncConcat, Left: l, Right: r}, ir.TypeText, nil
		}
		return nil, "", noOperator()
	}
	switch op {
	case ast.OpAnd, ast.OpOr:
		if !lt.AssignableTo(ir.TypeBool) || !rt.AssignableTo(ir.TypeBool) {
			return nil, "", noOperator()
		}
		fn := plan.FuncAnd
		if op == ast.OpOr {
			fn = plan.FuncOr
		}
		return &plan.CallBinary{Func: fn, Left: l, Right: r}, ir.TypeBool, nil
	}
	return nil, "", fmt.Errorf("unsupported binary operator %q", op)
}

func expectBool(clause string, t ir.ScalarType) error {
	if t.AssignableTo(ir.TypeBool) {
		return nil
	}
	return diag.Errorf(diag.InvalidQuery, "argument of %s must be type bool, not type %s", clause, t)
}

func refName(ref *ast.ColumnRef) string {
	if ref.Table != "" {
		return ref.Table + "." + ref.Name
	}
	return ref.Name
}

func typeNames(types []ir.ScalarType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// containsCall reports whether e contains a call matching pred.
func containsCall(e ast.Expr, pred func(*ast.Call) bool) bool {
	switch n := e.(type) {
	case *ast.Call:
		if pred(n) {
			return true
		}
		for _, a := range n.Args {
			if containsCall(a, pred) {
				return true
			}
		}
	case *ast.Binary:
		return containsCall(n.Left, pred) || containsCall(n.Right, pred)
	case *ast.Unary:
		return containsCall(n.Expr, pred)
	case *ast.IsNull:
		return containsCall(n.Expr, pred)
	case *ast.If:
		return containsCall(n.Cond, pred) || containsCall(n.Then, pred) || containsCall(n.Else, pred)
	}
	return false
}

func selectHasAggregates(s *ast.Select) bool {
	for _, item := range s.Items {
		if item.Expr != nil && containsCall(item.Expr, isAggregate) {
			return true
		}
	}
	return false
}
