package render

import (
	"fmt"
	"math"

	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
)

var (
	errDivisionByZero = diag.Errorf(diag.EvaluationFailure, "division by zero")
	errOutOfRange     = diag.Errorf(diag.EvaluationFailure, "integer out of range")
)

// EvalScalar evaluates a scalar against one row. NULL propagates through
// arithmetic and comparisons; AND and OR use three-valued logic.
func EvalScalar(s plan.Scalar, row ir.Row) (ir.Value, error) {
	switch n := s.(type) {
	case *plan.Column:
		if n.Index >= len(row) {
			return nil, fmt.Errorf("render: column #%d out of range for row of %d columns", n.Index, len(row))
		}
		return row[n.Index], nil
	case *plan.Literal:
		if n.Value == nil {
			return ir.Null{}, nil
		}
		return n.Value, nil
	case *plan.CallUnary:
		v, err := EvalScalar(n.Expr, row)
		if err != nil {
			return nil, err
		}
		return evalUnary(n.Func, v)
	case *plan.CallBinary:
		return evalBinary(n, row)
	case *plan.CallVariadic:
		if n.Func != plan.FuncCoalesce {
			return nil, fmt.Errorf("render: unknown function %s", n.Func)
		}
		for _, e := range n.Exprs {
			v, err := EvalScalar(e, row)
			if err != nil {
				return nil, err
			}
			if !ir.IsNull(v) {
				return v, nil
			}
		}
		return ir.Null{}, nil
	case *plan.If:
		c, err := EvalScalar(n.Cond, row)
		if err != nil {
			return nil, err
		}
		if c == ir.Bool(true) {
			return EvalScalar(n.Then, row)
		}
		return EvalScalar(n.Else, row)
	}
	return nil, fmt.Errorf("render: unknown scalar %T", s)
}

func evalUnary(fn plan.UnaryFunc, v ir.Value) (ir.Value, error) {
	switch fn {
	case plan.FuncIsNull:
		return ir.Bool(ir.IsNull(v)), nil
	case plan.FuncIsNotNull:
		return ir.Bool(!ir.IsNull(v)), nil
	}
	if ir.IsNull(v) {
		return ir.Null{}, nil
	}
	switch fn {
	case plan.FuncNot:
		b, ok := v.(ir.Bool)
		if !ok {
			return nil, typeError("NOT", v)
		}
		return !b, nil
	case plan.FuncNeg, plan.FuncAbs:
		i, ok := v.(ir.Int)
		if !ok {
			return nil, typeError(string(fn), v)
		}
		if fn == plan.FuncAbs && i >= 0 {
			return i, nil
		}
		if i == math.MinInt64 {
			return nil, errOutOfRange
		}
		return -i, nil
	}
	return nil, fmt.Errorf("render: unknown function %s", fn)
}

func evalBinary(n *plan.CallBinary, row ir.Row) (ir.Value, error) {
	l, err := EvalScalar(n.Left, row)
	if err != nil {
		return nil, err
	}
	if n.Func == plan.FuncAnd || n.Func == plan.FuncOr {
		return evalLogic(n, l, row)
	}
	r, err := EvalScalar(n.Right, row)
	if err != nil {
		return nil, err
	}
	if ir.IsNull(l) || ir.IsNull(r) {
		return ir.Null{}, nil
	}

	switch n.Func {
	case plan.FuncEq:
		return ir.Bool(ir.Compare(l, r) == 0), nil
	case plan.FuncNotEq:
		return ir.Bool(ir.Compare(l, r) != 0), nil
	case plan.FuncLt:
		return ir.Bool(ir.Compare(l, r) < 0), nil
	case plan.FuncLte:
		return ir.Bool(ir.Compare(l, r) <= 0), nil
	case plan.FuncGt:
		return ir.Bool(ir.Compare(l, r) > 0), nil
	case plan.FuncGte:
		return ir.Bool(ir.Compare(l, r) >= 0), nil
	case plan.FuncConcat:
		ls, lok := l.(ir.Text)
		rs, rok := r.(ir.Text)
		if !lok || !rok {
			return nil, typeError("||", l)
		}
		return ls + rs, nil
	}

	a, aok := l.(ir.Int)
	b, bok := r.(ir.Int)
	if !aok || !bok {
		return nil, typeError(string(n.Func), l)
	}
	return arith(n.Func, a, b)
}

func arith(fn plan.BinaryFunc, a, b ir.Int) (ir.Value, error) {
	switch fn {
	case plan.FuncAdd:
		s := a + b
		if (s > a) != (b > 0) {
			return nil, errOutOfRange
		}
		return s, nil
	case plan.FuncSub:
		d := a - b
		if (d < a) != (b > 0) {
			return nil, errOutOfRange
		}
		return d, nil
	case plan.FuncMul:
		if a == 0 || b == 0 {
			return ir.Int(0), nil
		}
		p := a * b
		if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return nil, errOutOfRange
		}
		return p, nil
	case plan.FuncDiv, plan.FuncMod:
		if b == 0 {
			return nil, errDivisionByZero
		}
		if a == math.MinInt64 && b == -1 {
			if fn == plan.FuncMod {
				return ir.Int(0), nil
			}
			return nil, errOutOfRange
		}
		if fn == plan.FuncDiv {
			return a / b, nil
		}
		return a % b, nil
	}
	return nil, fmt.Errorf("render: unknown function %s", fn)
}

// evalLogic implements AND and OR with SQL NULL semantics, short-circuiting
// when the left operand decides the result.
func evalLogic(n *plan.CallBinary, l ir.Value, row ir.Row) (ir.Value, error) {
	decisive := ir.Bool(n.Func == plan.FuncOr)
	if l == decisive {
		return decisive, nil
	}
	r, err := EvalScalar(n.Right, row)
	if err != nil {
		return nil, err
	}
	switch {
	case r == decisive:
		return decisive, nil
	case ir.IsNull(l) || ir.IsNull(r):
		return ir.Null{}, nil
	}
	return !decisive, nil
}

// truthy reports whether a predicate result keeps a row.
func truthy(v ir.Value) bool {
	return v == ir.Bool(true)
}

func typeError(op string, v ir.Value) error {
	return diag.Errorf(diag.EvaluationFailure, "operator %s cannot be applied to %s", op, ir.TypeOf(v))
}
