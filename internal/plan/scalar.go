package plan

import (
	"fmt"

	"github.com/roach88/mutrec/internal/ir"
)

// Scalar is a scalar expression evaluated against one input row.
//
// This is a sealed interface - only types in this package implement it.
type Scalar interface {
	scalarNode()
}

// Column reads input column Index.
type Column struct {
	Index int
}

func (*Column) scalarNode() {}

// Literal is a constant. Type is TypeNull for a bare NULL.
type Literal struct {
	Value ir.Value
	Type  ir.ScalarType
}

func (*Literal) scalarNode() {}

// UnaryFunc names a unary function.
type UnaryFunc string

const (
	FuncNot       UnaryFunc = "NOT"
	FuncNeg       UnaryFunc = "-"
	FuncIsNull    UnaryFunc = "IS NULL"
	FuncIsNotNull UnaryFunc = "IS NOT NULL"
	FuncAbs       UnaryFunc = "abs"
)

// CallUnary applies a unary function.
type CallUnary struct {
	Func UnaryFunc
	Expr Scalar
}

func (*CallUnary) scalarNode() {}

// BinaryFunc names a binary function.
type BinaryFunc string

const (
	FuncAdd    BinaryFunc = "+"
	FuncSub    BinaryFunc = "-"
	FuncMul    BinaryFunc = "*"
	FuncDiv    BinaryFunc = "/"
	FuncMod    BinaryFunc = "%"
	FuncConcat BinaryFunc = "||"
	FuncEq     BinaryFunc = "="
	FuncNotEq  BinaryFunc = "!="
	FuncLt     BinaryFunc = "<"
	FuncLte    BinaryFunc = "<="
	FuncGt     BinaryFunc = ">"
	FuncGte    BinaryFunc = ">="
	FuncAnd    BinaryFunc = "AND"
	FuncOr     BinaryFunc = "OR"
)

// CallBinary applies a binary function.
type CallBinary struct {
	Func        BinaryFunc
	Left, Right Scalar
}

func (*CallBinary) scalarNode() {}

// VariadicFunc names a variadic function.
type VariadicFunc string

const (
	FuncCoalesce VariadicFunc = "coalesce"
)

// CallVariadic applies a variadic function.
type CallVariadic struct {
	Func  VariadicFunc
	Exprs []Scalar
}

func (*CallVariadic) scalarNode() {}

// If evaluates Then when Cond is true, and Else otherwise (including NULL).
type If struct {
	Cond, Then, Else Scalar
}

func (*If) scalarNode() {}

// Col is shorthand for a column reference.
func Col(i int) *Column { return &Column{Index: i} }

// Lit is shorthand for a literal; the type is derived from the value.
func Lit(v ir.Value) *Literal { return &Literal{Value: v, Type: ir.TypeOf(v)} }

// ScalarType derives the type of a scalar over an input of the given column types.
// It assumes the scalar was type checked when it was built.
func ScalarType(s Scalar, input []ir.ScalarType) ir.ScalarType {
	switch sc := s.(type) {
	case *Column:
		if sc.Index < len(input) {
			return input[sc.Index]
		}
		return ir.TypeNull
	case *Literal:
		return sc.Type
	case *CallUnary:
		switch sc.Func {
		case FuncNot, FuncIsNull, FuncIsNotNull:
			return ir.TypeBool
		default:
			return ir.TypeInt
		}
	case *CallBinary:
		switch sc.Func {
		case FuncAdd, FuncSub, FuncMul, FuncDiv, FuncMod:
			return ir.TypeInt
		case FuncConcat:
			return ir.TypeText
		default:
			return ir.TypeBool
		}
	case *CallVariadic:
		out := ir.TypeNull
		for _, e := range sc.Exprs {
			if u, ok := ir.Unify(out, ScalarType(e, input)); ok {
				out = u
			}
		}
		return out
	case *If:
		t, ok := ir.Unify(ScalarType(sc.Then, input), ScalarType(sc.Else, input))
		if !ok {
			return ScalarType(sc.Then, input)
		}
		return t
	}
	panic(fmt.Sprintf("plan: unknown scalar %T", s))
}

// ScalarEqual reports structural equality of two scalars.
func ScalarEqual(a, b Scalar) bool {
	return ScalarString(a) == ScalarString(b)
}

// ScalarColumns calls fn for every column index a scalar reads.
func ScalarColumns(s Scalar, fn func(int)) {
	switch sc := s.(type) {
	case *Column:
		fn(sc.Index)
	case *CallUnary:
		ScalarColumns(sc.Expr, fn)
	case *CallBinary:
		ScalarColumns(sc.Left, fn)
		ScalarColumns(sc.Right, fn)
	case *CallVariadic:
		for _, e := range sc.Exprs {
			ScalarColumns(e, fn)
		}
	case *If:
		ScalarColumns(sc.Cond, fn)
		ScalarColumns(sc.Then, fn)
		ScalarColumns(sc.Else, fn)
	}
}

// ScalarString renders a scalar the way explain output shows it:
// columns as #i, binary calls parenthesized.
func ScalarString(s Scalar) string {
	switch sc := s.(type) {
	case *Column:
		return fmt.Sprintf("#%d", sc.Index)
	case *Literal:
		return ir.Format(sc.Value)
	case *CallUnary:
		switch sc.Func {
		case FuncNot:
			return "NOT(" + ScalarString(sc.Expr) + ")"
		case FuncNeg:
			return "-(" + ScalarString(sc.Expr) + ")"
		case FuncIsNull, FuncIsNotNull:
			return "(" + ScalarString(sc.Expr) + ") " + string(sc.Func)
		default:
			return string(sc.Func) + "(" + ScalarString(sc.Expr) + ")"
		}
	case *CallBinary:
		return "(" + ScalarString(sc.Left) + " " + string(sc.Func) + " " + ScalarString(sc.Right) + ")"
	case *CallVariadic:
		out := string(sc.Func) + "("
		for i, e := range sc.Exprs {
			if i > 0 {
				out += ", "
			}
			out += ScalarString(e)
		}
		return out + ")"
	case *If:
		return "case when " + ScalarString(sc.Cond) + " then " + ScalarString(sc.Then) +
			" else " + ScalarString(sc.Else) + " end"
	}
	return fmt.Sprintf("?%T", s)
}
