package ast

import "github.com/roach88/mutrec/internal/ir"

// Expr is a scalar expression.
//
// This is a sealed interface - only types in this package implement it.
type Expr interface {
	exprNode()
}

// ColumnRef references a column, optionally qualified by a FROM item name.
type ColumnRef struct {
	Table string
	Name  string
}

func (*ColumnRef) exprNode() {}

// Literal is a constant.
type Literal struct {
	Value ir.Value
}

func (*Literal) exprNode() {}

// BinaryOp is an infix operator.
type BinaryOp string

const (
	OpAdd   BinaryOp = "+"
	OpSub   BinaryOp = "-"
	OpMul   BinaryOp = "*"
	OpDiv   BinaryOp = "/"
	OpMod   BinaryOp = "%"
	OpEq    BinaryOp = "="
	OpNotEq BinaryOp = "<>"
	OpLt    BinaryOp = "<"
	OpLte   BinaryOp = "<="
	OpGt    BinaryOp = ">"
	OpGte   BinaryOp = ">="
	OpAnd   BinaryOp = "AND"
	OpOr    BinaryOp = "OR"
)

// Binary applies an infix operator.
type Binary struct {
	Op          BinaryOp
	Left, Right Expr
}

func (*Binary) exprNode() {}

// UnaryOp is a prefix operator.
type UnaryOp string

const (
	OpNot UnaryOp = "NOT"
	OpNeg UnaryOp = "-"
)

// Unary applies a prefix operator.
type Unary struct {
	Op   UnaryOp
	Expr Expr
}

func (*Unary) exprNode() {}

// IsNull tests an expression for NULL. Not inverts the test.
type IsNull struct {
	Expr Expr
	Not  bool
}

func (*IsNull) exprNode() {}

// If is a conditional: CASE WHEN Cond THEN Then ELSE Else END.
type If struct {
	Cond, Then, Else Expr
}

func (*If) exprNode() {}

// Call is a function call. Aggregates (sum, count, min, max) and window
// functions (row_number) are calls; Over is set for window calls.
type Call struct {
	Name     string
	Args     []Expr
	Star     bool // count(*)
	Distinct bool
	Over     *WindowSpec
}

func (*Call) exprNode() {}

// WindowSpec is the OVER clause of a window function call.
type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []OrderItem
}

// Int is shorthand for an integer literal.
func Int(n int64) *Literal { return &Literal{Value: ir.Int(n)} }

// Text is shorthand for a text literal.
func Text(s string) *Literal { return &Literal{Value: ir.Text(s)} }

// Col is shorthand for an unqualified column reference.
func Col(name string) *ColumnRef { return &ColumnRef{Name: name} }
