package plan

import (
	"fmt"

	"github.com/roach88/mutrec/internal/ir"
)

// Expr is a logical plan node.
//
// This is a sealed interface - only types in this package implement it.
//
// Node types:
//   - Get: reference to a binding (by LocalID) or a catalog relation (by name)
//   - Constant: literal rows with multiplicities
//   - Map, Filter, Project: row-at-a-time operators
//   - Join: n-ary join with column equivalence classes
//   - Reduce, TopK, Window: grouping operators
//   - Union, Negate, Threshold, Distinct: multiset algebra
//   - Return, WithMutuallyRecursive: recursive blocks
type Expr interface {
	planNode() // Marker method - seals interface to this package
}

// LocalID identifies a binding of a recursive block. Identifiers are
// opaque handles, rendered as l0, l1, ...
type LocalID uint64

func (id LocalID) String() string {
	return fmt.Sprintf("l%d", id)
}

// RefKind distinguishes binding references from catalog references.
type RefKind int

const (
	// RefLocal references a binding of an enclosing recursive block.
	RefLocal RefKind = iota
	// RefGlobal references a catalog relation.
	RefGlobal
)

// Ref is the target of a Get.
type Ref struct {
	Kind RefKind
	ID   LocalID // RefLocal only
	Name string  // catalog name for RefGlobal; declared binding name for RefLocal
}

// Local returns a reference to a binding.
func Local(id LocalID, name string) Ref {
	return Ref{Kind: RefLocal, ID: id, Name: name}
}

// Global returns a reference to a catalog relation.
func Global(name string) Ref {
	return Ref{Kind: RefGlobal, Name: name}
}

func (r Ref) String() string {
	if r.Kind == RefLocal {
		return r.ID.String()
	}
	return r.Name
}

// Get reads a binding or catalog relation.
type Get struct {
	Ref Ref
	Typ ir.RelationType
}

func (*Get) planNode() {}

// DiffRow is a literal row with its multiplicity.
type DiffRow struct {
	Row  ir.Row
	Diff int64
}

// Constant is a literal multiset.
type Constant struct {
	Rows []DiffRow
	Typ  ir.RelationType
}

func (*Constant) planNode() {}

// Map appends one column per scalar. Each scalar may reference columns
// produced by earlier scalars of the same Map.
type Map struct {
	Input   Expr
	Scalars []Scalar
}

func (*Map) planNode() {}

// Filter keeps rows for which every predicate evaluates to true.
// NULL and false both drop the row.
type Filter struct {
	Input      Expr
	Predicates []Scalar
}

func (*Filter) planNode() {}

// Project reorders, duplicates or drops columns.
type Project struct {
	Input   Expr
	Outputs []int
}

func (*Project) planNode() {}

// Join is the n-ary inner join of its inputs. Output rows are the
// concatenation of input rows. Each equivalence class lists columns (in the
// concatenated column space) that must hold equal, non-NULL values.
// A Join without equivalences is a cross product.
type Join struct {
	Inputs       []Expr
	Equivalences [][]int
}

func (*Join) planNode() {}

// AggFunc names an aggregate function.
type AggFunc string

const (
	AggSum   AggFunc = "sum"
	AggCount AggFunc = "count"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// Aggregate is one aggregate of a Reduce. A nil Expr means count(*).
type Aggregate struct {
	Func     AggFunc
	Expr     Scalar
	Distinct bool
}

// Reduce groups its input by GroupKey columns and computes aggregates.
// Output columns are the group key columns followed by one column per aggregate.
// With an empty GroupKey, Reduce produces exactly one row, even for empty input.
type Reduce struct {
	Input      Expr
	GroupKey   []int
	Aggregates []Aggregate
}

func (*Reduce) planNode() {}

// ColumnOrder is one sort key.
type ColumnOrder struct {
	Column int
	Desc   bool
}

// TopK keeps, per group, the first Limit rows in OrderKey order.
// Ties are broken by the full row contents.
type TopK struct {
	Input    Expr
	GroupKey []int
	OrderKey []ColumnOrder
	Limit    int64
}

func (*TopK) planNode() {}

// Window appends a row_number() column computed per PartitionBy group in
// OrderBy order. It cannot appear inside a recursive binding.
type Window struct {
	Input       Expr
	PartitionBy []int
	OrderBy     []ColumnOrder
}

func (*Window) planNode() {}

// Union is the multiset sum of its inputs (UNION ALL).
type Union struct {
	Inputs []Expr
}

func (*Union) planNode() {}

// Negate flips the sign of every multiplicity.
type Negate struct {
	Input Expr
}

func (*Negate) planNode() {}

// Threshold clamps negative multiplicities to zero.
type Threshold struct {
	Input Expr
}

func (*Threshold) planNode() {}

// Distinct sets every positive multiplicity to one and drops the rest.
type Distinct struct {
	Input Expr
}

func (*Distinct) planNode() {}

// Return marks the result expression of a recursive block. It is evaluated
// once, over the converged states of the block's bindings.
type Return struct {
	Body Expr
}

func (*Return) planNode() {}

// Binding is one iterated binding of a recursive block.
type Binding struct {
	ID    LocalID
	Name  string
	Typ   ir.RelationType
	Value Expr
}

// LoopOptions are the optional recursion limit settings of a block.
// A zero Limit means no limit.
type LoopOptions struct {
	Limit         int64
	ReturnAtLimit bool
}

// WithMutuallyRecursive is a recursive block: its bindings are iterated
// together from empty until every binding is unchanged by a round, then
// Body (a Return) is evaluated over the converged states.
type WithMutuallyRecursive struct {
	Bindings []Binding
	Body     Expr
	Options  LoopOptions
}

func (*WithMutuallyRecursive) planNode() {}
