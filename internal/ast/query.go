package ast

// Query is a relational query expression.
//
// This is a sealed interface - only types in this package implement it.
//
// Query types:
//   - Select: SELECT ... FROM ... WHERE ... GROUP BY ...
//   - SetOp: UNION / UNION ALL / EXCEPT / EXCEPT ALL
//   - Values: literal rows
//   - With: WITH or WITH MUTUALLY RECURSIVE bindings attached to a body
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Select represents a single SELECT block.
//
// Semantics:
//
//	SELECT [DISTINCT] <items> FROM <from> WHERE <where>
//	GROUP BY <group_by> HAVING <having> ORDER BY <order_by> LIMIT <limit>
//
// An empty From selects from a single empty row, so `SELECT 1` yields one row.
type Select struct {
	Distinct bool
	Items    []SelectItem
	From     []FromItem
	Where    Expr // nil = no filter
	GroupBy  []Expr
	Having   Expr // nil = no filter
	OrderBy  []OrderItem
	Limit    *int64 // nil = unlimited
}

func (*Select) queryNode() {}

// SelectItem is one projection of a Select.
// Star selects every column; StarTable restricts it to one FROM item.
type SelectItem struct {
	Expr      Expr
	Alias     string
	Star      bool
	StarTable string
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// SetOpKind selects the set operation.
type SetOpKind int

const (
	Union SetOpKind = iota
	UnionAll
	Except
	ExceptAll
)

func (k SetOpKind) String() string {
	switch k {
	case Union:
		return "UNION"
	case UnionAll:
		return "UNION ALL"
	case Except:
		return "EXCEPT"
	case ExceptAll:
		return "EXCEPT ALL"
	}
	return "?"
}

// SetOp combines queries.
//
// UNION and UNION ALL are n-ary. EXCEPT and EXCEPT ALL are left-associative:
// Inputs[0] minus Inputs[1] minus Inputs[2] ...
//
// UNION and EXCEPT remove duplicates from the result; the ALL forms keep bag
// semantics.
type SetOp struct {
	Op     SetOpKind
	Inputs []Query
}

func (*SetOp) queryNode() {}

// Values is a literal relation.
//
// Example:
//
//	VALUES (1, 'a'), (2, 'b')
type Values struct {
	Rows [][]Expr
}

func (*Values) queryNode() {}

// With attaches common table expressions to a body query.
//
// When Recursive is false, each binding sees only the bindings declared
// before it. When Recursive is true (WITH MUTUALLY RECURSIVE), every binding
// sees every binding of the clause, including itself, regardless of order.
type With struct {
	Recursive bool
	Options   RecursionOptions
	Bindings  []CTE
	Body      Query
}

func (*With) queryNode() {}

// RecursionOptions are the optional WITH MUTUALLY RECURSIVE settings.
// A zero Limit means no limit.
type RecursionOptions struct {
	Limit         int64
	ReturnAtLimit bool
}

// CTE is one declared binding.
type CTE struct {
	Name    string
	Columns []ColumnDef // nil = no column list
	Query   Query
}

// ColumnDef is a declared binding column. Type is empty when omitted.
type ColumnDef struct {
	Name string
	Type string
}

// FromItem is one entry of a FROM clause.
//
// This is a sealed interface - only TableRef and Subquery implement it.
type FromItem interface {
	fromItem()
}

// TableRef references a binding or catalog relation by name.
type TableRef struct {
	Name  string
	Alias string
}

func (*TableRef) fromItem() {}

// Subquery is a derived table. Alias may be empty.
type Subquery struct {
	Query Query
	Alias string
}

func (*Subquery) fromItem() {}
