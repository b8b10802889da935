package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/ir"
)

var intCol = ir.NewRelationType(ir.Column{Name: "n", Type: ir.TypeInt})

// countTo builds t(n) = {1} UNION ALL {n+1 : n in t, n < limit}.
func countTo(id LocalID, limit int64) *WithMutuallyRecursive {
	get := &Get{Ref: Local(id, "t"), Typ: intCol}
	return &WithMutuallyRecursive{
		Bindings: []Binding{{
			ID:   id,
			Name: "t",
			Typ:  intCol,
			Value: &Union{Inputs: []Expr{
				&Constant{Rows: []DiffRow{{Row: ir.NewRow(1), Diff: 1}}, Typ: intCol},
				&Project{
					Input: &Map{
						Input: &Filter{Input: get, Predicates: []Scalar{
							&CallBinary{Func: FuncLt, Left: Col(0), Right: Lit(ir.Int(limit))},
						}},
						Scalars: []Scalar{&CallBinary{Func: FuncAdd, Left: Col(0), Right: Lit(ir.Int(1))}},
					},
					Outputs: []int{1},
				},
			}},
		}},
		Body: &Return{Body: &Reduce{
			Input:      get,
			Aggregates: []Aggregate{{Func: AggSum, Expr: Col(0)}},
		}},
	}
}

func TestTypDerivation(t *testing.T) {
	block := countTo(0, 100)

	got := Typ(block)
	require.Equal(t, 1, got.Arity())
	assert.Equal(t, ir.TypeInt, got.Columns[0].Type)
	assert.Equal(t, "sum", got.Columns[0].Name)

	value := block.Bindings[0].Value
	assert.Equal(t, []ir.ScalarType{ir.TypeInt}, Typ(value).Types())

	mapped := &Map{Input: &Get{Ref: Global("t"), Typ: intCol}, Scalars: []Scalar{
		&CallBinary{Func: FuncLt, Left: Col(0), Right: Lit(ir.Int(3))},
		&CallUnary{Func: FuncNot, Expr: Col(1)},
	}}
	assert.Equal(t, []ir.ScalarType{ir.TypeInt, ir.TypeBool, ir.TypeBool}, Typ(mapped).Types())
}

func TestUnionTypeUnifiesNull(t *testing.T) {
	nullCol := ir.NewRelationType(ir.Column{Name: "x", Type: ir.TypeNull})
	u := &Union{Inputs: []Expr{
		&Constant{Rows: []DiffRow{{Row: ir.NewRow(nil), Diff: 1}}, Typ: nullCol},
		&Get{Ref: Global("t"), Typ: intCol},
	}}
	assert.Equal(t, ir.TypeInt, Typ(u).Columns[0].Type)
}

func TestRenameLocalsDoesNotMutate(t *testing.T) {
	block := countTo(7, 10)
	before := Canonical(block)

	renamed := RenameLocals(block, map[LocalID]LocalID{7: 0})

	assert.Equal(t, before, Canonical(block), "original plan must be unchanged")
	assert.Equal(t, map[LocalID]bool{0: true}, LocalRefs(renamed))
	assert.Equal(t, LocalID(0), renamed.(*WithMutuallyRecursive).Bindings[0].ID)
}

func TestFingerprintIgnoresBindingNames(t *testing.T) {
	a := &Get{Ref: Local(1, "foo"), Typ: intCol}
	b := &Get{Ref: Local(1, "bar"), Typ: intCol}
	c := &Get{Ref: Local(2, "foo"), Typ: intCol}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestGlobalRefs(t *testing.T) {
	j := &Join{Inputs: []Expr{
		&Get{Ref: Global("edges"), Typ: intCol},
		&Get{Ref: Global("nodes"), Typ: intCol},
	}}
	assert.Equal(t, map[string]bool{"edges": true, "nodes": true}, GlobalRefs(j))
}

func TestValidate(t *testing.T) {
	t.Run("valid block", func(t *testing.T) {
		res := Validate(countTo(0, 100))
		assert.True(t, res.Valid, res.Issues)
	})

	t.Run("unbound local", func(t *testing.T) {
		res := Validate(&Get{Ref: Local(3, "x"), Typ: intCol})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Issues[0], "not in scope")
	})

	t.Run("column out of range", func(t *testing.T) {
		res := Validate(&Project{Input: &Get{Ref: Global("t"), Typ: intCol}, Outputs: []int{1}})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Issues[0], "column #1 of a 1-column input")
	})

	t.Run("union arity", func(t *testing.T) {
		two := ir.NewRelationType(ir.Column{Type: ir.TypeInt}, ir.Column{Type: ir.TypeInt})
		res := Validate(&Union{Inputs: []Expr{
			&Get{Ref: Global("a"), Typ: intCol},
			&Get{Ref: Global("b"), Typ: two},
		}})
		assert.False(t, res.Valid)
	})

	t.Run("duplicate binding ids", func(t *testing.T) {
		res := Validate(&Union{Inputs: []Expr{countTo(0, 1), countTo(0, 2)}})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Issues[0], "declared more than once")
	})

	t.Run("sibling blocks do not see each other", func(t *testing.T) {
		res := Validate(&Union{Inputs: []Expr{
			countTo(0, 1),
			&Get{Ref: Local(0, "t"), Typ: intCol},
		}})
		assert.False(t, res.Valid)
	})
}

func TestScalarString(t *testing.T) {
	s := &If{
		Cond: &CallUnary{Func: FuncIsNull, Expr: Col(0)},
		Then: Lit(ir.Text("none")),
		Else: &CallVariadic{Func: FuncCoalesce, Exprs: []Scalar{Col(1), Lit(ir.Null{})}},
	}
	assert.Equal(t, `case when (#0) IS NULL then "none" else coalesce(#1, null) end`, ScalarString(s))
	assert.True(t, ScalarEqual(Col(2), Col(2)))
	assert.False(t, ScalarEqual(Col(2), Lit(ir.Int(2))))
}
