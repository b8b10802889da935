package explain

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
)

var intCol = ir.NewRelationType(ir.Column{Name: "n", Type: ir.TypeInt})

func get(id plan.LocalID) *plan.Get {
	return &plan.Get{Ref: plan.Local(id, ""), Typ: intCol}
}

func step(id plan.LocalID, limit int64) plan.Expr {
	return &plan.Project{
		Input: &plan.Map{
			Input: &plan.Filter{Input: get(id), Predicates: []plan.Scalar{
				&plan.CallBinary{Func: plan.FuncLt, Left: plan.Col(0), Right: plan.Lit(ir.Int(limit))},
			}},
			Scalars: []plan.Scalar{&plan.CallBinary{Func: plan.FuncAdd, Left: plan.Col(0), Right: plan.Lit(ir.Int(1))}},
		},
		Outputs: []int{1},
	}
}

func one() *plan.Constant {
	return &plan.Constant{Rows: []plan.DiffRow{{Row: ir.NewRow(1), Diff: 1}}, Typ: intCol}
}

func TestExplainCountUp(t *testing.T) {
	p := &plan.WithMutuallyRecursive{
		Bindings: []plan.Binding{{
			ID: 0, Name: "t", Typ: intCol,
			Value: &plan.Union{Inputs: []plan.Expr{one(), step(0, 100)}},
		}},
		Body: &plan.Return{Body: &plan.Reduce{
			Input:      get(0),
			Aggregates: []plan.Aggregate{{Func: plan.AggSum, Expr: plan.Col(0)}},
		}},
	}

	got, err := Explain(p)
	require.NoError(t, err)

	expected := `Explained Query:
  Return
    Reduce aggregates=[sum(#0)]
      Get l0
  With Mutually Recursive
    cte l0 =
      Union
        Constant
          - (1)
        Project (#1)
          Map ((#0 + 1))
            Filter (#0 < 100)
              Get l0
`
	assert.Equal(t, expected, got)
}

func TestExplainBindingsInIdentifierOrder(t *testing.T) {
	p := &plan.WithMutuallyRecursive{
		Bindings: []plan.Binding{
			{ID: 1, Name: "odds", Typ: intCol, Value: get(0)},
			{ID: 0, Name: "evens", Typ: intCol, Value: get(1)},
		},
		Body: &plan.Return{Body: get(1)},
	}

	got, err := Explain(p)
	require.NoError(t, err)
	assert.Equal(t, `Explained Query:
  Return
    Get l1
  With Mutually Recursive
    cte l0 =
      Get l1
    cte l1 =
      Get l0
`, got)
}

func TestExplainOperators(t *testing.T) {
	two := ir.NewRelationType(ir.Column{Type: ir.TypeInt}, ir.Column{Type: ir.TypeText})
	edges := &plan.Get{Ref: plan.Global("edges"), Typ: two}

	tests := []struct {
		name     string
		plan     plan.Expr
		expected string
	}{
		{
			"empty constant",
			&plan.Constant{Typ: intCol},
			"Constant <empty>\n",
		},
		{
			"constant with multiplicity",
			&plan.Constant{Typ: intCol, Rows: []plan.DiffRow{{Row: ir.NewRow(2), Diff: 3}, {Row: ir.NewRow(1), Diff: -1}}},
			"Constant\n  - ((1) x -1)\n  - ((2) x 3)\n",
		},
		{
			"join",
			&plan.Join{Inputs: []plan.Expr{edges, edges}, Equivalences: [][]int{{1, 2}}},
			"Join on=(#1 = #2)\n  Get edges\n  Get edges\n",
		},
		{
			"cross join",
			&plan.Join{Inputs: []plan.Expr{edges, edges}},
			"CrossJoin\n  Get edges\n  Get edges\n",
		},
		{
			"reduce with group",
			&plan.Reduce{Input: edges, GroupKey: []int{1}, Aggregates: []plan.Aggregate{{Func: plan.AggCount}}},
			"Reduce group_by=[#1] aggregates=[count(*)]\n  Get edges\n",
		},
		{
			"topk",
			&plan.TopK{Input: edges, OrderKey: []plan.ColumnOrder{{Column: 0, Desc: true}}, Limit: 3},
			"TopK order_by=[#0 desc] limit=3\n  Get edges\n",
		},
		{
			"except all",
			&plan.Threshold{Input: &plan.Union{Inputs: []plan.Expr{edges, &plan.Negate{Input: edges}}}},
			"Threshold\n  Union\n    Get edges\n    Negate\n      Get edges\n",
		},
		{
			"window",
			&plan.Window{Input: edges, PartitionBy: []int{1}, OrderBy: []plan.ColumnOrder{{Column: 0}}},
			"Window row_number partition_by=[#1] order_by=[#0 asc]\n  Get edges\n",
		},
		{
			"distinct filter",
			&plan.Distinct{Input: &plan.Filter{Input: edges, Predicates: []plan.Scalar{
				&plan.CallUnary{Func: plan.FuncIsNotNull, Expr: plan.Col(1)},
				&plan.CallBinary{Func: plan.FuncEq, Left: plan.Col(1), Right: plan.Lit(ir.Text("a"))},
			}}},
			"Distinct\n  Filter (#1) IS NOT NULL AND (#1 = \"a\")\n    Get edges\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Explain(tt.plan)
			require.NoError(t, err)
			assert.Equal(t, Header+"\n"+indent(tt.expected), got)
		})
	}
}

func TestExplainNestedBlockGolden(t *testing.T) {
	inner := &plan.WithMutuallyRecursive{
		Bindings: []plan.Binding{{
			ID: 1, Name: "inner", Typ: intCol,
			Value: &plan.Union{Inputs: []plan.Expr{get(0), step(1, 10)}},
		}},
		Body:    &plan.Return{Body: get(1)},
		Options: plan.LoopOptions{Limit: 50, ReturnAtLimit: true},
	}
	outer := &plan.WithMutuallyRecursive{
		Bindings: []plan.Binding{
			{ID: 0, Name: "outer", Typ: intCol, Value: &plan.Distinct{Input: &plan.Union{Inputs: []plan.Expr{one(), inner}}}},
		},
		Body: &plan.Return{Body: get(0)},
	}

	got, err := Explain(outer)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "nested_block", []byte(got))
}

func TestExplainNil(t *testing.T) {
	_, err := Explain(nil)
	assert.Error(t, err)
}

// indent shifts every line of s one level, matching the root depth.
func indent(s string) string {
	out := ""
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out += "  " + s[start:i+1]
			start = i + 1
		}
	}
	return out
}
