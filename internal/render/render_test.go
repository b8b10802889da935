package render

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/zset"
)

var (
	intCol  = ir.NewRelationType(ir.Column{Name: "n", Type: ir.TypeInt})
	pairCol = ir.NewRelationType(ir.Column{Name: "a", Type: ir.TypeInt}, ir.Column{Name: "b", Type: ir.TypeInt})
)

// naiveRunner iterates a loop on one goroutine until no binding changes.
type naiveRunner struct{ rounds int }

func (r *naiveRunner) RunLoop(env *Env, l *Loop) (zset.Batch, error) {
	states, err := l.Seeds(env)
	if err != nil {
		return nil, err
	}
	for {
		r.rounds++
		frame := env.WithFrame(NewFrame(env.Frame, states))
		next := make(map[plan.LocalID]zset.Batch, len(states))
		changed := false
		for _, b := range l.Bindings {
			out, err := b.Value.Eval(frame)
			if err != nil {
				return nil, err
			}
			next[b.ID] = zset.Consolidate(out)
			if !zset.Equal(next[b.ID], states[b.ID]) {
				changed = true
			}
		}
		states = next
		if !changed {
			return l.Body.Eval(env.WithFrame(NewFrame(env.Frame, states)))
		}
	}
}

func eval(t *testing.T, e plan.Expr, inputs InputMap) zset.Batch {
	t.Helper()
	prog, err := Render(e)
	require.NoError(t, err)
	out, err := prog.Node.Eval(&Env{Ctx: context.Background(), Inputs: inputs, Loops: &naiveRunner{}})
	require.NoError(t, err)
	return zset.Consolidate(out)
}

func constant(typ ir.RelationType, rows ...ir.Row) *plan.Constant {
	c := &plan.Constant{Typ: typ}
	for _, r := range rows {
		c.Rows = append(c.Rows, plan.DiffRow{Row: r, Diff: 1})
	}
	return c
}

func bin(fn plan.BinaryFunc, l, r plan.Scalar) *plan.CallBinary {
	return &plan.CallBinary{Func: fn, Left: l, Right: r}
}

func TestEvalScalar(t *testing.T) {
	null := plan.Lit(ir.Null{})
	tru, fls := plan.Lit(ir.Bool(true)), plan.Lit(ir.Bool(false))
	tests := []struct {
		name string
		expr plan.Scalar
		want ir.Value
		code diag.Code
	}{
		{"add", bin(plan.FuncAdd, plan.Lit(ir.Int(2)), plan.Lit(ir.Int(3))), ir.Int(5), ""},
		{"null propagates", bin(plan.FuncAdd, plan.Lit(ir.Int(2)), null), ir.Null{}, ""},
		{"null comparison", bin(plan.FuncEq, null, null), ir.Null{}, ""},
		{"false and null", bin(plan.FuncAnd, fls, null), ir.Bool(false), ""},
		{"true and null", bin(plan.FuncAnd, tru, null), ir.Null{}, ""},
		{"null or true", bin(plan.FuncOr, null, tru), ir.Bool(true), ""},
		{"null or false", bin(plan.FuncOr, null, fls), ir.Null{}, ""},
		{"concat", bin(plan.FuncConcat, plan.Lit(ir.Text("a")), plan.Lit(ir.Text("b"))), ir.Text("ab"), ""},
		{"is null", &plan.CallUnary{Func: plan.FuncIsNull, Expr: null}, ir.Bool(true), ""},
		{"coalesce", &plan.CallVariadic{Func: plan.FuncCoalesce, Exprs: []plan.Scalar{null, plan.Lit(ir.Int(7))}}, ir.Int(7), ""},
		{"if null cond", &plan.If{Cond: null, Then: plan.Lit(ir.Int(1)), Else: plan.Lit(ir.Int(2))}, ir.Int(2), ""},
		{"abs", &plan.CallUnary{Func: plan.FuncAbs, Expr: plan.Lit(ir.Int(-4))}, ir.Int(4), ""},
		{"mod negative", bin(plan.FuncMod, plan.Lit(ir.Int(-7)), plan.Lit(ir.Int(2))), ir.Int(-1), ""},
		{"division by zero", bin(plan.FuncDiv, plan.Lit(ir.Int(1)), plan.Lit(ir.Int(0))), nil, diag.EvaluationFailure},
		{"overflow", bin(plan.FuncAdd, plan.Lit(ir.Int(math.MaxInt64)), plan.Lit(ir.Int(1))), nil, diag.EvaluationFailure},
		{"mul overflow", bin(plan.FuncMul, plan.Lit(ir.Int(math.MaxInt64)), plan.Lit(ir.Int(2))), nil, diag.EvaluationFailure},
		{"neg min", &plan.CallUnary{Func: plan.FuncNeg, Expr: plan.Lit(ir.Int(math.MinInt64))}, nil, diag.EvaluationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalScalar(tt.expr, nil)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, diag.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJoinSkipsNullKeys(t *testing.T) {
	left := constant(pairCol, ir.Row{ir.Int(1), ir.Int(10)}, ir.Row{ir.Null{}, ir.Int(11)}, ir.Row{ir.Int(2), ir.Int(12)})
	right := constant(pairCol, ir.Row{ir.Int(1), ir.Int(20)}, ir.Row{ir.Int(1), ir.Int(21)}, ir.Row{ir.Null{}, ir.Int(22)})
	got := eval(t, &plan.Join{Inputs: []plan.Expr{left, right}, Equivalences: [][]int{{0, 2}}}, nil)

	want := zset.Consolidate(zset.FromRows(ir.NewRow(1, 10, 1, 20), ir.NewRow(1, 10, 1, 21)))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("join mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinMultipliesMultiplicities(t *testing.T) {
	left := &plan.Constant{Typ: intCol, Rows: []plan.DiffRow{{Row: ir.NewRow(1), Diff: 2}}}
	right := &plan.Constant{Typ: intCol, Rows: []plan.DiffRow{{Row: ir.NewRow(1), Diff: 3}, {Row: ir.NewRow(2), Diff: 1}}}
	got := eval(t, &plan.Join{Inputs: []plan.Expr{left, right}}, nil)
	assert.Equal(t, int64(8), zset.Count(got))
}

func TestReduceGlobalAggregateOverEmptyInput(t *testing.T) {
	e := &plan.Reduce{
		Input: constant(intCol),
		Aggregates: []plan.Aggregate{
			{Func: plan.AggCount},
			{Func: plan.AggSum, Expr: plan.Col(0)},
			{Func: plan.AggMax, Expr: plan.Col(0)},
		},
	}
	got := eval(t, e, nil)
	assert.Equal(t, zset.Batch{{Row: ir.Row{ir.Int(0), ir.Null{}, ir.Null{}}, Diff: 1}}, got)
}

func TestReduceGroups(t *testing.T) {
	input := &plan.Constant{Typ: pairCol, Rows: []plan.DiffRow{
		{Row: ir.NewRow(1, 5), Diff: 2},
		{Row: ir.NewRow(1, 7), Diff: 1},
		{Row: ir.NewRow(2, 3), Diff: 1},
	}}
	e := &plan.Reduce{Input: input, GroupKey: []int{0}, Aggregates: []plan.Aggregate{
		{Func: plan.AggSum, Expr: plan.Col(1)},
		{Func: plan.AggCount, Expr: plan.Col(1), Distinct: true},
		{Func: plan.AggMin, Expr: plan.Col(1)},
	}}
	got := eval(t, e, nil)
	want := zset.Consolidate(zset.FromRows(ir.NewRow(1, 17, 2, 5), ir.NewRow(2, 3, 1, 3)))
	assert.Equal(t, want, got)
}

func TestReduceDropsNegativeMultiplicities(t *testing.T) {
	input := &plan.Constant{Typ: pairCol, Rows: []plan.DiffRow{
		{Row: ir.NewRow(1, 5), Diff: 2},
		{Row: ir.NewRow(1, 7), Diff: -1},
		{Row: ir.NewRow(2, 3), Diff: -1},
	}}
	e := &plan.Reduce{Input: input, GroupKey: []int{0}, Aggregates: []plan.Aggregate{
		{Func: plan.AggSum, Expr: plan.Col(1)},
	}}
	got := eval(t, e, nil)
	assert.Equal(t, zset.FromRows(ir.NewRow(1, 10)), got, "group 2 holds only a retraction")
}

func TestTopKAndWindow(t *testing.T) {
	input := &plan.Constant{Typ: pairCol, Rows: []plan.DiffRow{
		{Row: ir.NewRow(1, 5), Diff: 2},
		{Row: ir.NewRow(1, 7), Diff: 1},
		{Row: ir.NewRow(2, 3), Diff: 1},
	}}
	top := eval(t, &plan.TopK{Input: input, GroupKey: []int{0}, OrderKey: []plan.ColumnOrder{{Column: 1, Desc: true}}, Limit: 2}, nil)
	assert.Equal(t, zset.Consolidate(zset.Batch{
		{Row: ir.NewRow(1, 7), Diff: 1},
		{Row: ir.NewRow(1, 5), Diff: 1},
		{Row: ir.NewRow(2, 3), Diff: 1},
	}), top)

	win := eval(t, &plan.Window{Input: input, PartitionBy: []int{0}, OrderBy: []plan.ColumnOrder{{Column: 1}}}, nil)
	assert.Equal(t, zset.Consolidate(zset.FromRows(
		ir.NewRow(1, 5, 1), ir.NewRow(1, 5, 2), ir.NewRow(1, 7, 3), ir.NewRow(2, 3, 1),
	)), win)
}

// countTo is t(n) = {1} UNION ALL {n+1 : n in t, n < limit}, returning sum(n).
func countTo(limit int64) *plan.WithMutuallyRecursive {
	get := &plan.Get{Ref: plan.Local(0, "t"), Typ: intCol}
	return &plan.WithMutuallyRecursive{
		Bindings: []plan.Binding{{ID: 0, Name: "t", Typ: intCol, Value: &plan.Union{Inputs: []plan.Expr{
			constant(intCol, ir.NewRow(1)),
			&plan.Project{
				Input: &plan.Map{
					Input:   &plan.Filter{Input: get, Predicates: []plan.Scalar{bin(plan.FuncLt, plan.Col(0), plan.Lit(ir.Int(limit)))}},
					Scalars: []plan.Scalar{bin(plan.FuncAdd, plan.Col(0), plan.Lit(ir.Int(1)))},
				},
				Outputs: []int{1},
			},
		}}}},
		Body: &plan.Return{Body: &plan.Reduce{Input: get, Aggregates: []plan.Aggregate{{Func: plan.AggSum, Expr: plan.Col(0)}}}},
	}
}

func TestRenderLoopConverges(t *testing.T) {
	got := eval(t, countTo(100), nil)
	assert.Equal(t, zset.FromRows(ir.NewRow(5050)), got)
}

func TestRenderListsLoops(t *testing.T) {
	outer := countTo(3)
	inner := countTo(2)
	inner.Bindings[0].ID = 1
	inner = plan.RenameLocals(inner, map[plan.LocalID]plan.LocalID{0: 1}).(*plan.WithMutuallyRecursive)
	outer.Bindings[0].Value = &plan.Union{Inputs: []plan.Expr{outer.Bindings[0].Value, &plan.Project{Input: inner, Outputs: []int{0}}}}

	prog, err := Render(&plan.Join{Inputs: []plan.Expr{outer, &plan.Get{Ref: plan.Global("edges"), Typ: pairCol}}})
	require.NoError(t, err)
	require.Len(t, prog.Loops, 2)
	assert.Equal(t, 0, prog.Loops[0].Depth)
	assert.Equal(t, 1, prog.Loops[1].Depth)
	assert.Equal(t, []string{"edges"}, prog.Inputs)
	assert.Empty(t, prog.Loops[0].Inputs)
}

func TestLoopWithoutRunner(t *testing.T) {
	prog, err := Render(countTo(3))
	require.NoError(t, err)
	_, err = prog.Node.Eval(&Env{Ctx: context.Background()})
	assert.ErrorContains(t, err, "no loop runner")
}

func TestBaseTerms(t *testing.T) {
	ids := map[plan.LocalID]bool{0: true}
	get := &plan.Get{Ref: plan.Local(0, "t"), Typ: intCol}
	base := constant(intCol, ir.NewRow(1))

	assert.Same(t, base, baseTerms(&plan.Union{Inputs: []plan.Expr{base, &plan.Map{Input: get}}}, ids))
	assert.Nil(t, baseTerms(&plan.Negate{Input: get}, ids))

	distinct := baseTerms(&plan.Distinct{Input: &plan.Union{Inputs: []plan.Expr{base, get}}}, ids)
	assert.Equal(t, &plan.Distinct{Input: base}, distinct)

	global := &plan.Reduce{Input: get, Aggregates: []plan.Aggregate{{Func: plan.AggCount}}}
	assert.Same(t, global, baseTerms(global, ids), "a global aggregate is never empty")

	join := &plan.Join{Inputs: []plan.Expr{get, &plan.Get{Ref: plan.Global("edges"), Typ: pairCol}}}
	assert.Nil(t, baseTerms(join, ids))
}

func TestSeedsMatchFirstRound(t *testing.T) {
	prog, err := Render(countTo(10))
	require.NoError(t, err)
	loop := prog.Loops[0]

	env := &Env{Ctx: context.Background()}
	seeds, err := loop.Seeds(env)
	require.NoError(t, err)

	first, err := loop.Bindings[0].Value.Eval(env.WithFrame(NewFrame(nil, loop.EmptyStates())))
	require.NoError(t, err)
	assert.Equal(t, zset.Consolidate(first), seeds[0])
}

func TestLoopMonotone(t *testing.T) {
	prog, err := Render(countTo(10))
	require.NoError(t, err)
	assert.True(t, prog.Loops[0].Monotone)

	negated := countTo(10)
	negated.Bindings[0].Value = &plan.Negate{Input: negated.Bindings[0].Value}
	prog, err = Render(negated)
	require.NoError(t, err)
	assert.False(t, prog.Loops[0].Monotone)

	aggregated := countTo(10)
	aggregated.Bindings[0].Value = &plan.Reduce{Input: aggregated.Bindings[0].Value, GroupKey: []int{0}}
	prog, err = Render(aggregated)
	require.NoError(t, err)
	assert.False(t, prog.Loops[0].Monotone)
}

func TestFramePartition(t *testing.T) {
	var rows []ir.Row
	for i := range int64(20) {
		rows = append(rows, ir.NewRow(i))
	}
	all := zset.Consolidate(zset.FromRows(rows...))
	outer := NewFrame(nil, map[plan.LocalID]zset.Batch{0: all})
	inner := NewFrame(outer, map[plan.LocalID]zset.Batch{1: all})

	const n = 3
	parts0 := make([]zset.Batch, n)
	parts1 := make([]zset.Batch, n)
	for w := range n {
		p := inner.Partition(w, n)
		parts1[w], _ = p.Lookup(1)
		parts0[w], _ = p.Lookup(0)
		for _, u := range parts0[w] {
			assert.Equal(t, w, zset.Owner(u.Row, n))
		}
	}
	assert.True(t, zset.Equal(all, zset.Merge(parts0...)))
	assert.True(t, zset.Equal(all, zset.Merge(parts1...)))

	got, ok := inner.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, all, got, "partitioning leaves the original frame alone")
}

func TestByColumns(t *testing.T) {
	row := ir.NewRow(1, 2, 3)
	assert.Equal(t, ir.NewRow(3, 1), ByColumns([]int{2, 0})(row))
	assert.Equal(t, ir.Row{}, ByColumns(nil)(row))
	assert.Equal(t, row, ByRow(row))
}
