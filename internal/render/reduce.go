package render

import (
	"slices"

	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/zset"
)

// group is the consolidated input rows sharing one key.
type group struct {
	key  ir.Row
	rows zset.Batch
}

// groupBy consolidates b and splits it by the key columns, in key order.
// Only positive multiplicities take part.
func groupBy(b zset.Batch, cols []int) []group {
	var (
		groups []group
		index  = make(map[string]int)
	)
	for _, u := range zset.Threshold(b) {
		key := make(ir.Row, len(cols))
		for i, c := range cols {
			key[i] = u.Row[c]
		}
		k := key.Key()
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{key: key})
		}
		groups[i].rows = append(groups[i].rows, u)
	}
	slices.SortFunc(groups, func(x, y group) int { return x.key.Compare(y.key) })
	return groups
}

// reduceNode groups its input by the group key and folds the aggregates of
// each group. Only positive multiplicities take part: after consolidation a
// row with a negative net multiplicity is dropped from its group, so a
// negated input that reaches an aggregate contributes nothing. A global
// aggregate over no rows still emits one row.
type reduceNode struct {
	input      Node
	groupKey   []int
	aggregates []plan.Aggregate
}

func (n *reduceNode) Eval(env *Env) (zset.Batch, error) {
	in, err := n.input.Eval(env)
	if err != nil {
		return nil, err
	}
	if in, err = env.exchange(in, ByColumns(n.groupKey)); err != nil {
		return nil, err
	}
	groups := groupBy(in, n.groupKey)
	if len(n.groupKey) == 0 && len(groups) == 0 && env.owns(ir.Row{}) {
		groups = []group{{key: ir.Row{}}}
	}
	out := make(zset.Batch, 0, len(groups))
	for _, g := range groups {
		row := slices.Clone(g.key)
		for _, agg := range n.aggregates {
			v, err := aggregate(agg, g.rows)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		out = append(out, zset.Update{Row: row, Diff: 1})
	}
	return out, nil
}

// aggregate folds one aggregate over the positive rows of a group.
func aggregate(agg plan.Aggregate, rows zset.Batch) (ir.Value, error) {
	type arg struct {
		v ir.Value
		n int64
	}
	args := make([]arg, 0, len(rows))
	seen := make(map[string]bool)
	for _, u := range rows {
		if agg.Expr == nil {
			args = append(args, arg{v: ir.Null{}, n: u.Diff})
			continue
		}
		v, err := EvalScalar(agg.Expr, u.Row)
		if err != nil {
			return nil, err
		}
		if ir.IsNull(v) {
			continue
		}
		n := u.Diff
		if agg.Distinct {
			k := ir.Row{v}.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			n = 1
		}
		args = append(args, arg{v: v, n: n})
	}

	switch agg.Func {
	case plan.AggCount:
		var total int64
		for _, a := range args {
			total += a.n
		}
		return ir.Int(total), nil
	case plan.AggSum:
		if len(args) == 0 {
			return ir.Null{}, nil
		}
		var total ir.Int
		for _, a := range args {
			i, ok := a.v.(ir.Int)
			if !ok {
				return nil, typeError("sum", a.v)
			}
			p, err := arith(plan.FuncMul, i, ir.Int(a.n))
			if err != nil {
				return nil, err
			}
			s, err := arith(plan.FuncAdd, total, p.(ir.Int))
			if err != nil {
				return nil, err
			}
			total = s.(ir.Int)
		}
		return total, nil
	case plan.AggMin, plan.AggMax:
		var best ir.Value = ir.Null{}
		for _, a := range args {
			c := 0
			if !ir.IsNull(best) {
				c = ir.Compare(a.v, best)
			}
			if ir.IsNull(best) || (agg.Func == plan.AggMin && c < 0) || (agg.Func == plan.AggMax && c > 0) {
				best = a.v
			}
		}
		return best, nil
	}
	return nil, diag.Errorf(diag.EvaluationFailure, "unknown aggregate %s", agg.Func)
}

// ordered sorts rows by the order key, then by the whole row so ties break
// the same way every time.
func ordered(rows zset.Batch, key []plan.ColumnOrder) zset.Batch {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(x, y zset.Update) int {
		for _, k := range key {
			c := ir.Compare(x.Row[k.Column], y.Row[k.Column])
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return x.Row.Compare(y.Row)
	})
	return out
}

type topKNode struct {
	input    Node
	groupKey []int
	orderKey []plan.ColumnOrder
	limit    int64
}

func (n *topKNode) Eval(env *Env) (zset.Batch, error) {
	in, err := n.input.Eval(env)
	if err != nil {
		return nil, err
	}
	if in, err = env.exchange(in, ByColumns(n.groupKey)); err != nil {
		return nil, err
	}
	var out zset.Batch
	for _, g := range groupBy(in, n.groupKey) {
		remaining := n.limit
		for _, u := range ordered(g.rows, n.orderKey) {
			if remaining == 0 {
				break
			}
			take := min(u.Diff, remaining)
			out = append(out, zset.Update{Row: u.Row, Diff: take})
			remaining -= take
		}
	}
	return out, nil
}

type windowNode struct {
	input       Node
	partitionBy []int
	orderBy     []plan.ColumnOrder
}

func (n *windowNode) Eval(env *Env) (zset.Batch, error) {
	in, err := n.input.Eval(env)
	if err != nil {
		return nil, err
	}
	if in, err = env.exchange(in, ByColumns(n.partitionBy)); err != nil {
		return nil, err
	}
	var out zset.Batch
	for _, g := range groupBy(in, n.partitionBy) {
		var number int64
		for _, u := range ordered(g.rows, n.orderBy) {
			for range u.Diff {
				number++
				row := append(slices.Clone(u.Row), ir.Int(number))
				out = append(out, zset.Update{Row: row, Diff: 1})
			}
		}
	}
	return out, nil
}
