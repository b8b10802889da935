package render

import (
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/zset"
)

// joinNode is an n-ary equi-join. Inputs are joined left to right with a
// hash join on the equivalences that connect the accumulated prefix to the
// next input; every equivalence is checked in full on the result. On
// several workers both sides are exchanged by their key columns before each
// hash join; a step with no key columns gathers both sides on one worker.
type joinNode struct {
	inputs  []Node
	arities []int
	classes [][]int
}

func newJoin(inputs []Node, n *plan.Join) *joinNode {
	arities := make([]int, len(n.Inputs))
	for i, in := range n.Inputs {
		arities[i] = plan.Arity(in)
	}
	return &joinNode{inputs: inputs, arities: arities, classes: n.Equivalences}
}

func (j *joinNode) Eval(env *Env) (zset.Batch, error) {
	if len(j.inputs) == 0 {
		if !env.owns(ir.Row{}) {
			return nil, nil
		}
		return zset.Batch{{Row: ir.Row{}, Diff: 1}}, nil
	}
	acc, err := j.inputs[0].Eval(env)
	if err != nil {
		return nil, err
	}
	width := j.arities[0]
	for k := 1; k < len(j.inputs); k++ {
		if err := env.checkCanceled(); err != nil {
			return nil, err
		}
		next, err := j.inputs[k].Eval(env)
		if err != nil {
			return nil, err
		}
		left, right := j.keyColumns(width, j.arities[k])
		if acc, err = env.exchange(acc, ByColumns(left)); err != nil {
			return nil, err
		}
		if next, err = env.exchange(next, ByColumns(right)); err != nil {
			return nil, err
		}
		acc = hashJoin(acc, next, left, right)
		width += j.arities[k]
	}

	out := acc[:0:0]
	for _, u := range acc {
		if j.satisfied(u.Row) {
			out = append(out, u)
		}
	}
	return out, nil
}

// keyColumns pairs, per equivalence class, one column of the prefix with one
// column of the next input (in next-input coordinates).
func (j *joinNode) keyColumns(width, arity int) (left, right []int) {
	for _, class := range j.classes {
		l, r := -1, -1
		for _, c := range class {
			switch {
			case c < width && l < 0:
				l = c
			case c >= width && c < width+arity && r < 0:
				r = c - width
			}
		}
		if l >= 0 && r >= 0 {
			left = append(left, l)
			right = append(right, r)
		}
	}
	return left, right
}

func (j *joinNode) satisfied(row ir.Row) bool {
	for _, class := range j.classes {
		first := row[class[0]]
		if ir.IsNull(first) {
			return false
		}
		for _, c := range class[1:] {
			if ir.Compare(first, row[c]) != 0 {
				return false
			}
		}
	}
	return true
}

func hashJoin(left, right zset.Batch, lcols, rcols []int) zset.Batch {
	index := make(map[string][]zset.Update, len(right))
	for _, u := range right {
		key, ok := joinKey(u.Row, rcols)
		if ok {
			index[key] = append(index[key], u)
		}
	}
	var out zset.Batch
	for _, l := range left {
		key, ok := joinKey(l.Row, lcols)
		if !ok {
			continue
		}
		for _, r := range index[key] {
			out = append(out, zset.Update{Row: l.Row.Concat(r.Row), Diff: l.Diff * r.Diff})
		}
	}
	return out
}

// joinKey encodes the key columns of a row. Rows with a NULL key never join.
func joinKey(row ir.Row, cols []int) (string, bool) {
	key := make(ir.Row, len(cols))
	for i, c := range cols {
		if ir.IsNull(row[c]) {
			return "", false
		}
		key[i] = row[c]
	}
	return key.Key(), true
}
