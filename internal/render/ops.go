package render

import (
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/zset"
)

type constantNode struct {
	rows zset.Batch
}

func newConstant(c *plan.Constant) *constantNode {
	rows := make(zset.Batch, len(c.Rows))
	for i, r := range c.Rows {
		rows[i] = zset.Update{Row: r.Row, Diff: r.Diff}
	}
	return &constantNode{rows: zset.Consolidate(rows)}
}

// Constant rows are owned by the empty key, so exactly one worker emits them.
func (c *constantNode) Eval(env *Env) (zset.Batch, error) {
	if !env.owns(ir.Row{}) {
		return nil, nil
	}
	return c.rows, nil
}

type mapNode struct {
	input   Node
	scalars []plan.Scalar
}

func (m *mapNode) Eval(env *Env) (zset.Batch, error) {
	in, err := m.input.Eval(env)
	if err != nil {
		return nil, err
	}
	out := make(zset.Batch, len(in))
	for i, u := range in {
		row := make(ir.Row, len(u.Row), len(u.Row)+len(m.scalars))
		copy(row, u.Row)
		for _, s := range m.scalars {
			v, err := EvalScalar(s, row)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		out[i] = zset.Update{Row: row, Diff: u.Diff}
	}
	return out, nil
}

type filterNode struct {
	input      Node
	predicates []plan.Scalar
}

func (f *filterNode) Eval(env *Env) (zset.Batch, error) {
	in, err := f.input.Eval(env)
	if err != nil {
		return nil, err
	}
	out := make(zset.Batch, 0, len(in))
	for _, u := range in {
		keep, err := matches(f.predicates, u.Row)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, u)
		}
	}
	return out, nil
}

func matches(predicates []plan.Scalar, row ir.Row) (bool, error) {
	for _, p := range predicates {
		v, err := EvalScalar(p, row)
		if err != nil {
			return false, err
		}
		if !truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

type projectNode struct {
	input   Node
	outputs []int
}

func (p *projectNode) Eval(env *Env) (zset.Batch, error) {
	in, err := p.input.Eval(env)
	if err != nil {
		return nil, err
	}
	out := make(zset.Batch, len(in))
	for i, u := range in {
		row := make(ir.Row, len(p.outputs))
		for j, c := range p.outputs {
			row[j] = u.Row[c]
		}
		out[i] = zset.Update{Row: row, Diff: u.Diff}
	}
	return out, nil
}

type unionNode struct {
	inputs []Node
}

func (n *unionNode) Eval(env *Env) (zset.Batch, error) {
	parts := make([]zset.Batch, len(n.inputs))
	for i, in := range n.inputs {
		b, err := in.Eval(env)
		if err != nil {
			return nil, err
		}
		parts[i] = b
	}
	return zset.Concat(parts...), nil
}

type negateNode struct {
	input Node
}

func (n *negateNode) Eval(env *Env) (zset.Batch, error) {
	in, err := n.input.Eval(env)
	if err != nil {
		return nil, err
	}
	return zset.Negate(in), nil
}

type thresholdNode struct {
	input Node
}

func (n *thresholdNode) Eval(env *Env) (zset.Batch, error) {
	in, err := n.input.Eval(env)
	if err != nil {
		return nil, err
	}
	if in, err = env.exchange(in, ByRow); err != nil {
		return nil, err
	}
	return zset.Threshold(in), nil
}

type distinctNode struct {
	input Node
}

func (n *distinctNode) Eval(env *Env) (zset.Batch, error) {
	in, err := n.input.Eval(env)
	if err != nil {
		return nil, err
	}
	if in, err = env.exchange(in, ByRow); err != nil {
		return nil, err
	}
	return zset.Distinct(in), nil
}
