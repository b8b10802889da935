// Package render compiles logical plans into executable operator trees.
//
// Every plan node becomes a Node that evaluates to a multiset (zset.Batch)
// against an Env. A WithMutuallyRecursive node becomes a Loop: a feedback
// region with one handle per binding. Handles are addressed only by binding
// identifier through Frame, an indirection table, so the operator tree
// never holds references back into the loop that owns it.
//
// Iterating a Loop is not this package's job. Loop.Eval hands the loop to
// the Env's LoopRunner, which the engine provides.
package render

import (
	"fmt"

	"github.com/roach88/mutrec/internal/plan"
)

// Program is a rendered plan.
type Program struct {
	Root plan.Expr
	Node Node
	// Loops lists every loop in pre-order; outer loops precede the loops
	// nested in them.
	Loops []*Loop
	// Inputs are the catalog relations the program reads.
	Inputs []string
}

// Render compiles a planned expression.
func Render(e plan.Expr) (*Program, error) {
	r := &renderer{}
	node, err := r.render(e, nil)
	if err != nil {
		return nil, err
	}
	return &Program{Root: e, Node: node, Loops: r.loops, Inputs: sortedNames(plan.GlobalRefs(e))}, nil
}

type renderer struct {
	loops    []*Loop
	detached bool
}

func (r *renderer) render(e plan.Expr, parent *Loop) (Node, error) {
	switch n := e.(type) {
	case *plan.Get:
		if n.Ref.Kind == plan.RefLocal {
			return &getLocal{id: n.Ref.ID, name: n.Ref.Name}, nil
		}
		return &getGlobal{name: n.Ref.Name}, nil
	case *plan.Constant:
		return newConstant(n), nil
	case *plan.WithMutuallyRecursive:
		return r.renderLoop(n, parent)
	}

	kids := plan.Children(e)
	inputs := make([]Node, len(kids))
	for i, k := range kids {
		in, err := r.render(k, parent)
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}

	switch n := e.(type) {
	case *plan.Map:
		return &mapNode{input: inputs[0], scalars: n.Scalars}, nil
	case *plan.Filter:
		return &filterNode{input: inputs[0], predicates: n.Predicates}, nil
	case *plan.Project:
		return &projectNode{input: inputs[0], outputs: n.Outputs}, nil
	case *plan.Join:
		return newJoin(inputs, n), nil
	case *plan.Reduce:
		return &reduceNode{input: inputs[0], groupKey: n.GroupKey, aggregates: n.Aggregates}, nil
	case *plan.TopK:
		return &topKNode{input: inputs[0], groupKey: n.GroupKey, orderKey: n.OrderKey, limit: n.Limit}, nil
	case *plan.Window:
		return &windowNode{input: inputs[0], partitionBy: n.PartitionBy, orderBy: n.OrderBy}, nil
	case *plan.Union:
		return &unionNode{inputs: inputs}, nil
	case *plan.Negate:
		return &negateNode{input: inputs[0]}, nil
	case *plan.Threshold:
		return &thresholdNode{input: inputs[0]}, nil
	case *plan.Distinct:
		return &distinctNode{input: inputs[0]}, nil
	case *plan.Return:
		return inputs[0], nil
	}
	return nil, fmt.Errorf("render: unsupported plan node %T", e)
}

func (r *renderer) renderLoop(n *plan.WithMutuallyRecursive, parent *Loop) (Node, error) {
	loop := &Loop{
		Index:    -1,
		Options:  n.Options,
		Inputs:   sortedNames(plan.GlobalRefs(n)),
		Monotone: monotone(n),
	}
	if parent != nil {
		loop.Depth = parent.Depth + 1
	}
	if !r.detached {
		loop.Index = len(r.loops)
		r.loops = append(r.loops, loop)
	}

	ids := make(map[plan.LocalID]bool, len(n.Bindings))
	for _, b := range n.Bindings {
		ids[b.ID] = true
	}
	for _, b := range n.Bindings {
		value, err := r.render(b.Value, loop)
		if err != nil {
			return nil, err
		}
		lb := LoopBinding{ID: b.ID, Name: b.Name, Typ: b.Typ, Value: value}
		if base := baseTerms(b.Value, ids); base != nil {
			seed, err := renderDetached(base, loop)
			if err != nil {
				return nil, err
			}
			lb.Seed = seed
		}
		loop.Bindings = append(loop.Bindings, lb)
	}
	body, err := r.render(n.Body, loop)
	if err != nil {
		return nil, err
	}
	loop.Body = body
	return loop, nil
}

// renderDetached renders a seed expression. Loops nested in a seed are
// not listed in the program.
func renderDetached(e plan.Expr, parent *Loop) (Node, error) {
	d := &renderer{detached: true}
	return d.render(e, parent)
}
