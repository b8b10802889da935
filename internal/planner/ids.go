package planner

import (
	"cmp"
	"slices"

	"github.com/roach88/mutrec/internal/plan"
)

// assigner numbers bindings densely in the order they are first referenced:
// a block's result expression first, then the values of the bindings it
// reached, in the order they were reached.
type assigner struct {
	next    plan.LocalID
	mapping map[plan.LocalID]plan.LocalID
	owner   map[plan.LocalID]*pending
}

type pending struct {
	values map[plan.LocalID]plan.Expr
	queue  []plan.LocalID
	head   int
}

func (a *assigner) drain(p *pending) {
	for p.head < len(p.queue) {
		id := p.queue[p.head]
		p.head++
		a.visit(p.values[id])
	}
}

func assignIDs(e plan.Expr) plan.Expr {
	a := &assigner{
		mapping: make(map[plan.LocalID]plan.LocalID),
		owner:   make(map[plan.LocalID]*pending),
	}
	a.visit(e)
	out := plan.RenameLocals(e, a.mapping)
	out, _ = plan.Rewrite(out, func(n plan.Expr) (plan.Expr, error) {
		if block, ok := n.(*plan.WithMutuallyRecursive); ok {
			slices.SortFunc(block.Bindings, func(x, y plan.Binding) int { return cmp.Compare(x.ID, y.ID) })
		}
		return n, nil
	})
	return out
}

func (a *assigner) touch(id plan.LocalID) {
	if _, done := a.mapping[id]; done {
		return
	}
	p, ok := a.owner[id]
	if !ok {
		return
	}
	a.mapping[id] = a.next
	a.next++
	p.queue = append(p.queue, id)
}

func (a *assigner) visit(e plan.Expr) {
	switch n := e.(type) {
	case *plan.Get:
		if n.Ref.Kind == plan.RefLocal {
			a.touch(n.Ref.ID)
		}
		return
	case *plan.WithMutuallyRecursive:
		p := &pending{values: make(map[plan.LocalID]plan.Expr, len(n.Bindings))}
		for _, b := range n.Bindings {
			p.values[b.ID] = b.Value
			a.owner[b.ID] = p
		}
		a.visit(n.Body)
		a.drain(p)
		// Bindings nothing reads keep a number too.
		for _, b := range n.Bindings {
			if _, done := a.mapping[b.ID]; !done {
				a.touch(b.ID)
				a.drain(p)
			}
		}
		return
	}
	for _, kid := range plan.Children(e) {
		a.visit(kid)
	}
}
