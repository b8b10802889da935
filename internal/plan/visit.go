package plan

import "fmt"

// Children returns the direct inputs of a node. For WithMutuallyRecursive
// the binding values come first, in binding order, followed by the body.
func Children(e Expr) []Expr {
	switch n := e.(type) {
	case *Get, *Constant:
		return nil
	case *Map:
		return []Expr{n.Input}
	case *Filter:
		return []Expr{n.Input}
	case *Project:
		return []Expr{n.Input}
	case *Join:
		return n.Inputs
	case *Reduce:
		return []Expr{n.Input}
	case *TopK:
		return []Expr{n.Input}
	case *Window:
		return []Expr{n.Input}
	case *Union:
		return n.Inputs
	case *Negate:
		return []Expr{n.Input}
	case *Threshold:
		return []Expr{n.Input}
	case *Distinct:
		return []Expr{n.Input}
	case *Return:
		return []Expr{n.Body}
	case *WithMutuallyRecursive:
		out := make([]Expr, 0, len(n.Bindings)+1)
		for _, b := range n.Bindings {
			out = append(out, b.Value)
		}
		return append(out, n.Body)
	}
	panic(fmt.Sprintf("plan: unknown node %T", e))
}

// WithChildren returns a copy of e with its inputs replaced, in Children order.
func WithChildren(e Expr, kids []Expr) Expr {
	switch n := e.(type) {
	case *Get:
		cp := *n
		return &cp
	case *Constant:
		cp := *n
		return &cp
	case *Map:
		return &Map{Input: kids[0], Scalars: n.Scalars}
	case *Filter:
		return &Filter{Input: kids[0], Predicates: n.Predicates}
	case *Project:
		return &Project{Input: kids[0], Outputs: n.Outputs}
	case *Join:
		return &Join{Inputs: kids, Equivalences: n.Equivalences}
	case *Reduce:
		return &Reduce{Input: kids[0], GroupKey: n.GroupKey, Aggregates: n.Aggregates}
	case *TopK:
		return &TopK{Input: kids[0], GroupKey: n.GroupKey, OrderKey: n.OrderKey, Limit: n.Limit}
	case *Window:
		return &Window{Input: kids[0], PartitionBy: n.PartitionBy, OrderBy: n.OrderBy}
	case *Union:
		return &Union{Inputs: kids}
	case *Negate:
		return &Negate{Input: kids[0]}
	case *Threshold:
		return &Threshold{Input: kids[0]}
	case *Distinct:
		return &Distinct{Input: kids[0]}
	case *Return:
		return &Return{Body: kids[0]}
	case *WithMutuallyRecursive:
		bindings := make([]Binding, len(n.Bindings))
		for i, b := range n.Bindings {
			b.Value = kids[i]
			bindings[i] = b
		}
		return &WithMutuallyRecursive{Bindings: bindings, Body: kids[len(kids)-1], Options: n.Options}
	}
	panic(fmt.Sprintf("plan: unknown node %T", e))
}

// Walk visits e and its descendants in pre-order. Returning false from fn
// skips the node's descendants.
func Walk(e Expr, fn func(Expr) bool) {
	if !fn(e) {
		return
	}
	for _, c := range Children(e) {
		Walk(c, fn)
	}
}

// Rewrite rebuilds e bottom-up, applying fn to every node after its inputs
// have been rewritten.
func Rewrite(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	kids := Children(e)
	if len(kids) > 0 {
		newKids := make([]Expr, len(kids))
		for i, c := range kids {
			nc, err := Rewrite(c, fn)
			if err != nil {
				return nil, err
			}
			newKids[i] = nc
		}
		e = WithChildren(e, newKids)
	}
	return fn(e)
}

// LocalRefs returns the set of binding identifiers read anywhere inside e.
func LocalRefs(e Expr) map[LocalID]bool {
	refs := make(map[LocalID]bool)
	Walk(e, func(n Expr) bool {
		if g, ok := n.(*Get); ok && g.Ref.Kind == RefLocal {
			refs[g.Ref.ID] = true
		}
		return true
	})
	return refs
}

// GlobalRefs returns the catalog relation names read anywhere inside e.
func GlobalRefs(e Expr) map[string]bool {
	refs := make(map[string]bool)
	Walk(e, func(n Expr) bool {
		if g, ok := n.(*Get); ok && g.Ref.Kind == RefGlobal {
			refs[g.Ref.Name] = true
		}
		return true
	})
	return refs
}

// RenameLocals replaces binding identifiers according to mapping, both in
// Get references and in binding declarations. Identifiers missing from the
// mapping are left unchanged.
func RenameLocals(e Expr, mapping map[LocalID]LocalID) Expr {
	out, _ := Rewrite(e, func(n Expr) (Expr, error) {
		switch node := n.(type) {
		case *Get:
			if node.Ref.Kind == RefLocal {
				if to, ok := mapping[node.Ref.ID]; ok {
					return &Get{Ref: Local(to, node.Ref.Name), Typ: node.Typ}, nil
				}
			}
		case *WithMutuallyRecursive:
			for i := range node.Bindings {
				if to, ok := mapping[node.Bindings[i].ID]; ok {
					node.Bindings[i].ID = to
				}
			}
		}
		return n, nil
	})
	return out
}
