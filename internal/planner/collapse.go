package planner

import (
	"github.com/roach88/mutrec/internal/plan"
)

// collapseIdentical merges bindings of one block whose values are
// structurally identical and whose types agree. References to a dropped
// binding are redirected to the surviving one, which may make further
// bindings identical, so the rewrite repeats until nothing changes.
// A binding that reads itself is never identical to another binding that
// reads itself, because the references differ.
func collapseIdentical(e plan.Expr) (plan.Expr, int) {
	total := 0
	for {
		mapping := make(map[plan.LocalID]plan.LocalID)
		plan.Walk(e, func(n plan.Expr) bool {
			block, ok := n.(*plan.WithMutuallyRecursive)
			if !ok {
				return true
			}
			first := make(map[string]plan.LocalID, len(block.Bindings))
			for _, b := range block.Bindings {
				key := b.Typ.TypeList() + " " + plan.Canonical(b.Value)
				if id, seen := first[key]; seen {
					mapping[b.ID] = id
					continue
				}
				first[key] = b.ID
			}
			return true
		})
		if len(mapping) == 0 {
			return e, total
		}
		total += len(mapping)
		e = plan.RenameLocals(dropBindings(e, mapping), mapping)
	}
}

// dropBindings removes the bindings whose identifiers are keys of drop.
func dropBindings[V any](e plan.Expr, drop map[plan.LocalID]V) plan.Expr {
	out, _ := plan.Rewrite(e, func(n plan.Expr) (plan.Expr, error) {
		block, ok := n.(*plan.WithMutuallyRecursive)
		if !ok {
			return n, nil
		}
		kept := block.Bindings[:0:0]
		for _, b := range block.Bindings {
			if _, gone := drop[b.ID]; !gone {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			return block.Body.(*plan.Return).Body, nil
		}
		return &plan.WithMutuallyRecursive{Bindings: kept, Body: block.Body, Options: block.Options}, nil
	})
	return out
}

// dropUnreferenced removes bindings that the block's result cannot reach.
func dropUnreferenced(e plan.Expr) (plan.Expr, int) {
	unused := make(map[plan.LocalID]bool)
	plan.Walk(e, func(n plan.Expr) bool {
		block, ok := n.(*plan.WithMutuallyRecursive)
		if !ok {
			return true
		}
		values := make(map[plan.LocalID]plan.Expr, len(block.Bindings))
		for _, b := range block.Bindings {
			values[b.ID] = b.Value
		}
		live := make(map[plan.LocalID]bool)
		var queue []plan.LocalID
		mark := func(from plan.Expr) {
			for id := range plan.LocalRefs(from) {
				if _, own := values[id]; own && !live[id] {
					live[id] = true
					queue = append(queue, id)
				}
			}
		}
		mark(block.Body)
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			mark(values[id])
		}
		for _, b := range block.Bindings {
			if !live[b.ID] {
				unused[b.ID] = true
			}
		}
		return true
	})
	if len(unused) == 0 {
		return e, 0
	}
	return dropBindings(e, unused), len(unused)
}
