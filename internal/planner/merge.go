package planner

import (
	"github.com/roach88/mutrec/internal/plan"
)

// mergeSiblings combines recursive blocks that sit under a shared
// non-recursive parent into one block. Each input of the parent may reach
// its block through a chain of single-input operators. Blocks are merged
// only when neither reads the other's bindings and neither has recursion
// limit options, so one iteration group computes the same fixpoints.
func mergeSiblings(e plan.Expr) (plan.Expr, int) {
	merged := 0
	out, _ := plan.Rewrite(e, func(n plan.Expr) (plan.Expr, error) {
		if _, isBlock := n.(*plan.WithMutuallyRecursive); isBlock {
			return n, nil
		}
		kids := plan.Children(n)
		if len(kids) < 2 {
			return n, nil
		}

		var (
			blocks  []*plan.WithMutuallyRecursive
			slots   []int
			claimed = make(map[plan.LocalID]bool)
		)
		for i, kid := range kids {
			block := peel(kid)
			if block == nil || block.Options != (plan.LoopOptions{}) {
				continue
			}
			ids := bindingIDs(block)
			if reaches(block, claimed) || readsAny(blocks, ids) {
				continue
			}
			for id := range ids {
				claimed[id] = true
			}
			blocks = append(blocks, block)
			slots = append(slots, i)
		}
		if len(blocks) < 2 {
			return n, nil
		}

		newKids := append([]plan.Expr(nil), kids...)
		var bindings []plan.Binding
		for j, block := range blocks {
			bindings = append(bindings, block.Bindings...)
			newKids[slots[j]] = unwrap(kids[slots[j]])
		}
		merged += len(blocks) - 1
		return &plan.WithMutuallyRecursive{
			Bindings: bindings,
			Body:     &plan.Return{Body: plan.WithChildren(n, newKids)},
		}, nil
	})
	return out, merged
}

// peel follows single-input operators down to a recursive block.
func peel(e plan.Expr) *plan.WithMutuallyRecursive {
	for {
		if block, ok := e.(*plan.WithMutuallyRecursive); ok {
			return block
		}
		if !singleInput(e) {
			return nil
		}
		e = plan.Children(e)[0]
	}
}

// unwrap replaces the block peel found with its result expression.
func unwrap(e plan.Expr) plan.Expr {
	if block, ok := e.(*plan.WithMutuallyRecursive); ok {
		return block.Body.(*plan.Return).Body
	}
	return plan.WithChildren(e, []plan.Expr{unwrap(plan.Children(e)[0])})
}

func singleInput(e plan.Expr) bool {
	switch e.(type) {
	case *plan.Map, *plan.Filter, *plan.Project, *plan.Reduce, *plan.TopK,
		*plan.Window, *plan.Negate, *plan.Threshold, *plan.Distinct:
		return true
	}
	return false
}

func bindingIDs(block *plan.WithMutuallyRecursive) map[plan.LocalID]bool {
	ids := make(map[plan.LocalID]bool, len(block.Bindings))
	for _, b := range block.Bindings {
		ids[b.ID] = true
	}
	return ids
}

func readsAny(blocks []*plan.WithMutuallyRecursive, ids map[plan.LocalID]bool) bool {
	for _, b := range blocks {
		if reaches(b, ids) {
			return true
		}
	}
	return false
}
