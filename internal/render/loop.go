package render

import (
	"fmt"

	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/zset"
)

// Loop is a rendered recursive block.
type Loop struct {
	// Index is the position of the loop in Program.Loops, or -1 for a loop
	// rendered inside a seed.
	Index int
	// Depth is the number of loops enclosing this one.
	Depth    int
	Bindings []LoopBinding
	Body     Node
	Options  plan.LoopOptions
	// Inputs are the catalog relations read anywhere inside the loop.
	Inputs []string
	// Monotone is set when no binding value negates, thresholds, aggregates,
	// ranks or nests a loop. Its values then only grow as their inputs grow,
	// and the loop may resume from an earlier fixpoint after inserts.
	Monotone bool
}

// LoopBinding is one feedback handle of a loop.
type LoopBinding struct {
	ID    plan.LocalID
	Name  string
	Typ   ir.RelationType
	Value Node
	// Seed evaluates the terms of Value that do not vanish when every
	// binding of the loop is empty. It is nil when all of them vanish.
	Seed Node
}

// Eval runs the loop through the environment's runner.
func (l *Loop) Eval(env *Env) (zset.Batch, error) {
	if env.Loops == nil {
		return nil, fmt.Errorf("render: no loop runner for loop %d", l.Index)
	}
	return env.Loops.RunLoop(env, l)
}

// EmptyStates returns a state map with every binding empty.
func (l *Loop) EmptyStates() map[plan.LocalID]zset.Batch {
	states := make(map[plan.LocalID]zset.Batch, len(l.Bindings))
	for _, b := range l.Bindings {
		states[b.ID] = zset.Batch{}
	}
	return states
}

// Seeds evaluates every binding's seed with all bindings of the loop empty.
// The result equals the state after one round started from empty, so a
// runner may start from it and count it as the first round.
func (l *Loop) Seeds(env *Env) (map[plan.LocalID]zset.Batch, error) {
	empty := env.WithFrame(NewFrame(env.Frame, l.EmptyStates()))
	states := make(map[plan.LocalID]zset.Batch, len(l.Bindings))
	for _, b := range l.Bindings {
		if b.Seed == nil {
			states[b.ID] = zset.Batch{}
			continue
		}
		out, err := b.Seed.Eval(empty)
		if err != nil {
			return nil, err
		}
		states[b.ID] = zset.Consolidate(out)
	}
	return states, nil
}

// baseTerms strips from a binding value the union terms that are empty
// whenever the loop's bindings are empty. It returns nil when nothing
// remains.
func baseTerms(value plan.Expr, ids map[plan.LocalID]bool) plan.Expr {
	switch n := value.(type) {
	case *plan.Distinct:
		if inner := baseTerms(n.Input, ids); inner != nil {
			return &plan.Distinct{Input: inner}
		}
		return nil
	case *plan.Union:
		var kept []plan.Expr
		for _, in := range n.Inputs {
			if !strict(in, ids) {
				kept = append(kept, in)
			}
		}
		switch len(kept) {
		case 0:
			return nil
		case 1:
			return kept[0]
		}
		return &plan.Union{Inputs: kept}
	}
	if strict(value, ids) {
		return nil
	}
	return value
}

// strict reports whether e is empty whenever every binding in ids is empty.
func strict(e plan.Expr, ids map[plan.LocalID]bool) bool {
	switch n := e.(type) {
	case *plan.Get:
		return n.Ref.Kind == plan.RefLocal && ids[n.Ref.ID]
	case *plan.Constant:
		return len(n.Rows) == 0
	case *plan.Map:
		return strict(n.Input, ids)
	case *plan.Filter:
		return strict(n.Input, ids)
	case *plan.Project:
		return strict(n.Input, ids)
	case *plan.Negate:
		return strict(n.Input, ids)
	case *plan.Distinct:
		return strict(n.Input, ids)
	case *plan.Threshold:
		return strict(n.Input, ids)
	case *plan.TopK:
		return strict(n.Input, ids)
	case *plan.Window:
		return strict(n.Input, ids)
	case *plan.Reduce:
		// A global aggregate produces a row even for empty input.
		return len(n.GroupKey) > 0 && strict(n.Input, ids)
	case *plan.Join:
		for _, in := range n.Inputs {
			if strict(in, ids) {
				return true
			}
		}
		return false
	case *plan.Union:
		for _, in := range n.Inputs {
			if !strict(in, ids) {
				return false
			}
		}
		return true
	}
	return false
}

func monotone(n *plan.WithMutuallyRecursive) bool {
	ok := true
	for _, b := range n.Bindings {
		plan.Walk(b.Value, func(e plan.Expr) bool {
			switch e.(type) {
			case *plan.Negate, *plan.Threshold, *plan.Reduce, *plan.TopK,
				*plan.Window, *plan.WithMutuallyRecursive:
				ok = false
			}
			return ok
		})
	}
	return ok
}
