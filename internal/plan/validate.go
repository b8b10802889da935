package plan

import (
	"fmt"
)

// ValidationResult lists structural problems found in a plan.
// A plan produced by the planner must always validate cleanly; problems
// indicate a bug in a rewrite, not a user error.
type ValidationResult struct {
	Valid  bool
	Issues []string
}

// Validate checks the structural invariants of a plan:
//  1. Column references are within the input arity
//  2. Every local Get targets a binding of an enclosing block
//  3. Binding identifiers are unique across the whole plan
//  4. Union inputs and binding values agree on arity with their declarations
//  5. Recursive blocks have a Return body
//
// Validate is a pure function with no side effects.
func Validate(e Expr) ValidationResult {
	v := &validator{
		issues:   []string{},
		declared: make(map[LocalID]bool),
	}
	v.validate(e, nil)
	return ValidationResult{Valid: len(v.issues) == 0, Issues: v.issues}
}

// validator accumulates issues during traversal.
type validator struct {
	issues   []string
	declared map[LocalID]bool
}

func (v *validator) addIssue(format string, args ...any) {
	v.issues = append(v.issues, fmt.Sprintf(format, args...))
}

// validate checks e; visible maps in-scope binding ids to their arities.
func (v *validator) validate(e Expr, visible map[LocalID]int) {
	if e == nil {
		v.addIssue("nil plan node")
		return
	}

	switch n := e.(type) {
	case *Get:
		if n.Ref.Kind == RefLocal {
			arity, ok := visible[n.Ref.ID]
			if !ok {
				v.addIssue("Get %s references a binding that is not in scope", n.Ref.ID)
			} else if arity != n.Typ.Arity() {
				v.addIssue("Get %s has arity %d, binding has %d", n.Ref.ID, n.Typ.Arity(), arity)
			}
		}
	case *Constant:
		for _, r := range n.Rows {
			if len(r.Row) != n.Typ.Arity() {
				v.addIssue("Constant row %s does not match arity %d", r.Row, n.Typ.Arity())
			}
		}
	case *Map:
		arity := Arity(n.Input)
		for i, s := range n.Scalars {
			v.checkScalar("Map", s, arity+i)
		}
	case *Filter:
		arity := Arity(n.Input)
		for _, s := range n.Predicates {
			v.checkScalar("Filter", s, arity)
		}
	case *Project:
		v.checkColumns("Project", n.Outputs, Arity(n.Input))
	case *Join:
		if len(n.Inputs) < 2 {
			v.addIssue("Join has %d inputs", len(n.Inputs))
		}
		arity := Arity(n)
		for _, class := range n.Equivalences {
			v.checkColumns("Join", class, arity)
		}
	case *Reduce:
		arity := Arity(n.Input)
		v.checkColumns("Reduce", n.GroupKey, arity)
		for _, a := range n.Aggregates {
			if a.Expr != nil {
				v.checkScalar("Reduce", a.Expr, arity)
			}
		}
	case *TopK:
		arity := Arity(n.Input)
		v.checkColumns("TopK", n.GroupKey, arity)
		for _, o := range n.OrderKey {
			v.checkColumns("TopK", []int{o.Column}, arity)
		}
	case *Window:
		arity := Arity(n.Input)
		v.checkColumns("Window", n.PartitionBy, arity)
		for _, o := range n.OrderBy {
			v.checkColumns("Window", []int{o.Column}, arity)
		}
	case *Union:
		if len(n.Inputs) == 0 {
			v.addIssue("Union has no inputs")
		}
		for i, in := range n.Inputs {
			if i > 0 && Arity(in) != Arity(n.Inputs[0]) {
				v.addIssue("Union input %d has arity %d, expected %d", i, Arity(in), Arity(n.Inputs[0]))
			}
		}
	case *WithMutuallyRecursive:
		inner := make(map[LocalID]int, len(visible)+len(n.Bindings))
		for id, a := range visible {
			inner[id] = a
		}
		for _, b := range n.Bindings {
			if v.declared[b.ID] {
				v.addIssue("binding %s is declared more than once", b.ID)
			}
			v.declared[b.ID] = true
			inner[b.ID] = b.Typ.Arity()
		}
		for _, b := range n.Bindings {
			if Arity(b.Value) != b.Typ.Arity() {
				v.addIssue("binding %s value has arity %d, declared %d", b.ID, Arity(b.Value), b.Typ.Arity())
			}
			v.validate(b.Value, inner)
		}
		if _, ok := n.Body.(*Return); !ok {
			v.addIssue("recursive block body is %T, expected Return", n.Body)
		}
		v.validate(n.Body, inner)
		return
	}

	for _, c := range Children(e) {
		v.validate(c, visible)
	}
}

func (v *validator) checkColumns(op string, cols []int, arity int) {
	for _, c := range cols {
		if c < 0 || c >= arity {
			v.addIssue("%s references column #%d of a %d-column input", op, c, arity)
		}
	}
}

func (v *validator) checkScalar(op string, s Scalar, arity int) {
	ScalarColumns(s, func(c int) {
		if c < 0 || c >= arity {
			v.addIssue("%s references column #%d of a %d-column input", op, c, arity)
		}
	})
}
