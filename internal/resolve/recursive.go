package resolve

import (
	"errors"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
)

// resolveRecursive resolves a WITH MUTUALLY RECURSIVE clause into a
// WithMutuallyRecursive node. Every binding gets its identifier and shape
// before any binding query is resolved, so declaration order never matters.
func (r *Resolver) resolveRecursive(w *ast.With) (*Relation, error) {
	if w.Options.Limit < 0 {
		return nil, diag.Errorf(diag.InvalidQuery, "RECURSION LIMIT must not be negative")
	}
	if w.Options.ReturnAtLimit && w.Options.Limit == 0 {
		return nil, diag.Errorf(diag.InvalidQuery, "RETURN AT RECURSION LIMIT requires a recursion limit")
	}

	scope, err := BuildScope(w, r.nextGroup, len(r.stack))
	if err != nil {
		return nil, err
	}
	r.nextGroup++
	for _, b := range scope.Bindings {
		b.ID = r.nextID
		r.nextID++
		if b.FullyTyped() {
			b.Shape = b.declaredShape()
			b.shaped = true
		}
	}

	r.push(frame{scope: scope})
	defer r.pop()

	if err := r.inferShapes(scope); err != nil {
		return nil, err
	}

	bindings := make([]plan.Binding, 0, len(scope.Bindings))
	for _, b := range scope.Bindings {
		value, err := r.resolveBinding(b)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, plan.Binding{ID: b.ID, Name: b.Name, Typ: b.Shape, Value: value})
	}

	body, err := r.resolveQuery(w.Body)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resolved recursive scope",
		"group", scope.Group,
		"depth", scope.Depth,
		"bindings", len(bindings),
	)
	return &Relation{
		Expr: &plan.WithMutuallyRecursive{
			Bindings: bindings,
			Body:     &plan.Return{Body: body.Expr},
			Options:  plan.LoopOptions{Limit: w.Options.Limit, ReturnAtLimit: w.Options.ReturnAtLimit},
		},
		Type: body.Type,
	}, nil
}

// inferShapes derives the shape of every binding without full declared
// types from the first alternative of its query. A first alternative that
// reads another unshaped binding waits until that binding is shaped.
func (r *Resolver) inferShapes(scope *Scope) error {
	pending := make([]*Binding, 0, len(scope.Bindings))
	for _, b := range scope.Bindings {
		if !b.shaped {
			pending = append(pending, b)
		}
	}
	for len(pending) > 0 {
		var waiting []*Binding
		for _, b := range pending {
			alts, _ := alternatives(b.Query)
			rel, err := r.resolveQuery(alts[0])
			if err != nil {
				var unshaped *errUnshaped
				if errors.As(err, &unshaped) && scope.owns(unshaped.name) {
					waiting = append(waiting, b)
					continue
				}
				return diag.AttributeTo(err, b.Name)
			}
			if err := b.shapeFrom(rel.Type); err != nil {
				return err
			}
		}
		if len(waiting) == len(pending) {
			return diag.Errorf(diag.SchemaMismatch,
				"cannot infer the column types of binding %q; declare its column types", waiting[0].Name).InBinding(waiting[0].Name)
		}
		pending = waiting
	}
	return nil
}

// shapeFrom sets the binding shape from the type of its first alternative.
// Declared names and types take precedence over inferred ones.
func (b *Binding) shapeFrom(inferred ir.RelationType) error {
	if b.Declared != nil && len(b.Declared) != inferred.Arity() {
		return arityMismatch(b.Name, len(b.Declared), inferred.Arity())
	}
	cols := make([]ir.Column, inferred.Arity())
	for i, c := range inferred.Columns {
		cols[i] = ir.Column{Name: c.Name, Type: c.Type, Nullable: true}
		if b.Declared == nil {
			continue
		}
		cols[i].Name = b.Declared[i].Name
		if want := b.declaredTypes[i]; want != "" {
			if !c.Type.AssignableTo(want) {
				return typeMismatch(b.Name, cols[i].Name, "declared type", want, c.Type)
			}
			cols[i].Type = want
		}
	}
	for _, c := range cols {
		if c.Type == ir.TypeNull {
			return diag.Errorf(diag.SchemaMismatch,
				"cannot infer the type of column %q of binding %q; declare its column types", c.Name, b.Name).InBinding(b.Name)
		}
	}
	b.Shape = ir.RelationType{Columns: cols}
	b.shaped = true
	b.fromFirst = true
	return nil
}

// resolveBinding resolves every alternative of a binding query and checks
// each against the binding shape.
func (r *Resolver) resolveBinding(b *Binding) (plan.Expr, error) {
	alts, distinct := alternatives(b.Query)
	exprs := make([]plan.Expr, 0, len(alts))
	for _, alt := range alts {
		rel, err := r.resolveQuery(alt)
		if err != nil {
			return nil, diag.AttributeTo(err, b.Name)
		}
		if err := b.check(rel.Type); err != nil {
			return nil, err
		}
		exprs = append(exprs, rel.Expr)
	}
	var value plan.Expr
	if len(exprs) == 1 {
		value = exprs[0]
	} else {
		value = &plan.Union{Inputs: exprs}
	}
	if distinct {
		value = &plan.Distinct{Input: value}
	}
	return value, nil
}

// check verifies that one alternative produces the binding shape.
func (b *Binding) check(typ ir.RelationType) error {
	if typ.Arity() != b.Shape.Arity() {
		return arityMismatch(b.Name, b.Shape.Arity(), typ.Arity())
	}
	source := "declared type"
	if b.fromFirst {
		source = "type of the first alternative"
	}
	for i, c := range typ.Columns {
		want := b.Shape.Columns[i]
		if !c.Type.AssignableTo(want.Type) {
			if b.fromFirst && i < len(b.declaredTypes) && b.declaredTypes[i] != "" {
				source = "declared type"
			}
			return typeMismatch(b.Name, want.Name, source, want.Type, c.Type)
		}
	}
	return nil
}

// alternatives splits a binding query into the inputs of its top-level
// UNION or UNION ALL. distinct reports a UNION.
func alternatives(q ast.Query) ([]ast.Query, bool) {
	if op, ok := q.(*ast.SetOp); ok && len(op.Inputs) > 0 {
		switch op.Op {
		case ast.Union:
			return op.Inputs, true
		case ast.UnionAll:
			return op.Inputs, false
		}
	}
	return []ast.Query{q}, false
}

func arityMismatch(name string, want, got int) error {
	return diag.Errorf(diag.SchemaMismatch,
		"WITH MUTUALLY RECURSIVE binding %q has %d columns, but its query returns %d", name, want, got).InBinding(name)
}

func typeMismatch(name, column, source string, want, got ir.ScalarType) error {
	return diag.Errorf(diag.SchemaMismatch,
		"WITH MUTUALLY RECURSIVE binding %q column %q: %s %s did not match inferred type %s",
		name, column, source, want, got).InBinding(name)
}
