package resolve

import (
	"fmt"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
)

// Binding is one named relation of a recursive scope.
type Binding struct {
	Name     string
	Declared []ast.ColumnDef // nil when the binding has no column list
	Query    ast.Query

	// Group identifies the recursive scope the binding belongs to.
	Group int
	// Depth is the number of scopes enclosing the binding's scope.
	Depth int
	// ID is the provisional identifier used by Get nodes until the planner
	// assigns final identifiers.
	ID plan.LocalID

	// Shape is the placeholder relation type other bindings resolve against.
	Shape  ir.RelationType
	shaped bool

	declaredTypes []ir.ScalarType // "" where the declaration omits a type
	fromFirst     bool            // Shape types come from the first alternative
}

// FullyTyped reports whether the declaration gives a type for every column.
func (b *Binding) FullyTyped() bool {
	if b.Declared == nil {
		return false
	}
	for _, t := range b.declaredTypes {
		if t == "" {
			return false
		}
	}
	return true
}

// Scope is the set of bindings introduced by one WITH MUTUALLY RECURSIVE
// clause, plus the result query that consumes them.
type Scope struct {
	Group    int
	Depth    int
	Bindings []*Binding // declaration order, for diagnostics only
	Body     ast.Query
	Options  ast.RecursionOptions

	byName map[string]*Binding
}

// Lookup finds a binding by name.
func (s *Scope) Lookup(name string) (*Binding, bool) {
	b, ok := s.byName[name]
	return b, ok
}

// BuildScope builds the binding graph of one WITH MUTUALLY RECURSIVE clause.
// It checks binding name uniqueness and parses declared column types but does
// not look inside any query.
func BuildScope(w *ast.With, group, depth int) (*Scope, error) {
	if w == nil || !w.Recursive {
		return nil, fmt.Errorf("BuildScope requires a WITH MUTUALLY RECURSIVE clause")
	}
	s := &Scope{
		Group:   group,
		Depth:   depth,
		Body:    w.Body,
		Options: w.Options,
		byName:  make(map[string]*Binding, len(w.Bindings)),
	}
	for _, cte := range w.Bindings {
		if _, dup := s.byName[cte.Name]; dup {
			return nil, diag.Errorf(diag.DuplicateBindingName,
				"WITH MUTUALLY RECURSIVE binding %q specified more than once", cte.Name)
		}
		types, err := parseDeclaredColumns(cte)
		if err != nil {
			return nil, err
		}
		b := &Binding{
			Name:          cte.Name,
			Declared:      cte.Columns,
			Query:         cte.Query,
			Group:         group,
			Depth:         depth,
			declaredTypes: types,
		}
		s.Bindings = append(s.Bindings, b)
		s.byName[cte.Name] = b
	}
	return s, nil
}

func parseDeclaredColumns(cte ast.CTE) ([]ir.ScalarType, error) {
	types := make([]ir.ScalarType, len(cte.Columns))
	seen := make(map[string]bool, len(cte.Columns))
	for i, c := range cte.Columns {
		if seen[c.Name] {
			return nil, diag.Errorf(diag.InvalidQuery,
				"column %q specified more than once", c.Name).InBinding(cte.Name)
		}
		seen[c.Name] = true
		if c.Type == "" {
			continue
		}
		t, err := ir.ParseScalarType(c.Type)
		if err != nil {
			return nil, diag.Wrap(diag.InvalidQuery, err, "%s", err.Error()).InBinding(cte.Name)
		}
		types[i] = t
	}
	return types, nil
}

// declaredShape builds the shape of a fully typed binding.
func (b *Binding) declaredShape() ir.RelationType {
	cols := make([]ir.Column, len(b.Declared))
	for i, c := range b.Declared {
		cols[i] = ir.Column{Name: c.Name, Type: b.declaredTypes[i], Nullable: true}
	}
	return ir.RelationType{Columns: cols}
}

// frame is one level of the scope stack: either the bindings of a recursive
// scope, or the inlined bindings of a plain WITH clause.
type frame struct {
	scope *Scope
	ctes  map[string]*Relation
}

// scopeStack is the ordered sequence of visible binding sets, innermost last.
type scopeStack []frame

// errUnshaped reports a reference to a binding whose shape is not known yet.
// It only escapes resolution while untyped bindings are being inferred.
type errUnshaped struct {
	name string
}

func (e *errUnshaped) Error() string {
	return fmt.Sprintf("binding %q has no known column types", e.name)
}

// lookup searches the stack innermost first.
func (s scopeStack) lookup(name string) (*Relation, bool, error) {
	for i := len(s) - 1; i >= 0; i-- {
		f := s[i]
		if f.scope != nil {
			if b, ok := f.scope.Lookup(name); ok {
				if !b.shaped {
					return nil, true, &errUnshaped{name: name}
				}
				return &Relation{
					Expr: &plan.Get{Ref: plan.Local(b.ID, b.Name), Typ: b.Shape},
					Type: b.Shape,
				}, true, nil
			}
		}
		if rel, ok := f.ctes[name]; ok {
			return rel, true, nil
		}
	}
	return nil, false, nil
}

func (s *Scope) owns(name string) bool {
	_, ok := s.byName[name]
	return ok
}
