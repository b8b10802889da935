package compiler

import (
	"fmt"
	"log/slog"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/catalog"
	"github.com/roach88/mutrec/internal/explain"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/planner"
	"github.com/roach88/mutrec/internal/render"
	"github.com/roach88/mutrec/internal/resolve"
)

// Prepared is a query that has been resolved, planned and rendered.
type Prepared struct {
	// Type is the output type of the query.
	Type    ir.RelationType
	Plan    *planner.Plan
	Program *render.Program
}

// Explain renders the planned query in the explain format.
func (p *Prepared) Explain() (string, error) {
	return explain.Explain(p.Plan.Expr)
}

// Fingerprint identifies the planned query.
func (p *Prepared) Fingerprint() string {
	return p.Plan.Fingerprint()
}

// Prepare resolves q against cat, plans it and renders the result. Errors
// from resolution and planning are diag errors and are returned unwrapped.
func Prepare(q ast.Query, cat catalog.Catalog, logger *slog.Logger) (*Prepared, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rel, err := resolve.New(cat, resolve.WithLogger(logger)).Resolve(q)
	if err != nil {
		return nil, err
	}
	planned, err := planner.New(planner.WithLogger(logger)).Plan(rel.Expr)
	if err != nil {
		return nil, err
	}
	prog, err := render.Render(planned.Expr)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return &Prepared{Type: rel.Type, Plan: planned, Program: prog}, nil
}
