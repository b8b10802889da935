// Package planner lowers resolved recursive scopes into their final logical
// plan form.
//
// The resolver already emits one WithMutuallyRecursive node per scope, with
// provisional binding identifiers. The planner then:
//  1. Rejects loop bodies that cannot be iterated (UnsupportedRecursion)
//  2. Merges provably independent sibling blocks under a shared parent
//  3. Collapses structurally identical bindings of one block
//  4. Drops bindings the block result cannot reach
//  5. Renumbers bindings densely in first-reference order
//
// Planning either returns a complete plan or an error; there is no partial
// output.
package planner

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/plan"
)

// Block summarizes one rendered recursive block.
type Block struct {
	Bindings []plan.LocalID
	Groups   []Group
}

// Plan is a planned query.
type Plan struct {
	Expr   plan.Expr
	Blocks []Block

	Merged    int // sibling blocks folded into another block
	Collapsed int // bindings replaced by an identical binding
	Dropped   int // unreachable bindings removed
}

// Fingerprint is the stable hash of the planned expression.
func (p *Plan) Fingerprint() string {
	return plan.Fingerprint(p.Expr)
}

// Planner plans resolved queries.
type Planner struct {
	logger *slog.Logger
	merge  bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = l
	}
}

// WithoutMerge keeps every recursive block separate.
func WithoutMerge() Option {
	return func(p *Planner) {
		p.merge = false
	}
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		logger: slog.Default(),
		merge:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan lowers a resolved expression.
func (p *Planner) Plan(e plan.Expr) (*Plan, error) {
	if e == nil {
		return nil, fmt.Errorf("plan: nil expression")
	}
	if err := checkLoopBodies(e); err != nil {
		return nil, err
	}

	out := &Plan{}
	if p.merge {
		e, out.Merged = mergeSiblings(e)
	}
	e, out.Collapsed = collapseIdentical(e)
	e, out.Dropped = dropUnreferenced(e)
	e = assignIDs(e)

	if res := plan.Validate(e); !res.Valid {
		return nil, diag.Errorf(diag.UnsupportedRecursion, "planner produced an invalid plan: %s", strings.Join(res.Issues, "; "))
	}
	out.Expr = e
	out.Blocks = blocks(e)

	p.logger.Debug("planned query",
		"blocks", len(out.Blocks),
		"merged", out.Merged,
		"collapsed", out.Collapsed,
		"dropped", out.Dropped,
	)
	return out, nil
}

// Lower plans a resolved expression with the default Planner.
func Lower(e plan.Expr) (*Plan, error) {
	return New().Plan(e)
}

// checkLoopBodies rejects operators that cannot run inside an iterated
// binding value, including inside blocks nested in that value.
func checkLoopBodies(e plan.Expr) error {
	var err error
	plan.Walk(e, func(n plan.Expr) bool {
		if err != nil {
			return false
		}
		block, ok := n.(*plan.WithMutuallyRecursive)
		if !ok {
			return true
		}
		for _, b := range block.Bindings {
			plan.Walk(b.Value, func(inner plan.Expr) bool {
				if _, isWindow := inner.(*plan.Window); isWindow && err == nil {
					err = diag.Errorf(diag.UnsupportedRecursion,
						"row_number() is not supported inside a WITH MUTUALLY RECURSIVE binding").InBinding(b.Name)
				}
				return err == nil
			})
		}
		return err == nil
	})
	return err
}

func blocks(e plan.Expr) []Block {
	var out []Block
	plan.Walk(e, func(n plan.Expr) bool {
		if block, ok := n.(*plan.WithMutuallyRecursive); ok {
			ids := make([]plan.LocalID, len(block.Bindings))
			for i, b := range block.Bindings {
				ids[i] = b.ID
			}
			out = append(out, Block{Bindings: ids, Groups: DependencyGroups(block)})
		}
		return true
	})
	return out
}
