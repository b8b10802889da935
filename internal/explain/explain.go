// Package explain renders logical plans in the textual explain format.
//
// Recursive blocks render as a Return section followed by a
// "With Mutually Recursive" section listing each binding as "cte l<i> =".
// Nested blocks render inside the binding plan that contains them, one
// level deeper.
package explain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/mutrec/internal/plan"
)

// Header is the first line of every explain output.
const Header = "Explained Query:"

// Explainer renders plans as explain text.
type Explainer struct {
	// Indent is the string used per nesting level.
	Indent string
}

// New creates an Explainer with two-space indentation.
func New() *Explainer {
	return &Explainer{Indent: "  "}
}

// Explain renders a plan, including the header line. The result ends with a newline.
func (x *Explainer) Explain(e plan.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("cannot explain nil plan")
	}
	w := &writer{indent: x.Indent}
	w.line(0, Header)
	if err := w.node(1, e); err != nil {
		return "", err
	}
	return w.sb.String(), nil
}

// Explain renders a plan with the default Explainer.
func Explain(e plan.Expr) (string, error) {
	return New().Explain(e)
}

type writer struct {
	sb     strings.Builder
	indent string
}

func (w *writer) line(depth int, text string) {
	w.sb.WriteString(strings.Repeat(w.indent, depth))
	w.sb.WriteString(text)
	w.sb.WriteByte('\n')
}

func (w *writer) children(depth int, kids ...plan.Expr) error {
	for _, k := range kids {
		if err := w.node(depth, k); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) node(depth int, e plan.Expr) error {
	switch n := e.(type) {
	case *plan.Get:
		w.line(depth, "Get "+n.Ref.String())
		return nil

	case *plan.Constant:
		if len(n.Rows) == 0 {
			w.line(depth, "Constant <empty>")
			return nil
		}
		w.line(depth, "Constant")
		rows := slices.Clone(n.Rows)
		slices.SortStableFunc(rows, func(a, b plan.DiffRow) int { return a.Row.Compare(b.Row) })
		for _, r := range rows {
			if r.Diff == 1 {
				w.line(depth+1, "- "+r.Row.String())
			} else {
				w.line(depth+1, fmt.Sprintf("- (%s x %d)", r.Row, r.Diff))
			}
		}
		return nil

	case *plan.Map:
		w.line(depth, "Map ("+joinScalars(n.Scalars, ", ")+")")
		return w.children(depth+1, n.Input)

	case *plan.Filter:
		w.line(depth, "Filter "+joinScalars(n.Predicates, " AND "))
		return w.children(depth+1, n.Input)

	case *plan.Project:
		w.line(depth, "Project ("+joinColumns(n.Outputs)+")")
		return w.children(depth+1, n.Input)

	case *plan.Join:
		if len(n.Equivalences) == 0 {
			w.line(depth, "CrossJoin")
		} else {
			classes := make([]string, len(n.Equivalences))
			for i, class := range n.Equivalences {
				cols := make([]string, len(class))
				for j, c := range class {
					cols[j] = fmt.Sprintf("#%d", c)
				}
				classes[i] = strings.Join(cols, " = ")
			}
			w.line(depth, "Join on=("+strings.Join(classes, " AND ")+")")
		}
		return w.children(depth+1, n.Inputs...)

	case *plan.Reduce:
		parts := []string{"Reduce"}
		if len(n.GroupKey) > 0 {
			parts = append(parts, "group_by=["+joinColumns(n.GroupKey)+"]")
		}
		if len(n.Aggregates) > 0 {
			aggs := make([]string, len(n.Aggregates))
			for i, a := range n.Aggregates {
				aggs[i] = plan.AggregateString(a)
			}
			parts = append(parts, "aggregates=["+strings.Join(aggs, ", ")+"]")
		}
		w.line(depth, strings.Join(parts, " "))
		return w.children(depth+1, n.Input)

	case *plan.TopK:
		parts := []string{"TopK"}
		if len(n.GroupKey) > 0 {
			parts = append(parts, "group_by=["+joinColumns(n.GroupKey)+"]")
		}
		if len(n.OrderKey) > 0 {
			parts = append(parts, "order_by=["+joinOrder(n.OrderKey)+"]")
		}
		parts = append(parts, fmt.Sprintf("limit=%d", n.Limit))
		w.line(depth, strings.Join(parts, " "))
		return w.children(depth+1, n.Input)

	case *plan.Window:
		parts := []string{"Window row_number"}
		if len(n.PartitionBy) > 0 {
			parts = append(parts, "partition_by=["+joinColumns(n.PartitionBy)+"]")
		}
		if len(n.OrderBy) > 0 {
			parts = append(parts, "order_by=["+joinOrder(n.OrderBy)+"]")
		}
		w.line(depth, strings.Join(parts, " "))
		return w.children(depth+1, n.Input)

	case *plan.Union:
		w.line(depth, "Union")
		return w.children(depth+1, n.Inputs...)

	case *plan.Negate:
		w.line(depth, "Negate")
		return w.children(depth+1, n.Input)

	case *plan.Threshold:
		w.line(depth, "Threshold")
		return w.children(depth+1, n.Input)

	case *plan.Distinct:
		w.line(depth, "Distinct")
		return w.children(depth+1, n.Input)

	case *plan.Return:
		w.line(depth, "Return")
		return w.children(depth+1, n.Body)

	case *plan.WithMutuallyRecursive:
		return w.recursive(depth, n)
	}
	return fmt.Errorf("unsupported plan node: %T", e)
}

// recursive renders the Return section, then the bindings in identifier order.
func (w *writer) recursive(depth int, n *plan.WithMutuallyRecursive) error {
	if err := w.node(depth, n.Body); err != nil {
		return err
	}
	w.line(depth, "With Mutually Recursive"+optionsSuffix(n.Options))
	bindings := slices.Clone(n.Bindings)
	slices.SortFunc(bindings, func(a, b plan.Binding) int { return int(a.ID) - int(b.ID) })
	for _, b := range bindings {
		w.line(depth+1, "cte "+b.ID.String()+" =")
		if err := w.node(depth+2, b.Value); err != nil {
			return fmt.Errorf("binding %s: %w", b.ID, err)
		}
	}
	return nil
}

func optionsSuffix(o plan.LoopOptions) string {
	if o.Limit == 0 {
		return ""
	}
	if o.ReturnAtLimit {
		return fmt.Sprintf(" [recursion_limit=%d, return_at_limit]", o.Limit)
	}
	return fmt.Sprintf(" [recursion_limit=%d]", o.Limit)
}

func joinScalars(ss []plan.Scalar, sep string) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = plan.ScalarString(s)
	}
	return strings.Join(parts, sep)
}

func joinColumns(cols []int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("#%d", c)
	}
	return strings.Join(parts, ", ")
}

func joinOrder(keys []plan.ColumnOrder) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		parts[i] = fmt.Sprintf("#%d %s", k.Column, dir)
	}
	return strings.Join(parts, ", ")
}
