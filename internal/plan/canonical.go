package plan

import (
	"fmt"
	"strings"

	"github.com/roach88/mutrec/internal/ir"
)

// Canonical renders e as a single-line S-expression. Two plans are
// structurally equal iff their canonical forms are equal. Binding names are
// not part of the form; binding identifiers are.
func Canonical(e Expr) string {
	var sb strings.Builder
	writeCanonical(&sb, e)
	return sb.String()
}

// Fingerprint is the domain-separated hash of the canonical form.
func Fingerprint(e Expr) string {
	return ir.Fingerprint(ir.DomainPlan, []byte(Canonical(e)))
}

func writeCanonical(sb *strings.Builder, e Expr) {
	sb.WriteByte('(')
	switch n := e.(type) {
	case *Get:
		fmt.Fprintf(sb, "get %s", n.Ref)
	case *Constant:
		sb.WriteString("constant " + n.Typ.TypeList())
		for _, r := range n.Rows {
			fmt.Fprintf(sb, " %s*%d", ir.MarshalRow(r.Row), r.Diff)
		}
	case *Map:
		sb.WriteString("map" + scalarList(n.Scalars))
	case *Filter:
		sb.WriteString("filter" + scalarList(n.Predicates))
	case *Project:
		fmt.Fprintf(sb, "project %v", n.Outputs)
	case *Join:
		fmt.Fprintf(sb, "join %v", n.Equivalences)
	case *Reduce:
		fmt.Fprintf(sb, "reduce %v", n.GroupKey)
		for _, a := range n.Aggregates {
			sb.WriteString(" " + AggregateString(a))
		}
	case *TopK:
		fmt.Fprintf(sb, "topk %v %v %d", n.GroupKey, n.OrderKey, n.Limit)
	case *Window:
		fmt.Fprintf(sb, "window %v %v", n.PartitionBy, n.OrderBy)
	case *Union:
		sb.WriteString("union")
	case *Negate:
		sb.WriteString("negate")
	case *Threshold:
		sb.WriteString("threshold")
	case *Distinct:
		sb.WriteString("distinct")
	case *Return:
		sb.WriteString("return")
	case *WithMutuallyRecursive:
		fmt.Fprintf(sb, "letrec %d %t", n.Options.Limit, n.Options.ReturnAtLimit)
		for _, b := range n.Bindings {
			fmt.Fprintf(sb, " %s", b.ID)
		}
	default:
		panic(fmt.Sprintf("plan: unknown node %T", e))
	}
	for _, c := range Children(e) {
		sb.WriteByte(' ')
		writeCanonical(sb, c)
	}
	sb.WriteByte(')')
}

func scalarList(ss []Scalar) string {
	var sb strings.Builder
	for _, s := range ss {
		sb.WriteByte(' ')
		sb.WriteString(ScalarString(s))
	}
	return sb.String()
}

// AggregateString renders an aggregate as explain output shows it.
func AggregateString(a Aggregate) string {
	if a.Expr == nil {
		return string(a.Func) + "(*)"
	}
	if a.Distinct {
		return string(a.Func) + "(distinct " + ScalarString(a.Expr) + ")"
	}
	return string(a.Func) + "(" + ScalarString(a.Expr) + ")"
}
