package plan

import (
	"fmt"

	"github.com/roach88/mutrec/internal/ir"
)

// Typ derives the output relation type of a plan node.
// Column names are carried where the node preserves them and are empty for
// computed columns.
func Typ(e Expr) ir.RelationType {
	switch n := e.(type) {
	case *Get:
		return n.Typ
	case *Constant:
		return n.Typ
	case *Map:
		in := Typ(n.Input)
		cols := append([]ir.Column(nil), in.Columns...)
		for _, s := range n.Scalars {
			types := make([]ir.ScalarType, len(cols))
			for i, c := range cols {
				types[i] = c.Type
			}
			cols = append(cols, ir.Column{Type: ScalarType(s, types), Nullable: true})
		}
		return ir.RelationType{Columns: cols}
	case *Filter:
		return Typ(n.Input)
	case *Project:
		in := Typ(n.Input)
		cols := make([]ir.Column, len(n.Outputs))
		for i, o := range n.Outputs {
			if o < len(in.Columns) {
				cols[i] = in.Columns[o]
			}
		}
		return ir.RelationType{Columns: cols}
	case *Join:
		var out ir.RelationType
		for _, in := range n.Inputs {
			out = out.Concat(Typ(in))
		}
		return out
	case *Reduce:
		in := Typ(n.Input)
		cols := make([]ir.Column, 0, len(n.GroupKey)+len(n.Aggregates))
		for _, k := range n.GroupKey {
			if k < len(in.Columns) {
				cols = append(cols, in.Columns[k])
			}
		}
		for _, agg := range n.Aggregates {
			cols = append(cols, ir.Column{Name: string(agg.Func), Type: aggregateType(agg, in.Types()), Nullable: true})
		}
		return ir.RelationType{Columns: cols}
	case *TopK:
		return Typ(n.Input)
	case *Window:
		in := Typ(n.Input)
		return in.Concat(ir.NewRelationType(ir.Column{Name: "row_number", Type: ir.TypeInt}))
	case *Union:
		if len(n.Inputs) == 0 {
			return ir.RelationType{}
		}
		out := Typ(n.Inputs[0])
		cols := append([]ir.Column(nil), out.Columns...)
		for _, in := range n.Inputs[1:] {
			for i, c := range Typ(in).Columns {
				if i >= len(cols) {
					break
				}
				if t, ok := ir.Unify(cols[i].Type, c.Type); ok {
					cols[i].Type = t
				}
				cols[i].Nullable = cols[i].Nullable || c.Nullable
			}
		}
		return ir.RelationType{Columns: cols}
	case *Negate:
		return Typ(n.Input)
	case *Threshold:
		return Typ(n.Input)
	case *Distinct:
		return Typ(n.Input)
	case *Return:
		return Typ(n.Body)
	case *WithMutuallyRecursive:
		return Typ(n.Body)
	}
	panic(fmt.Sprintf("plan: unknown node %T", e))
}

// Arity is the number of output columns of a node.
func Arity(e Expr) int {
	return Typ(e).Arity()
}

func aggregateType(agg Aggregate, input []ir.ScalarType) ir.ScalarType {
	switch agg.Func {
	case AggSum, AggCount:
		return ir.TypeInt
	default:
		if agg.Expr == nil {
			return ir.TypeNull
		}
		return ScalarType(agg.Expr, input)
	}
}
