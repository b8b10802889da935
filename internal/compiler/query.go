package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/mutrec/internal/ast"
)

var queryFields = []string{
	"with", "with_mutually_recursive",
	"select", "distinct", "from", "where", "group_by", "having", "order_by", "limit",
	"union", "union_all", "except", "except_all", "values",
}

// selectClauses may only appear next to select.
var selectClauses = []string{"distinct", "from", "where", "group_by", "having", "order_by", "limit"}

var setOps = map[string]ast.SetOpKind{
	"union":      ast.Union,
	"union_all":  ast.UnionAll,
	"except":     ast.Except,
	"except_all": ast.ExceptAll,
}

// parseQuery parses a query object. A with or with_mutually_recursive
// clause attaches its bindings to the rest of the object.
func parseQuery(v cue.Value, field string) (ast.Query, error) {
	if err := checkFields(v, field, queryFields...); err != nil {
		return nil, err
	}
	withVal := v.LookupPath(cue.ParsePath("with"))
	recVal := v.LookupPath(cue.ParsePath("with_mutually_recursive"))
	if withVal.Exists() && recVal.Exists() {
		return nil, errorAt(v, field, "with and with_mutually_recursive cannot be combined; nest one in the other's query")
	}

	body, err := parseBody(v, field)
	if err != nil {
		return nil, err
	}
	switch {
	case recVal.Exists():
		return parseWith(recVal, field+".with_mutually_recursive", true, body)
	case withVal.Exists():
		return parseWith(withVal, field+".with", false, body)
	}
	return body, nil
}

func parseBody(v cue.Value, field string) (ast.Query, error) {
	var forms []string
	for _, f := range []string{"select", "union", "union_all", "except", "except_all", "values"} {
		if v.LookupPath(cue.ParsePath(f)).Exists() {
			forms = append(forms, f)
		}
	}
	if len(forms) != 1 {
		return nil, errorAt(v, field,
			"query must have exactly one of select, union, union_all, except, except_all, values (found %d)", len(forms))
	}

	form := forms[0]
	if form != "select" {
		for _, c := range selectClauses {
			if v.LookupPath(cue.ParsePath(c)).Exists() {
				return nil, errorAt(v, field+"."+c, "%s can only be used with select", c)
			}
		}
	}

	fv := v.LookupPath(cue.ParsePath(form))
	ff := field + "." + form
	switch form {
	case "select":
		return parseSelect(v, field)
	case "values":
		return parseValues(fv, ff)
	default:
		return parseSetOp(fv, ff, setOps[form])
	}
}

func parseSetOp(v cue.Value, field string, op ast.SetOpKind) (ast.Query, error) {
	iter, err := v.List()
	if err != nil {
		return nil, errorAt(v, field, "must be a list of queries")
	}
	out := &ast.SetOp{Op: op}
	for i := 0; iter.Next(); i++ {
		q, err := parseQuery(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out.Inputs = append(out.Inputs, q)
	}
	switch {
	case len(out.Inputs) == 0:
		return nil, errorAt(v, field, "%s needs at least one query", op)
	case (op == ast.Except || op == ast.ExceptAll) && len(out.Inputs) < 2:
		return nil, errorAt(v, field, "%s needs at least two queries", op)
	}
	return out, nil
}

func parseValues(v cue.Value, field string) (ast.Query, error) {
	iter, err := v.List()
	if err != nil {
		return nil, errorAt(v, field, "must be a list of rows")
	}
	out := &ast.Values{}
	for i := 0; iter.Next(); i++ {
		row, err := parseLiteralRow(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		exprs := make([]ast.Expr, len(row))
		for j, val := range row {
			exprs[j] = &ast.Literal{Value: val}
		}
		out.Rows = append(out.Rows, exprs)
	}
	if len(out.Rows) == 0 {
		return nil, errorAt(v, field, "values needs at least one row")
	}
	return out, nil
}

func parseSelect(v cue.Value, field string) (ast.Query, error) {
	s := &ast.Select{}

	itemsVal := v.LookupPath(cue.ParsePath("select"))
	iter, err := itemsVal.List()
	if err != nil {
		return nil, errorAt(itemsVal, field+".select", "must be a list of select items")
	}
	for i := 0; iter.Next(); i++ {
		item, err := parseSelectItem(iter.Value(), fmt.Sprintf("%s.select[%d]", field, i))
		if err != nil {
			return nil, err
		}
		s.Items = append(s.Items, item)
	}
	if len(s.Items) == 0 {
		return nil, errorAt(itemsVal, field+".select", "select needs at least one item")
	}

	if dv := v.LookupPath(cue.ParsePath("distinct")); dv.Exists() {
		if s.Distinct, err = dv.Bool(); err != nil {
			return nil, errorAt(dv, field+".distinct", "must be a bool")
		}
	}
	if fv := v.LookupPath(cue.ParsePath("from")); fv.Exists() {
		if s.From, err = parseFrom(fv, field+".from"); err != nil {
			return nil, err
		}
	}
	if s.Where, err = optionalExpr(v, "where", field); err != nil {
		return nil, err
	}
	if gv := v.LookupPath(cue.ParsePath("group_by")); gv.Exists() {
		if s.GroupBy, err = exprList(gv, field+".group_by"); err != nil {
			return nil, err
		}
	}
	if s.Having, err = optionalExpr(v, "having", field); err != nil {
		return nil, err
	}
	if ov := v.LookupPath(cue.ParsePath("order_by")); ov.Exists() {
		if s.OrderBy, err = parseOrderBy(ov, field+".order_by"); err != nil {
			return nil, err
		}
	}
	if lv := v.LookupPath(cue.ParsePath("limit")); lv.Exists() {
		n, err := lv.Int64()
		if err != nil || n < 0 {
			return nil, errorAt(lv, field+".limit", "must be a non-negative int")
		}
		s.Limit = &n
	}
	return s, nil
}

// parseSelectItem parses "*", "t.*", an expression string, or
// {expr, as, over}.
func parseSelectItem(v cue.Value, field string) (ast.SelectItem, error) {
	if str, err := v.String(); err == nil {
		switch {
		case str == "*":
			return ast.SelectItem{Star: true}, nil
		case strings.HasSuffix(str, ".*"):
			return ast.SelectItem{Star: true, StarTable: strings.TrimSuffix(str, ".*")}, nil
		}
		e, err := parseExprString(v, str, field)
		if err != nil {
			return ast.SelectItem{}, err
		}
		return ast.SelectItem{Expr: e}, nil
	}

	if err := checkFields(v, field, "expr", "as", "over"); err != nil {
		return ast.SelectItem{}, err
	}
	e, err := optionalExpr(v, "expr", field)
	if err != nil {
		return ast.SelectItem{}, err
	}
	if e == nil {
		return ast.SelectItem{}, errorAt(v, field+".expr", "expr is required")
	}
	alias, err := stringField(v, "as", field)
	if err != nil {
		return ast.SelectItem{}, err
	}
	if ov := v.LookupPath(cue.ParsePath("over")); ov.Exists() {
		call, ok := e.(*ast.Call)
		if !ok {
			return ast.SelectItem{}, errorAt(ov, field+".over", "over requires a function call")
		}
		if call.Over, err = parseWindow(ov, field+".over"); err != nil {
			return ast.SelectItem{}, err
		}
	}
	return ast.SelectItem{Expr: e, Alias: alias}, nil
}

func parseWindow(v cue.Value, field string) (*ast.WindowSpec, error) {
	if err := checkFields(v, field, "partition_by", "order_by"); err != nil {
		return nil, err
	}
	w := &ast.WindowSpec{}
	var err error
	if pv := v.LookupPath(cue.ParsePath("partition_by")); pv.Exists() {
		if w.PartitionBy, err = exprList(pv, field+".partition_by"); err != nil {
			return nil, err
		}
	}
	if ov := v.LookupPath(cue.ParsePath("order_by")); ov.Exists() {
		if w.OrderBy, err = parseOrderBy(ov, field+".order_by"); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func parseOrderBy(v cue.Value, field string) ([]ast.OrderItem, error) {
	iter, err := v.List()
	if err != nil {
		return nil, errorAt(v, field, "must be a list")
	}
	var items []ast.OrderItem
	for i := 0; iter.Next(); i++ {
		iv := iter.Value()
		f := fmt.Sprintf("%s[%d]", field, i)
		if str, err := iv.String(); err == nil {
			e, err := parseExprString(iv, str, f)
			if err != nil {
				return nil, err
			}
			items = append(items, ast.OrderItem{Expr: e})
			continue
		}
		if err := checkFields(iv, f, "expr", "desc"); err != nil {
			return nil, err
		}
		e, err := optionalExpr(iv, "expr", f)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, errorAt(iv, f+".expr", "expr is required")
		}
		item := ast.OrderItem{Expr: e}
		if dv := iv.LookupPath(cue.ParsePath("desc")); dv.Exists() {
			if item.Desc, err = dv.Bool(); err != nil {
				return nil, errorAt(dv, f+".desc", "must be a bool")
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// parseFrom parses FROM items: "name", "name AS alias", {table, as} or
// {query, as}.
func parseFrom(v cue.Value, field string) ([]ast.FromItem, error) {
	iter, err := v.List()
	if err != nil {
		return nil, errorAt(v, field, "must be a list")
	}
	var items []ast.FromItem
	for i := 0; iter.Next(); i++ {
		iv := iter.Value()
		f := fmt.Sprintf("%s[%d]", field, i)
		if str, err := iv.String(); err == nil {
			ref, err := parseTableRef(iv, str, f)
			if err != nil {
				return nil, err
			}
			items = append(items, ref)
			continue
		}

		if err := checkFields(iv, f, "table", "query", "as"); err != nil {
			return nil, err
		}
		alias, err := stringField(iv, "as", f)
		if err != nil {
			return nil, err
		}
		tv := iv.LookupPath(cue.ParsePath("table"))
		qv := iv.LookupPath(cue.ParsePath("query"))
		switch {
		case tv.Exists() && qv.Exists():
			return nil, errorAt(iv, f, "table and query cannot be combined")
		case tv.Exists():
			name, err := tv.String()
			if err != nil {
				return nil, errorAt(tv, f+".table", "must be a string")
			}
			items = append(items, &ast.TableRef{Name: name, Alias: alias})
		case qv.Exists():
			q, err := parseQuery(qv, f+".query")
			if err != nil {
				return nil, err
			}
			items = append(items, &ast.Subquery{Query: q, Alias: alias})
		default:
			return nil, errorAt(iv, f, "from item needs a table or a query")
		}
	}
	return items, nil
}

func parseTableRef(v cue.Value, s, field string) (*ast.TableRef, error) {
	parts := strings.Fields(s)
	switch {
	case len(parts) == 1:
		return &ast.TableRef{Name: parts[0]}, nil
	case len(parts) == 2:
		return &ast.TableRef{Name: parts[0], Alias: parts[1]}, nil
	case len(parts) == 3 && strings.EqualFold(parts[1], "as"):
		return &ast.TableRef{Name: parts[0], Alias: parts[2]}, nil
	}
	return nil, errorAt(v, field, "expected \"name\" or \"name AS alias\", got %q", s)
}

// parseWith parses the bindings of a with or with_mutually_recursive clause.
func parseWith(v cue.Value, field string, recursive bool, body ast.Query) (ast.Query, error) {
	allowed := []string{"bindings"}
	if recursive {
		allowed = append(allowed, "options")
	}
	if err := checkFields(v, field, allowed...); err != nil {
		return nil, err
	}
	w := &ast.With{Recursive: recursive, Body: body}

	if ov := v.LookupPath(cue.ParsePath("options")); ov.Exists() {
		opts, err := parseOptions(ov, field+".options")
		if err != nil {
			return nil, err
		}
		w.Options = opts
	}

	bv := v.LookupPath(cue.ParsePath("bindings"))
	if !bv.Exists() {
		return nil, errorAt(v, field+".bindings", "bindings are required")
	}
	iter, err := bv.List()
	if err != nil {
		return nil, errorAt(bv, field+".bindings", "must be a list")
	}
	for i := 0; iter.Next(); i++ {
		cte, err := parseBinding(iter.Value(), fmt.Sprintf("%s.bindings[%d]", field, i))
		if err != nil {
			return nil, err
		}
		w.Bindings = append(w.Bindings, cte)
	}
	return w, nil
}

func parseOptions(v cue.Value, field string) (ast.RecursionOptions, error) {
	var opts ast.RecursionOptions
	if err := checkFields(v, field, "recursion_limit", "return_at_limit", "error_at_limit"); err != nil {
		return opts, err
	}
	if lv := v.LookupPath(cue.ParsePath("recursion_limit")); lv.Exists() {
		n, err := lv.Int64()
		if err != nil {
			return opts, errorAt(lv, field+".recursion_limit", "must be an int")
		}
		opts.Limit = n
	}
	rv := v.LookupPath(cue.ParsePath("return_at_limit"))
	ev := v.LookupPath(cue.ParsePath("error_at_limit"))
	if rv.Exists() {
		b, err := rv.Bool()
		if err != nil {
			return opts, errorAt(rv, field+".return_at_limit", "must be a bool")
		}
		opts.ReturnAtLimit = b
	}
	if ev.Exists() {
		b, err := ev.Bool()
		if err != nil {
			return opts, errorAt(ev, field+".error_at_limit", "must be a bool")
		}
		if b && opts.ReturnAtLimit {
			return opts, errorAt(ev, field, "return_at_limit and error_at_limit are exclusive")
		}
	}
	return opts, nil
}

func parseBinding(v cue.Value, field string) (ast.CTE, error) {
	var cte ast.CTE
	if err := checkFields(v, field, "name", "columns", "query"); err != nil {
		return cte, err
	}
	name, err := stringField(v, "name", field)
	if err != nil {
		return cte, err
	}
	if name == "" {
		return cte, errorAt(v, field+".name", "binding name is required")
	}
	cte.Name = name

	if cv := v.LookupPath(cue.ParsePath("columns")); cv.Exists() {
		cols, err := parseColumns(cv, field+".columns")
		if err != nil {
			return cte, err
		}
		cte.Columns = make([]ast.ColumnDef, len(cols))
		for i, c := range cols {
			cte.Columns[i] = ast.ColumnDef{Name: c.Name, Type: c.Type}
		}
	}

	qv := v.LookupPath(cue.ParsePath("query"))
	if !qv.Exists() {
		return cte, errorAt(v, field+".query", "binding query is required")
	}
	if cte.Query, err = parseQuery(qv, field+".query"); err != nil {
		return cte, err
	}
	return cte, nil
}

func optionalExpr(v cue.Value, name, field string) (ast.Expr, error) {
	ev := v.LookupPath(cue.ParsePath(name))
	if !ev.Exists() {
		return nil, nil
	}
	s, err := ev.String()
	if err != nil {
		return nil, errorAt(ev, field+"."+name, "must be an expression string")
	}
	return parseExprString(ev, s, field+"."+name)
}

func exprList(v cue.Value, field string) ([]ast.Expr, error) {
	iter, err := v.List()
	if err != nil {
		return nil, errorAt(v, field, "must be a list of expressions")
	}
	var out []ast.Expr
	for i := 0; iter.Next(); i++ {
		f := fmt.Sprintf("%s[%d]", field, i)
		s, err := iter.Value().String()
		if err != nil {
			return nil, errorAt(iter.Value(), f, "must be an expression string")
		}
		e, err := parseExprString(iter.Value(), s, f)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseExprString(v cue.Value, s, field string) (ast.Expr, error) {
	e, err := ParseExpr(s)
	if err != nil {
		return nil, errorAt(v, field, "%v", err)
	}
	return e, nil
}
