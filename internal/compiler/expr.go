package compiler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/ir"
)

// Scalar expressions use CEL syntax. Only the parser is used: names are
// column references and calls are resolved later against the query, so the
// environment declares nothing and macros are off.
var (
	exprEnvOnce sync.Once
	exprEnv     *cel.Env
	exprEnvErr  error
)

func parserEnv() (*cel.Env, error) {
	exprEnvOnce.Do(func() {
		exprEnv, exprEnvErr = cel.NewEnv(cel.ClearMacros())
	})
	return exprEnv, exprEnvErr
}

var binaryOps = map[string]ast.BinaryOp{
	operators.Add:           ast.OpAdd,
	operators.Subtract:      ast.OpSub,
	operators.Multiply:      ast.OpMul,
	operators.Divide:        ast.OpDiv,
	operators.Modulo:        ast.OpMod,
	operators.Equals:        ast.OpEq,
	operators.NotEquals:     ast.OpNotEq,
	operators.Less:          ast.OpLt,
	operators.LessEquals:    ast.OpLte,
	operators.Greater:       ast.OpGt,
	operators.GreaterEquals: ast.OpGte,
	operators.LogicalAnd:    ast.OpAnd,
	operators.LogicalOr:     ast.OpOr,
}

// aggregate spellings with a distinct argument.
var distinctCalls = map[string]string{
	"count_distinct": "count",
	"sum_distinct":   "sum",
}

// ParseExpr parses a scalar expression.
//
// Supported forms:
//   - column references: n, t.n
//   - literals: 1, 'a', "a", true, null
//   - arithmetic and comparison operators, &&, ||, !, unary minus
//   - conditionals: c ? x : y
//   - null tests: x == null, x != null
//   - calls: sum(x), count(), count_distinct(x), min(x), max(x),
//     coalesce(x, y), abs(x), row_number()
func ParseExpr(src string) (ast.Expr, error) {
	env, err := parserEnv()
	if err != nil {
		return nil, fmt.Errorf("create expression parser: %w", err)
	}
	parsed, issues := env.Parse(src)
	if issues != nil && issues.Err() != nil {
		return nil, &ExprError{Source: src, Message: strings.TrimSpace(issues.Err().Error())}
	}
	return convertExpr(src, parsed.Expr())
}

// ExprError reports an expression that could not be parsed or converted.
type ExprError struct {
	Source  string
	Message string
}

func (e *ExprError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Source, e.Message)
}

func convertExpr(src string, e *exprpb.Expr) (ast.Expr, error) {
	unsupported := func(format string, args ...any) error {
		return &ExprError{Source: src, Message: fmt.Sprintf(format, args...)}
	}

	switch k := e.GetExprKind().(type) {
	case *exprpb.Expr_ConstExpr:
		v, err := constValue(k.ConstExpr)
		if err != nil {
			return nil, unsupported("%v", err)
		}
		return &ast.Literal{Value: v}, nil

	case *exprpb.Expr_IdentExpr:
		return &ast.ColumnRef{Name: k.IdentExpr.GetName()}, nil

	case *exprpb.Expr_SelectExpr:
		sel := k.SelectExpr
		operand, ok := sel.GetOperand().GetExprKind().(*exprpb.Expr_IdentExpr)
		if !ok || sel.GetTestOnly() {
			return nil, unsupported("only table.column selections are supported")
		}
		return &ast.ColumnRef{Table: operand.IdentExpr.GetName(), Name: sel.GetField()}, nil

	case *exprpb.Expr_CallExpr:
		return convertCall(src, k.CallExpr)

	default:
		return nil, unsupported("unsupported expression form %T", k)
	}
}

func convertCall(src string, call *exprpb.Expr_Call) (ast.Expr, error) {
	if call.GetTarget() != nil {
		return nil, &ExprError{Source: src, Message: fmt.Sprintf("method calls are not supported: .%s()", call.GetFunction())}
	}
	args := make([]ast.Expr, len(call.GetArgs()))
	for i, a := range call.GetArgs() {
		x, err := convertExpr(src, a)
		if err != nil {
			return nil, err
		}
		args[i] = x
	}

	fn := call.GetFunction()
	if op, ok := binaryOps[fn]; ok {
		if op == ast.OpEq || op == ast.OpNotEq {
			if x, ok := nullTest(args, op == ast.OpNotEq); ok {
				return x, nil
			}
		}
		return &ast.Binary{Op: op, Left: args[0], Right: args[1]}, nil
	}
	switch fn {
	case operators.LogicalNot:
		return &ast.Unary{Op: ast.OpNot, Expr: args[0]}, nil
	case operators.Negate:
		return &ast.Unary{Op: ast.OpNeg, Expr: args[0]}, nil
	case operators.Conditional:
		return &ast.If{Cond: args[0], Then: args[1], Else: args[2]}, nil
	case "count":
		if len(args) == 0 {
			return &ast.Call{Name: "count", Star: true}, nil
		}
	}
	if base, ok := distinctCalls[fn]; ok {
		return &ast.Call{Name: base, Args: args, Distinct: true}, nil
	}
	if strings.HasPrefix(fn, "_") || strings.HasSuffix(fn, "_") || strings.HasPrefix(fn, "@") {
		return nil, &ExprError{Source: src, Message: fmt.Sprintf("operator %s is not supported", strings.Trim(fn, "_@"))}
	}
	return &ast.Call{Name: fn, Args: args}, nil
}

// nullTest turns a comparison with a null literal into an IS NULL test.
func nullTest(args []ast.Expr, not bool) (ast.Expr, bool) {
	for i, a := range args {
		if lit, ok := a.(*ast.Literal); ok && ir.IsNull(lit.Value) {
			return &ast.IsNull{Expr: args[1-i], Not: not}, true
		}
	}
	return nil, false
}

func constValue(c *exprpb.Constant) (ir.Value, error) {
	switch k := c.GetConstantKind().(type) {
	case *exprpb.Constant_NullValue:
		return ir.Null{}, nil
	case *exprpb.Constant_BoolValue:
		return ir.Bool(k.BoolValue), nil
	case *exprpb.Constant_Int64Value:
		return ir.Int(k.Int64Value), nil
	case *exprpb.Constant_StringValue:
		return ir.Text(k.StringValue), nil
	case *exprpb.Constant_DoubleValue:
		return nil, fmt.Errorf("float literals are not supported; use int")
	case *exprpb.Constant_Uint64Value:
		return nil, fmt.Errorf("unsigned literals are not supported; use int")
	default:
		return nil, fmt.Errorf("unsupported literal %T", k)
	}
}
