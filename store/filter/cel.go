package filter

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/hrygo/polystore/internal/storeerr"
)

const celOp = "filter.cel"

var celEnv *cel.Env

func init() {
	env, err := cel.NewEnv()
	if err != nil {
		panic(err)
	}
	celEnv = env
}

// ParseExpression converts a CEL boolean expression into a Filter, e.g.
//
//	metadata.team == 'core' && (priority >= 3 || !has(archivedAt))
//
// Supported forms are comparisons between a field path and a literal, `in`
// with a list literal, has(), the string methods startsWith, endsWith,
// contains and matches, timestamp() literals, and the boolean connectives.
func ParseExpression(expr string) (Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return Filter{}, nil
	}
	ast, issues := celEnv.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return nil, storeerr.Userf(celOp, "invalid expression: %v", issues.Err())
	}
	parsed, err := cel.AstToParsedExpr(ast)
	if err != nil {
		return nil, storeerr.System(celOp, "failed to convert expression", err)
	}
	return convertExpr(parsed.GetExpr())
}

func convertExpr(e *exprpb.Expr) (Filter, error) {
	if sel := e.GetSelectExpr(); sel != nil && sel.GetTestOnly() {
		field, err := fieldPath(sel.GetOperand())
		if err != nil {
			return nil, err
		}
		return Filter{field + "." + sel.GetField(): map[string]any{string(OpExists): true}}, nil
	}

	call := e.GetCallExpr()
	if call == nil {
		return nil, storeerr.User(celOp, "expression must be a comparison or a boolean combination of comparisons")
	}
	args := call.GetArgs()

	switch call.GetFunction() {
	case "_&&_", "_||_":
		op := OpAnd
		if call.GetFunction() == "_||_" {
			op = OpOr
		}
		children, err := flatten(call.GetFunction(), args)
		if err != nil {
			return nil, err
		}
		return Filter{string(op): children}, nil
	case "!_":
		inner, err := convertExpr(args[0])
		if err != nil {
			return nil, err
		}
		return Filter{string(OpNot): map[string]any(inner)}, nil
	case "_==_", "_!=_", "_<_", "_<=_", "_>_", "_>=_":
		return comparison(call.GetFunction(), args[0], args[1])
	case "@in":
		field, err := fieldPath(args[0])
		if err != nil {
			return nil, err
		}
		list := args[1].GetListExpr()
		if list == nil {
			return nil, storeerr.User(celOp, "the right side of 'in' must be a list literal").With("field", field)
		}
		values := make([]any, 0, len(list.GetElements()))
		for _, el := range list.GetElements() {
			v, err := literal(el)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return Filter{field: map[string]any{string(OpIn): values}}, nil
	case "has":
		if len(args) == 1 {
			return convertExpr(args[0])
		}
	case "startsWith", "endsWith", "contains", "matches":
		return stringMethod(call)
	}
	return nil, storeerr.Userf(celOp, "unsupported function %s", call.GetFunction())
}

func flatten(fn string, args []*exprpb.Expr) ([]any, error) {
	var out []any
	for _, arg := range args {
		if inner := arg.GetCallExpr(); inner != nil && inner.GetFunction() == fn {
			nested, err := flatten(fn, inner.GetArgs())
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		f, err := convertExpr(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, map[string]any(f))
	}
	return out, nil
}

var mirrored = map[string]string{
	"_<_":  "_>_",
	"_<=_": "_>=_",
	"_>_":  "_<_",
	"_>=_": "_<=_",
	"_==_": "_==_",
	"_!=_": "_!=_",
}

var celOperators = map[string]Operator{
	"_==_": OpEq,
	"_!=_": OpNe,
	"_<_":  OpLt,
	"_<=_": OpLte,
	"_>_":  OpGt,
	"_>=_": OpGte,
}

func comparison(fn string, left, right *exprpb.Expr) (Filter, error) {
	if _, err := fieldPath(left); err != nil {
		// literal on the left: 3 < x is x > 3
		left, right = right, left
		fn = mirrored[fn]
	}
	field, err := fieldPath(left)
	if err != nil {
		return nil, err
	}
	v, err := literal(right)
	if err != nil {
		return nil, err
	}
	return Filter{field: map[string]any{string(celOperators[fn]): v}}, nil
}

func stringMethod(call *exprpb.Expr_Call) (Filter, error) {
	if call.GetTarget() == nil || len(call.GetArgs()) != 1 {
		return nil, storeerr.Userf(celOp, "%s must be called on a field with one argument", call.GetFunction())
	}
	field, err := fieldPath(call.GetTarget())
	if err != nil {
		return nil, err
	}
	arg, err := literal(call.GetArgs()[0])
	if err != nil {
		return nil, err
	}
	s, ok := arg.(string)
	if !ok {
		return nil, storeerr.Userf(celOp, "%s requires a string argument", call.GetFunction()).With("field", field)
	}
	var pattern string
	switch call.GetFunction() {
	case "startsWith":
		pattern = "^" + regexp.QuoteMeta(s)
	case "endsWith":
		pattern = regexp.QuoteMeta(s) + "$"
	case "contains":
		pattern = regexp.QuoteMeta(s)
	default:
		pattern = s
	}
	return Filter{field: map[string]any{string(OpRegex): pattern}}, nil
}

func fieldPath(e *exprpb.Expr) (string, error) {
	if ident := e.GetIdentExpr(); ident != nil {
		return ident.GetName(), nil
	}
	if sel := e.GetSelectExpr(); sel != nil && !sel.GetTestOnly() {
		parent, err := fieldPath(sel.GetOperand())
		if err != nil {
			return "", err
		}
		return parent + "." + sel.GetField(), nil
	}
	return "", storeerr.User(celOp, "expected a field path")
}

func literal(e *exprpb.Expr) (any, error) {
	if c := e.GetConstExpr(); c != nil {
		switch k := c.GetConstantKind().(type) {
		case *exprpb.Constant_NullValue:
			return nil, nil
		case *exprpb.Constant_BoolValue:
			return k.BoolValue, nil
		case *exprpb.Constant_Int64Value:
			return k.Int64Value, nil
		case *exprpb.Constant_Uint64Value:
			return k.Uint64Value, nil
		case *exprpb.Constant_DoubleValue:
			return k.DoubleValue, nil
		case *exprpb.Constant_StringValue:
			return k.StringValue, nil
		}
		return nil, storeerr.User(celOp, "unsupported literal")
	}
	if call := e.GetCallExpr(); call != nil {
		switch call.GetFunction() {
		case "-_":
			v, err := literal(call.GetArgs()[0])
			if err != nil {
				return nil, err
			}
			switch n := v.(type) {
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
		case "timestamp":
			if len(call.GetArgs()) == 1 {
				raw, err := literal(call.GetArgs()[0])
				if err != nil {
					return nil, err
				}
				s, ok := raw.(string)
				if !ok {
					return nil, storeerr.User(celOp, "timestamp() requires a string")
				}
				t, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return nil, storeerr.Userf(celOp, "invalid timestamp %q", s)
				}
				return t.UTC(), nil
			}
		}
	}
	return nil, storeerr.User(celOp, "expected a literal value")
}
