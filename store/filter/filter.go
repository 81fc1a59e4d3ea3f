// Package filter validates backend-agnostic predicate trees and compiles them
// into backend-native query representations.
//
// A filter is a JSON-like object. Top-level keys are either logical operators
// ($and, $or, $not, $nor) or field paths. A field maps either to a bare value
// (implicit $eq, or $in for a list) or to an object of operator/value pairs:
//
//	{"$or": [{"status": "published"}, {"metadata.priority": {"$gte": 3}}]}
package filter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hrygo/polystore/internal/storeerr"
)

// Filter is an untyped predicate tree as supplied by callers.
type Filter map[string]any

// Operator is a filter operator such as $eq or $and.
type Operator string

const (
	OpAnd Operator = "$and"
	OpOr  Operator = "$or"
	OpNot Operator = "$not"
	OpNor Operator = "$nor"

	OpEq  Operator = "$eq"
	OpNe  Operator = "$ne"
	OpGt  Operator = "$gt"
	OpGte Operator = "$gte"
	OpLt  Operator = "$lt"
	OpLte Operator = "$lte"

	OpIn     Operator = "$in"
	OpNin    Operator = "$nin"
	OpExists Operator = "$exists"
	OpRegex  Operator = "$regex"

	// Backend-declared extensions.
	OpLike Operator = "$like"
	OpText Operator = "$text"
)

// Category groups operators so that backends can declare support coarsely.
type Category string

const (
	CategoryLogical Category = "logical"
	CategoryBasic   Category = "basic"
	CategoryNumeric Category = "numeric"
	CategoryArray   Category = "array"
	CategoryElement Category = "element"
	CategoryRegex   Category = "regex"
	CategoryCustom  Category = "custom"
)

var operatorCategories = map[Operator]Category{
	OpAnd:    CategoryLogical,
	OpOr:     CategoryLogical,
	OpNot:    CategoryLogical,
	OpNor:    CategoryLogical,
	OpEq:     CategoryBasic,
	OpNe:     CategoryBasic,
	OpGt:     CategoryNumeric,
	OpGte:    CategoryNumeric,
	OpLt:     CategoryNumeric,
	OpLte:    CategoryNumeric,
	OpIn:     CategoryArray,
	OpNin:    CategoryArray,
	OpExists: CategoryElement,
	OpRegex:  CategoryRegex,
	OpLike:   CategoryCustom,
	OpText:   CategoryCustom,
}

// CategoryOf returns the category of a known operator.
func CategoryOf(op Operator) (Category, bool) {
	c, ok := operatorCategories[op]
	return c, ok
}

func isLogical(op Operator) bool {
	return op == OpAnd || op == OpOr || op == OpNot || op == OpNor
}

// OperatorSupport is the set of operators a backend accepts.
type OperatorSupport struct {
	Categories []Category
	// Custom lists the custom-category operators the backend implements.
	Custom []Operator
}

// Supports reports whether op is accepted.
func (s OperatorSupport) Supports(op Operator) bool {
	category, ok := operatorCategories[op]
	if !ok {
		return false
	}
	if category == CategoryCustom {
		for _, c := range s.Custom {
			if c == op {
				return true
			}
		}
		return false
	}
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Operators lists every supported operator in a stable order.
func (s OperatorSupport) Operators() []Operator {
	var ops []Operator
	for op := range operatorCategories {
		if s.Supports(op) {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// ValueKind is the closed set of operand kinds the translators dispatch on.
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindNumber
	KindBool
	KindDate
	KindNull
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	case KindNull:
		return "null"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a typed operand.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
	List []Value
}

// Interface returns the Go value carried by v.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindDate:
		return v.Time
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Node is a validated predicate.
type Node interface {
	node()
}

// Logical combines child predicates. $not always has exactly one child.
type Logical struct {
	Op       Operator
	Children []Node
}

// Condition is a single operator applied to a field.
type Condition struct {
	Field string
	Op    Operator
	Value Value
}

func (*Logical) node()   {}
func (*Condition) node() {}

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

const parseOp = "filter.parse"

// Parse validates f and returns its predicate tree. An empty filter yields nil.
func Parse(f Filter) (Node, error) {
	if len(f) == 0 {
		return nil, nil
	}
	return parseObject(f)
}

func parseObject(obj map[string]any) (Node, error) {
	if len(obj) == 0 {
		return nil, storeerr.User(parseOp, "empty filter object")
	}
	keys := sortedKeys(obj)
	nodes := make([]Node, 0, len(keys))
	for _, key := range keys {
		value := obj[key]
		var (
			n   Node
			err error
		)
		if strings.HasPrefix(key, "$") {
			op := Operator(key)
			if !isLogical(op) {
				return nil, storeerr.Userf(parseOp, "operator %s is not allowed at the top level; wrap it in a field", key).With("operator", key)
			}
			n, err = parseLogical(op, value)
		} else {
			n, err = parseField(key, value)
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return &Logical{Op: OpAnd, Children: nodes}, nil
}

func parseLogical(op Operator, value any) (Node, error) {
	if op == OpNot {
		obj, ok := asObject(value)
		if !ok || len(obj) == 0 {
			return nil, storeerr.User(parseOp, "$not requires a non-empty object").With("operator", string(op))
		}
		child, err := parseObject(obj)
		if err != nil {
			return nil, err
		}
		return &Logical{Op: OpNot, Children: []Node{child}}, nil
	}

	items, ok := asList(value)
	if !ok || len(items) == 0 {
		return nil, storeerr.Userf(parseOp, "%s requires a non-empty array", op).With("operator", string(op))
	}
	children := make([]Node, 0, len(items))
	for _, item := range items {
		obj, ok := asObject(item)
		if !ok || len(obj) == 0 {
			return nil, storeerr.Userf(parseOp, "%s entries must be non-empty objects", op).With("operator", string(op))
		}
		child, err := parseObject(obj)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return &Logical{Op: op, Children: children}, nil
}

func parseField(field string, value any) (Node, error) {
	if !fieldPathPattern.MatchString(field) {
		return nil, storeerr.Userf(parseOp, "invalid field path %q", field).With("field", field)
	}

	obj, isObj := asObject(value)
	if !isObj || !hasOperatorKeys(obj) {
		v, err := toValue(field, value)
		if err != nil {
			return nil, err
		}
		op := OpEq
		if v.Kind == KindList {
			op = OpIn
		}
		return &Condition{Field: field, Op: op, Value: v}, nil
	}

	if len(obj) == 0 {
		return nil, storeerr.User(parseOp, "empty predicate object").With("field", field)
	}

	var conds []Node
	comparisonKind := ValueKind(0)
	for _, key := range sortedKeys(obj) {
		op := Operator(key)
		raw := obj[key]
		if !strings.HasPrefix(key, "$") {
			return nil, storeerr.Userf(parseOp, "cannot mix operators and plain keys in predicate for %q", field).With("field", field)
		}
		switch op {
		case OpAnd, OpOr, OpNor:
			return nil, storeerr.Userf(parseOp, "logical operator %s is not allowed inside field %q", op, field).
				With("operator", key).With("field", field)
		case OpNot:
			inner, ok := asObject(raw)
			if !ok || len(inner) == 0 {
				return nil, storeerr.User(parseOp, "$not requires a non-empty object").With("operator", key).With("field", field)
			}
			child, err := parseField(field, inner)
			if err != nil {
				return nil, err
			}
			conds = append(conds, &Logical{Op: OpNot, Children: []Node{child}})
			continue
		}

		v, err := toValue(field, raw)
		if err != nil {
			return nil, err
		}
		if err := checkOperand(field, op, v); err != nil {
			return nil, err
		}
		if isComparison(op) && v.Kind != KindNull {
			if comparisonKind != 0 && comparisonKind != v.Kind {
				return nil, storeerr.Userf(parseOp, "field %q mixes %s and %s operands", field, comparisonKind, v.Kind).
					With("field", field).With("operator", key)
			}
			comparisonKind = v.Kind
		}
		conds = append(conds, &Condition{Field: field, Op: op, Value: v})
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return &Logical{Op: OpAnd, Children: conds}, nil
}

func isComparison(op Operator) bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// checkOperand enforces operand shapes for known operators. Unknown operators
// pass through here and are rejected by the support check, which names them.
func checkOperand(field string, op Operator, v Value) error {
	bad := func(want string) error {
		return storeerr.Userf(parseOp, "operator %s on field %q requires %s, got %s", op, field, want, v.Kind).
			With("operator", string(op)).With("field", field)
	}
	switch op {
	case OpEq, OpNe:
		if v.Kind == KindList {
			return bad("a scalar")
		}
	case OpGt, OpGte, OpLt, OpLte:
		if v.Kind != KindNumber && v.Kind != KindDate && v.Kind != KindString {
			return bad("a number, date or string")
		}
	case OpIn, OpNin:
		if v.Kind != KindList {
			return bad("an array")
		}
	case OpExists:
		if v.Kind != KindBool {
			return bad("a boolean")
		}
	case OpRegex, OpLike, OpText:
		if v.Kind != KindString {
			return bad("a string")
		}
		if op == OpRegex {
			if _, err := regexp.Compile(v.Str); err != nil {
				return storeerr.Userf(parseOp, "invalid regular expression for field %q: %v", field, err).With("field", field)
			}
		}
	}
	return nil
}

func hasOperatorKeys(obj map[string]any) bool {
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func toValue(field string, raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case string:
		return Value{Kind: KindString, Str: v}, nil
	case bool:
		return Value{Kind: KindBool, Bool: v}, nil
	case time.Time:
		return Value{Kind: KindDate, Time: v.UTC()}, nil
	case *time.Time:
		if v == nil {
			return Value{Kind: KindNull}, nil
		}
		return Value{Kind: KindDate, Time: v.UTC()}, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, storeerr.Userf(parseOp, "invalid number %q for field %q", v, field).With("field", field)
		}
		return Value{Kind: KindNumber, Num: f}, nil
	case int:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case int8:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case int16:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case int32:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case int64:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case uint:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case uint8:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case uint16:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case uint32:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case uint64:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case float32:
		return Value{Kind: KindNumber, Num: float64(v)}, nil
	case float64:
		return Value{Kind: KindNumber, Num: v}, nil
	}

	items, ok := asList(raw)
	if !ok {
		return Value{}, storeerr.Userf(parseOp, "unsupported value of type %T for field %q", raw, field).With("field", field)
	}
	list := make([]Value, 0, len(items))
	for _, item := range items {
		v, err := toValue(field, item)
		if err != nil {
			return Value{}, err
		}
		if v.Kind == KindList {
			return Value{}, storeerr.Userf(parseOp, "nested arrays are not supported for field %q", field).With("field", field)
		}
		list = append(list, v)
	}
	return Value{Kind: KindList, List: list}, nil
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Filter:
		return map[string]any(m), true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []Filter:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []bool:
		out := make([]any, len(l))
		for i, b := range l {
			out[i] = b
		}
		return out, true
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders a node for logs and explain output.
func String(n Node) string {
	switch n := n.(type) {
	case nil:
		return "<empty>"
	case *Condition:
		return fmt.Sprintf("%s %s %v", n.Field, n.Op, n.Value.Interface())
	case *Logical:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = String(c)
		}
		if n.Op == OpNot {
			return "NOT (" + parts[0] + ")"
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(strings.TrimPrefix(string(n.Op), "$"))+" ") + ")"
	}
	return "?"
}
