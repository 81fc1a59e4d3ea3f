package filter

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Matcher evaluates a predicate against a decoded row.
type Matcher func(row map[string]any) bool

// MemorySupport is what the in-memory matcher implements.
var MemorySupport = OperatorSupport{
	Categories: []Category{CategoryLogical, CategoryBasic, CategoryNumeric, CategoryArray, CategoryElement, CategoryRegex},
}

// MatchAll accepts every row.
func MatchAll(map[string]any) bool { return true }

// MatchEmitter compiles predicates into Go closures. It backs stores that
// cannot evaluate predicates server side.
type MatchEmitter struct{}

var _ Emitter[Matcher] = MatchEmitter{}

// CompileMatcher translates f into a Matcher.
func CompileMatcher(f Filter) (Matcher, error) {
	return Translate[Matcher](f, MemorySupport, MatchEmitter{})
}

func (MatchEmitter) Empty() Matcher { return MatchAll }

func (MatchEmitter) And(children []Matcher) (Matcher, error) {
	return func(row map[string]any) bool {
		for _, c := range children {
			if !c(row) {
				return false
			}
		}
		return true
	}, nil
}

func (MatchEmitter) Or(children []Matcher) (Matcher, error) {
	return func(row map[string]any) bool {
		for _, c := range children {
			if c(row) {
				return true
			}
		}
		return false
	}, nil
}

func (MatchEmitter) Nor(children []Matcher) (Matcher, error) {
	return func(row map[string]any) bool {
		for _, c := range children {
			if c(row) {
				return false
			}
		}
		return true
	}, nil
}

func (MatchEmitter) Not(child Matcher) (Matcher, error) {
	return func(row map[string]any) bool { return !child(row) }, nil
}

func (MatchEmitter) Condition(c *Condition) (Matcher, error) {
	field := c.Field
	switch c.Op {
	case OpExists:
		want := c.Value.Bool
		return func(row map[string]any) bool {
			v, ok := Lookup(row, field)
			return (ok && v != nil) == want
		}, nil
	case OpRegex:
		re, err := regexp.Compile(c.Value.Str)
		if err != nil {
			return nil, UnsupportedKind(c)
		}
		return func(row map[string]any) bool {
			v, ok := Lookup(row, field)
			if !ok {
				return false
			}
			s, ok := v.(string)
			return ok && re.MatchString(s)
		}, nil
	case OpIn, OpNin:
		values := c.Value.List
		negate := c.Op == OpNin
		return func(row map[string]any) bool {
			v, _ := Lookup(row, field)
			hit := false
			for _, candidate := range values {
				if containsOrEquals(v, candidate) {
					hit = true
					break
				}
			}
			return hit != negate
		}, nil
	case OpEq, OpNe:
		want := c.Value
		negate := c.Op == OpNe
		switch want.Kind {
		case KindString, KindNumber, KindBool, KindDate, KindNull:
		default:
			return nil, UnsupportedKind(c)
		}
		return func(row map[string]any) bool {
			v, _ := Lookup(row, field)
			return containsOrEquals(v, want) != negate
		}, nil
	case OpGt, OpGte, OpLt, OpLte:
		want := c.Value
		op := c.Op
		switch want.Kind {
		case KindString, KindNumber, KindDate:
		default:
			return nil, UnsupportedKind(c)
		}
		return func(row map[string]any) bool {
			v, ok := Lookup(row, field)
			if !ok || v == nil {
				return false
			}
			cmp, ok := compare(v, want)
			if !ok {
				return false
			}
			switch op {
			case OpGt:
				return cmp > 0
			case OpGte:
				return cmp >= 0
			case OpLt:
				return cmp < 0
			default:
				return cmp <= 0
			}
		}, nil
	}
	return nil, UnsupportedOperator(c)
}

// Lookup resolves a dotted field path against nested maps.
func Lookup(row map[string]any, path string) (any, bool) {
	if v, ok := row[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = row
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// containsOrEquals matches scalars directly and arrays by membership.
func containsOrEquals(v any, want Value) bool {
	if items, ok := v.([]any); ok && want.Kind != KindNull {
		for _, item := range items {
			if equals(item, want) {
				return true
			}
		}
		return false
	}
	return equals(v, want)
}

func equals(v any, want Value) bool {
	if want.Kind == KindNull {
		return v == nil
	}
	if v == nil {
		return false
	}
	cmp, ok := compare(v, want)
	return ok && cmp == 0
}

func compare(v any, want Value) (int, bool) {
	switch want.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(s, want.Str), true
	case KindNumber:
		f, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		switch {
		case f < want.Num:
			return -1, true
		case f > want.Num:
			return 1, true
		}
		return 0, true
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return 0, false
		}
		if b != want.Bool {
			return 1, true
		}
		return 0, true
	case KindDate:
		t, ok := toTime(v)
		if !ok {
			return 0, false
		}
		return t.Compare(want.Time), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
