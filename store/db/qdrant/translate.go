package qdrant

import (
	"math"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

// Support is the operator set the Qdrant translator accepts.
var Support = filter.OperatorSupport{
	Categories: []filter.Category{
		filter.CategoryLogical, filter.CategoryBasic, filter.CategoryNumeric,
		filter.CategoryArray, filter.CategoryElement,
	},
	Custom: []filter.Operator{filter.OpText},
}

// Translate converts f into a Qdrant filter for a table with the given schema.
// An empty filter yields nil.
func Translate(schema *store.TableSchema, f filter.Filter) (*qdrant.Filter, error) {
	return filter.Translate[*qdrant.Filter](f, Support, &emitter{schema: schema})
}

// emitter dispatches on the operand kind. Strings become keyword matches,
// numbers and dates ranges, so a string operand never matches a number.
type emitter struct {
	schema *store.TableSchema
}

func (e *emitter) Empty() *qdrant.Filter { return nil }

func asCondition(f *qdrant.Filter) *qdrant.Condition {
	if len(f.GetMust()) == 1 && len(f.GetShould()) == 0 && len(f.GetMustNot()) == 0 {
		return f.GetMust()[0]
	}
	return qdrant.NewFilterAsCondition(f)
}

func conditions(children []*qdrant.Filter) []*qdrant.Condition {
	out := make([]*qdrant.Condition, len(children))
	for i, c := range children {
		out[i] = asCondition(c)
	}
	return out
}

func (e *emitter) And(children []*qdrant.Filter) (*qdrant.Filter, error) {
	return &qdrant.Filter{Must: conditions(children)}, nil
}

func (e *emitter) Or(children []*qdrant.Filter) (*qdrant.Filter, error) {
	return &qdrant.Filter{Should: conditions(children)}, nil
}

func (e *emitter) Not(child *qdrant.Filter) (*qdrant.Filter, error) {
	return &qdrant.Filter{MustNot: []*qdrant.Condition{asCondition(child)}}, nil
}

func (e *emitter) Nor(children []*qdrant.Filter) (*qdrant.Filter, error) {
	return &qdrant.Filter{MustNot: conditions(children)}, nil
}

func must(c *qdrant.Condition) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{c}}
}

// columnIs reports whether field is a top-level column of type t.
func (e *emitter) columnIs(field string, t store.ColumnType) bool {
	if e.schema == nil || strings.Contains(field, ".") {
		return false
	}
	col, ok := e.schema.Column(field)
	return ok && col.Type == t
}

// isTimestamp reports whether field is a timestamp column, which the driver
// stores as unix microseconds.
func (e *emitter) isTimestamp(field string) bool {
	return e.columnIs(field, store.ColumnTimestamp)
}

func (e *emitter) checkField(c *filter.Condition) error {
	if e.schema == nil {
		return nil
	}
	root := c.Field
	if i := strings.IndexByte(root, '.'); i >= 0 {
		root = root[:i]
	}
	col, ok := e.schema.Column(root)
	if !ok {
		return storeerr.Userf("qdrant.filter", "unknown field %s", c.Field).With("field", c.Field)
	}
	if root != c.Field && col.Type != store.ColumnStructured {
		return storeerr.Userf("qdrant.filter", "field %s is not structured", root).With("field", c.Field)
	}
	if root == c.Field && col.Type == store.ColumnTimestamp && c.Value.Kind != filter.KindDate &&
		c.Value.Kind != filter.KindNull && c.Value.Kind != filter.KindList && c.Op != filter.OpExists {
		return filter.UnsupportedKind(c)
	}
	return nil
}

func nullCondition(field string) *qdrant.Filter {
	return &qdrant.Filter{Should: []*qdrant.Condition{qdrant.NewIsNull(field), qdrant.NewIsEmpty(field)}}
}

// equal renders field == v for a scalar operand.
func (e *emitter) equal(c *filter.Condition, v filter.Value) (*qdrant.Filter, error) {
	switch v.Kind {
	case filter.KindNull:
		return nullCondition(c.Field), nil
	case filter.KindString:
		return must(qdrant.NewMatchKeyword(c.Field, v.Str)), nil
	case filter.KindBool:
		return must(qdrant.NewMatchBool(c.Field, v.Bool)), nil
	case filter.KindNumber:
		return must(qdrant.NewRange(c.Field, &qdrant.Range{Gte: qdrant.PtrOf(v.Num), Lte: qdrant.PtrOf(v.Num)})), nil
	case filter.KindDate:
		if e.isTimestamp(c.Field) {
			us := float64(v.Time.UnixMicro())
			return must(qdrant.NewRange(c.Field, &qdrant.Range{Gte: &us, Lte: &us})), nil
		}
		ts := timestamppb.New(v.Time)
		return must(qdrant.NewDatetimeRange(c.Field, &qdrant.DatetimeRange{Gte: ts, Lte: ts})), nil
	}
	return nil, filter.UnsupportedKind(c)
}

func (e *emitter) Condition(c *filter.Condition) (*qdrant.Filter, error) {
	if err := e.checkField(c); err != nil {
		return nil, err
	}
	switch c.Op {
	case filter.OpEq:
		return e.equal(c, c.Value)
	case filter.OpNe:
		eq, err := e.equal(c, c.Value)
		if err != nil {
			return nil, err
		}
		return e.Not(eq)
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		return e.rangeCondition(c)
	case filter.OpIn, filter.OpNin:
		in, err := e.membership(c)
		if err != nil {
			return nil, err
		}
		if c.Op == filter.OpNin {
			return e.Not(in)
		}
		return in, nil
	case filter.OpExists:
		empty := qdrant.NewIsEmpty(c.Field)
		if c.Value.Bool {
			return &qdrant.Filter{MustNot: []*qdrant.Condition{empty}}, nil
		}
		return must(empty), nil
	case filter.OpText:
		return must(qdrant.NewMatchText(c.Field, c.Value.Str)), nil
	}
	return nil, filter.UnsupportedOperator(c)
}

func (e *emitter) rangeCondition(c *filter.Condition) (*qdrant.Filter, error) {
	switch c.Value.Kind {
	case filter.KindNumber:
		return must(qdrant.NewRange(c.Field, numericRange(c.Op, c.Value.Num))), nil
	case filter.KindDate:
		if e.isTimestamp(c.Field) {
			return must(qdrant.NewRange(c.Field, numericRange(c.Op, float64(c.Value.Time.UnixMicro())))), nil
		}
		ts := timestamppb.New(c.Value.Time)
		r := &qdrant.DatetimeRange{}
		switch c.Op {
		case filter.OpGt:
			r.Gt = ts
		case filter.OpGte:
			r.Gte = ts
		case filter.OpLt:
			r.Lt = ts
		case filter.OpLte:
			r.Lte = ts
		}
		return must(qdrant.NewDatetimeRange(c.Field, r)), nil
	}
	// Qdrant has no lexical ranges over strings.
	return nil, filter.UnsupportedKind(c)
}

func numericRange(op filter.Operator, v float64) *qdrant.Range {
	r := &qdrant.Range{}
	switch op {
	case filter.OpGt:
		r.Gt = &v
	case filter.OpGte:
		r.Gte = &v
	case filter.OpLt:
		r.Lt = &v
	case filter.OpLte:
		r.Lte = &v
	}
	return r
}

// membership renders $in. Homogeneous keyword and integer lists use the
// native any-of matches; everything else becomes a disjunction.
func (e *emitter) membership(c *filter.Condition) (*qdrant.Filter, error) {
	items := c.Value.List
	if len(items) == 0 {
		// Matches nothing: a point id that never exists.
		return must(qdrant.NewHasID()), nil
	}
	if keywords, ok := allStrings(items); ok {
		return must(qdrant.NewMatchKeywords(c.Field, keywords...)), nil
	}
	if ints, ok := allIntegers(items); ok && e.columnIs(c.Field, store.ColumnInteger) {
		return must(qdrant.NewMatchInts(c.Field, ints...)), nil
	}
	var should []*qdrant.Condition
	for _, item := range items {
		eq, err := e.equal(c, item)
		if err != nil {
			return nil, err
		}
		should = append(should, asCondition(eq))
	}
	return &qdrant.Filter{Should: should}, nil
}

func allStrings(items []filter.Value) ([]string, bool) {
	out := make([]string, len(items))
	for i, item := range items {
		if item.Kind != filter.KindString {
			return nil, false
		}
		out[i] = item.Str
	}
	return out, true
}

// allIntegers only accepts lists whose numbers are integral. Integer matches
// skip float payloads, so callers use it for integer columns only.
func allIntegers(items []filter.Value) ([]int64, bool) {
	out := make([]int64, len(items))
	for i, item := range items {
		if item.Kind != filter.KindNumber || item.Num != math.Trunc(item.Num) {
			return nil, false
		}
		out[i] = int64(item.Num)
	}
	return out, true
}

func marshalFilter(f *qdrant.Filter) (string, error) {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(f)
	if err != nil {
		return "", storeerr.System("qdrant.explain", "failed to render filter", err)
	}
	return string(data), nil
}
