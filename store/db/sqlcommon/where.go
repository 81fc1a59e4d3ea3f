package sqlcommon

import (
	"math"
	"strings"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

// Clause is a SQL boolean expression with ? placeholders and its arguments.
// The empty clause means "no filter".
type Clause struct {
	SQL  string
	Args []any
}

// whereEmitter renders predicates as SQL. It dispatches on the operand kind
// and the column type so that values are compared without coercion.
type whereEmitter struct {
	dialect Dialect
	schema  *store.TableSchema
}

// Where translates f into a SQL clause for a table with the given schema.
func Where(d Dialect, schema *store.TableSchema, f filter.Filter) (Clause, error) {
	return filter.Translate[Clause](f, d.Capabilities().Operators, &whereEmitter{dialect: d, schema: schema})
}

func (e *whereEmitter) Empty() Clause { return Clause{} }

func (e *whereEmitter) join(sep string, children []Clause) Clause {
	if len(children) == 1 {
		return children[0]
	}
	parts := make([]string, len(children))
	var args []any
	for i, c := range children {
		parts[i] = c.SQL
		args = append(args, c.Args...)
	}
	return Clause{SQL: "(" + strings.Join(parts, sep) + ")", Args: args}
}

func (e *whereEmitter) And(children []Clause) (Clause, error) {
	return e.join(" AND ", children), nil
}

func (e *whereEmitter) Or(children []Clause) (Clause, error) {
	return e.join(" OR ", children), nil
}

// Not treats an unknown (NULL) child as false, matching the in-memory
// semantics where a missing field never satisfies a comparison.
func (e *whereEmitter) Not(child Clause) (Clause, error) {
	return Clause{SQL: "NOT COALESCE(" + child.SQL + ", FALSE)", Args: child.Args}, nil
}

func (e *whereEmitter) Nor(children []Clause) (Clause, error) {
	or := e.join(" OR ", children)
	return Clause{SQL: "NOT COALESCE(" + or.SQL + ", FALSE)", Args: or.Args}, nil
}

func (e *whereEmitter) Condition(c *filter.Condition) (Clause, error) {
	root, path := c.Field, []string(nil)
	if i := strings.IndexByte(c.Field, '.'); i >= 0 {
		root, path = c.Field[:i], strings.Split(c.Field[i+1:], ".")
	}
	col, ok := e.column(root)
	if !ok {
		return Clause{}, storeerr.Userf(translateOp, "unknown field %s", c.Field).With("field", c.Field)
	}
	if len(path) > 0 {
		if col.Type != store.ColumnStructured {
			return Clause{}, storeerr.Userf(translateOp, "field %s is not structured", root).With("field", c.Field)
		}
		return e.jsonCondition(col.Name, path, c)
	}
	return e.columnCondition(col, c)
}

const translateOp = "sql.where"

func (e *whereEmitter) column(name string) (store.Column, bool) {
	if e.schema == nil {
		// Unregistered tables are compared by operand kind alone.
		return store.Column{Name: name, Nullable: true}, true
	}
	return e.schema.Column(name)
}

func (e *whereEmitter) columnCondition(col store.Column, c *filter.Condition) (Clause, error) {
	ident := QuoteIdent(col.Name)
	switch c.Op {
	case filter.OpExists:
		if c.Value.Bool {
			return Clause{SQL: ident + " IS NOT NULL"}, nil
		}
		return Clause{SQL: ident + " IS NULL"}, nil
	case filter.OpEq, filter.OpNe:
		if c.Value.Kind == filter.KindNull {
			if c.Op == filter.OpEq {
				return Clause{SQL: ident + " IS NULL"}, nil
			}
			return Clause{SQL: ident + " IS NOT NULL"}, nil
		}
		arg, err := e.operand(col, c, c.Value)
		if err != nil {
			return Clause{}, err
		}
		if c.Op == filter.OpEq {
			return Clause{SQL: ident + " = ?", Args: []any{arg}}, nil
		}
		return Clause{SQL: "(" + ident + " <> ? OR " + ident + " IS NULL)", Args: []any{arg}}, nil
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		arg, err := e.operand(col, c, c.Value)
		if err != nil {
			return Clause{}, err
		}
		return Clause{SQL: ident + " " + comparisonSQL[c.Op] + " ?", Args: []any{arg}}, nil
	case filter.OpIn, filter.OpNin:
		var (
			args    []any
			hasNull bool
		)
		for _, item := range c.Value.List {
			if item.Kind == filter.KindNull {
				hasNull = true
				continue
			}
			arg, err := e.operand(col, c, item)
			if err != nil {
				return Clause{}, err
			}
			args = append(args, arg)
		}
		return inClause(ident, ident+" IS NULL", args, hasNull, c.Op == filter.OpNin), nil
	case filter.OpRegex, filter.OpLike:
		if c.Value.Kind != filter.KindString || (e.schema != nil && col.Type != store.ColumnText) {
			return Clause{}, filter.UnsupportedKind(c)
		}
		op := "LIKE"
		if c.Op == filter.OpRegex {
			if op = e.dialect.RegexOperator(); op == "" {
				return Clause{}, filter.UnsupportedOperator(c)
			}
		}
		return Clause{SQL: ident + " " + op + " ?", Args: []any{c.Value.Str}}, nil
	}
	return Clause{}, filter.UnsupportedOperator(c)
}

var comparisonSQL = map[filter.Operator]string{
	filter.OpEq:  "=",
	filter.OpGt:  ">",
	filter.OpGte: ">=",
	filter.OpLt:  "<",
	filter.OpLte: "<=",
}

// inClause renders membership where a NULL column never compares unknown:
// $in is false for NULL unless null is listed, $nin is true for NULL unless
// null is listed.
func inClause(expr, isNull string, args []any, hasNull, negate bool) Clause {
	var member string
	switch {
	case len(args) == 0 && !hasNull:
		member = "1 = 0"
	case len(args) == 0:
		member = isNull
	case hasNull:
		member = "(" + expr + " IN (" + placeholders(len(args)) + ") OR " + isNull + ")"
	default:
		member = "(" + expr + " IS NOT NULL AND " + expr + " IN (" + placeholders(len(args)) + "))"
	}
	if negate {
		return Clause{SQL: "NOT (" + member + ")", Args: args}
	}
	return Clause{SQL: member, Args: args}
}

// operand checks that v's kind fits the column type and encodes it.
func (e *whereEmitter) operand(col store.Column, c *filter.Condition, v filter.Value) (any, error) {
	if e.schema == nil {
		return v.Interface(), nil
	}
	var ok bool
	var raw any = v.Interface()
	switch col.Type {
	case store.ColumnText:
		ok = v.Kind == filter.KindString
	case store.ColumnInteger:
		ok = v.Kind == filter.KindNumber
		if ok && v.Num == math.Trunc(v.Num) {
			raw = int64(v.Num)
		} else if ok {
			// Fractional bounds compare against integers as numbers.
			return v.Num, nil
		}
	case store.ColumnNumber:
		ok = v.Kind == filter.KindNumber
	case store.ColumnBoolean:
		ok = v.Kind == filter.KindBool
	case store.ColumnTimestamp:
		ok = v.Kind == filter.KindDate
	}
	if !ok {
		return nil, storeerr.Userf(translateOp, "field %s of type %s cannot be compared with a %s value", c.Field, col.Type, v.Kind).
			With("field", c.Field).With("operator", string(c.Op))
	}
	return e.dialect.EncodeValue(col, raw)
}

func (e *whereEmitter) jsonCondition(column string, path []string, c *filter.Condition) (Clause, error) {
	typ := e.dialect.JSONType(column, path)
	present := "(" + typ + " IS NOT NULL AND " + typ + " <> 'null')"
	absent := "(" + typ + " IS NULL OR " + typ + " = 'null')"
	switch c.Op {
	case filter.OpExists:
		if c.Value.Bool {
			return Clause{SQL: present}, nil
		}
		return Clause{SQL: absent}, nil
	case filter.OpEq, filter.OpNe:
		if c.Value.Kind == filter.KindNull {
			if c.Op == filter.OpEq {
				return Clause{SQL: absent}, nil
			}
			return Clause{SQL: present}, nil
		}
		expr := e.dialect.JSONExtract(column, path, c.Value.Kind)
		ph, arg := e.dialect.JSONOperand(c.Value)
		if c.Op == filter.OpEq {
			return Clause{SQL: expr + " = " + ph, Args: []any{arg}}, nil
		}
		return Clause{SQL: "(" + expr + " IS NULL OR " + expr + " <> " + ph + ")", Args: []any{arg}}, nil
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		if c.Value.Kind == filter.KindBool {
			return Clause{}, filter.UnsupportedKind(c)
		}
		expr := e.dialect.JSONExtract(column, path, c.Value.Kind)
		ph, arg := e.dialect.JSONOperand(c.Value)
		return Clause{SQL: expr + " " + comparisonSQL[c.Op] + " " + ph, Args: []any{arg}}, nil
	case filter.OpIn, filter.OpNin:
		var (
			parts   []string
			args    []any
			hasNull bool
		)
		byKind := map[filter.ValueKind][]filter.Value{}
		var kinds []filter.ValueKind
		for _, item := range c.Value.List {
			switch item.Kind {
			case filter.KindNull:
				hasNull = true
				continue
			case filter.KindList:
				return Clause{}, filter.UnsupportedKind(c)
			}
			if _, seen := byKind[item.Kind]; !seen {
				kinds = append(kinds, item.Kind)
			}
			byKind[item.Kind] = append(byKind[item.Kind], item)
		}
		for _, kind := range kinds {
			expr := e.dialect.JSONExtract(column, path, kind)
			phs := make([]string, len(byKind[kind]))
			for i, item := range byKind[kind] {
				ph, arg := e.dialect.JSONOperand(item)
				phs[i] = ph
				args = append(args, arg)
			}
			parts = append(parts, "("+expr+" IS NOT NULL AND "+expr+" IN ("+strings.Join(phs, ", ")+"))")
		}
		if hasNull {
			parts = append(parts, absent)
		}
		member := "1 = 0"
		if len(parts) == 1 {
			member = parts[0]
		} else if len(parts) > 1 {
			member = "(" + strings.Join(parts, " OR ") + ")"
		}
		if c.Op == filter.OpNin {
			return Clause{SQL: "NOT (" + member + ")", Args: args}, nil
		}
		return Clause{SQL: member, Args: args}, nil
	case filter.OpRegex, filter.OpLike:
		op := "LIKE"
		if c.Op == filter.OpRegex {
			if op = e.dialect.RegexOperator(); op == "" {
				return Clause{}, filter.UnsupportedOperator(c)
			}
		}
		expr := e.dialect.JSONExtract(column, path, filter.KindString)
		return Clause{SQL: expr + " " + op + " ?", Args: []any{c.Value.Str}}, nil
	}
	return Clause{}, filter.UnsupportedOperator(c)
}
