package sqlite

import (
	"fmt"
	"time"

	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/db/sqlcommon"
	"github.com/hrygo/polystore/store/filter"
)

// EncodeValue stores timestamps as fixed-width UTC text and booleans as 0/1.
func (Dialect) EncodeValue(col store.Column, v any) (any, error) {
	encoded, err := sqlcommon.EncodeValue(col, v)
	if err != nil || encoded == nil {
		return encoded, err
	}
	switch val := encoded.(type) {
	case time.Time:
		return val.UTC().Format(sqlcommon.TextTimeLayout), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return encoded, nil
}

func (Dialect) DecodeValue(col store.Column, raw any) (any, error) {
	return sqlcommon.DecodeValue(col, raw)
}

// jsonPath renders a JSON path literal; path segments are plain identifiers.
func jsonPath(path []string) string {
	p := "'$"
	for _, seg := range path {
		p += "." + seg
	}
	return p + "'"
}

func (Dialect) JSONType(column string, path []string) string {
	return fmt.Sprintf("json_type(%s, %s)", sqlcommon.QuoteIdent(column), jsonPath(path))
}

func (d Dialect) JSONExtract(column string, path []string, kind filter.ValueKind) string {
	typ := d.JSONType(column, path)
	value := fmt.Sprintf("json_extract(%s, %s)", sqlcommon.QuoteIdent(column), jsonPath(path))
	switch kind {
	case filter.KindNumber:
		return fmt.Sprintf("(CASE WHEN %s IN ('integer', 'real') THEN %s END)", typ, value)
	case filter.KindBool:
		return fmt.Sprintf("(CASE %s WHEN 'true' THEN 1 WHEN 'false' THEN 0 END)", typ)
	case filter.KindDate:
		return fmt.Sprintf("(CASE WHEN %s = 'text' THEN julianday(%s) END)", typ, value)
	default:
		return fmt.Sprintf("(CASE WHEN %s = 'text' THEN %s END)", typ, value)
	}
}

func (Dialect) JSONOperand(v filter.Value) (string, any) {
	switch v.Kind {
	case filter.KindBool:
		if v.Bool {
			return "?", int64(1)
		}
		return "?", int64(0)
	case filter.KindDate:
		return "julianday(?)", v.Time.UTC().Format(sqlcommon.TextTimeLayout)
	}
	return "?", v.Interface()
}
