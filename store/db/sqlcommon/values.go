package sqlcommon

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

const (
	encodeOp = "sql.encode"
	decodeOp = "sql.decode"
)

// TextTimeLayout is the fixed-width UTC layout used where timestamps are
// stored as text, so that lexical order equals chronological order.
const TextTimeLayout = "2006-01-02T15:04:05.000000Z"

var timeLayouts = []string{
	TextTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func toString(v any) string {
	return fmt.Sprint(v)
}

// EncodeValue converts a Go value to the portable driver representation for
// col: string, int64, float64, bool, UTC time.Time, or JSON text for
// structured columns. Dialects adjust the result where their storage differs.
func EncodeValue(col store.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	mismatch := func() error {
		return storeerr.Userf(encodeOp, "column %s of type %s cannot hold %T", col.Name, col.Type, v).With("column", col.Name)
	}
	switch col.Type {
	case store.ColumnText:
		switch s := v.(type) {
		case string:
			return s, nil
		case *string:
			if s == nil {
				return nil, nil
			}
			return *s, nil
		}
		return nil, mismatch()
	case store.ColumnInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case *int64:
			if n == nil {
				return nil, nil
			}
			return *n, nil
		case uint32:
			return int64(n), nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
		return nil, mismatch()
	case store.ColumnNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		}
		return nil, mismatch()
	case store.ColumnBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, mismatch()
	case store.ColumnTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case *time.Time:
			if t == nil {
				return nil, nil
			}
			return t.UTC(), nil
		case string:
			parsed, err := ParseTime(t)
			if err != nil {
				return nil, storeerr.Userf(encodeOp, "column %s: %v", col.Name, err).With("column", col.Name)
			}
			return parsed, nil
		}
		return nil, mismatch()
	case store.ColumnStructured:
		switch raw := v.(type) {
		case json.RawMessage:
			if !json.Valid(raw) {
				return nil, storeerr.Userf(encodeOp, "column %s holds invalid JSON", col.Name).With("column", col.Name)
			}
			return string(raw), nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, storeerr.Userf(encodeOp, "column %s: %v", col.Name, err).With("column", col.Name)
		}
		return string(data), nil
	}
	return nil, storeerr.System(encodeOp, fmt.Sprintf("unknown column type %q", col.Type), nil)
}

// DecodeValue converts a scanned driver value for col back to the portable Go
// representation. Structured data that fails to parse is a SYSTEM error since
// the backend handed back something this package did not write.
func DecodeValue(col store.Column, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.([]byte); ok && col.Type != store.ColumnStructured {
		raw = string(b)
	}
	bad := func(err error) error {
		return storeerr.System(decodeOp, fmt.Sprintf("column %s holds an unreadable %s value", col.Name, col.Type), err).With("column", col.Name)
	}
	switch col.Type {
	case store.ColumnText:
		switch s := raw.(type) {
		case string:
			return s, nil
		case time.Time:
			return s.UTC().Format(time.RFC3339Nano), nil
		}
		return toString(raw), nil
	case store.ColumnInteger:
		switch n := raw.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, bad(err)
			}
			return i, nil
		}
	case store.ColumnNumber:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, bad(err)
			}
			return f, nil
		}
	case store.ColumnBoolean:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, bad(err)
			}
			return parsed, nil
		}
	case store.ColumnTimestamp:
		switch t := raw.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := ParseTime(t)
			if err != nil {
				return nil, bad(err)
			}
			return parsed, nil
		case int64:
			return time.UnixMicro(t).UTC(), nil
		}
	case store.ColumnStructured:
		var data []byte
		switch s := raw.(type) {
		case []byte:
			data = s
		case string:
			data = []byte(s)
		default:
			return raw, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, bad(err)
		}
		return out, nil
	default:
		return nil, storeerr.System(decodeOp, fmt.Sprintf("unknown column type %q", col.Type), nil)
	}
	return nil, bad(errors.Errorf("unexpected driver type %T", raw))
}

// ParseTime parses the timestamp layouts the SQL backends produce.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized timestamp %q", s)
}

// decodeUnknown normalizes a value from a column the schema does not describe.
func decodeUnknown(raw any) any {
	if b, ok := raw.([]byte); ok {
		return string(b)
	}
	if t, ok := raw.(time.Time); ok {
		return t.UTC()
	}
	return raw
}
