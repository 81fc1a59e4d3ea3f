package qdrant

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

// pointNamespace derives point ids from primary keys. Qdrant only accepts
// unsigned integers and UUIDs as ids.
var pointNamespace = uuid.MustParse("5d0c5b2e-8f1f-4f6e-9a43-2f0c7c1d9b6a")

// pointID returns the deterministic point id of a primary key.
func pointID(schema *store.TableSchema, keys store.Row) (*qdrant.PointId, error) {
	pk := schema.PrimaryKey()
	if len(pk) == 0 {
		return nil, storeerr.Userf("qdrant.key", "table %s has no primary key", schema.Name).With("table", schema.Name)
	}
	parts := make([]string, len(pk))
	for i, name := range pk {
		v, ok := keys[name]
		if !ok || v == nil {
			return nil, storeerr.Userf("qdrant.key", "missing key column %s", name).With("column", name)
		}
		parts[i] = fmt.Sprint(v)
	}
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(strings.Join(parts, "\x00"))).String()), nil
}

// placeholderVector is stored on every point since collections need a vector.
func placeholderVector() *qdrant.Vectors {
	return qdrant.NewVectors(1)
}

func encodeRow(schema *store.TableSchema, row store.Row) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(row))
	for name, v := range row {
		col, ok := schema.Column(name)
		if !ok {
			return nil, storeerr.Userf("qdrant.encode", "unknown column %s on table %s", name, schema.Name).
				With("column", name).With("table", schema.Name)
		}
		value, err := encodeValue(col, v)
		if err != nil {
			return nil, err
		}
		payload[name] = value
	}
	return payload, nil
}

func encodeValue(col store.Column, v any) (*qdrant.Value, error) {
	if v == nil {
		return qdrant.NewValueNull(), nil
	}
	mismatch := func() error {
		return storeerr.Userf("qdrant.encode", "column %s of type %s cannot hold %T", col.Name, col.Type, v).With("column", col.Name)
	}
	switch col.Type {
	case store.ColumnText:
		if s, ok := v.(string); ok {
			return qdrant.NewValueString(s), nil
		}
		return nil, mismatch()
	case store.ColumnInteger:
		switch n := v.(type) {
		case int:
			return qdrant.NewValueInt(int64(n)), nil
		case int64:
			return qdrant.NewValueInt(n), nil
		case *int64:
			if n == nil {
				return qdrant.NewValueNull(), nil
			}
			return qdrant.NewValueInt(*n), nil
		case float64:
			if n == math.Trunc(n) {
				return qdrant.NewValueInt(int64(n)), nil
			}
		}
		return nil, mismatch()
	case store.ColumnNumber:
		switch n := v.(type) {
		case float64:
			return qdrant.NewValueDouble(n), nil
		case int:
			return qdrant.NewValueDouble(float64(n)), nil
		case int64:
			return qdrant.NewValueDouble(float64(n)), nil
		}
		return nil, mismatch()
	case store.ColumnBoolean:
		if b, ok := v.(bool); ok {
			return qdrant.NewValueBool(b), nil
		}
		return nil, mismatch()
	case store.ColumnTimestamp:
		switch t := v.(type) {
		case time.Time:
			return qdrant.NewValueInt(t.UnixMicro()), nil
		case *time.Time:
			if t == nil {
				return qdrant.NewValueNull(), nil
			}
			return qdrant.NewValueInt(t.UnixMicro()), nil
		}
		return nil, mismatch()
	case store.ColumnStructured:
		// Round-trip through JSON so that typed slices and structs become
		// the generic shapes NewValue accepts.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, storeerr.Userf("qdrant.encode", "column %s: %v", col.Name, err).With("column", col.Name)
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, storeerr.Userf("qdrant.encode", "column %s: %v", col.Name, err).With("column", col.Name)
		}
		value, err := qdrant.NewValue(generic)
		if err != nil {
			return nil, storeerr.Userf("qdrant.encode", "column %s: %v", col.Name, err).With("column", col.Name)
		}
		return value, nil
	}
	return nil, storeerr.System("qdrant.encode", fmt.Sprintf("unknown column type %q", col.Type), nil)
}

func decodePoint(schema *store.TableSchema, payload map[string]*qdrant.Value) (store.Row, error) {
	row := make(store.Row, len(payload))
	for name, value := range payload {
		var col store.Column
		known := false
		if schema != nil {
			col, known = schema.Column(name)
		}
		if !known {
			row[name] = toGo(value)
			continue
		}
		v, err := decodeValue(col, value)
		if err != nil {
			return nil, err
		}
		row[name] = v
	}
	return row, nil
}

func decodeValue(col store.Column, value *qdrant.Value) (any, error) {
	raw := toGo(value)
	if raw == nil {
		return nil, nil
	}
	bad := func() error {
		return storeerr.System("qdrant.decode", fmt.Sprintf("column %s holds an unreadable %s value", col.Name, col.Type), nil).
			With("column", col.Name)
	}
	switch col.Type {
	case store.ColumnText:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case store.ColumnInteger:
		switch n := raw.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		}
	case store.ColumnNumber:
		switch n := raw.(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case store.ColumnBoolean:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case store.ColumnTimestamp:
		switch n := raw.(type) {
		case int64:
			return time.UnixMicro(n).UTC(), nil
		case float64:
			return time.UnixMicro(int64(n)).UTC(), nil
		}
	case store.ColumnStructured:
		return jsonNumbers(raw), nil
	}
	return nil, bad()
}

// toGo converts a payload value to plain Go values.
func toGo(value *qdrant.Value) any {
	if value == nil {
		return nil
	}
	switch k := value.GetKind().(type) {
	case *qdrant.Value_NullValue:
		return nil
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_ListValue:
		items := k.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = toGo(item)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := k.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for key, item := range fields {
			out[key] = toGo(item)
		}
		return out
	}
	return nil
}

// jsonNumbers reports integers inside structured values as float64, the way
// encoding/json decodes them on the other backends.
func jsonNumbers(v any) any {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case []any:
		for i := range x {
			x[i] = jsonNumbers(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = jsonNumbers(x[k])
		}
	}
	return v
}

// payloadKeys returns the sorted payload keys of a point.
func payloadKeys(payload map[string]*qdrant.Value) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
