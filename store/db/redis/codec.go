package redis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

// document is a row as stored: one JSON value per column.
type document map[string]json.RawMessage

// rowID renders the primary key as a JSON array, e.g. ["t1",3].
func rowID(schema *store.TableSchema, keys store.Row) (string, error) {
	pk := schema.PrimaryKey()
	if len(pk) == 0 {
		return "", storeerr.Userf("redis.key", "table %s has no primary key", schema.Name).With("table", schema.Name)
	}
	parts := make([]any, len(pk))
	for i, name := range pk {
		v, ok := keys[name]
		if !ok || v == nil {
			return "", storeerr.Userf("redis.key", "missing key column %s", name).With("column", name)
		}
		col, _ := schema.Column(name)
		enc, err := encodeValue(col, v)
		if err != nil {
			return "", err
		}
		parts[i] = enc
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", storeerr.Userf("redis.key", "key is not serializable: %v", err)
	}
	return string(data), nil
}

// encodeRow validates row against the schema. Columns with a default that
// the row omits are filled when withDefaults is set.
func encodeRow(schema *store.TableSchema, row store.Row, withDefaults bool) (document, error) {
	doc := make(document, len(row))
	for name, v := range row {
		col, ok := schema.Column(name)
		if !ok {
			return nil, storeerr.Userf("redis.encode", "unknown column %s on table %s", name, schema.Name).
				With("column", name).With("table", schema.Name)
		}
		raw, err := encodeRaw(col, v)
		if err != nil {
			return nil, err
		}
		doc[name] = raw
	}
	if withDefaults {
		for _, col := range schema.Columns {
			if _, ok := doc[col.Name]; ok || col.Default == nil {
				continue
			}
			raw, err := encodeRaw(col, col.Default)
			if err != nil {
				return nil, err
			}
			doc[col.Name] = raw
		}
	}
	return doc, nil
}

func encodeRaw(col store.Column, v any) (json.RawMessage, error) {
	enc, err := encodeValue(col, v)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(enc)
	if err != nil {
		return nil, storeerr.Userf("redis.encode", "column %s: %v", col.Name, err).With("column", col.Name)
	}
	return data, nil
}

// encodeValue converts v to the JSON-ready form of its column type.
func encodeValue(col store.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	mismatch := func() error {
		return storeerr.Userf("redis.encode", "column %s of type %s cannot hold %T", col.Name, col.Type, v).With("column", col.Name)
	}
	switch col.Type {
	case store.ColumnText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, mismatch()
	case store.ColumnInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case *int64:
			if n == nil {
				return nil, nil
			}
			return *n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		}
		return nil, mismatch()
	case store.ColumnNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
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
			return t.UTC().Format(time.RFC3339Nano), nil
		case *time.Time:
			if t == nil {
				return nil, nil
			}
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		return nil, mismatch()
	case store.ColumnStructured:
		return v, nil
	}
	return nil, storeerr.System("redis.encode", fmt.Sprintf("unknown column type %q", col.Type), nil)
}

func decodeDocument(schema *store.TableSchema, data []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, storeerr.System("redis.decode", "stored row is not a JSON object", err).With("table", schema.Name)
	}
	return doc, nil
}

// decodeRow converts a stored document to Go values. Columns added with a
// default after the row was written report that default.
func decodeRow(schema *store.TableSchema, doc document) (store.Row, error) {
	row := make(store.Row, len(doc))
	for name, raw := range doc {
		col, ok := schema.Column(name)
		if !ok {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, storeerr.System("redis.decode", "stored value is unreadable", err).With("column", name)
			}
			row[name] = v
			continue
		}
		v, err := decodeValue(col, raw)
		if err != nil {
			return nil, err
		}
		row[name] = v
	}
	for _, col := range schema.Columns {
		if _, ok := doc[col.Name]; ok || col.Default == nil {
			continue
		}
		raw, err := encodeRaw(col, col.Default)
		if err != nil {
			return nil, err
		}
		if row[col.Name], err = decodeValue(col, raw); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func decodeValue(col store.Column, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	bad := func(err error) error {
		return storeerr.System("redis.decode", fmt.Sprintf("column %s holds an unreadable %s value", col.Name, col.Type), err).
			With("column", col.Name)
	}
	switch col.Type {
	case store.ColumnText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, bad(err)
		}
		return s, nil
	case store.ColumnInteger:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, bad(err)
		}
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, bad(err)
		}
		return int64(f), nil
	case store.ColumnNumber:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, bad(err)
		}
		return f, nil
	case store.ColumnBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, bad(err)
		}
		return b, nil
	case store.ColumnTimestamp:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, bad(err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, bad(err)
		}
		return t.UTC(), nil
	case store.ColumnStructured:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, bad(err)
		}
		return v, nil
	}
	return nil, bad(nil)
}
