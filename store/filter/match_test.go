package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	row := map[string]any{
		"id":        "t1",
		"title":     "Quarterly planning",
		"age":       int64(30),
		"score":     4.5,
		"archived":  false,
		"createdAt": created,
		"deletedAt": nil,
		"tags":      []any{"ops", "q2"},
		"metadata":  map[string]any{"team": "core", "priority": float64(3)},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"string eq", Filter{"id": "t1"}, true},
		{"number eq is type sensitive", Filter{"age": map[string]any{"$eq": "30"}}, false},
		{"number eq", Filter{"age": map[string]any{"$eq": 30}}, true},
		{"range", Filter{"score": map[string]any{"$gt": 4, "$lte": 4.5}}, true},
		{"range miss", Filter{"score": map[string]any{"$lt": 4}}, false},
		{"bool", Filter{"archived": false}, true},
		{"date range", Filter{"createdAt": map[string]any{"$gte": created.Add(-time.Hour)}}, true},
		{"null eq", Filter{"deletedAt": nil}, true},
		{"missing is null", Filter{"missing": nil}, true},
		{"ne null", Filter{"title": map[string]any{"$ne": nil}}, true},
		{"nested path", Filter{"metadata.team": "core"}, true},
		{"nested number", Filter{"metadata.priority": map[string]any{"$gte": 3}}, true},
		{"array membership", Filter{"tags": "ops"}, true},
		{"in", Filter{"id": map[string]any{"$in": []any{"t0", "t1"}}}, true},
		{"nin", Filter{"id": map[string]any{"$nin": []any{"t1"}}}, false},
		{"exists", Filter{"metadata.team": map[string]any{"$exists": true}}, true},
		{"not exists", Filter{"deletedAt": map[string]any{"$exists": false}}, true},
		{"regex", Filter{"title": map[string]any{"$regex": "^Quarter"}}, true},
		{"or", Filter{"$or": []any{map[string]any{"id": "x"}, map[string]any{"age": 30}}}, true},
		{"nor", Filter{"$nor": []any{map[string]any{"id": "x"}, map[string]any{"age": 30}}}, false},
		{"not", Filter{"$not": map[string]any{"id": "t1"}}, false},
		{"field not", Filter{"age": map[string]any{"$not": map[string]any{"$lt": 18}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := CompileMatcher(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m(row))
		})
	}
}

func TestLookup(t *testing.T) {
	row := map[string]any{"a.b": 1, "c": map[string]any{"d": map[string]any{"e": "x"}}}
	v, ok := Lookup(row, "a.b")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = Lookup(row, "c.d.e")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = Lookup(row, "c.x")
	assert.False(t, ok)
}
