package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/polystore/internal/storeerr"
)

func TestParseExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want Filter
	}{
		{
			name: "equality",
			expr: `status == "published"`,
			want: Filter{"status": map[string]any{"$eq": "published"}},
		},
		{
			name: "nested path and number",
			expr: `metadata.priority >= 3`,
			want: Filter{"metadata.priority": map[string]any{"$gte": int64(3)}},
		},
		{
			name: "literal on the left",
			expr: `3 < age`,
			want: Filter{"age": map[string]any{"$gt": int64(3)}},
		},
		{
			name: "flattened conjunction",
			expr: `a == 1 && b == 2 && c == 3`,
			want: Filter{"$and": []any{
				map[string]any{"a": map[string]any{"$eq": int64(1)}},
				map[string]any{"b": map[string]any{"$eq": int64(2)}},
				map[string]any{"c": map[string]any{"$eq": int64(3)}},
			}},
		},
		{
			name: "negation",
			expr: `!(archived == true)`,
			want: Filter{"$not": map[string]any{"archived": map[string]any{"$eq": true}}},
		},
		{
			name: "in list",
			expr: `role in ["user", "assistant"]`,
			want: Filter{"role": map[string]any{"$in": []any{"user", "assistant"}}},
		},
		{
			name: "has",
			expr: `has(metadata.team)`,
			want: Filter{"metadata.team": map[string]any{"$exists": true}},
		},
		{
			name: "null",
			expr: `deletedAt == null`,
			want: Filter{"deletedAt": map[string]any{"$eq": nil}},
		},
		{
			name: "starts with",
			expr: `title.startsWith("Q1.")`,
			want: Filter{"title": map[string]any{"$regex": `^Q1\.`}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseExpressionTimestamp(t *testing.T) {
	got, err := ParseExpression(`createdAt >= timestamp("2024-01-02T00:00:00Z")`)
	require.NoError(t, err)
	assert.Equal(t, Filter{"createdAt": map[string]any{"$gte": time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}}, got)
}

func TestParseExpressionFeedsMatcher(t *testing.T) {
	f, err := ParseExpression(`metadata.team == "core" && (priority >= 3 || !has(metadata.archived))`)
	require.NoError(t, err)
	m, err := CompileMatcher(f)
	require.NoError(t, err)
	assert.True(t, m(map[string]any{"priority": 1, "metadata": map[string]any{"team": "core"}}))
	assert.False(t, m(map[string]any{"priority": 1, "metadata": map[string]any{"team": "core", "archived": true}}))
	assert.False(t, m(map[string]any{"priority": 5, "metadata": map[string]any{"team": "infra"}}))
}

func TestParseExpressionErrors(t *testing.T) {
	for _, expr := range []string{`status ==`, `a == b`, `size(tags) > 1`, `a + 1 == 2`} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseExpression(expr)
			require.Error(t, err)
			assert.True(t, storeerr.IsUser(err))
		})
	}
}
