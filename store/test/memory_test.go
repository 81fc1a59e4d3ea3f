package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

func TestThreadStore(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)

		created, err := ts.SaveThread(ctx, &store.Thread{
			ResourceID: "user-1",
			Title:      "first",
			Metadata:   map[string]any{"topic": "go", "pinned": true},
		})
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)

		thread, err := ts.GetThreadByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, thread)
		assert.Equal(t, "first", thread.Title)
		assert.Equal(t, "user-1", thread.ResourceID)
		assert.Equal(t, map[string]any{"topic": "go", "pinned": true}, thread.Metadata)
		assert.True(t, created.CreatedAt.Equal(thread.CreatedAt))

		title := "renamed"
		updated, err := ts.UpdateThread(ctx, &store.UpdateThread{
			ID:       created.ID,
			Title:    &title,
			Metadata: map[string]any{"pinned": false},
		})
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Title)
		assert.Equal(t, map[string]any{"topic": "go", "pinned": false}, updated.Metadata)
		assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

		_, err = ts.UpdateThread(ctx, &store.UpdateThread{ID: "missing", Title: &title})
		require.Error(t, err)
		assert.True(t, storeerr.IsUser(err))

		missing, err := ts.GetThreadByID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, missing)

		require.NoError(t, ts.DeleteThread(ctx, created.ID))
		require.NoError(t, ts.DeleteThread(ctx, created.ID))
		thread, err = ts.GetThreadByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Nil(t, thread)
	})
}

func TestListThreadsPagination(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)

		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 7; i++ {
			_, err := ts.SaveThread(ctx, &store.Thread{
				ID:         fmt.Sprintf("thread-%d", i),
				ResourceID: "user-1",
				CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
		}
		_, err := ts.SaveThread(ctx, &store.Thread{ID: "other", ResourceID: "user-2"})
		require.NoError(t, err)

		seen := map[string]bool{}
		var order []string
		for page := 0; ; page++ {
			result, err := ts.ListThreadsByResourceID(ctx, &store.ListThreads{
				ResourceID:  "user-1",
				PageRequest: store.PageRequest{Page: page, PerPage: 3},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(7), result.Total)
			for _, th := range result.Items {
				assert.False(t, seen[th.ID], "thread %s returned twice", th.ID)
				seen[th.ID] = true
				order = append(order, th.ID)
			}
			if !result.HasMore {
				break
			}
		}
		assert.Len(t, seen, 7)
		assert.Equal(t, "thread-6", order[0])
		assert.Equal(t, "thread-0", order[6])

		all, err := ts.ListThreadsByResourceID(ctx, &store.ListThreads{
			ResourceID: "user-1",
			PageRequest: store.PageRequest{
				PerPage: store.PerPageUnbounded,
				OrderBy: store.OrderBy{Field: "createdAt", Direction: store.DirectionAsc},
			},
		})
		require.NoError(t, err)
		require.Len(t, all.Items, 7)
		assert.Equal(t, "thread-0", all.Items[0].ID)
		assert.False(t, all.HasMore)

		_, err = ts.ListThreadsByResourceID(ctx, &store.ListThreads{
			ResourceID:  "user-1",
			PageRequest: store.PageRequest{OrderBy: store.OrderBy{Field: "title"}},
		})
		require.Error(t, err)
		assert.True(t, storeerr.IsUser(err))
	})
}

func TestResourceStore(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)

		memory := "# Notes\n- likes tea"
		created, err := ts.UpdateResource(ctx, &store.UpdateResource{
			ID:            "user-1",
			WorkingMemory: &memory,
			Metadata:      map[string]any{"plan": "free"},
		})
		require.NoError(t, err)
		assert.Equal(t, memory, created.WorkingMemory)

		updated, err := ts.UpdateResource(ctx, &store.UpdateResource{
			ID:       "user-1",
			Metadata: map[string]any{"locale": "en"},
		})
		require.NoError(t, err)
		assert.Equal(t, memory, updated.WorkingMemory)

		resource, err := ts.GetResourceByID(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, resource)
		assert.Equal(t, memory, resource.WorkingMemory)
		assert.Equal(t, map[string]any{"plan": "free", "locale": "en"}, resource.Metadata)

		missing, err := ts.GetResourceByID(ctx, "user-2")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestMessageStore(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)

		thread, err := ts.SaveThread(ctx, &store.Thread{ID: "thread-1", ResourceID: "user-1"})
		require.NoError(t, err)
		_, err = ts.SaveThread(ctx, &store.Thread{ID: "thread-2", ResourceID: "user-1"})
		require.NoError(t, err)

		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		var batch []*store.Message
		for i := 0; i < 10; i++ {
			batch = append(batch, &store.Message{
				ID:         fmt.Sprintf("m%02d", i),
				ThreadID:   thread.ID,
				ResourceID: "user-1",
				Role:       "user",
				Type:       "text",
				Content:    fmt.Sprintf("message %d", i),
				CreatedAt:  base.Add(time.Duration(i) * time.Second),
			})
		}
		saved, err := ts.SaveMessages(ctx, batch)
		require.NoError(t, err)
		require.Len(t, saved, 10)
		require.NotNil(t, saved[0].Position)
		assert.Equal(t, base.UnixMilli(), *saved[0].Position)

		_, err = ts.SaveMessages(ctx, []*store.Message{{ThreadID: "missing", Role: "user", Content: "x"}})
		require.Error(t, err)
		assert.True(t, storeerr.IsUser(err))

		t.Run("pages cover every message once", func(t *testing.T) {
			seen := map[string]bool{}
			for page := 0; ; page++ {
				result, err := ts.ListMessages(ctx, &store.ListMessages{
					ThreadIDs:   []string{thread.ID},
					PageRequest: store.PageRequest{Page: page, PerPage: 4},
				})
				require.NoError(t, err)
				assert.Equal(t, int64(10), result.Total)
				for _, m := range result.Items {
					assert.False(t, seen[m.ID])
					seen[m.ID] = true
				}
				if !result.HasMore {
					break
				}
			}
			assert.Len(t, seen, 10)
		})

		t.Run("date range is inclusive", func(t *testing.T) {
			start, end := base.Add(2*time.Second), base.Add(4*time.Second)
			result, err := ts.ListMessages(ctx, &store.ListMessages{
				ThreadIDs:   []string{thread.ID},
				DateRange:   &store.DateRange{Start: &start, End: &end},
				PageRequest: store.PageRequest{PerPage: store.PerPageUnbounded},
			})
			require.NoError(t, err)
			require.Len(t, result.Items, 3)
			assert.Equal(t, "m02", result.Items[0].ID)
			assert.Equal(t, "m04", result.Items[2].ID)
		})

		t.Run("include window adds context messages", func(t *testing.T) {
			start := base.Add(9 * time.Second)
			result, err := ts.ListMessages(ctx, &store.ListMessages{
				ThreadIDs: []string{thread.ID},
				DateRange: &store.DateRange{Start: &start},
				Include: []store.IncludeMessages{
					{ID: "m05", WithPreviousMessages: 2, WithNextMessages: 1},
				},
				PageRequest: store.PageRequest{PerPage: store.PerPageUnbounded},
			})
			require.NoError(t, err)
			var ids []string
			for _, m := range result.Items {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, []string{"m03", "m04", "m05", "m06", "m09"}, ids)
		})

		t.Run("include window survives paging", func(t *testing.T) {
			result, err := ts.ListMessages(ctx, &store.ListMessages{
				ThreadIDs: []string{thread.ID},
				Include:   []store.IncludeMessages{{ID: "m05", WithPreviousMessages: 2, WithNextMessages: 1}},
				PageRequest: store.PageRequest{
					PerPage: 2,
					OrderBy: store.OrderBy{Field: "createdAt", Direction: store.DirectionDesc},
				},
			})
			require.NoError(t, err)
			ids := map[string]bool{}
			for _, m := range result.Items {
				ids[m.ID] = true
			}
			for _, id := range []string{"m09", "m08", "m03", "m04", "m05", "m06"} {
				assert.True(t, ids[id], "missing %s", id)
			}
			assert.Len(t, result.Items, 6)
			assert.True(t, result.HasMore)
			assert.Equal(t, "m09", result.Items[0].ID)
		})

		t.Run("update merges content and moves threads", func(t *testing.T) {
			_, err := ts.SaveMessages(ctx, []*store.Message{{
				ID:        "tool",
				ThreadID:  thread.ID,
				Role:      "assistant",
				Type:      "tool-call",
				Content:   map[string]any{"tool": "search", "args": map[string]any{"q": "go"}},
				CreatedAt: base.Add(time.Minute),
			}})
			require.NoError(t, err)

			target := "thread-2"
			updated, err := ts.UpdateMessages(ctx, []*store.MessagePatch{{
				ID:       "tool",
				ThreadID: &target,
				Content:  map[string]any{"args": map[string]any{"limit": 5}},
			}})
			require.NoError(t, err)
			require.Len(t, updated, 1)
			assert.Equal(t, "thread-2", updated[0].ThreadID)

			result, err := ts.ListMessages(ctx, &store.ListMessages{ThreadIDs: []string{"thread-2"}})
			require.NoError(t, err)
			require.Len(t, result.Items, 1)
			assert.Equal(t, map[string]any{
				"tool": "search",
				"args": map[string]any{"q": "go", "limit": float64(5)},
			}, result.Items[0].Content)
		})

		t.Run("delete messages and thread", func(t *testing.T) {
			require.NoError(t, ts.DeleteMessages(ctx, []string{"m00", "m01", "unknown"}))
			result, err := ts.ListMessages(ctx, &store.ListMessages{ThreadIDs: []string{thread.ID}})
			require.NoError(t, err)
			assert.Equal(t, int64(8), result.Total)

			require.NoError(t, ts.DeleteThread(ctx, thread.ID))
			result, err = ts.ListMessages(ctx, &store.ListMessages{ThreadIDs: []string{thread.ID}})
			require.NoError(t, err)
			assert.Zero(t, result.Total)
		})
	})
}

func TestMessageOrderTiesByID(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)
		_, err := ts.SaveThread(ctx, &store.Thread{ID: "thread-1", ResourceID: "user-1"})
		require.NoError(t, err)

		at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		var batch []*store.Message
		for _, id := range []string{"m3", "m1", "m4", "m0", "m2"} {
			batch = append(batch, &store.Message{ID: id, ThreadID: "thread-1", Role: "user", Content: id, CreatedAt: at})
		}
		_, err = ts.SaveMessages(ctx, batch)
		require.NoError(t, err)

		for _, tt := range []struct {
			name  string
			order store.OrderBy
		}{
			{"createdAt asc", store.OrderBy{Field: "createdAt", Direction: store.DirectionAsc}},
			{"createdAt desc", store.OrderBy{Field: "createdAt", Direction: store.DirectionDesc}},
			{"position asc", store.OrderBy{Field: "position", Direction: store.DirectionAsc}},
		} {
			t.Run(tt.name, func(t *testing.T) {
				var ids []string
				for page := 0; ; page++ {
					result, err := ts.ListMessages(ctx, &store.ListMessages{
						ThreadIDs:   []string{"thread-1"},
						PageRequest: store.PageRequest{Page: page, PerPage: 2, OrderBy: tt.order},
					})
					require.NoError(t, err)
					for _, m := range result.Items {
						ids = append(ids, m.ID)
					}
					if !result.HasMore {
						break
					}
				}
				assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, ids)
			})
		}
	})
}

func TestMessageWindowTiedPositions(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)
		_, err := ts.SaveThread(ctx, &store.Thread{ID: "thread-1", ResourceID: "user-1"})
		require.NoError(t, err)

		position := func(p int64) *int64 { return &p }
		base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		positions := []int64{50, 100, 100, 100, 100, 100, 200}
		var batch []*store.Message
		for i, p := range positions {
			batch = append(batch, &store.Message{
				ID:         fmt.Sprintf("w%d", i),
				ThreadID:   "thread-1",
				ResourceID: "user-1",
				Role:       "user",
				Content:    fmt.Sprintf("w%d", i),
				Position:   position(p),
				// Creation order deliberately disagrees with position order.
				CreatedAt: base.Add(time.Duration(len(positions)-i) * time.Second),
			})
		}
		_, err = ts.SaveMessages(ctx, batch)
		require.NoError(t, err)

		tests := []struct {
			name           string
			previous, next int
			want           []string
		}{
			{"anchor only", 0, 0, []string{"w3"}},
			{"within the tie", 1, 1, []string{"w2", "w3", "w4"}},
			{"across the tie", 3, 3, []string{"w0", "w1", "w2", "w3", "w4", "w5", "w6"}},
			{"more than exist", 10, 10, []string{"w0", "w1", "w2", "w3", "w4", "w5", "w6"}},
			{"previous only", 2, 0, []string{"w1", "w2", "w3"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// No message matches the resource filter, so the page holds the window alone.
				result, err := ts.ListMessages(ctx, &store.ListMessages{
					ThreadIDs:  []string{"thread-1"},
					ResourceID: "nobody",
					Include:    []store.IncludeMessages{{ID: "w3", WithPreviousMessages: tt.previous, WithNextMessages: tt.next}},
					PageRequest: store.PageRequest{
						PerPage: store.PerPageUnbounded,
						OrderBy: store.OrderBy{Field: "position", Direction: store.DirectionAsc},
					},
				})
				require.NoError(t, err)
				var ids []string
				for _, m := range result.Items {
					ids = append(ids, m.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})
}

func TestUpdateMessagesBatch(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)
		for _, id := range []string{"source", "target"} {
			_, err := ts.SaveThread(ctx, &store.Thread{ID: id, ResourceID: "user-1"})
			require.NoError(t, err)
		}
		at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		_, err := ts.SaveMessages(ctx, []*store.Message{
			{ID: "a", ThreadID: "source", Role: "user", Content: "a", CreatedAt: at},
			{ID: "b", ThreadID: "source", Role: "user", Content: "b", CreatedAt: at},
			{ID: "c", ThreadID: "source", Role: "user", Content: map[string]any{"text": "c"}, CreatedAt: at},
		})
		require.NoError(t, err)

		t.Run("moves into one thread get distinct positions", func(t *testing.T) {
			to := "target"
			updated, err := ts.UpdateMessages(ctx, []*store.MessagePatch{
				{ID: "b", ThreadID: &to},
				{ID: "a", ThreadID: &to},
			})
			require.NoError(t, err)
			require.Len(t, updated, 2)
			assert.NotEqual(t, *updated[0].Position, *updated[1].Position)
			assert.Less(t, *updated[0].Position, *updated[1].Position)

			result, err := ts.ListMessages(ctx, &store.ListMessages{
				ThreadIDs:   []string{"target"},
				PageRequest: store.PageRequest{OrderBy: store.OrderBy{Field: "position"}},
			})
			require.NoError(t, err)
			require.Len(t, result.Items, 2)
			assert.Equal(t, "b", result.Items[0].ID)
			assert.Equal(t, "a", result.Items[1].ID)
		})

		t.Run("patches for one id are combined", func(t *testing.T) {
			role := "assistant"
			updated, err := ts.UpdateMessages(ctx, []*store.MessagePatch{
				{ID: "c", Role: &role},
				{ID: "c", Content: map[string]any{"edited": true}},
			})
			require.NoError(t, err)
			require.Len(t, updated, 1)

			result, err := ts.ListMessages(ctx, &store.ListMessages{ThreadIDs: []string{"source"}})
			require.NoError(t, err)
			require.Len(t, result.Items, 1)
			assert.Equal(t, "assistant", result.Items[0].Role)
			assert.Equal(t, map[string]any{"text": "c", "edited": true}, result.Items[0].Content)
		})

		t.Run("missing target thread", func(t *testing.T) {
			to := "missing"
			_, err := ts.UpdateMessages(ctx, []*store.MessagePatch{{ID: "c", ThreadID: &to}})
			require.Error(t, err)
			assert.True(t, storeerr.IsNotFound(err))
		})
	})
}
