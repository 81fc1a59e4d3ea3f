package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

func TestInitRunsSetupOnce(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()

		single, singleHooks := newHookedStore(t, driver)
		require.NoError(t, single.Init(ctx))
		tables := singleHooks.createCount()
		require.Positive(t, tables)

		ts, hooked := newHookedStore(t, driver)
		release := make(chan struct{})
		hooked.onCreateTable = func() { <-release }

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(func() error { return ts.Init(ctx) })
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		require.NoError(t, g.Wait())
		assert.Equal(t, tables, hooked.createCount())

		require.NoError(t, ts.Init(ctx))
		assert.Equal(t, tables, hooked.createCount())
	})
}

func TestInitDetachedFromCallerCancellation(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		t.Run("canceled waiter does not fail the others", func(t *testing.T) {
			ts, hooked := newHookedStore(t, driver)
			started := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			hooked.onCreateTable = func() {
				once.Do(func() { close(started) })
				<-release
			}

			ctx, cancel := context.WithCancel(context.Background())
			first := make(chan error, 1)
			go func() { first <- ts.Init(ctx) }()
			<-started

			second := make(chan error, 1)
			go func() { second <- ts.Init(context.Background()) }()
			time.Sleep(50 * time.Millisecond)
			cancel()
			close(release)

			require.NoError(t, <-second)
			require.NoError(t, <-first)
			_, err := ts.SaveThread(context.Background(), &store.Thread{ID: "t1", ResourceID: "r1"})
			require.NoError(t, err)
		})

		t.Run("already canceled context", func(t *testing.T) {
			ts, _ := newHookedStore(t, driver)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			require.NoError(t, ts.Init(ctx))
		})
	})
}

func TestBackendErrorsCarryOperation(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts, hooked := newHookedStore(t, driver)
		require.NoError(t, ts.Init(ctx))
		_, err := ts.SaveThread(ctx, &store.Thread{ID: "t1", ResourceID: "r1"})
		require.NoError(t, err)
		_, err = ts.Agents.Create(ctx, &store.CreateEntity[store.AgentConfig]{ID: "agent-1", Config: testAgentConfig("a")})
		require.NoError(t, err)

		backend := errors.New("connection reset by peer")
		tests := []struct {
			name    string
			method  string
			call    func() error
			op      string
			details map[string]any
		}{
			{
				name:    "get thread",
				method:  "Get",
				call:    func() error { _, err := ts.GetThreadByID(ctx, "t1"); return err },
				op:      "memory.getThreadById",
				details: map[string]any{"threadId": "t1"},
			},
			{
				name:    "save thread",
				method:  "Insert",
				call:    func() error { _, err := ts.SaveThread(ctx, &store.Thread{ID: "t1", ResourceID: "r1"}); return err },
				op:      "memory.saveThread",
				details: map[string]any{"threadId": "t1", "resourceId": "r1"},
			},
			{
				name:    "delete thread",
				method:  "Transact",
				call:    func() error { return ts.DeleteThread(ctx, "t1") },
				op:      "memory.deleteThread",
				details: map[string]any{"threadId": "t1"},
			},
			{
				name:    "get resource",
				method:  "Get",
				call:    func() error { _, err := ts.GetResourceByID(ctx, "r1"); return err },
				op:      "memory.getResourceById",
				details: map[string]any{"resourceId": "r1"},
			},
			{
				name:    "delete messages",
				method:  "Query",
				call:    func() error { return ts.DeleteMessages(ctx, []string{"m1"}) },
				op:      "memory.deleteMessages",
				details: map[string]any{"messageIds": []string{"m1"}},
			},
			{
				name:    "latest agent version",
				method:  "Query",
				call:    func() error { _, err := ts.Agents.GetLatestVersion(ctx, "agent-1"); return err },
				op:      "agent.getLatestVersion",
				details: map[string]any{"agentId": "agent-1"},
			},
			{
				name:    "agent version",
				method:  "Get",
				call:    func() error { _, err := ts.Agents.GetVersion(ctx, "v1"); return err },
				op:      "agent.getVersion",
				details: map[string]any{"versionId": "v1"},
			},
			{
				name:    "count agent versions",
				method:  "Count",
				call:    func() error { _, err := ts.Agents.CountVersions(ctx, "agent-1"); return err },
				op:      "agent.countVersions",
				details: map[string]any{"agentId": "agent-1"},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				hooked.failOn(tt.method, backend)
				defer hooked.failOn(tt.method, nil)

				err := tt.call()
				require.Error(t, err)
				assert.ErrorIs(t, err, backend)
				var se *storeerr.Error
				require.ErrorAs(t, err, &se)
				assert.Equal(t, storeerr.CategoryThirdParty, se.Category)
				assert.Equal(t, tt.op, se.Op)
				assert.Equal(t, tt.details, se.Details)
			})
		}

		// Invalid input keeps its own category.
		hooked.failOn("Get", backend)
		_, err = ts.SaveMessages(ctx, []*store.Message{{Role: "user"}})
		assert.True(t, storeerr.IsUser(err))
	})
}

func TestThreadTimestamps(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts, hooked := newHookedStore(t, driver)
		require.NoError(t, ts.Init(ctx))

		t.Run("save stamps updatedAt", func(t *testing.T) {
			past := time.Now().Add(-time.Hour).UTC()
			before := time.Now().Add(-time.Second)
			saved, err := ts.SaveThread(ctx, &store.Thread{
				ID:         "stamped",
				ResourceID: "r1",
				CreatedAt:  past,
				UpdatedAt:  past,
			})
			require.NoError(t, err)
			assert.True(t, saved.UpdatedAt.After(before), "updatedAt %v not stamped", saved.UpdatedAt)
			assert.WithinDuration(t, past, saved.CreatedAt, time.Millisecond)

			stored, err := ts.GetThreadByID(ctx, "stamped")
			require.NoError(t, err)
			assert.True(t, stored.UpdatedAt.Equal(saved.UpdatedAt))
		})

		_, err := ts.SaveThread(ctx, &store.Thread{ID: "source", ResourceID: "r1"})
		require.NoError(t, err)
		_, err = ts.SaveThread(ctx, &store.Thread{ID: "target", ResourceID: "r1"})
		require.NoError(t, err)
		_, err = ts.SaveMessages(ctx, []*store.Message{
			{ID: "a", ThreadID: "source", Role: "user", Content: "a"},
			{ID: "b", ThreadID: "source", Role: "user", Content: "b"},
			{ID: "c", ThreadID: "source", Role: "user", Content: "c"},
		})
		require.NoError(t, err)

		threadUpdatedAt := func(id string) time.Time {
			th, err := ts.GetThreadByID(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, th)
			return th.UpdatedAt
		}

		t.Run("move touches both threads", func(t *testing.T) {
			source, target := threadUpdatedAt("source"), threadUpdatedAt("target")
			time.Sleep(5 * time.Millisecond)
			to := "target"
			_, err := ts.UpdateMessages(ctx, []*store.MessagePatch{{ID: "a", ThreadID: &to}})
			require.NoError(t, err)
			assert.True(t, threadUpdatedAt("source").After(source))
			assert.True(t, threadUpdatedAt("target").After(target))
		})

		t.Run("delete touches each thread once", func(t *testing.T) {
			before := threadUpdatedAt("source")
			time.Sleep(5 * time.Millisecond)
			hooked.resetUpdates()
			require.NoError(t, ts.DeleteMessages(ctx, []string{"b", "c"}))
			assert.Equal(t, 1, hooked.updateCount(store.TableThreads))
			assert.True(t, threadUpdatedAt("source").After(before))
		})
	})
}
