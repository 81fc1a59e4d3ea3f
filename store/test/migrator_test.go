package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/polystore/store"
)

func legacyAgentSchema(name string) *store.TableSchema {
	return &store.TableSchema{
		Name: name,
		Columns: []store.Column{
			{Name: "id", Type: store.ColumnText, PrimaryKey: true},
			{Name: "name", Type: store.ColumnText},
			{Name: "instructions", Type: store.ColumnText},
			{Name: "model", Type: store.ColumnText},
			{Name: "tools", Type: store.ColumnStructured, Nullable: true},
			{Name: "authorId", Type: store.ColumnText, Nullable: true},
			{Name: "createdAt", Type: store.ColumnTimestamp},
			{Name: "updatedAt", Type: store.ColumnTimestamp},
		},
	}
}

func seedLegacyAgents(ctx context.Context, t *testing.T, driver store.Driver, table string) time.Time {
	t.Helper()
	at := time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, driver.CreateTable(ctx, legacyAgentSchema(table)))
	require.NoError(t, driver.BatchInsert(ctx, table, []store.Row{
		{"id": "legacy-1", "name": "writer", "instructions": "write", "model": "gpt-4", "tools": []any{"web"}, "authorId": "alice", "createdAt": at, "updatedAt": at},
		{"id": "legacy-2", "name": "reader", "instructions": "read", "model": "gpt-4", "tools": nil, "authorId": nil, "createdAt": at, "updatedAt": at},
	}, store.InsertUpsert))
	return at
}

func TestLegacyAgentMigration(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		p := NewTestingProfile(t, driver)
		d := NewTestingDriver(t, p)
		table := p.Namespace + store.AgentKind().Table
		at := seedLegacyAgents(ctx, t, d, table)

		ts := store.New(d, p)
		t.Cleanup(func() { _ = ts.Close() })
		require.NoError(t, ts.Init(ctx))

		entity, err := ts.Agents.GetByIDResolved(ctx, "legacy-1")
		require.NoError(t, err)
		require.NotNil(t, entity)
		assert.Equal(t, store.StatusPublished, entity.Status)
		assert.Equal(t, "alice", entity.AuthorID)
		assert.True(t, at.Equal(entity.CreatedAt))
		assert.Equal(t, entity.Version.ID, entity.ActiveVersionID)
		assert.Equal(t, 1, entity.Version.VersionNumber)
		assert.Equal(t, store.LegacyChangeMessage, entity.Version.ChangeMessage)
		assert.Equal(t, "writer", entity.Version.Config.Name)
		assert.Equal(t, []string{"web"}, entity.Version.Config.Tools)

		reader, err := ts.Agents.GetByIDResolved(ctx, "legacy-2")
		require.NoError(t, err)
		require.NotNil(t, reader)
		assert.Empty(t, reader.AuthorID)
		assert.Equal(t, "read", reader.Version.Config.Instructions)

		exists, err := d.TableExists(ctx, table+"_legacy")
		require.NoError(t, err)
		assert.False(t, exists)

		columns, err := d.ListColumns(ctx, table)
		require.NoError(t, err)
		assert.Contains(t, columns, "activeVersionId")
		assert.NotContains(t, columns, "instructions")
	})
}

func TestLegacyMigrationResumes(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		p := NewTestingProfile(t, driver)
		d := NewTestingDriver(t, p)
		table := p.Namespace + store.AgentKind().Table

		// A run that stopped after the rename leaves only <table>_legacy.
		seedLegacyAgents(ctx, t, d, table+"_legacy")

		ts := store.New(d, p)
		t.Cleanup(func() { _ = ts.Close() })
		require.NoError(t, ts.Init(ctx))

		page, err := ts.Agents.List(ctx, &store.ListEntities{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Total)

		count, err := ts.Agents.CountVersions(ctx, "legacy-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}
