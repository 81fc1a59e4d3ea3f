package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

func testAgentConfig(name string) store.AgentConfig {
	return store.AgentConfig{
		Name:         name,
		Instructions: "be helpful",
		Model:        "gpt-4o",
		Tools:        []string{"search"},
	}
}

func TestAgentLifecycle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)

		created, err := ts.Agents.Create(ctx, &store.CreateEntity[store.AgentConfig]{
			ID:       "agent-1",
			AuthorID: "alice",
			Metadata: map[string]any{"team": "core"},
			Config:   testAgentConfig("helper"),
		})
		require.NoError(t, err)
		assert.Equal(t, store.StatusPublished, created.Status)
		assert.Equal(t, created.Version.ID, created.ActiveVersionID)
		assert.Equal(t, 1, created.Version.VersionNumber)
		assert.ElementsMatch(t, ts.Agents.Fields(), created.Version.ChangedFields)

		_, err = ts.Agents.Create(ctx, &store.CreateEntity[store.AgentConfig]{ID: "agent-1", Config: testAgentConfig("dup")})
		require.Error(t, err)
		assert.True(t, storeerr.IsUser(err))

		updated, err := ts.Agents.Update(ctx, "agent-1", &store.EntityPatch{
			Snapshot:      map[string]any{"instructions": "be brief", "model": "gpt-4o"},
			ChangeMessage: "shorter answers",
		})
		require.NoError(t, err)
		// Without Activate the published version stays active.
		assert.Equal(t, created.Version.ID, updated.ActiveVersionID)
		assert.Equal(t, "be helpful", updated.Version.Config.Instructions)

		latest, err := ts.Agents.GetLatestVersion(ctx, "agent-1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, 2, latest.VersionNumber)
		assert.Equal(t, []string{"instructions"}, latest.ChangedFields)
		assert.Equal(t, "shorter answers", latest.ChangeMessage)
		assert.Equal(t, "be brief", latest.Config.Instructions)
		assert.Equal(t, []string{"search"}, latest.Config.Tools)

		// An unchanged snapshot appends nothing.
		_, err = ts.Agents.Update(ctx, "agent-1", &store.EntityPatch{Snapshot: map[string]any{"model": "gpt-4o"}})
		require.NoError(t, err)
		count, err := ts.Agents.CountVersions(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		activated, err := ts.Agents.Update(ctx, "agent-1", &store.EntityPatch{
			Snapshot: map[string]any{"name": "helper v3"},
			Activate: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, activated.Version.VersionNumber)
		assert.Equal(t, activated.Version.ID, activated.ActiveVersionID)

		first, err := ts.Agents.GetVersionByNumber(ctx, "agent-1", 1)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, created.Version.ID, first.ID)
		assert.Equal(t, "be helpful", first.Config.Instructions)
		assert.Equal(t, "helper", first.Config.Name)

		resolved, err := ts.Agents.GetByIDResolved(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, "helper v3", resolved.Version.Config.Name)
		assert.Equal(t, "be brief", resolved.Version.Config.Instructions)

		rollback := first.ID
		rolled, err := ts.Agents.Update(ctx, "agent-1", &store.EntityPatch{ActiveVersionID: &rollback})
		require.NoError(t, err)
		assert.Equal(t, "helper", rolled.Version.Config.Name)

		versions, err := ts.Agents.ListVersions(ctx, "agent-1", store.PageRequest{PerPage: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), versions.Total)
		require.Len(t, versions.Items, 2)
		assert.True(t, versions.HasMore)

		_, err = ts.Agents.Update(ctx, "agent-1", &store.EntityPatch{Snapshot: map[string]any{"unknown": 1}})
		require.Error(t, err)
		assert.True(t, storeerr.IsUser(err))

		require.NoError(t, ts.Agents.Delete(ctx, "agent-1"))
		header, err := ts.Agents.GetByID(ctx, "agent-1")
		require.NoError(t, err)
		assert.Nil(t, header)
		count, err = ts.Agents.CountVersions(ctx, "agent-1")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestActiveVersionMustBelongToEntity(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)

		a, err := ts.Workspaces.Create(ctx, &store.CreateEntity[store.WorkspaceConfig]{Config: store.WorkspaceConfig{Name: "a"}})
		require.NoError(t, err)
		b, err := ts.Workspaces.Create(ctx, &store.CreateEntity[store.WorkspaceConfig]{Config: store.WorkspaceConfig{Name: "b"}})
		require.NoError(t, err)

		foreign := b.Version.ID
		_, err = ts.Workspaces.Update(ctx, a.ID, &store.EntityPatch{ActiveVersionID: &foreign})
		require.Error(t, err)
		assert.True(t, storeerr.IsUser(err))

		published := store.StatusPublished
		empty := ""
		_, err = ts.Workspaces.Update(ctx, a.ID, &store.EntityPatch{ActiveVersionID: &empty, Status: &published})
		require.Error(t, err)
		assert.True(t, storeerr.IsUser(err))
	})
}

func TestListEntities(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)

		for _, in := range []struct {
			id, author, team string
		}{
			{"a1", "alice", "core"},
			{"a2", "alice", "edge"},
			{"a3", "bob", "core"},
		} {
			_, err := ts.Agents.Create(ctx, &store.CreateEntity[store.AgentConfig]{
				ID:       in.id,
				AuthorID: in.author,
				Metadata: map[string]any{"team": in.team},
				Config:   testAgentConfig(in.id),
			})
			require.NoError(t, err)
		}

		byAuthor, err := ts.Agents.List(ctx, &store.ListEntities{AuthorID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), byAuthor.Total)

		byTeam, err := ts.Agents.List(ctx, &store.ListEntities{
			Metadata:    map[string]any{"team": "core"},
			PageRequest: store.PageRequest{OrderBy: store.OrderBy{Field: "createdAt", Direction: store.DirectionAsc}},
		})
		require.NoError(t, err)
		require.Len(t, byTeam.Items, 2)
		ids := []string{byTeam.Items[0].ID, byTeam.Items[1].ID}
		assert.ElementsMatch(t, []string{"a1", "a3"}, ids)

		drafts, err := ts.Agents.List(ctx, &store.ListEntities{Status: store.StatusDraft})
		require.NoError(t, err)
		assert.Zero(t, drafts.Total)
	})
}

func TestSweepStaleDrafts(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)
		table := ts.Agents.Table()
		now := time.Now().UTC()

		// A create interrupted after the header insert leaves a draft
		// without an active version behind.
		require.NoError(t, ts.GetDriver().Insert(ctx, table, store.Row{
			"id":              "orphan",
			"status":          string(store.StatusDraft),
			"activeVersionId": nil,
			"authorId":        nil,
			"metadata":        nil,
			"createdAt":       now,
			"updatedAt":       now,
		}, store.InsertIfAbsent))
		_, err := ts.Agents.Create(ctx, &store.CreateEntity[store.AgentConfig]{ID: "kept", Config: testAgentConfig("kept")})
		require.NoError(t, err)

		reclaimed, err := ts.SweepStaleDrafts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, reclaimed)

		orphan, err := ts.Agents.GetByID(ctx, "orphan")
		require.NoError(t, err)
		assert.Nil(t, orphan)
		kept, err := ts.Agents.GetByID(ctx, "kept")
		require.NoError(t, err)
		assert.NotNil(t, kept)
	})
}

func TestDraftKeepsActiveVersion(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		ts := NewTestingStore(ctx, t, driver)
		created, err := ts.Agents.Create(ctx, &store.CreateEntity[store.AgentConfig]{ID: "agent-1", Config: testAgentConfig("a")})
		require.NoError(t, err)

		draft := store.StatusDraft
		empty := ""
		_, err = ts.Agents.Update(ctx, "agent-1", &store.EntityPatch{Status: &draft, ActiveVersionID: &empty})
		require.Error(t, err)
		assert.True(t, storeerr.IsUser(err))

		unpublished, err := ts.Agents.Update(ctx, "agent-1", &store.EntityPatch{Status: &draft})
		require.NoError(t, err)
		assert.Equal(t, store.StatusDraft, unpublished.Status)
		assert.Equal(t, created.Version.ID, unpublished.ActiveVersionID)

		reclaimed, err := ts.SweepStaleDrafts(ctx)
		require.NoError(t, err)
		assert.Zero(t, reclaimed)
		count, err := ts.Agents.CountVersions(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}
