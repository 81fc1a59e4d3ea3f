package store

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/polystore/internal/storeerr"
)

// Legacy Migration Overview:
//
// Before versioning, an entity's header table carried its configuration
// columns inline. Initialization detects that layout and converts it.
//
// Migration Flow:
// 1. Detect: the header table has any of the kind's legacy config columns.
// 2. Rename: the header table is renamed to <table>_legacy.
// 3. Create: the thin header and version tables are created.
// 4. Replay: every legacy row becomes version 1 plus a published header.
// 5. Drop: the renamed table is dropped once every row was replayed.
//
// Resuming:
// - A leftover <table>_legacy table means an earlier run stopped mid-way;
//   replay starts again from step 3.
// - Version ids are derived from the entity id and every insert uses
//   insert-if-absent, so replaying twice produces no duplicates.

const (
	legacySuffix = "_legacy"
	// migrationPageSize bounds the rows read per round trip during replay.
	migrationPageSize = 500
)

var migrationNamespace = uuid.MustParse("6f1d8c52-5b0e-4b8e-9f57-3c2a8d9e4f10")

// legacyVersionID is the deterministic id of the version replayed for id.
func legacyVersionID(kind, id string) string {
	return uuid.NewSHA1(migrationNamespace, []byte(kind+":"+id+":1")).String()
}

// migrateLegacy converts a pre-versioning header table and returns how many
// entities were replayed.
func (v *VersionedStore[C]) migrateLegacy(ctx context.Context) (int, error) {
	driver := v.store.driver
	legacyTable := v.table + legacySuffix

	resuming, err := driver.TableExists(ctx, legacyTable)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to check table %s", legacyTable)
	}
	if !resuming {
		isLegacy, err := v.hasLegacyLayout(ctx)
		if err != nil || !isLegacy {
			return 0, err
		}
		slog.Info("legacy layout detected, renaming table",
			slog.String("kind", v.kind.Name),
			slog.String("from", v.table),
			slog.String("to", legacyTable),
		)
		if err := driver.RenameTable(ctx, v.table, legacyTable); err != nil {
			return 0, errors.Wrapf(err, "failed to rename %s", v.table)
		}
	} else {
		slog.Warn("resuming interrupted legacy migration", slog.String("kind", v.kind.Name), slog.String("table", legacyTable))
	}

	schema := legacySchema(legacyTable, v.kind.LegacyColumns)
	if err := driver.CreateTable(ctx, schema); err != nil {
		return 0, errors.Wrapf(err, "failed to register %s", legacyTable)
	}
	if err := v.ensureTables(ctx); err != nil {
		return 0, err
	}

	replayed := 0
	for offset := 0; ; offset += migrationPageSize {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		rows, err := driver.Query(ctx, legacyTable, &Query{
			OrderBy: []Order{{Field: "id"}},
			Limit:   migrationPageSize,
			Offset:  offset,
		})
		if err != nil {
			return replayed, errors.Wrapf(err, "failed to read %s", legacyTable)
		}
		if len(rows) == 0 {
			break
		}
		if err := v.replayLegacyRows(ctx, rows); err != nil {
			return replayed, err
		}
		replayed += len(rows)
		slog.Debug("replayed legacy rows", slog.String("kind", v.kind.Name), slog.Int("count", replayed))
		if len(rows) < migrationPageSize {
			break
		}
	}

	if err := driver.DropTable(ctx, legacyTable); err != nil {
		return replayed, errors.Wrapf(err, "failed to drop %s", legacyTable)
	}
	return replayed, nil
}

func (v *VersionedStore[C]) hasLegacyLayout(ctx context.Context) (bool, error) {
	exists, err := v.store.driver.TableExists(ctx, v.table)
	if err != nil || !exists {
		return false, err
	}
	columns, err := v.store.driver.ListColumns(ctx, v.table)
	if err != nil {
		return false, errors.Wrapf(err, "failed to list columns of %s", v.table)
	}
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	if present["activeVersionId"] {
		return false, nil
	}
	for _, c := range v.kind.LegacyColumns {
		if present[c.Name] {
			return true, nil
		}
	}
	return false, nil
}

func (v *VersionedStore[C]) replayLegacyRows(ctx context.Context, rows []Row) error {
	now := v.store.now()
	versions := make([]Row, 0, len(rows))
	headers := make([]Row, 0, len(rows))
	for _, r := range rows {
		id := r.String("id")
		snapshot := map[string]any{}
		for _, c := range v.kind.LegacyColumns {
			if val, ok := r[c.Name]; ok && val != nil {
				snapshot[c.Name] = val
			}
		}
		cfg, err := v.fromSnapshot(snapshot)
		if err != nil {
			return storeerr.System(v.op("migrateLegacy"), "legacy row does not decode", err).With("id", id)
		}
		normalized, err := v.toSnapshot(cfg)
		if err != nil {
			return err
		}

		createdAt := r.Time("createdAt")
		if createdAt.IsZero() {
			createdAt = now
		}
		updatedAt := r.Time("updatedAt")
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		versionID := legacyVersionID(v.kind.Name, id)
		versions = append(versions, v.versionRow(versionID, id, 1, normalized, v.Fields(), LegacyChangeMessage, normTime(createdAt)))
		headers = append(headers, Row{
			"id":              id,
			"status":          string(StatusPublished),
			"activeVersionId": versionID,
			"authorId":        nullableString(r.String("authorId")),
			"metadata":        nullableMap(r.Map("metadata")),
			"createdAt":       normTime(createdAt),
			"updatedAt":       normTime(updatedAt),
		})
	}

	if err := v.store.driver.BatchInsert(ctx, v.versionTable, versions, InsertIfAbsent); err != nil {
		return errors.Wrap(err, "failed to replay legacy versions")
	}
	if err := v.store.driver.BatchInsert(ctx, v.table, headers, InsertIfAbsent); err != nil {
		return errors.Wrap(err, "failed to replay legacy headers")
	}
	return nil
}
