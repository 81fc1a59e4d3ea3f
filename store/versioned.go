package store

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store/filter"
)

// EntityStatus is the lifecycle state of a versioned entity header.
type EntityStatus string

const (
	StatusDraft     EntityStatus = "draft"
	StatusPublished EntityStatus = "published"
)

// LegacyChangeMessage marks versions replayed from the pre-versioning layout.
const LegacyChangeMessage = "Migrated from legacy schema"

// EntityKind describes the tables of one versioned entity type.
type EntityKind struct {
	Name         string
	Table        string
	VersionTable string
	// ParentColumn links a version row to its header, e.g. agentId.
	ParentColumn string
	// LegacyColumns are the configuration columns the header table carried
	// inline before versioning. Their names match the config JSON fields.
	LegacyColumns []Column
}

// Header is the thin, mutable part of a versioned entity.
type Header struct {
	ID              string
	Status          EntityStatus
	ActiveVersionID string
	AuthorID        string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Version is an immutable configuration snapshot.
type Version[C any] struct {
	ID            string
	ParentID      string
	VersionNumber int
	Config        C
	ChangedFields []string
	ChangeMessage string
	CreatedAt     time.Time
}

// Entity is a header resolved with its active version, or its latest version
// when none is active.
type Entity[C any] struct {
	*Header
	Version *Version[C]
}

type CreateEntity[C any] struct {
	// ID is generated when empty.
	ID            string
	AuthorID      string
	Metadata      map[string]any
	Config        C
	ChangeMessage string
}

// EntityPatch updates a header and optionally appends a version.
type EntityPatch struct {
	AuthorID *string
	// Metadata keys are merged into the stored metadata.
	Metadata map[string]any
	Status   *EntityStatus
	// ActiveVersionID must reference a version of the same entity. Setting it
	// without Status publishes the entity. An empty string clears it.
	ActiveVersionID *string
	// Snapshot holds configuration fields keyed by their JSON names. A new
	// version is appended when any of them differs from the latest version.
	Snapshot map[string]any
	// Activate makes the version appended by this patch the active one.
	Activate      bool
	ChangeMessage string
}

type CreateVersion[C any] struct {
	ParentID      string
	Config        C
	ChangeMessage string
}

type ListEntities struct {
	Status   EntityStatus
	AuthorID string
	// Metadata matches headers whose metadata carries every given key/value.
	Metadata map[string]any
	PageRequest
}

var (
	headerOrderFields  = []string{"createdAt", "updatedAt"}
	versionOrderFields = []string{"versionNumber", "createdAt"}
)

// VersionedStore stores a header plus append-only version history for one
// entity kind. C is the entity's configuration record.
type VersionedStore[C any] struct {
	store        *Store
	kind         EntityKind
	table        string
	versionTable string
	fields       []string
}

func newVersionedStore[C any](s *Store, kind EntityKind) *VersionedStore[C] {
	return &VersionedStore[C]{
		store:        s,
		kind:         kind,
		table:        s.table(kind.Table),
		versionTable: s.table(kind.VersionTable),
		fields:       configFields[C](),
	}
}

// configFields lists the JSON field names of a config struct in declaration order.
func configFields[C any]() []string {
	t := reflect.TypeOf((*C)(nil)).Elem()
	var fields []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		fields = append(fields, name)
	}
	return fields
}

// Fields returns the configuration field names.
func (v *VersionedStore[C]) Fields() []string {
	return append([]string(nil), v.fields...)
}

// Table returns the namespaced header table.
func (v *VersionedStore[C]) Table() string {
	return v.table
}

func (v *VersionedStore[C]) VersionTable() string {
	return v.versionTable
}

func (v *VersionedStore[C]) kindName() string {
	return v.kind.Name
}

func (v *VersionedStore[C]) op(name string) string {
	return v.kind.Name + "." + name
}

// idKey is the detail key naming an entity id, such as agentId.
func (v *VersionedStore[C]) idKey() string {
	return v.kind.Name + "Id"
}

func (v *VersionedStore[C]) ensureTables(ctx context.Context) error {
	if err := v.store.driver.CreateTable(ctx, headerSchema(v.table)); err != nil {
		return err
	}
	return v.store.driver.CreateTable(ctx, versionSchema(v.versionTable, v.kind.ParentColumn))
}

func (v *VersionedStore[C]) toSnapshot(c C) (map[string]any, error) {
	normalized, err := normalizeJSON(c)
	if err != nil {
		return nil, storeerr.System(v.op("snapshot"), "failed to serialize config", err)
	}
	m, ok := normalized.(map[string]any)
	if !ok {
		return nil, storeerr.System(v.op("snapshot"), "config must serialize to an object", nil)
	}
	return m, nil
}

func (v *VersionedStore[C]) fromSnapshot(raw any) (C, error) {
	var c C
	data, err := json.Marshal(raw)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(data, &c)
	return c, err
}

func headerFromRow(r Row) *Header {
	return &Header{
		ID:              r.String("id"),
		Status:          EntityStatus(r.String("status")),
		ActiveVersionID: r.String("activeVersionId"),
		AuthorID:        r.String("authorId"),
		Metadata:        r.Map("metadata"),
		CreatedAt:       r.Time("createdAt"),
		UpdatedAt:       r.Time("updatedAt"),
	}
}

func (v *VersionedStore[C]) versionFromRow(r Row) (*Version[C], error) {
	cfg, err := v.fromSnapshot(r["snapshot"])
	if err != nil {
		return nil, storeerr.System(v.op("decodeVersion"), "stored snapshot does not decode", err).With("versionId", r.String("id"))
	}
	var changed []string
	if list, ok := r["changedFields"].([]any); ok {
		for _, f := range list {
			if s, ok := f.(string); ok {
				changed = append(changed, s)
			}
		}
	}
	return &Version[C]{
		ID:            r.String("id"),
		ParentID:      r.String(v.kind.ParentColumn),
		VersionNumber: int(r.Int("versionNumber")),
		Config:        cfg,
		ChangedFields: changed,
		ChangeMessage: r.String("changeMessage"),
		CreatedAt:     r.Time("createdAt"),
	}, nil
}

func (v *VersionedStore[C]) versionRow(id, parentID string, number int, snapshot map[string]any, changed []string, message string, createdAt time.Time) Row {
	changedList := make([]any, len(changed))
	for i, f := range changed {
		changedList[i] = f
	}
	row := Row{
		"id":            id,
		"versionNumber": int64(number),
		"snapshot":      snapshot,
		"changedFields": changedList,
		"changeMessage": nullableString(message),
		"createdAt":     createdAt,
	}
	row[v.kind.ParentColumn] = parentID
	return row
}

// Create inserts a draft header, appends version 1 and publishes it. When the
// process dies between those steps the draft is reclaimed by the next
// initialization sweep.
func (v *VersionedStore[C]) Create(ctx context.Context, in *CreateEntity[C]) (*Entity[C], error) {
	op := v.op("create")
	if err := v.store.Init(ctx); err != nil {
		return nil, err
	}
	snapshot, err := v.toSnapshot(in.Config)
	if err != nil {
		return nil, err
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	} else {
		existing, err := v.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, storeerr.Userf(op, "%s already exists", v.kind.Name).With("id", id)
		}
	}

	now := v.store.now()
	header := &Header{
		ID:        id,
		Status:    StatusDraft,
		AuthorID:  in.AuthorID,
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	driver := v.store.driver
	if err := driver.Insert(ctx, v.table, Row{
		"id":              header.ID,
		"status":          string(header.Status),
		"activeVersionId": nil,
		"authorId":        nullableString(header.AuthorID),
		"metadata":        nullableMap(header.Metadata),
		"createdAt":       now,
		"updatedAt":       now,
	}, InsertIfAbsent); err != nil {
		return nil, storeerr.Wrap(err, op, v.idKey(), id)
	}

	version := &Version[C]{
		ID:            uuid.NewString(),
		ParentID:      id,
		VersionNumber: 1,
		Config:        in.Config,
		ChangedFields: v.Fields(),
		ChangeMessage: in.ChangeMessage,
		CreatedAt:     now,
	}
	if err := driver.Insert(ctx, v.versionTable, v.versionRow(version.ID, id, 1, snapshot, version.ChangedFields, in.ChangeMessage, now), InsertIfAbsent); err != nil {
		return nil, storeerr.Wrap(err, op, v.idKey(), id, "versionId", version.ID)
	}

	if _, err := driver.Update(ctx, v.table, Row{"id": id}, Row{
		"status":          string(StatusPublished),
		"activeVersionId": version.ID,
		"updatedAt":       now,
	}); err != nil {
		return nil, storeerr.Wrap(err, op, v.idKey(), id, "versionId", version.ID)
	}
	header.Status = StatusPublished
	header.ActiveVersionID = version.ID
	return &Entity[C]{Header: header, Version: version}, nil
}

// GetByID returns the header, or nil when absent.
func (v *VersionedStore[C]) GetByID(ctx context.Context, id string) (*Header, error) {
	if id == "" {
		return nil, storeerr.User(v.op("getById"), "id is required").With("field", "id")
	}
	if err := v.store.Init(ctx); err != nil {
		return nil, err
	}
	row, err := v.store.driver.Get(ctx, v.table, Row{"id": id})
	if err != nil {
		return nil, storeerr.Wrap(err, v.op("getById"), v.idKey(), id)
	}
	if row == nil {
		return nil, nil
	}
	return headerFromRow(row), nil
}

// GetByIDResolved returns the header with its active version, falling back
// to the latest version. It returns nil when the entity does not exist.
func (v *VersionedStore[C]) GetByIDResolved(ctx context.Context, id string) (*Entity[C], error) {
	header, err := v.GetByID(ctx, id)
	if err != nil || header == nil {
		return nil, err
	}
	var version *Version[C]
	if header.ActiveVersionID != "" {
		version, err = v.GetVersion(ctx, header.ActiveVersionID)
		if err != nil {
			return nil, err
		}
	}
	if version == nil {
		version, err = v.GetLatestVersion(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	return &Entity[C]{Header: header, Version: version}, nil
}

// List pages through headers.
func (v *VersionedStore[C]) List(ctx context.Context, find *ListEntities) (*Page[*Header], error) {
	op := v.op("list")
	req, err := find.PageRequest.normalize(op, headerOrderFields, DirectionDesc)
	if err != nil {
		return nil, err
	}
	if err := v.store.Init(ctx); err != nil {
		return nil, err
	}
	f := filter.Filter{}
	if find.Status != "" {
		f["status"] = string(find.Status)
	}
	if find.AuthorID != "" {
		f["authorId"] = find.AuthorID
	}
	for k, val := range find.Metadata {
		f["metadata."+k] = val
	}
	rows, total, err := v.store.queryPage(ctx, v.table, f, req)
	if err != nil {
		return nil, storeerr.Wrap(err, op)
	}
	headers := make([]*Header, len(rows))
	for i, r := range rows {
		headers[i] = headerFromRow(r)
	}
	return newPage(headers, total, req), nil
}

// Update applies header fields and appends a version when the snapshot
// changes. Existing versions are never modified.
func (v *VersionedStore[C]) Update(ctx context.Context, id string, patch *EntityPatch) (*Entity[C], error) {
	op := v.op("update")
	for key := range patch.Snapshot {
		if !v.isField(key) {
			return nil, storeerr.Userf(op, "unknown %s config field %q", v.kind.Name, key).With("field", key)
		}
	}
	if patch.Status != nil && *patch.Status != StatusDraft && *patch.Status != StatusPublished {
		return nil, storeerr.Userf(op, "invalid status %q", *patch.Status).With("field", "status")
	}
	header, err := v.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, storeerr.NotFound(op, v.kind.Name, id)
	}

	if patch.ActiveVersionID != nil && *patch.ActiveVersionID != "" {
		target, err := v.GetVersion(ctx, *patch.ActiveVersionID)
		if err != nil {
			return nil, err
		}
		if target == nil || target.ParentID != id {
			return nil, storeerr.Userf(op, "version %s does not belong to %s %s", *patch.ActiveVersionID, v.kind.Name, id).
				With("field", "activeVersionId")
		}
	}

	var appended *Version[C]
	if len(patch.Snapshot) > 0 {
		appended, err = v.appendFromPatch(ctx, id, patch)
		if err != nil {
			return nil, err
		}
	}

	set := Row{"updatedAt": v.store.now()}
	if patch.AuthorID != nil {
		header.AuthorID = *patch.AuthorID
		set["authorId"] = nullableString(header.AuthorID)
	}
	if patch.Metadata != nil {
		header.Metadata = mergeShallow(header.Metadata, patch.Metadata)
		set["metadata"] = header.Metadata
	}
	activeChanged := false
	if patch.ActiveVersionID != nil {
		header.ActiveVersionID = *patch.ActiveVersionID
		activeChanged = true
	}
	if patch.Activate && appended != nil {
		header.ActiveVersionID = appended.ID
		activeChanged = true
	}
	if activeChanged {
		set["activeVersionId"] = nullableString(header.ActiveVersionID)
		if patch.Status == nil && header.ActiveVersionID != "" {
			header.Status = StatusPublished
			set["status"] = string(header.Status)
		}
	}
	if patch.Status != nil {
		header.Status = *patch.Status
		set["status"] = string(header.Status)
	}
	if header.Status == StatusPublished && header.ActiveVersionID == "" {
		return nil, storeerr.Userf(op, "a published %s needs an active version", v.kind.Name).With("field", "status")
	}
	// Drafts without an active version are unfinished creates and get swept.
	if header.Status == StatusDraft && header.ActiveVersionID == "" && (patch.Status != nil || activeChanged) {
		return nil, storeerr.Userf(op, "a draft %s needs an active version", v.kind.Name).With("field", "activeVersionId")
	}

	if _, err := v.store.driver.Update(ctx, v.table, Row{"id": id}, set); err != nil {
		return nil, storeerr.Wrap(err, op, v.idKey(), id)
	}
	header.UpdatedAt = set.Time("updatedAt")
	return v.resolve(ctx, header)
}

func (v *VersionedStore[C]) resolve(ctx context.Context, header *Header) (*Entity[C], error) {
	var (
		version *Version[C]
		err     error
	)
	if header.ActiveVersionID != "" {
		version, err = v.GetVersion(ctx, header.ActiveVersionID)
	} else {
		version, err = v.GetLatestVersion(ctx, header.ID)
	}
	if err != nil {
		return nil, err
	}
	return &Entity[C]{Header: header, Version: version}, nil
}

func (v *VersionedStore[C]) isField(name string) bool {
	for _, f := range v.fields {
		if f == name {
			return true
		}
	}
	return false
}

// appendFromPatch appends a version when the patch changes the latest
// snapshot, and returns nil otherwise.
func (v *VersionedStore[C]) appendFromPatch(ctx context.Context, id string, patch *EntityPatch) (*Version[C], error) {
	op := v.op("update")
	latestRow, err := v.latestVersionRow(ctx, id)
	if err != nil {
		return nil, err
	}
	base := map[string]any{}
	number := 1
	if latestRow != nil {
		if m, ok := latestRow["snapshot"].(map[string]any); ok {
			base = m
		}
		number = int(latestRow.Int("versionNumber")) + 1
	}

	var changed []string
	for _, f := range v.fields {
		next, ok := patch.Snapshot[f]
		if !ok {
			continue
		}
		if !jsonEqual(base[f], next) {
			changed = append(changed, f)
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}

	merged := mergeShallow(base, patch.Snapshot)
	cfg, err := v.fromSnapshot(merged)
	if err != nil {
		return nil, storeerr.Userf(op, "snapshot does not fit the %s config: %v", v.kind.Name, err)
	}
	return v.insertVersion(ctx, id, number, cfg, changed, patch.ChangeMessage)
}

func (v *VersionedStore[C]) insertVersion(ctx context.Context, parentID string, number int, cfg C, changed []string, message string) (*Version[C], error) {
	snapshot, err := v.toSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	version := &Version[C]{
		ID:            uuid.NewString(),
		ParentID:      parentID,
		VersionNumber: number,
		Config:        cfg,
		ChangedFields: changed,
		ChangeMessage: message,
		CreatedAt:     v.store.now(),
	}
	row := v.versionRow(version.ID, parentID, number, snapshot, changed, message, version.CreatedAt)
	if err := v.store.driver.Insert(ctx, v.versionTable, row, InsertIfAbsent); err != nil {
		return nil, storeerr.Wrap(err, v.op("createVersion"), v.idKey(), parentID, "versionId", version.ID)
	}
	return version, nil
}

// CreateVersion appends a version for an existing entity. ChangedFields lists
// the fields that differ from the latest version.
func (v *VersionedStore[C]) CreateVersion(ctx context.Context, in *CreateVersion[C]) (*Version[C], error) {
	op := v.op("createVersion")
	header, err := v.GetByID(ctx, in.ParentID)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, storeerr.NotFound(op, v.kind.Name, in.ParentID)
	}
	snapshot, err := v.toSnapshot(in.Config)
	if err != nil {
		return nil, err
	}
	latestRow, err := v.latestVersionRow(ctx, in.ParentID)
	if err != nil {
		return nil, err
	}
	number := 1
	changed := v.Fields()
	if latestRow != nil {
		number = int(latestRow.Int("versionNumber")) + 1
		base, _ := latestRow["snapshot"].(map[string]any)
		changed = changed[:0]
		for _, f := range v.fields {
			if !jsonEqual(base[f], snapshot[f]) {
				changed = append(changed, f)
			}
		}
	}
	return v.insertVersion(ctx, in.ParentID, number, in.Config, changed, in.ChangeMessage)
}

// GetVersion returns nil when the version does not exist.
func (v *VersionedStore[C]) GetVersion(ctx context.Context, versionID string) (*Version[C], error) {
	if versionID == "" {
		return nil, storeerr.User(v.op("getVersion"), "version id is required").With("field", "id")
	}
	if err := v.store.Init(ctx); err != nil {
		return nil, err
	}
	row, err := v.store.driver.Get(ctx, v.versionTable, Row{"id": versionID})
	if err != nil {
		return nil, storeerr.Wrap(err, v.op("getVersion"), "versionId", versionID)
	}
	if row == nil {
		return nil, nil
	}
	return v.versionFromRow(row)
}

// GetVersionByNumber returns nil when the version does not exist.
func (v *VersionedStore[C]) GetVersionByNumber(ctx context.Context, parentID string, number int) (*Version[C], error) {
	if number < 1 {
		return nil, storeerr.Userf(v.op("getVersionByNumber"), "version number must be positive, got %d", number).With("field", "versionNumber")
	}
	if err := v.store.Init(ctx); err != nil {
		return nil, err
	}
	rows, err := v.store.driver.Query(ctx, v.versionTable, &Query{
		Filter: filter.Filter{v.kind.ParentColumn: parentID, "versionNumber": number},
		Limit:  1,
	})
	if err != nil {
		return nil, storeerr.Wrap(err, v.op("getVersionByNumber"), v.idKey(), parentID, "versionNumber", number)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return v.versionFromRow(rows[0])
}

// GetLatestVersion returns nil when the entity has no versions.
func (v *VersionedStore[C]) GetLatestVersion(ctx context.Context, parentID string) (*Version[C], error) {
	if err := v.store.Init(ctx); err != nil {
		return nil, err
	}
	row, err := v.latestVersionRow(ctx, parentID)
	if err != nil || row == nil {
		return nil, err
	}
	return v.versionFromRow(row)
}

func (v *VersionedStore[C]) latestVersionRow(ctx context.Context, parentID string) (Row, error) {
	rows, err := v.store.driver.Query(ctx, v.versionTable, &Query{
		Filter:  filter.Filter{v.kind.ParentColumn: parentID},
		OrderBy: []Order{{Field: "versionNumber", Desc: true}},
		Limit:   1,
	})
	if err != nil {
		return nil, storeerr.Wrap(err, v.op("getLatestVersion"), v.idKey(), parentID)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ListVersions pages through an entity's versions, newest first by default.
func (v *VersionedStore[C]) ListVersions(ctx context.Context, parentID string, page PageRequest) (*Page[*Version[C]], error) {
	op := v.op("listVersions")
	if parentID == "" {
		return nil, storeerr.User(op, "parent id is required").With("field", v.kind.ParentColumn)
	}
	req, err := page.normalize(op, versionOrderFields, DirectionDesc)
	if err != nil {
		return nil, err
	}
	if err := v.store.Init(ctx); err != nil {
		return nil, err
	}
	rows, total, err := v.store.queryPage(ctx, v.versionTable, filter.Filter{v.kind.ParentColumn: parentID}, req)
	if err != nil {
		return nil, storeerr.Wrap(err, op, v.idKey(), parentID)
	}
	versions := make([]*Version[C], len(rows))
	for i, r := range rows {
		if versions[i], err = v.versionFromRow(r); err != nil {
			return nil, err
		}
	}
	return newPage(versions, total, req), nil
}

// CountVersions returns how many versions an entity has.
func (v *VersionedStore[C]) CountVersions(ctx context.Context, parentID string) (int64, error) {
	if err := v.store.Init(ctx); err != nil {
		return 0, err
	}
	n, err := v.store.driver.Count(ctx, v.versionTable, filter.Filter{v.kind.ParentColumn: parentID})
	return n, storeerr.Wrap(err, v.op("countVersions"), v.idKey(), parentID)
}

// DeleteVersionsByParentID deletes every version of an entity.
func (v *VersionedStore[C]) DeleteVersionsByParentID(ctx context.Context, parentID string) (int64, error) {
	if parentID == "" {
		return 0, storeerr.User(v.op("deleteVersionsByParentId"), "parent id is required").With("field", v.kind.ParentColumn)
	}
	if err := v.store.Init(ctx); err != nil {
		return 0, err
	}
	n, err := v.store.driver.Delete(ctx, v.versionTable, filter.Filter{v.kind.ParentColumn: parentID})
	return n, storeerr.Wrap(err, v.op("deleteVersionsByParentId"), v.idKey(), parentID)
}

// Delete removes an entity's versions, then its header. Deleting a missing
// entity is not an error.
func (v *VersionedStore[C]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return storeerr.User(v.op("delete"), "id is required").With("field", "id")
	}
	if err := v.store.Init(ctx); err != nil {
		return err
	}
	return storeerr.Wrap(v.deleteEntity(ctx, id), v.op("delete"), v.idKey(), id)
}

func (v *VersionedStore[C]) deleteEntity(ctx context.Context, id string) error {
	return v.store.driver.Transact(ctx, func(ctx context.Context, tx Mutator) error {
		if _, err := tx.Delete(ctx, v.versionTable, filter.Filter{v.kind.ParentColumn: id}); err != nil {
			return err
		}
		_, err := tx.Delete(ctx, v.table, filter.Filter{"id": id})
		return err
	})
}

func (v *VersionedStore[C]) sweepStaleDrafts(ctx context.Context, grace time.Duration) (int, error) {
	f := filter.Filter{"status": string(StatusDraft), "activeVersionId": nil}
	if grace > 0 {
		f["createdAt"] = map[string]any{"$lt": v.store.now().Add(-grace)}
	}
	rows, err := v.store.driver.Query(ctx, v.table, &Query{Filter: f})
	if err != nil {
		return 0, err
	}
	for i, r := range rows {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := v.deleteEntity(ctx, r.String("id")); err != nil {
			return i, err
		}
	}
	return len(rows), nil
}
