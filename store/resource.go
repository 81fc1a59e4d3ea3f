package store

import (
	"context"
	"time"

	"github.com/hrygo/polystore/internal/storeerr"
)

type Resource struct {
	ID            string
	WorkingMemory string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type UpdateResource struct {
	ID            string
	WorkingMemory *string
	// Metadata keys are merged into the stored metadata.
	Metadata map[string]any
}

func (r *Resource) toRow() Row {
	return Row{
		"id":            r.ID,
		"workingMemory": nullableString(r.WorkingMemory),
		"metadata":      nullableMap(r.Metadata),
		"createdAt":     r.CreatedAt.UTC(),
		"updatedAt":     r.UpdatedAt.UTC(),
	}
}

func resourceFromRow(r Row) *Resource {
	return &Resource{
		ID:            r.String("id"),
		WorkingMemory: r.String("workingMemory"),
		Metadata:      r.Map("metadata"),
		CreatedAt:     r.Time("createdAt"),
		UpdatedAt:     r.Time("updatedAt"),
	}
}

// GetResourceByID returns nil when the resource does not exist.
func (s *Store) GetResourceByID(ctx context.Context, id string) (*Resource, error) {
	if id == "" {
		return nil, storeerr.User("memory.getResourceById", "resource id is required").With("field", "id")
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	row, err := s.driver.Get(ctx, s.table(TableResources), Row{"id": id})
	if err != nil {
		return nil, storeerr.Wrap(err, "memory.getResourceById", "resourceId", id)
	}
	if row == nil {
		return nil, nil
	}
	return resourceFromRow(row), nil
}

// SaveResource upserts a resource.
func (s *Store) SaveResource(ctx context.Context, resource *Resource) (*Resource, error) {
	if resource.ID == "" {
		return nil, storeerr.User("memory.saveResource", "resource id is required").With("field", "id")
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	saved := *resource
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = s.now()
	}
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = saved.CreatedAt
	}
	saved.CreatedAt, saved.UpdatedAt = normTime(saved.CreatedAt), normTime(saved.UpdatedAt)
	if err := s.driver.Insert(ctx, s.table(TableResources), saved.toRow(), InsertUpsert); err != nil {
		return nil, storeerr.Wrap(err, "memory.saveResource", "resourceId", saved.ID)
	}
	return &saved, nil
}

// UpdateResource replaces working memory and merges metadata. A missing
// resource is created.
func (s *Store) UpdateResource(ctx context.Context, update *UpdateResource) (*Resource, error) {
	const op = "memory.updateResource"
	if update.ID == "" {
		return nil, storeerr.User(op, "resource id is required").With("field", "id")
	}
	existing, err := s.GetResourceByID(ctx, update.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		created := &Resource{ID: update.ID, Metadata: update.Metadata}
		if update.WorkingMemory != nil {
			created.WorkingMemory = *update.WorkingMemory
		}
		return s.SaveResource(ctx, created)
	}

	set := Row{"updatedAt": s.now()}
	if update.WorkingMemory != nil {
		existing.WorkingMemory = *update.WorkingMemory
		set["workingMemory"] = nullableString(existing.WorkingMemory)
	}
	if update.Metadata != nil {
		existing.Metadata = mergeShallow(existing.Metadata, update.Metadata)
		set["metadata"] = existing.Metadata
	}
	if _, err := s.driver.Update(ctx, s.table(TableResources), Row{"id": update.ID}, set); err != nil {
		return nil, storeerr.Wrap(err, op, "resourceId", update.ID)
	}
	existing.UpdatedAt = set.Time("updatedAt")
	return existing, nil
}
