package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store/filter"
)

type Thread struct {
	ID         string
	ResourceID string
	Title      string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type UpdateThread struct {
	ID    string
	Title *string
	// Metadata keys are merged into the stored metadata.
	Metadata map[string]any
}

type ListThreads struct {
	ResourceID string
	PageRequest
}

var threadOrderFields = []string{"createdAt", "updatedAt"}

func (t *Thread) toRow() Row {
	return Row{
		"id":         t.ID,
		"resourceId": t.ResourceID,
		"title":      nullableString(t.Title),
		"metadata":   nullableMap(t.Metadata),
		"createdAt":  t.CreatedAt.UTC(),
		"updatedAt":  t.UpdatedAt.UTC(),
	}
}

func threadFromRow(r Row) *Thread {
	return &Thread{
		ID:         r.String("id"),
		ResourceID: r.String("resourceId"),
		Title:      r.String("title"),
		Metadata:   r.Map("metadata"),
		CreatedAt:  r.Time("createdAt"),
		UpdatedAt:  r.Time("updatedAt"),
	}
}

// GetThreadByID returns nil when the thread does not exist.
func (s *Store) GetThreadByID(ctx context.Context, id string) (*Thread, error) {
	if id == "" {
		return nil, storeerr.User("memory.getThreadById", "thread id is required").With("field", "id")
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	row, err := s.driver.Get(ctx, s.table(TableThreads), Row{"id": id})
	if err != nil {
		return nil, storeerr.Wrap(err, "memory.getThreadById", "threadId", id)
	}
	if row == nil {
		return nil, nil
	}
	return threadFromRow(row), nil
}

// ListThreadsByResourceID pages through the threads of one resource. Ties are
// broken by id ascending.
func (s *Store) ListThreadsByResourceID(ctx context.Context, find *ListThreads) (*Page[*Thread], error) {
	const op = "memory.listThreadsByResourceId"
	if find.ResourceID == "" {
		return nil, storeerr.User(op, "resource id is required").With("field", "resourceId")
	}
	req, err := find.PageRequest.normalize(op, threadOrderFields, DirectionDesc)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	rows, total, err := s.queryPage(ctx, s.table(TableThreads), filter.Filter{"resourceId": find.ResourceID}, req)
	if err != nil {
		return nil, storeerr.Wrap(err, op, "resourceId", find.ResourceID)
	}
	threads := make([]*Thread, len(rows))
	for i, r := range rows {
		threads[i] = threadFromRow(r)
	}
	return newPage(threads, total, req), nil
}

// queryPage runs the count and the page query concurrently.
func (s *Store) queryPage(ctx context.Context, table string, f filter.Filter, req PageRequest) ([]Row, int64, error) {
	limit, offset := req.limitOffset()
	var (
		rows  []Row
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = s.driver.Count(gctx, table, f)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.driver.Query(gctx, table, &Query{Filter: f, OrderBy: req.orders(), Limit: limit, Offset: offset})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// SaveThread upserts a thread. A missing id or createdAt is filled in and
// updatedAt is stamped with the call time.
func (s *Store) SaveThread(ctx context.Context, thread *Thread) (*Thread, error) {
	if thread.ResourceID == "" {
		return nil, storeerr.User("memory.saveThread", "resource id is required").With("field", "resourceId")
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	now := s.now()
	saved := *thread
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	saved.CreatedAt = normTime(saved.CreatedAt)
	saved.UpdatedAt = now
	if saved.UpdatedAt.Before(saved.CreatedAt) {
		saved.UpdatedAt = saved.CreatedAt
	}
	if err := s.driver.Insert(ctx, s.table(TableThreads), saved.toRow(), InsertUpsert); err != nil {
		return nil, storeerr.Wrap(err, "memory.saveThread", "threadId", saved.ID, "resourceId", saved.ResourceID)
	}
	return &saved, nil
}

// UpdateThread replaces the title and merges metadata key by key.
func (s *Store) UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error) {
	const op = "memory.updateThread"
	if update.ID == "" {
		return nil, storeerr.User(op, "thread id is required").With("field", "id")
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	existing, err := s.GetThreadByID(ctx, update.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, storeerr.NotFound(op, "thread", update.ID)
	}

	set := Row{"updatedAt": s.now()}
	if update.Title != nil {
		existing.Title = *update.Title
		set["title"] = nullableString(existing.Title)
	}
	if update.Metadata != nil {
		existing.Metadata = mergeShallow(existing.Metadata, update.Metadata)
		set["metadata"] = existing.Metadata
	}
	n, err := s.driver.Update(ctx, s.table(TableThreads), Row{"id": update.ID}, set)
	if err != nil {
		return nil, storeerr.Wrap(err, op, "threadId", update.ID)
	}
	if n == 0 {
		return nil, storeerr.NotFound(op, "thread", update.ID)
	}
	existing.UpdatedAt = set.Time("updatedAt")
	return existing, nil
}

// DeleteThread deletes the thread and its messages. Deleting a missing thread
// is not an error.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	if id == "" {
		return storeerr.User("memory.deleteThread", "thread id is required").With("field", "id")
	}
	if err := s.Init(ctx); err != nil {
		return err
	}
	err := s.driver.Transact(ctx, func(ctx context.Context, tx Mutator) error {
		if _, err := tx.Delete(ctx, s.table(TableMessages), filter.Filter{"threadId": id}); err != nil {
			return err
		}
		_, err := tx.Delete(ctx, s.table(TableThreads), filter.Filter{"id": id})
		return err
	})
	return storeerr.Wrap(err, "memory.deleteThread", "threadId", id)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
