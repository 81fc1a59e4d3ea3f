package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store/filter"
)

// Message is one entry of a thread. Content is a polymorphic payload: plain
// text, a tool invocation or result, or a provider-specific structure.
type Message struct {
	ID         string
	ThreadID   string
	ResourceID string
	Role       string
	Type       string
	Content    any
	// Position orders messages within a thread. When nil on save it is derived
	// from CreatedAt in unix milliseconds. It is always set on read.
	Position  *int64
	CreatedAt time.Time
}

// IncludeMessages requests the messages around an anchor message.
type IncludeMessages struct {
	ID                   string
	WithPreviousMessages int
	WithNextMessages     int
}

// DateRange bounds createdAt inclusively. Nil bounds are open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

type ListMessages struct {
	ThreadIDs  []string
	ResourceID string
	DateRange  *DateRange
	Include    []IncludeMessages
	PageRequest
}

type MessagePatch struct {
	ID         string
	ThreadID   *string
	ResourceID *string
	Role       *string
	Type       *string
	// Content is deep merged into object content and replaces anything else.
	Content any
}

var messageOrderFields = []string{"createdAt", "position"}

func (m *Message) toRow() Row {
	return Row{
		"id":         m.ID,
		"threadId":   m.ThreadID,
		"resourceId": nullableString(m.ResourceID),
		"role":       m.Role,
		"type":       nullableString(m.Type),
		"content":    m.Content,
		"position":   *m.Position,
		"createdAt":  m.CreatedAt.UTC(),
	}
}

func messageFromRow(r Row) *Message {
	position := r.Int("position")
	return &Message{
		ID:         r.String("id"),
		ThreadID:   r.String("threadId"),
		ResourceID: r.String("resourceId"),
		Role:       r.String("role"),
		Type:       r.String("type"),
		Content:    r["content"],
		Position:   &position,
		CreatedAt:  r.Time("createdAt"),
	}
}

// SaveMessages upserts messages by id. Every target thread must exist.
func (s *Store) SaveMessages(ctx context.Context, messages []*Message) ([]*Message, error) {
	const op = "memory.saveMessages"
	if len(messages) == 0 {
		return []*Message{}, nil
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	saved := make([]*Message, len(messages))
	rows := make([]Row, len(messages))
	threadIDs := []string{}
	seen := map[string]bool{}
	for i, m := range messages {
		if m.ThreadID == "" {
			return nil, storeerr.User(op, "thread id is required").With("field", "threadId").With("index", i)
		}
		if m.Role == "" {
			return nil, storeerr.User(op, "role is required").With("field", "role").With("index", i)
		}
		cp := *m
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.CreatedAt = normTime(cp.CreatedAt)
		if cp.Position == nil {
			position := cp.CreatedAt.UnixMilli()
			cp.Position = &position
		}
		saved[i] = &cp
		rows[i] = cp.toRow()
		if !seen[cp.ThreadID] {
			seen[cp.ThreadID] = true
			threadIDs = append(threadIDs, cp.ThreadID)
		}
	}

	for _, threadID := range threadIDs {
		row, err := s.driver.Get(ctx, s.table(TableThreads), Row{"id": threadID})
		if err != nil {
			return nil, storeerr.Wrap(err, op, "threadId", threadID)
		}
		if row == nil {
			return nil, storeerr.NotFound(op, "thread", threadID)
		}
	}

	if err := s.driver.BatchInsert(ctx, s.table(TableMessages), rows, InsertUpsert); err != nil {
		return nil, storeerr.Wrap(err, op, "threadIds", threadIDs)
	}
	if err := s.touchThreads(ctx, s.driver, threadIDs); err != nil {
		return nil, storeerr.Wrap(err, op, "threadIds", threadIDs)
	}
	return saved, nil
}

func (s *Store) touchThreads(ctx context.Context, m Mutator, threadIDs []string) error {
	now := s.now()
	for _, id := range threadIDs {
		if _, err := m.Update(ctx, s.table(TableThreads), Row{"id": id}, Row{"updatedAt": now}); err != nil {
			return err
		}
	}
	return nil
}

// ListMessages pages through the messages of one or more threads. Messages
// requested through Include are added to the page even when they fall
// outside it; HasMore only reflects the primary page.
func (s *Store) ListMessages(ctx context.Context, find *ListMessages) (*Page[*Message], error) {
	const op = "memory.listMessages"
	if len(find.ThreadIDs) == 0 {
		return nil, storeerr.User(op, "at least one thread id is required").With("field", "threadIds")
	}
	threadIDs := make([]any, 0, len(find.ThreadIDs))
	for _, id := range find.ThreadIDs {
		if id == "" {
			return nil, storeerr.User(op, "thread ids must not be empty").With("field", "threadIds")
		}
		threadIDs = append(threadIDs, id)
	}
	for _, inc := range find.Include {
		if inc.ID == "" {
			return nil, storeerr.User(op, "include entries need a message id").With("field", "include")
		}
		if inc.WithPreviousMessages < 0 || inc.WithNextMessages < 0 {
			return nil, storeerr.User(op, "include window sizes must not be negative").With("field", "include").With("id", inc.ID)
		}
	}
	req, err := find.PageRequest.normalize(op, messageOrderFields, DirectionAsc)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	f := filter.Filter{"threadId": map[string]any{"$in": threadIDs}}
	if find.ResourceID != "" {
		f["resourceId"] = find.ResourceID
	}
	if dr := find.DateRange; dr != nil && (dr.Start != nil || dr.End != nil) {
		bounds := map[string]any{}
		if dr.Start != nil {
			bounds["$gte"] = dr.Start.UTC()
		}
		if dr.End != nil {
			bounds["$lte"] = dr.End.UTC()
		}
		f["createdAt"] = bounds
	}

	rows, total, err := s.queryPage(ctx, s.table(TableMessages), f, req)
	if err != nil {
		return nil, storeerr.Wrap(err, op, "threadIds", find.ThreadIDs)
	}
	messages := make([]*Message, 0, len(rows))
	byID := make(map[string]bool, len(rows))
	for _, r := range rows {
		m := messageFromRow(r)
		byID[m.ID] = true
		messages = append(messages, m)
	}

	if len(find.Include) > 0 {
		for _, inc := range find.Include {
			window, err := s.messageWindow(ctx, inc)
			if err != nil {
				return nil, err
			}
			for _, m := range window {
				if !byID[m.ID] {
					byID[m.ID] = true
					messages = append(messages, m)
				}
			}
		}
		sortMessages(messages, req.OrderBy)
	}

	page := newPage(messages, total, req)
	return page, nil
}

// messageWindow returns the anchor with up to the requested number of
// messages before and after it by (position, id). A missing anchor yields
// nothing. Messages sharing the anchor's position are split by id in memory
// so that only numeric ranges reach the backend.
func (s *Store) messageWindow(ctx context.Context, inc IncludeMessages) ([]*Message, error) {
	const op = "memory.listMessages"
	table := s.table(TableMessages)
	row, err := s.driver.Get(ctx, table, Row{"id": inc.ID})
	if err != nil {
		return nil, storeerr.Wrap(err, op, "messageId", inc.ID)
	}
	if row == nil {
		return nil, nil
	}
	anchor := messageFromRow(row)
	window := []*Message{anchor}
	if inc.WithPreviousMessages == 0 && inc.WithNextMessages == 0 {
		return window, nil
	}

	tied, err := s.driver.Query(ctx, table, &Query{
		Filter:  filter.Filter{"threadId": anchor.ThreadID, "position": *anchor.Position},
		OrderBy: []Order{{Field: "id"}},
	})
	if err != nil {
		return nil, storeerr.Wrap(err, op, "messageId", anchor.ID, "threadId", anchor.ThreadID)
	}
	var before, after []*Message
	for _, r := range tied {
		m := messageFromRow(r)
		switch {
		case m.ID < anchor.ID:
			before = append([]*Message{m}, before...)
		case m.ID > anchor.ID:
			after = append(after, m)
		}
	}

	previous, err := s.adjacentMessages(ctx, anchor, before, inc.WithPreviousMessages, true)
	if err != nil {
		return nil, err
	}
	next, err := s.adjacentMessages(ctx, anchor, after, inc.WithNextMessages, false)
	if err != nil {
		return nil, err
	}
	window = append(window, previous...)
	return append(window, next...), nil
}

// adjacentMessages returns up to n messages nearest to anchor on one side.
// tied holds the messages at the anchor's position on that side, nearest
// first.
func (s *Store) adjacentMessages(ctx context.Context, anchor *Message, tied []*Message, n int, before bool) ([]*Message, error) {
	if n <= 0 {
		return nil, nil
	}
	if len(tied) >= n {
		return tied[:n], nil
	}
	bound := "$gt"
	if before {
		bound = "$lt"
	}
	rows, err := s.driver.Query(ctx, s.table(TableMessages), &Query{
		Filter: filter.Filter{
			"threadId": anchor.ThreadID,
			"position": map[string]any{bound: *anchor.Position},
		},
		OrderBy: []Order{{Field: "position", Desc: before}, {Field: "id", Desc: before}},
		Limit:   n - len(tied),
	})
	if err != nil {
		return nil, storeerr.Wrap(err, "memory.listMessages", "messageId", anchor.ID, "threadId", anchor.ThreadID)
	}
	out := tied
	for _, r := range rows {
		out = append(out, messageFromRow(r))
	}
	return out, nil
}

func sortMessages(messages []*Message, order OrderBy) {
	desc := order.Direction == DirectionDesc
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		var cmp int
		if order.Field == "position" {
			switch {
			case *a.Position < *b.Position:
				cmp = -1
			case *a.Position > *b.Position:
				cmp = 1
			}
		} else {
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp < 0
		}
		return a.ID < b.ID
	})
}

// UpdateMessages applies partial updates. Moving a message to another thread
// appends it to that thread's ordering, and both threads are marked updated.
// Patches for the same id apply in order and yield a single result.
func (s *Store) UpdateMessages(ctx context.Context, patches []*MessagePatch) ([]*Message, error) {
	const op = "memory.updateMessages"
	if len(patches) == 0 {
		return []*Message{}, nil
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	messagesTable := s.table(TableMessages)

	type pending struct {
		msg *Message
		set Row
	}
	// Repeated ids are folded into one pending update so later patches see
	// the earlier ones.
	updates := make([]*pending, 0, len(patches))
	byID := map[string]*pending{}
	// Positions already handed out per target thread.
	nextPositions := map[string]int64{}
	touched := []string{}
	seen := map[string]bool{}
	touch := func(id string) {
		if !seen[id] {
			seen[id] = true
			touched = append(touched, id)
		}
	}

	for _, patch := range patches {
		if patch.ID == "" {
			return nil, storeerr.User(op, "message id is required").With("field", "id")
		}
		u, ok := byID[patch.ID]
		if !ok {
			row, err := s.driver.Get(ctx, messagesTable, Row{"id": patch.ID})
			if err != nil {
				return nil, storeerr.Wrap(err, op, "messageId", patch.ID)
			}
			if row == nil {
				return nil, storeerr.NotFound(op, "message", patch.ID)
			}
			u = &pending{msg: messageFromRow(row), set: Row{}}
			byID[patch.ID] = u
			updates = append(updates, u)
		}
		msg, set := u.msg, u.set
		touch(msg.ThreadID)

		if patch.ThreadID != nil && *patch.ThreadID != msg.ThreadID {
			target := *patch.ThreadID
			position, ok := nextPositions[target]
			if !ok {
				threadRow, err := s.driver.Get(ctx, s.table(TableThreads), Row{"id": target})
				if err != nil {
					return nil, storeerr.Wrap(err, op, "messageId", msg.ID, "threadId", target)
				}
				if threadRow == nil {
					return nil, storeerr.NotFound(op, "thread", target)
				}
				position, err = s.nextPosition(ctx, target, msg.CreatedAt)
				if err != nil {
					return nil, storeerr.Wrap(err, op, "messageId", msg.ID, "threadId", target)
				}
			}
			nextPositions[target] = position + 1
			msg.ThreadID = target
			msg.Position = &position
			set["threadId"] = target
			set["position"] = position
			touch(target)
		}
		if patch.ResourceID != nil {
			msg.ResourceID = *patch.ResourceID
			set["resourceId"] = nullableString(msg.ResourceID)
		}
		if patch.Role != nil {
			msg.Role = *patch.Role
			set["role"] = msg.Role
		}
		if patch.Type != nil {
			msg.Type = *patch.Type
			set["type"] = nullableString(msg.Type)
		}
		if patch.Content != nil {
			msg.Content = mergeContent(msg.Content, patch.Content)
			set["content"] = msg.Content
		}
	}

	err := s.driver.Transact(ctx, func(ctx context.Context, tx Mutator) error {
		for _, u := range updates {
			if len(u.set) == 0 {
				continue
			}
			if _, err := tx.Update(ctx, messagesTable, Row{"id": u.msg.ID}, u.set); err != nil {
				return err
			}
		}
		return s.touchThreads(ctx, tx, touched)
	})
	if err != nil {
		return nil, storeerr.Wrap(err, op, "threadIds", touched)
	}

	out := make([]*Message, len(updates))
	for i, u := range updates {
		out[i] = u.msg
	}
	return out, nil
}

// nextPosition returns a position after every message of the thread.
func (s *Store) nextPosition(ctx context.Context, threadID string, createdAt time.Time) (int64, error) {
	rows, err := s.driver.Query(ctx, s.table(TableMessages), &Query{
		Filter:  filter.Filter{"threadId": threadID},
		OrderBy: []Order{{Field: "position", Desc: true}},
		Limit:   1,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return createdAt.UnixMilli(), nil
	}
	return rows[0].Int("position") + 1, nil
}

// DeleteMessages deletes messages by id and marks every affected thread
// updated once. Unknown ids are ignored.
func (s *Store) DeleteMessages(ctx context.Context, ids []string) error {
	const op = "memory.deleteMessages"
	if len(ids) == 0 {
		return nil
	}
	values := make([]any, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return storeerr.User(op, "message ids must not be empty").With("field", "ids")
		}
		values = append(values, id)
	}
	if err := s.Init(ctx); err != nil {
		return err
	}
	table := s.table(TableMessages)
	byID := filter.Filter{"id": map[string]any{"$in": values}}

	rows, err := s.driver.Query(ctx, table, &Query{Filter: byID})
	if err != nil {
		return storeerr.Wrap(err, op, "messageIds", ids)
	}
	if len(rows) == 0 {
		return nil
	}
	threadIDs := []string{}
	seen := map[string]bool{}
	for _, r := range rows {
		id := r.String("threadId")
		if !seen[id] {
			seen[id] = true
			threadIDs = append(threadIDs, id)
		}
	}

	err = s.driver.Transact(ctx, func(ctx context.Context, tx Mutator) error {
		if _, err := tx.Delete(ctx, table, byID); err != nil {
			return err
		}
		return s.touchThreads(ctx, tx, threadIDs)
	})
	return storeerr.Wrap(err, op, "messageIds", ids, "threadIds", threadIDs)
}
