package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// Outbox implements repository.OutboxStore.
type Outbox struct {
	s *Store
}

var _ repository.OutboxStore = (*Outbox)(nil)

func (r *Outbox) Insert(ctx context.Context, _ *sqlx.Tx, entries []model.OutboxEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.insertOutboxLocked(entries)
	return nil
}

func (s *Store) insertOutboxLocked(entries []model.OutboxEntry) {
	now := s.now()
	for _, e := range entries {
		s.nextOutboxID++
		row := e
		row.ID = s.nextOutboxID
		row.Status = model.OutboxPending
		row.RetryCount = 0
		row.NextRetryAt = now
		row.CreatedAt = now
		s.outbox[row.ID] = &row
	}
}

func (r *Outbox) Claim(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	var due []*model.OutboxEntry
	for _, e := range r.s.outbox {
		if e.Status == model.OutboxPending && !e.NextRetryAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]model.OutboxEntry, 0, len(due))
	for _, e := range due {
		e.NextRetryAt = now.Add(lease)
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

func (r *Outbox) MarkSent(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.outbox[id]
	if !ok || e.Status != model.OutboxPending {
		return nil
	}
	now := r.s.now()
	e.Status = model.OutboxSent
	e.SentAt = &now
	return nil
}

func (r *Outbox) Reschedule(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.outbox[id]
	if !ok || e.Status != model.OutboxPending {
		return nil
	}
	e.RetryCount = retryCount
	e.NextRetryAt = nextRetryAt
	e.LastError = lastError
	return nil
}

func (r *Outbox) MarkFailed(ctx context.Context, id int64, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.outbox[id]
	if !ok || e.Status != model.OutboxPending {
		return nil
	}
	e.Status = model.OutboxFailed
	e.LastError = lastError
	return nil
}

func (r *Outbox) ListFailed(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.OutboxEntry
	for _, e := range r.s.outbox {
		if e.Status == model.OutboxFailed {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Outbox) Requeue(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.outbox[id]
	if !ok || e.Status != model.OutboxFailed {
		return repository.ErrNotFound
	}
	e.Status = model.OutboxPending
	e.RetryCount = 0
	e.LastError = ""
	e.NextRetryAt = r.s.now()
	return nil
}

// All returns every outbox row, for test assertions.
func (r *Outbox) All() []model.OutboxEntry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]model.OutboxEntry, 0, len(r.s.outbox))
	for _, e := range r.s.outbox {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
