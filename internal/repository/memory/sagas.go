package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// Sagas implements repository.SagaStore.
type Sagas struct {
	s *Store
}

var _ repository.SagaStore = (*Sagas)(nil)

func (r *Sagas) Insert(ctx context.Context, saga model.Saga) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, dup := r.s.sagas[saga.ID]; dup {
		return fmt.Errorf("saga %s already exists", saga.ID)
	}
	now := r.s.now()
	saga.CreatedAt = now
	saga.UpdatedAt = now
	row := saga
	r.s.sagas[saga.ID] = &row
	return nil
}

func (r *Sagas) Update(ctx context.Context, saga model.Saga) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.sagas[saga.ID]
	if !ok {
		return repository.ErrNotFound
	}
	row.Status = saga.Status
	row.CurrentStep = saga.CurrentStep
	row.Data = saga.Data
	row.LastError = saga.LastError
	row.UpdatedAt = r.s.now()
	return nil
}

func (r *Sagas) Get(ctx context.Context, id string) (model.Saga, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.sagas[id]
	if !ok {
		return model.Saga{}, repository.ErrNotFound
	}
	return *row, nil
}

func (r *Sagas) FindByCorrelation(ctx context.Context, sagaType, correlationID string) (model.Saga, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, row := range r.s.sagas {
		if row.SagaType == sagaType && row.CorrelationID == correlationID {
			return *row, nil
		}
	}
	return model.Saga{}, repository.ErrNotFound
}

func (r *Sagas) ListCompensating(ctx context.Context, limit int) ([]model.Saga, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.Saga
	for _, row := range r.s.sagas {
		if row.Status == model.SagaCompensating {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
