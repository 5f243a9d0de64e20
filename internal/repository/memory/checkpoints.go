package memory

import (
	"context"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// Checkpoints implements repository.CheckpointStore.
type Checkpoints struct {
	s *Store
}

var _ repository.CheckpointStore = (*Checkpoints)(nil)

func (r *Checkpoints) Get(ctx context.Context, name string) (model.ProjectionCheckpoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp, ok := r.s.checkpoints[name]
	if !ok {
		return model.ProjectionCheckpoint{ProjectionName: name}, nil
	}
	return cp, nil
}

func (r *Checkpoints) Update(ctx context.Context, name string, position int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp, ok := r.s.checkpoints[name]
	if ok && position < cp.Position {
		return repository.ErrStaleCheckpoint
	}
	r.s.checkpoints[name] = model.ProjectionCheckpoint{
		ProjectionName: name,
		Position:       position,
		ProcessedAt:    r.s.now(),
	}
	return nil
}
