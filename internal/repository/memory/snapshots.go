package memory

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// Snapshots implements repository.SnapshotStore.
type Snapshots struct {
	s *Store
}

var _ repository.SnapshotStore = (*Snapshots)(nil)

func (r *Snapshots) Save(ctx context.Context, _ *sqlx.Tx, snap model.AggregateSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.saveSnapshotLocked(snap)
	return nil
}

func (s *Store) saveSnapshotLocked(snap model.AggregateSnapshot) {
	if prev, ok := s.snapshots[snap.AggregateID]; ok && prev.Version >= snap.Version {
		return
	}
	snap.CreatedAt = s.now()
	s.snapshots[snap.AggregateID] = snap
}

func (r *Snapshots) Load(ctx context.Context, aggregateID string) (model.AggregateSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap, ok := r.s.snapshots[aggregateID]
	if !ok {
		return model.AggregateSnapshot{}, repository.ErrNotFound
	}
	return snap, nil
}
