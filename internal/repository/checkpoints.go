package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
)

// CheckpointStore tracks the monotonic cursor of each projection.
type CheckpointStore interface {
	// Get returns the stored checkpoint; a projection that never ran gets
	// position 0.
	Get(ctx context.Context, name string) (model.ProjectionCheckpoint, error)

	// Update advances the checkpoint. Equal position is an idempotent
	// no-op; a lower position is rejected with ErrStaleCheckpoint and the
	// stored value is left unchanged.
	Update(ctx context.Context, name string, position int64) error
}

type CheckpointStoreImpl struct {
	db *sqlx.DB
}

func NewCheckpointStore(db *sqlx.DB) *CheckpointStoreImpl {
	return &CheckpointStoreImpl{db: db}
}

func (r *CheckpointStoreImpl) Get(ctx context.Context, name string) (model.ProjectionCheckpoint, error) {
	var cp model.ProjectionCheckpoint
	err := r.db.GetContext(ctx, &cp, `
		SELECT projection_name, last_processed_position, last_processed_at
		FROM projection_checkpoints
		WHERE projection_name = ?
	`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProjectionCheckpoint{ProjectionName: name}, nil
	}
	if err != nil {
		return model.ProjectionCheckpoint{}, err
	}
	return cp, nil
}

func (r *CheckpointStoreImpl) Update(ctx context.Context, name string, position int64) error {
	// The monotonicity guard is in the WHERE clause; a regressed position
	// matches no row and the upsert path only fires for a brand new name.
	res, err := r.db.ExecContext(ctx, `
		UPDATE projection_checkpoints
		SET last_processed_position = ?, last_processed_at = NOW()
		WHERE projection_name = ? AND last_processed_position <= ?
	`, position, name, position)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Either the name is new or the position regressed.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projection_checkpoints (projection_name, last_processed_position, last_processed_at)
		VALUES (?, ?, NOW())
		ON DUPLICATE KEY UPDATE projection_name = projection_name
	`, name, position)
	if err != nil {
		return err
	}

	cp, err := r.Get(ctx, name)
	if err != nil {
		return err
	}
	if cp.Position > position {
		return ErrStaleCheckpoint
	}
	return nil
}
