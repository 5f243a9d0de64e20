package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
)

// SnapshotStore defines persistence for aggregate snapshots.
type SnapshotStore interface {
	// Save writes a snapshot and prunes superseded rows for the aggregate.
	Save(ctx context.Context, tx *sqlx.Tx, snap model.AggregateSnapshot) error

	// Load returns the latest snapshot for the aggregate, or ErrNotFound.
	Load(ctx context.Context, aggregateID string) (model.AggregateSnapshot, error)
}

type SnapshotStoreImpl struct {
	db *sqlx.DB
}

func NewSnapshotStore(db *sqlx.DB) *SnapshotStoreImpl {
	return &SnapshotStoreImpl{db: db}
}

func (r *SnapshotStoreImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *SnapshotStoreImpl) Save(ctx context.Context, tx *sqlx.Tx, snap model.AggregateSnapshot) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
			VALUES (?, ?, ?, ?, NOW())
			ON DUPLICATE KEY UPDATE
			    version = IF(VALUES(version) > version, VALUES(version), version),
			    state   = IF(VALUES(version) > version, VALUES(state), state)
		`, snap.AggregateID, snap.AggregateType, snap.Version, snap.State)
		return err
	})
}

func (r *SnapshotStoreImpl) Load(ctx context.Context, aggregateID string) (model.AggregateSnapshot, error) {
	const q = `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = ?
	`
	var snap model.AggregateSnapshot
	err := r.db.GetContext(ctx, &snap, q, aggregateID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AggregateSnapshot{}, ErrNotFound
	}
	if err != nil {
		return model.AggregateSnapshot{}, err
	}
	return snap, nil
}
