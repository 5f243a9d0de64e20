package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
)

// SagaStore defines persistence for saga instances. Only the saga
// processor mutates a saga's current_step.
type SagaStore interface {
	Insert(ctx context.Context, saga model.Saga) error

	// Update persists a full transition (status, step, data, error).
	Update(ctx context.Context, saga model.Saga) error

	Get(ctx context.Context, id string) (model.Saga, error)

	// FindByCorrelation returns the saga instance of the given type bound
	// to a correlation id, or ErrNotFound.
	FindByCorrelation(ctx context.Context, sagaType, correlationID string) (model.Saga, error)

	// ListCompensating returns sagas stuck in COMPENSATING, i.e. the
	// manual-intervention queue.
	ListCompensating(ctx context.Context, limit int) ([]model.Saga, error)
}

type SagaStoreImpl struct {
	db *sqlx.DB
}

func NewSagaStore(db *sqlx.DB) *SagaStoreImpl {
	return &SagaStoreImpl{db: db}
}

const sagaColumns = `
	id, saga_type, correlation_id, status, current_step, data, last_error,
	created_at, updated_at
`

func (r *SagaStoreImpl) Insert(ctx context.Context, saga model.Saga) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sagas
		    (id, saga_type, correlation_id, status, current_step, data, last_error,
		     created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`, saga.ID, saga.SagaType, saga.CorrelationID, saga.Status.String(),
		saga.CurrentStep, saga.Data, saga.LastError)
	return err
}

func (r *SagaStoreImpl) Update(ctx context.Context, saga model.Saga) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sagas
		SET status = ?, current_step = ?, data = ?, last_error = ?, updated_at = NOW()
		WHERE id = ?
	`, saga.Status.String(), saga.CurrentStep, saga.Data, saga.LastError, saga.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SagaStoreImpl) Get(ctx context.Context, id string) (model.Saga, error) {
	var saga model.Saga
	err := r.db.GetContext(ctx, &saga,
		`SELECT `+sagaColumns+` FROM sagas WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Saga{}, ErrNotFound
	}
	if err != nil {
		return model.Saga{}, err
	}
	return saga, nil
}

func (r *SagaStoreImpl) FindByCorrelation(ctx context.Context, sagaType, correlationID string) (model.Saga, error) {
	var saga model.Saga
	err := r.db.GetContext(ctx, &saga,
		`SELECT `+sagaColumns+` FROM sagas WHERE saga_type = ? AND correlation_id = ?`,
		sagaType, correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Saga{}, ErrNotFound
	}
	if err != nil {
		return model.Saga{}, err
	}
	return saga, nil
}

func (r *SagaStoreImpl) ListCompensating(ctx context.Context, limit int) ([]model.Saga, error) {
	var sagas []model.Saga
	err := r.db.SelectContext(ctx, &sagas, `
		SELECT `+sagaColumns+`
		FROM sagas
		WHERE status = 'COMPENSATING'
		ORDER BY updated_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	return sagas, nil
}
