package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
)

// OutboxStore defines persistence for the outbox table.
type OutboxStore interface {
	// Insert writes outbox entries. Callers performing an event append must
	// pass the same tx so the entries commit atomically with the events.
	Insert(ctx context.Context, tx *sqlx.Tx, entries []model.OutboxEntry) error

	// Claim leases up to limit due PENDING entries for this worker. Claimed
	// rows have next_retry_at pushed forward by lease, so no other worker
	// picks them up while the dispatch is in flight.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEntry, error)

	// MarkSent transitions an entry to SENT (terminal).
	MarkSent(ctx context.Context, id int64) error

	// Reschedule records a failed attempt and makes the entry due again at
	// nextRetryAt.
	Reschedule(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, lastError string) error

	// MarkFailed dead-letters an entry after its retry budget is exhausted.
	MarkFailed(ctx context.Context, id int64, lastError string) error

	// ListFailed returns dead-lettered entries for operator remediation.
	ListFailed(ctx context.Context, limit int) ([]model.OutboxEntry, error)

	// Requeue puts a FAILED entry back to PENDING with a fresh retry budget.
	Requeue(ctx context.Context, id int64) error
}

type OutboxStoreImpl struct {
	db *sqlx.DB
}

func NewOutboxStore(db *sqlx.DB) *OutboxStoreImpl {
	return &OutboxStoreImpl{db: db}
}

func (r *OutboxStoreImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *OutboxStoreImpl) Insert(ctx context.Context, tx *sqlx.Tx, entries []model.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO outbox
		    (event_id, aggregate_id, event_type, payload, destination,
		     status, retry_count, max_retries, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, 'PENDING', 0, ?, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, q,
				e.EventID, e.AggregateID, e.EventType, e.Payload, e.Destination, e.MaxRetries,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

const outboxColumns = `
	id, event_id, aggregate_id, event_type, payload, destination,
	status, retry_count, max_retries, next_retry_at, last_error, created_at, sent_at
`

func (r *OutboxStoreImpl) Claim(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEntry, error) {
	var claimed []model.OutboxEntry
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		// SKIP LOCKED keeps concurrent workers from blocking on each
		// other's claims.
		q := `
			SELECT ` + outboxColumns + `
			FROM outbox
			WHERE status = 'PENDING' AND next_retry_at <= NOW()
			ORDER BY id ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		`
		if err := tx.SelectContext(ctx, &claimed, q, limit); err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(claimed))
		for _, e := range claimed {
			ids = append(ids, e.ID)
		}
		upd, args, err := sqlx.In(
			`UPDATE outbox SET next_retry_at = DATE_ADD(NOW(), INTERVAL ? SECOND) WHERE id IN (?)`,
			int(lease.Seconds()), ids,
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(upd), args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *OutboxStoreImpl) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'SENT', sent_at = NOW() WHERE id = ? AND status = 'PENDING'`, id)
	return err
}

func (r *OutboxStoreImpl) Reschedule(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		SET retry_count = ?, next_retry_at = ?, last_error = ?
		WHERE id = ? AND status = 'PENDING'
	`, retryCount, nextRetryAt.UTC(), lastError, id)
	return err
}

func (r *OutboxStoreImpl) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'FAILED', last_error = ? WHERE id = ? AND status = 'PENDING'`,
		lastError, id)
	return err
}

func (r *OutboxStoreImpl) ListFailed(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	q := `
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE status = 'FAILED'
		ORDER BY id ASC
		LIMIT ?
	`
	var entries []model.OutboxEntry
	if err := r.db.SelectContext(ctx, &entries, q, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *OutboxStoreImpl) Requeue(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = 'PENDING', retry_count = 0, last_error = '', next_retry_at = NOW()
		WHERE id = ? AND status = 'FAILED'
	`, id)
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
