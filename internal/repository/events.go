package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
)

// EventStore defines persistence for the append-only events table.
type EventStore interface {
	// Append verifies the aggregate's current max version equals
	// expectedVersion and inserts the events with versions
	// expectedVersion+1..+n. The global sequence number is assigned by the
	// store. Returns the inserted events with versions and sequence numbers
	// filled in, or ErrConcurrencyConflict without any writes.
	// If tx is nil an internal transaction is opened; callers that need the
	// outbox written atomically with the append must pass their own tx.
	Append(ctx context.Context, tx *sqlx.Tx, expectedVersion int64, events []model.DomainEvent) ([]model.DomainEvent, error)

	// Load returns the version-ordered events of one aggregate, starting
	// after fromVersion (exclusive). fromVersion=0 replays everything.
	Load(ctx context.Context, aggregateID string, fromVersion int64) ([]model.DomainEvent, error)

	// ReadFrom returns up to limit committed events with
	// sequence_number > fromSequence, ordered by sequence number. This is
	// the tailing read behind subscriptions.
	ReadFrom(ctx context.Context, fromSequence int64, limit int) ([]model.DomainEvent, error)

	// CurrentVersion returns the aggregate's durable max version (0 when
	// the aggregate has no events).
	CurrentVersion(ctx context.Context, aggregateID string) (int64, error)
}

type EventStoreImpl struct {
	db *sqlx.DB
}

func NewEventStore(db *sqlx.DB) *EventStoreImpl {
	return &EventStoreImpl{db: db}
}

func (r *EventStoreImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *EventStoreImpl) Append(ctx context.Context, tx *sqlx.Tx, expectedVersion int64, events []model.DomainEvent) ([]model.DomainEvent, error) {
	if len(events) == 0 {
		return nil, errors.New("append: no events")
	}

	first := events[0]
	for i := range events {
		if events[i].AggregateID != first.AggregateID || events[i].AggregateType != first.AggregateType {
			return nil, fmt.Errorf("append: event %d belongs to a different aggregate", i)
		}
	}

	out := make([]model.DomainEvent, len(events))
	copy(out, events)

	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		// Locking read serializes appends per aggregate inside the tx; the
		// unique key on (aggregate_id, version) backs it up across txs.
		var current int64
		err := tx.QueryRowxContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ? FOR UPDATE`,
			first.AggregateID,
		).Scan(&current)
		if err != nil {
			return fmt.Errorf("read current version: %w", err)
		}

		if current != expectedVersion {
			return fmt.Errorf("aggregate %s: expected version %d, current %d: %w",
				first.AggregateID, expectedVersion, current, ErrConcurrencyConflict)
		}

		const q = `
			INSERT INTO events
			    (event_id, aggregate_id, aggregate_type, event_type, version,
			     payload, metadata, correlation_id, causation_id, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		now := time.Now().UTC()
		for i := range out {
			out[i].Version = expectedVersion + int64(i) + 1
			if out[i].OccurredAt.IsZero() {
				out[i].OccurredAt = now
			}
			res, err := tx.ExecContext(ctx, q,
				out[i].EventID, out[i].AggregateID, out[i].AggregateType,
				out[i].EventType, out[i].Version, out[i].Payload, out[i].Metadata,
				out[i].CorrelationID, out[i].CausationID, out[i].OccurredAt,
			)
			if err != nil {
				return mapMySQLError(err)
			}
			seq, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("read sequence number: %w", err)
			}
			out[i].SequenceNumber = seq
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *EventStoreImpl) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]model.DomainEvent, error) {
	const q = `
		SELECT sequence_number, event_id, aggregate_id, aggregate_type, event_type,
		       version, payload, metadata, correlation_id, causation_id, occurred_at
		FROM events
		WHERE aggregate_id = ? AND version > ?
		ORDER BY version ASC
	`
	var events []model.DomainEvent
	if err := r.db.SelectContext(ctx, &events, q, aggregateID, fromVersion); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventStoreImpl) ReadFrom(ctx context.Context, fromSequence int64, limit int) ([]model.DomainEvent, error) {
	const q = `
		SELECT sequence_number, event_id, aggregate_id, aggregate_type, event_type,
		       version, payload, metadata, correlation_id, causation_id, occurred_at
		FROM events
		WHERE sequence_number > ?
		ORDER BY sequence_number ASC
		LIMIT ?
	`
	var events []model.DomainEvent
	if err := r.db.SelectContext(ctx, &events, q, fromSequence, limit); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventStoreImpl) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	var v sql.NullInt64
	err := r.db.QueryRowxContext(ctx,
		`SELECT MAX(version) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&v)
	if err != nil {
		return 0, err
	}
	return v.Int64, nil
}
