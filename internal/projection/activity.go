// Package projection holds the in-repo read models built off the event
// stream. The activity projection lands one row per committed event in
// ClickHouse; replays are absorbed by the ReplacingMergeTree keyed on
// event_id (consumer-side deduplication by event identity).
package projection

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
)

// ActivityName is the checkpoint name of the activity projection.
const ActivityName = "activity"

// ActivityRow is one event's footprint in the reporting store.
type ActivityRow struct {
	EventID       string    `db:"event_id"`
	Sequence      int64     `db:"sequence_number"`
	AggregateID   string    `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	CorrelationID string    `db:"correlation_id"`
	OccurredAt    time.Time `db:"occurred_at"`
}

// ActivityRepository writes and reads the ClickHouse event_activity table.
type ActivityRepository interface {
	Insert(ctx context.Context, row ActivityRow) error
	List(ctx context.Context, aggregateType, eventType string, limit, offset int) ([]ActivityRow, error)
}

type activityRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewActivityRepository(ch *sqlx.DB) ActivityRepository {
	return &activityRepository{ch: ch}
}

func (r *activityRepository) Insert(ctx context.Context, row ActivityRow) error {
	const q = `
		INSERT INTO eventcore.event_activity
		    (event_id, sequence_number, aggregate_id, aggregate_type, event_type, correlation_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		row.EventID, row.Sequence, row.AggregateID, row.AggregateType,
		row.EventType, row.CorrelationID, row.OccurredAt,
	)
	return err
}

func (r *activityRepository) List(ctx context.Context, aggregateType, eventType string, limit, offset int) ([]ActivityRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT event_id, sequence_number, aggregate_id, aggregate_type, event_type, correlation_id, occurred_at
		FROM eventcore.event_activity_latest
		WHERE 1 = 1
	`
	args := []any{}

	if aggregateType != "" {
		q += " AND aggregate_type = ?"
		args = append(args, aggregateType)
	}
	if eventType != "" {
		q += " AND event_type = ?"
		args = append(args, eventType)
	}

	q += " ORDER BY sequence_number DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []ActivityRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ActivityHandler adapts the repository into a subscription handler.
func ActivityHandler(repo ActivityRepository) func(ctx context.Context, e model.DomainEvent) error {
	return func(ctx context.Context, e model.DomainEvent) error {
		return repo.Insert(ctx, ActivityRow{
			EventID:       e.EventID,
			Sequence:      e.SequenceNumber,
			AggregateID:   e.AggregateID,
			AggregateType: e.AggregateType,
			EventType:     e.EventType,
			CorrelationID: e.CorrelationID,
			OccurredAt:    e.OccurredAt,
		})
	}
}
