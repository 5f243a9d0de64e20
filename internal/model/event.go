package model

import (
	"encoding/json"
	"time"
)

// DomainEvent is the DB entity persisted in the append-only events table.
// Once committed it is never mutated or deleted; erasure requirements are
// handled by payload-level redaction, not row deletion.
type DomainEvent struct {
	SequenceNumber int64           `db:"sequence_number"` // globally monotonic, assigned by the store
	EventID        string          `db:"event_id"`        // ULID
	AggregateID    string          `db:"aggregate_id"`
	AggregateType  string          `db:"aggregate_type"`
	EventType      string          `db:"event_type"`
	Version        int64           `db:"version"` // per-aggregate, starts at 1
	Payload        json.RawMessage `db:"payload"`
	Metadata       json.RawMessage `db:"metadata"`
	CorrelationID  string          `db:"correlation_id"`
	CausationID    string          `db:"causation_id"`
	OccurredAt     time.Time       `db:"occurred_at"`
}
