package model

import (
	"encoding/json"
	"time"
)

// AggregateSnapshot is a materialized aggregate state at a given version.
// Snapshotting is a performance optimization only; replay from version 0
// must produce identical state.
type AggregateSnapshot struct {
	AggregateID   string          `db:"aggregate_id"`
	AggregateType string          `db:"aggregate_type"`
	Version       int64           `db:"version"` // version of the last event folded into State
	State         json.RawMessage `db:"state"`
	CreatedAt     time.Time       `db:"created_at"`
}
