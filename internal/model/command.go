package model

import (
	"encoding/json"
	"time"
)

type CommandStatus string

const (
	CommandPending CommandStatus = "PENDING"
	CommandSuccess CommandStatus = "SUCCESS"
	CommandFailed  CommandStatus = "FAILED"
)

func (s CommandStatus) String() string { return string(s) }

// Command is a submitted unit of work. CommandID is the caller-supplied
// idempotency key; resubmitting with the same id is always safe.
type Command struct {
	CommandID     string          `json:"command_id"`
	CommandType   string          `json:"command_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
}

// ProcessedCommand is the idempotency ledger row for one command id.
// Once SUCCESS, the cached Result is returned on every resubmission and
// the command is never re-executed.
type ProcessedCommand struct {
	CommandID    string          `db:"command_id"`
	CommandType  string          `db:"command_type"`
	AggregateID  string          `db:"aggregate_id"`
	Status       CommandStatus   `db:"status"`
	Result       json.RawMessage `db:"result"`
	ErrorMessage string          `db:"error_message"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// CommandResult is what a successful submission returns, and what gets
// cached in the ledger.
type CommandResult struct {
	AggregateID string          `json:"aggregate_id"`
	Version     int64           `json:"version"` // aggregate version after the append
	EventIDs    []string        `json:"event_ids,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}
