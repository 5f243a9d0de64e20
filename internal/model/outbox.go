package model

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED" // terminal, retry budget exhausted
)

func (s OutboxStatus) String() string { return string(s) }

func (s OutboxStatus) Valid() bool {
	return s == OutboxPending || s == OutboxSent || s == OutboxFailed
}

// OutboxEntry is a row staged for delivery to an external consumer.
// Exactly one entry is written per externally-relevant event, in the same
// transaction as the event append.
type OutboxEntry struct {
	ID          int64           `db:"id"`
	EventID     string          `db:"event_id"`
	AggregateID string          `db:"aggregate_id"`
	EventType   string          `db:"event_type"`
	Payload     json.RawMessage `db:"payload"`
	Destination string          `db:"destination"` // transport topic
	Status      OutboxStatus    `db:"status"`
	RetryCount  int             `db:"retry_count"`
	MaxRetries  int             `db:"max_retries"`
	NextRetryAt time.Time       `db:"next_retry_at"`
	LastError   string          `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	SentAt      *time.Time      `db:"sent_at"`
}
