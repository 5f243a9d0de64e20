package model

import (
	"encoding/json"
	"time"
)

// Envelope is the payload the publisher hands to the external transport.
// Consumers deduplicate by EventID: delivery is at-least-once.
type Envelope struct {
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Version       int64           `json:"version"`
	Sequence      int64           `json:"sequence"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEnvelope builds the wire envelope for a committed event.
func NewEnvelope(e DomainEvent) Envelope {
	return Envelope{
		EventID:       e.EventID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Version:       e.Version,
		Sequence:      e.SequenceNumber,
		Payload:       e.Payload,
		CorrelationID: e.CorrelationID,
		OccurredAt:    e.OccurredAt,
	}
}
