package model

import (
	"encoding/json"
	"time"
)

type SagaStatus string

const (
	SagaActive       SagaStatus = "ACTIVE"
	SagaCompleted    SagaStatus = "COMPLETED"
	SagaCompensating SagaStatus = "COMPENSATING"
	SagaFailed       SagaStatus = "FAILED"
)

func (s SagaStatus) String() string { return string(s) }

// Terminal reports whether no further transitions are allowed.
func (s SagaStatus) Terminal() bool {
	return s == SagaCompleted || s == SagaFailed
}

// Saga is the persisted state of one workflow instance. It advances only
// in response to consumed events; CurrentStep is written before any
// side effect of the next step, so a crash resumes rather than skips.
type Saga struct {
	ID            string          `db:"id"` // ULID
	SagaType      string          `db:"saga_type"`
	CorrelationID string          `db:"correlation_id"`
	Status        SagaStatus      `db:"status"`
	CurrentStep   int             `db:"current_step"`
	Data          json.RawMessage `db:"data"` // workflow-local state
	LastError     string          `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}
