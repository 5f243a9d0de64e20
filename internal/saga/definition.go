// Package saga coordinates multi-step workflows across aggregates. Each
// instance is a persisted state machine advanced only by consumed events,
// with compensating commands issued in strict reverse order on failure.
package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haven-cms/eventcore/internal/model"
)

// Outcome is what a step handler decided.
type Outcome int

const (
	// OutcomeIgnore leaves the saga untouched (event not relevant yet).
	OutcomeIgnore Outcome = iota
	// OutcomeAdvance completes the current step and moves to the next.
	OutcomeAdvance
	// OutcomeComplete completes the current step and the whole saga.
	OutcomeComplete
	// OutcomeFail aborts the forward path and triggers compensation of all
	// previously completed steps.
	OutcomeFail
)

// Decision is a step handler's verdict on one event.
type Decision struct {
	Outcome Outcome

	// Data replaces the saga's workflow-local state when non-nil.
	Data json.RawMessage

	// Commands are issued after the transition is persisted. Handlers must
	// be deterministic for a given (saga, event) so redelivered events
	// re-issue identical commands and the ledger deduplicates them.
	Commands []model.Command

	// Reason explains an OutcomeFail.
	Reason string
}

// Step is one stage of the forward path.
type Step struct {
	Name string

	// EventTypes this step reacts to while it is the current step. Events
	// of other types are ignored.
	EventTypes []string

	// Handle inspects the event against the saga state and decides.
	Handle func(ctx context.Context, saga model.Saga, event model.DomainEvent) (Decision, error)

	// Compensate undoes this step after a later step failed. Nil means the
	// step has nothing to undo. Compensations run newest-first.
	Compensate func(ctx context.Context, saga model.Saga) ([]model.Command, error)
}

func (s Step) reactsTo(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Definition describes one saga type.
type Definition struct {
	SagaType string

	// TriggerEvent starts a new instance when no instance exists for the
	// event's correlation id.
	TriggerEvent string

	Steps []Step

	// Correlate extracts the correlation id; defaults to the event's
	// correlation id field.
	Correlate func(event model.DomainEvent) string

	// InitialData seeds workflow-local state for a new instance; defaults
	// to the trigger event's payload.
	InitialData func(event model.DomainEvent) json.RawMessage
}

func (d *Definition) correlate(e model.DomainEvent) string {
	if d.Correlate != nil {
		return d.Correlate(e)
	}
	return e.CorrelationID
}

func (d *Definition) initialData(e model.DomainEvent) json.RawMessage {
	if d.InitialData != nil {
		return d.InitialData(e)
	}
	return e.Payload
}

// Registry maps saga types to definitions.
type Registry struct {
	defs []*Definition
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(d *Definition) error {
	if d.SagaType == "" || len(d.Steps) == 0 {
		return fmt.Errorf("saga definition needs a type and at least one step")
	}
	for _, existing := range r.defs {
		if existing.SagaType == d.SagaType {
			return fmt.Errorf("saga type %q already registered", d.SagaType)
		}
	}
	r.defs = append(r.defs, d)
	return nil
}

func (r *Registry) MustRegister(d *Definition) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Definitions returns the registered definitions in registration order.
func (r *Registry) Definitions() []*Definition { return r.defs }

// StepCommandID derives the deterministic idempotency key for the i-th
// command a step issues. Redelivered events produce the same id, so the
// command ledger absorbs duplicates.
func StepCommandID(sagaID string, step, i int) string {
	return fmt.Sprintf("%s-s%d-c%d", sagaID, step, i)
}

// CompensationCommandID is the StepCommandID twin for compensations.
func CompensationCommandID(sagaID string, step, i int) string {
	return fmt.Sprintf("%s-comp%d-c%d", sagaID, step, i)
}
