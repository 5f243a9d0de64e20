package saga

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/haven-cms/eventcore/internal/logger"
	"github.com/haven-cms/eventcore/internal/metrics"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
	"github.com/haven-cms/eventcore/internal/util"
)

// CommandBus submits commands; the executor satisfies it.
type CommandBus interface {
	Submit(ctx context.Context, cmd model.Command) (model.CommandResult, error)
}

// Processor consumes the event stream and drives saga instances. Wire its
// HandleEvent into a subscription.Runner; the runner's checkpoint is what
// makes crash recovery redeliver rather than skip.
type Processor struct {
	registry *Registry
	store    repository.SagaStore
	bus      CommandBus
}

func NewProcessor(registry *Registry, store repository.SagaStore, bus CommandBus) *Processor {
	return &Processor{registry: registry, store: store, bus: bus}
}

// HandleEvent routes one committed event to every interested saga type.
// It is idempotent for redelivered events: already-advanced instances
// ignore them, and re-run steps issue commands with deterministic ids.
func (p *Processor) HandleEvent(ctx context.Context, event model.DomainEvent) error {
	for _, def := range p.registry.Definitions() {
		if err := p.handleFor(ctx, def, event); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) handleFor(ctx context.Context, def *Definition, event model.DomainEvent) error {
	corr := def.correlate(event)
	if corr == "" {
		return nil
	}

	instance, err := p.store.FindByCorrelation(ctx, def.SagaType, corr)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if event.EventType != def.TriggerEvent {
			return nil
		}
		instance = model.Saga{
			ID:            util.NewID(),
			SagaType:      def.SagaType,
			CorrelationID: corr,
			Status:        model.SagaActive,
			CurrentStep:   0,
			Data:          def.initialData(event),
		}
		if err := p.store.Insert(ctx, instance); err != nil {
			return fmt.Errorf("insert saga: %w", err)
		}
		logger.Log.Info("saga started",
			zap.String("saga_id", instance.ID),
			zap.String("saga_type", def.SagaType),
			zap.String("correlation_id", corr))
	case err != nil:
		return fmt.Errorf("find saga: %w", err)
	}

	if instance.Status.Terminal() {
		return nil
	}
	if instance.Status == model.SagaCompensating {
		// A redelivered event re-runs the unwind from the top: a crash
		// between the COMPENSATING transition and the final FAILED write
		// heals itself, and deterministic compensation command ids make
		// the re-run safe. Persistent failures escalate again.
		return p.runCompensation(ctx, def, instance)
	}
	if instance.CurrentStep >= len(def.Steps) {
		return nil
	}

	step := def.Steps[instance.CurrentStep]
	if !step.reactsTo(event.EventType) {
		return nil
	}

	decision, err := step.Handle(ctx, instance, event)
	if err != nil {
		return fmt.Errorf("saga %s step %s: %w", instance.ID, step.Name, err)
	}
	if decision.Data != nil {
		instance.Data = decision.Data
	}

	switch decision.Outcome {
	case OutcomeIgnore:
		return nil

	case OutcomeAdvance, OutcomeComplete:
		stepIdx := instance.CurrentStep
		if err := p.submitAll(ctx, instance, stepIdx, decision.Commands, false); err != nil {
			return err
		}
		instance.CurrentStep = stepIdx + 1
		if decision.Outcome == OutcomeComplete {
			instance.Status = model.SagaCompleted
		}
		if err := p.store.Update(ctx, instance); err != nil {
			return fmt.Errorf("persist saga transition: %w", err)
		}
		metrics.SagaTransitionsTotal.WithLabelValues(def.SagaType, instance.Status.String()).Inc()
		logger.Log.Info("saga advanced",
			zap.String("saga_id", instance.ID),
			zap.String("saga_type", def.SagaType),
			zap.String("step", step.Name),
			zap.String("status", instance.Status.String()),
			zap.String("correlation_id", instance.CorrelationID))
		return nil

	case OutcomeFail:
		return p.compensate(ctx, def, instance, decision.Reason)

	default:
		return fmt.Errorf("saga %s step %s: unknown outcome %d", instance.ID, step.Name, decision.Outcome)
	}
}

// compensate unwinds completed steps newest-first. The COMPENSATING
// transition is persisted before any compensating side effect; a
// compensation failure leaves the saga COMPENSATING, surfaced to the
// operator and retried whenever a correlated event is redelivered.
func (p *Processor) compensate(ctx context.Context, def *Definition, instance model.Saga, reason string) error {
	instance.Status = model.SagaCompensating
	instance.LastError = reason
	if err := p.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("persist compensating transition: %w", err)
	}
	metrics.SagaTransitionsTotal.WithLabelValues(def.SagaType, model.SagaCompensating.String()).Inc()
	logger.Log.Warn("saga compensating",
		zap.String("saga_id", instance.ID),
		zap.String("saga_type", def.SagaType),
		zap.String("correlation_id", instance.CorrelationID),
		zap.String("reason", reason))

	return p.runCompensation(ctx, def, instance)
}

// runCompensation executes the unwind for an instance already marked
// COMPENSATING. It is re-entrant: the command ledger absorbs compensation
// commands that already ran.
func (p *Processor) runCompensation(ctx context.Context, def *Definition, instance model.Saga) error {
	for i := instance.CurrentStep - 1; i >= 0; i-- {
		step := def.Steps[i]
		if step.Compensate == nil {
			continue
		}
		cmds, err := step.Compensate(ctx, instance)
		if err != nil {
			return p.escalate(ctx, def, instance, step.Name, err)
		}
		if err := p.submitAll(ctx, instance, i, cmds, true); err != nil {
			return p.escalate(ctx, def, instance, step.Name, err)
		}
	}

	instance.Status = model.SagaFailed
	if err := p.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("persist failed transition: %w", err)
	}
	metrics.SagaTransitionsTotal.WithLabelValues(def.SagaType, model.SagaFailed.String()).Inc()
	return nil
}

// escalate records a stuck compensation. The saga stays COMPENSATING in
// the manual-intervention queue; the event stream is not blocked.
func (p *Processor) escalate(ctx context.Context, def *Definition, instance model.Saga, stepName string, cause error) error {
	instance.LastError = fmt.Sprintf("compensation of %s failed: %v", stepName, cause)
	if err := p.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("persist escalation: %w", err)
	}
	metrics.SagaTransitionsTotal.WithLabelValues(def.SagaType, "compensation_stuck").Inc()
	logger.Log.Error("saga compensation failed, operator action required",
		zap.String("saga_id", instance.ID),
		zap.String("saga_type", def.SagaType),
		zap.String("correlation_id", instance.CorrelationID),
		zap.String("step", stepName),
		zap.Error(cause))
	return nil
}

// submitAll issues a step's commands with deterministic idempotency keys
// and the saga's correlation id stamped on.
func (p *Processor) submitAll(ctx context.Context, instance model.Saga, stepIdx int, cmds []model.Command, compensation bool) error {
	for i, cmd := range cmds {
		if cmd.CommandID == "" {
			if compensation {
				cmd.CommandID = CompensationCommandID(instance.ID, stepIdx, i)
			} else {
				cmd.CommandID = StepCommandID(instance.ID, stepIdx, i)
			}
		}
		if cmd.CorrelationID == "" {
			cmd.CorrelationID = instance.CorrelationID
		}
		if _, err := p.bus.Submit(ctx, cmd); err != nil {
			return fmt.Errorf("submit %s: %w", cmd.CommandType, err)
		}
	}
	return nil
}
