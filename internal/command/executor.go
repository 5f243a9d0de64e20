// Package command implements the idempotent command-processing pipeline:
// ledger check, aggregate rehydration, optimistic append, and the
// atomic event+outbox+ledger commit.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/haven-cms/eventcore/internal/aggregate"
	"github.com/haven-cms/eventcore/internal/logger"
	"github.com/haven-cms/eventcore/internal/metrics"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
	"github.com/haven-cms/eventcore/internal/util"
)

// ErrUnknownCommand means no handler is registered for the command type.
var ErrUnknownCommand = errors.New("unknown command type")

// Options tunes the executor. Zero values fall back to the defaults below.
type Options struct {
	// Staleness is how long a PENDING ledger row may sit before a
	// resubmission is allowed to reclaim it (a prior attempt is presumed
	// crashed). See the processed_commands reclaim policy.
	Staleness time.Duration

	// MaxConflictRetries bounds reload-and-retry on version conflicts
	// before the conflict is surfaced to the caller.
	MaxConflictRetries int

	// SnapshotEvery takes a snapshot once this many events accumulated
	// since the last one. 0 disables snapshotting entirely; correctness is
	// unaffected, replay just starts from version 0.
	SnapshotEvery int

	// OutboxMaxRetries is the per-entry retry budget stamped on new
	// outbox rows.
	OutboxMaxRetries int
}

const (
	defaultStaleness          = 5 * time.Minute
	defaultMaxConflictRetries = 3
	defaultOutboxMaxRetries   = 10
)

// Executor processes submitted commands exactly-once-effective.
type Executor struct {
	registry  *Registry
	uow       repository.UnitOfWork
	ledger    repository.CommandLedger
	events    repository.EventStore
	snapshots repository.SnapshotStore
	opts      Options
}

func NewExecutor(
	registry *Registry,
	uow repository.UnitOfWork,
	ledger repository.CommandLedger,
	events repository.EventStore,
	snapshots repository.SnapshotStore,
	opts Options,
) *Executor {
	if opts.Staleness <= 0 {
		opts.Staleness = defaultStaleness
	}
	if opts.MaxConflictRetries <= 0 {
		opts.MaxConflictRetries = defaultMaxConflictRetries
	}
	if opts.OutboxMaxRetries <= 0 {
		opts.OutboxMaxRetries = defaultOutboxMaxRetries
	}
	return &Executor{
		registry:  registry,
		uow:       uow,
		ledger:    ledger,
		events:    events,
		snapshots: snapshots,
		opts:      opts,
	}
}

// Submit runs one command. Resubmitting a SUCCESS command id returns the
// cached result and performs no side effects. A PENDING id younger than
// the staleness window fails with repository.ErrCommandInFlight.
func (x *Executor) Submit(ctx context.Context, cmd model.Command) (model.CommandResult, error) {
	if cmd.CommandID == "" || cmd.AggregateID == "" || cmd.CommandType == "" {
		return model.CommandResult{}, fmt.Errorf("%w: command_id, aggregate_id and command_type are required", ErrValidation)
	}

	handler, ok := x.registry.Lookup(cmd.CommandType)
	if !ok {
		return model.CommandResult{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.CommandType)
	}

	outcome, err := x.ledger.Begin(ctx, cmd, x.opts.Staleness)
	if err != nil {
		return model.CommandResult{}, err
	}
	if outcome.Cached != nil {
		metrics.CommandsTotal.WithLabelValues("duplicate").Inc()
		var cached model.CommandResult
		if len(outcome.Cached.Result) > 0 {
			if err := json.Unmarshal(outcome.Cached.Result, &cached); err != nil {
				return model.CommandResult{}, fmt.Errorf("decode cached result: %w", err)
			}
		}
		return cached, nil
	}

	result, err := x.execute(ctx, handler, cmd)
	switch {
	case err == nil:
		metrics.CommandsTotal.WithLabelValues("success").Inc()
		return result, nil
	case errors.Is(err, ErrValidation):
		metrics.CommandsTotal.WithLabelValues("validation_error").Inc()
		x.finishFailed(ctx, cmd, err)
		return model.CommandResult{}, err
	case errors.Is(err, repository.ErrConcurrencyConflict):
		metrics.CommandsTotal.WithLabelValues("conflict").Inc()
		x.finishFailed(ctx, cmd, err)
		return model.CommandResult{}, err
	default:
		metrics.CommandsTotal.WithLabelValues("error").Inc()
		x.finishFailed(ctx, cmd, err)
		return model.CommandResult{}, err
	}
}

// execute is the reload-and-retry loop around one optimistic append.
func (x *Executor) execute(ctx context.Context, handler Handler, cmd model.Command) (model.CommandResult, error) {
	var lastErr error
	for attempt := 0; attempt <= x.opts.MaxConflictRetries; attempt++ {
		result, err := x.attempt(ctx, handler, cmd)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, repository.ErrConcurrencyConflict) {
			return model.CommandResult{}, err
		}
		lastErr = err
		logger.Log.Warn("append conflict, reloading aggregate",
			zap.String("command_id", cmd.CommandID),
			zap.String("aggregate_id", cmd.AggregateID),
			zap.String("correlation_id", cmd.CorrelationID),
			zap.Int("attempt", attempt+1),
		)
	}
	return model.CommandResult{}, lastErr
}

func (x *Executor) attempt(ctx context.Context, handler Handler, cmd model.Command) (model.CommandResult, error) {
	reh, err := aggregate.Rehydrate(ctx, x.snapshots, x.events, handler.NewAggregate, cmd.AggregateID)
	if err != nil {
		return model.CommandResult{}, fmt.Errorf("rehydrate: %w", err)
	}
	agg := reh.Aggregate
	expectedVersion := agg.Version()

	proposed, err := handler.Handle(ctx, agg, cmd)
	if err != nil {
		return model.CommandResult{}, err
	}
	if len(proposed) == 0 {
		// accepted no-op: the command found nothing to change (e.g. a
		// re-run compensation). Recorded SUCCESS so resubmissions cache.
		result := model.CommandResult{AggregateID: cmd.AggregateID, Version: expectedVersion}
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return model.CommandResult{}, fmt.Errorf("marshal result: %w", err)
		}
		err = x.uow.Do(ctx, func(tx repository.Tx) error {
			return tx.FinishCommand(ctx, cmd.CommandID, model.CommandSuccess, resultJSON, "")
		})
		if err != nil {
			return model.CommandResult{}, err
		}
		return result, nil
	}

	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = cmd.CommandID
	}
	causationID := cmd.CausationID
	if causationID == "" {
		causationID = cmd.CommandID
	}

	events := make([]model.DomainEvent, len(proposed))
	for i, p := range proposed {
		events[i] = model.DomainEvent{
			EventID:       util.NewID(),
			AggregateID:   cmd.AggregateID,
			AggregateType: handler.AggregateType(),
			EventType:     p.EventType,
			Payload:       p.Payload,
			Metadata:      p.Metadata,
			CorrelationID: correlationID,
			CausationID:   causationID,
		}
	}

	var result model.CommandResult
	err = x.uow.Do(ctx, func(tx repository.Tx) error {
		committed, err := tx.AppendEvents(ctx, expectedVersion, events)
		if err != nil {
			return err
		}

		entries := make([]model.OutboxEntry, 0, len(committed))
		for i, e := range committed {
			if proposed[i].Destination == "" {
				continue
			}
			env, err := json.Marshal(model.NewEnvelope(e))
			if err != nil {
				return fmt.Errorf("marshal envelope: %w", err)
			}
			entries = append(entries, model.OutboxEntry{
				EventID:     e.EventID,
				AggregateID: e.AggregateID,
				EventType:   e.EventType,
				Payload:     env,
				Destination: proposed[i].Destination,
				MaxRetries:  x.opts.OutboxMaxRetries,
			})
		}
		if err := tx.InsertOutbox(ctx, entries); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}

		newVersion := committed[len(committed)-1].Version
		eventIDs := make([]string, len(committed))
		for i, e := range committed {
			eventIDs[i] = e.EventID
		}
		result = model.CommandResult{
			AggregateID: cmd.AggregateID,
			Version:     newVersion,
			EventIDs:    eventIDs,
		}
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		if err := tx.FinishCommand(ctx, cmd.CommandID, model.CommandSuccess, resultJSON, ""); err != nil {
			return fmt.Errorf("finish command: %w", err)
		}

		if snap, ok := x.dueSnapshot(agg, committed, reh.SnapshotVersion); ok {
			if err := tx.SaveSnapshot(ctx, snap); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.CommandResult{}, err
	}

	metrics.EventsAppendedTotal.Add(float64(len(events)))
	return result, nil
}

// dueSnapshot folds the freshly committed events into the aggregate and
// reports whether the snapshot cadence was reached.
func (x *Executor) dueSnapshot(agg aggregate.Aggregate, committed []model.DomainEvent, snapVersion int64) (model.AggregateSnapshot, bool) {
	if x.opts.SnapshotEvery <= 0 {
		return model.AggregateSnapshot{}, false
	}
	for _, e := range committed {
		if err := agg.Apply(e); err != nil {
			logger.Log.Warn("snapshot fold failed, skipping snapshot",
				zap.String("aggregate_id", agg.AggregateID()), zap.Error(err))
			return model.AggregateSnapshot{}, false
		}
	}
	newVersion := agg.Version()
	if newVersion-snapVersion < int64(x.opts.SnapshotEvery) {
		return model.AggregateSnapshot{}, false
	}
	state, err := agg.SnapshotState()
	if err != nil {
		logger.Log.Warn("snapshot state failed, skipping snapshot",
			zap.String("aggregate_id", agg.AggregateID()), zap.Error(err))
		return model.AggregateSnapshot{}, false
	}
	return model.AggregateSnapshot{
		AggregateID:   agg.AggregateID(),
		AggregateType: agg.AggregateType(),
		Version:       newVersion,
		State:         state,
	}, true
}

// finishFailed records a terminal FAILED ledger row. A later resubmission
// of the same command id reclaims it.
func (x *Executor) finishFailed(ctx context.Context, cmd model.Command, cause error) {
	err := x.uow.Do(ctx, func(tx repository.Tx) error {
		return tx.FinishCommand(ctx, cmd.CommandID, model.CommandFailed, nil, cause.Error())
	})
	if err != nil {
		logger.Log.Error("persist failed command status",
			zap.String("command_id", cmd.CommandID),
			zap.String("aggregate_id", cmd.AggregateID),
			zap.Error(err),
		)
	}
}
