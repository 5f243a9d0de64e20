// Package aggregate defines the consistency boundary rehydrated from the
// event log. Domain validation lives in command handlers; this package
// only folds state.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// Aggregate is a mutable in-memory fold of one aggregate's events.
type Aggregate interface {
	AggregateID() string
	AggregateType() string

	// Version is the version of the last event applied (0 for a fresh
	// aggregate).
	Version() int64

	// Apply folds one committed or proposed event into state.
	Apply(event model.DomainEvent) error

	// SnapshotState serializes current state for the snapshot store.
	SnapshotState() (json.RawMessage, error)

	// Restore replaces state from a snapshot taken at version.
	Restore(version int64, state json.RawMessage) error
}

// Factory builds an empty aggregate instance for an id.
type Factory func(id string) Aggregate

// Rehydration reports how an aggregate was rebuilt.
type Rehydration struct {
	Aggregate       Aggregate
	SnapshotVersion int64 // 0 when replayed from scratch
	EventsReplayed  int
}

type eventLoader interface {
	Load(ctx context.Context, aggregateID string, fromVersion int64) ([]model.DomainEvent, error)
}

type snapshotLoader interface {
	Load(ctx context.Context, aggregateID string) (model.AggregateSnapshot, error)
}

// Rehydrate rebuilds an aggregate from its latest snapshot folded forward
// by the events after it. With no snapshot it replays from version 0;
// the result is identical either way.
func Rehydrate(ctx context.Context, snapshots snapshotLoader, events eventLoader, factory Factory, aggregateID string) (Rehydration, error) {
	agg := factory(aggregateID)

	var snapVersion int64
	if snapshots != nil {
		snap, err := snapshots.Load(ctx, aggregateID)
		switch {
		case err == nil:
			if err := agg.Restore(snap.Version, snap.State); err != nil {
				return Rehydration{}, fmt.Errorf("restore snapshot v%d: %w", snap.Version, err)
			}
			snapVersion = snap.Version
		case errors.Is(err, repository.ErrNotFound):
			// full replay
		default:
			return Rehydration{}, fmt.Errorf("load snapshot: %w", err)
		}
	}

	tail, err := events.Load(ctx, aggregateID, snapVersion)
	if err != nil {
		return Rehydration{}, fmt.Errorf("load events from v%d: %w", snapVersion, err)
	}
	for _, e := range tail {
		if err := agg.Apply(e); err != nil {
			return Rehydration{}, fmt.Errorf("apply %s v%d: %w", e.EventType, e.Version, err)
		}
	}

	return Rehydration{Aggregate: agg, SnapshotVersion: snapVersion, EventsReplayed: len(tail)}, nil
}
