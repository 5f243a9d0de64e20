package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
	"github.com/haven-cms/eventcore/internal/util"
)

// Events implements repository.EventStore. The tx argument is ignored;
// atomicity with other writes goes through the memory UnitOfWork.
type Events struct {
	s *Store
}

var _ repository.EventStore = (*Events)(nil)

func (r *Events) Append(ctx context.Context, _ *sqlx.Tx, expectedVersion int64, events []model.DomainEvent) ([]model.DomainEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.appendLocked(expectedVersion, events)
}

// appendLocked validates and commits in one step; the UnitOfWork uses it
// at commit time with the store mutex already held.
func (s *Store) appendLocked(expectedVersion int64, events []model.DomainEvent) ([]model.DomainEvent, error) {
	if len(events) == 0 {
		return nil, errors.New("append: no events")
	}
	first := events[0]
	for i := range events {
		if events[i].AggregateID != first.AggregateID || events[i].AggregateType != first.AggregateType {
			return nil, fmt.Errorf("append: event %d belongs to a different aggregate", i)
		}
	}

	current := s.currentVersionLocked(first.AggregateID)
	if current != expectedVersion {
		return nil, fmt.Errorf("aggregate %s: expected version %d, current %d: %w",
			first.AggregateID, expectedVersion, current, repository.ErrConcurrencyConflict)
	}

	out := make([]model.DomainEvent, len(events))
	copy(out, events)
	now := s.now().UTC()
	for i := range out {
		s.seq++
		out[i].SequenceNumber = s.seq
		out[i].Version = expectedVersion + int64(i) + 1
		if out[i].EventID == "" {
			out[i].EventID = util.NewID()
		}
		if out[i].OccurredAt.IsZero() {
			out[i].OccurredAt = now
		}
	}
	s.commitEventsLocked(out)
	return out, nil
}

func (r *Events) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]model.DomainEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.DomainEvent
	for _, e := range r.s.byAggregate[aggregateID] {
		if e.Version > fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Events) ReadFrom(ctx context.Context, fromSequence int64, limit int) ([]model.DomainEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.DomainEvent
	for _, e := range r.s.events {
		if e.SequenceNumber > fromSequence {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *Events) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.currentVersionLocked(aggregateID), nil
}
