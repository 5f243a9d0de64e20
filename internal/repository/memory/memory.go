// Package memory provides in-memory twins of the repository interfaces.
// They back the unit tests for the core invariants (single-winner
// appends, outbox atomicity, ledger idempotency) without a database; the
// sqlx implementations are the production path.
package memory

import (
	"sync"
	"time"

	"github.com/haven-cms/eventcore/internal/model"
)

// Store holds all durable state behind one mutex, standing in for the
// MySQL schema. The mutex is held for the whole of a UnitOfWork.Do, which
// mirrors the locking read the SQL store performs.
type Store struct {
	mu sync.Mutex

	events      []model.DomainEvent
	byAggregate map[string][]model.DomainEvent
	snapshots   map[string]model.AggregateSnapshot
	outbox      map[int64]*model.OutboxEntry
	commands    map[string]*model.ProcessedCommand
	sagas       map[string]*model.Saga
	checkpoints map[string]model.ProjectionCheckpoint

	seq          int64
	nextOutboxID int64

	// Clock is injectable so staleness and retry scheduling are testable.
	Clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		byAggregate: make(map[string][]model.DomainEvent),
		snapshots:   make(map[string]model.AggregateSnapshot),
		outbox:      make(map[int64]*model.OutboxEntry),
		commands:    make(map[string]*model.ProcessedCommand),
		sagas:       make(map[string]*model.Saga),
		checkpoints: make(map[string]model.ProjectionCheckpoint),
		Clock:       time.Now,
	}
}

func (s *Store) now() time.Time { return s.Clock() }

// currentVersionLocked returns the committed max version of an aggregate.
func (s *Store) currentVersionLocked(aggregateID string) int64 {
	evs := s.byAggregate[aggregateID]
	if len(evs) == 0 {
		return 0
	}
	return evs[len(evs)-1].Version
}

// commitEventsLocked adds events that already carry version and sequence.
func (s *Store) commitEventsLocked(events []model.DomainEvent) {
	for _, e := range events {
		s.events = append(s.events, e)
		s.byAggregate[e.AggregateID] = append(s.byAggregate[e.AggregateID], e)
	}
}

func (s *Store) Events() *Events           { return &Events{s: s} }
func (s *Store) Snapshots() *Snapshots     { return &Snapshots{s: s} }
func (s *Store) Outbox() *Outbox           { return &Outbox{s: s} }
func (s *Store) Ledger() *Ledger           { return &Ledger{s: s} }
func (s *Store) Sagas() *Sagas             { return &Sagas{s: s} }
func (s *Store) Checkpoints() *Checkpoints { return &Checkpoints{s: s} }
func (s *Store) UnitOfWork() *UnitOfWork   { return &UnitOfWork{s: s} }
