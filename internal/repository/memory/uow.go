package memory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// UnitOfWork implements repository.UnitOfWork with staged writes: nothing
// becomes visible until fn returns nil. The store mutex is held for the
// whole call, which is what makes two racing appends produce exactly one
// winner, the same way the SQL store's locking read does.
type UnitOfWork struct {
	s *Store
}

var _ repository.UnitOfWork = (*UnitOfWork)(nil)

type finishOp struct {
	commandID string
	status    model.CommandStatus
	result    json.RawMessage
	errMsg    string
}

type memTx struct {
	s *Store

	stagedEvents   []model.DomainEvent
	stagedOutbox   []model.OutboxEntry
	stagedFinishes []finishOp
	stagedSnaps    []model.AggregateSnapshot

	// seq/version state consumed during staging and rolled back on error
	seqBefore int64
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(tx repository.Tx) error) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	tx := &memTx{s: u.s, seqBefore: u.s.seq}
	if err := fn(tx); err != nil {
		u.s.seq = tx.seqBefore
		return err
	}

	u.s.commitEventsLocked(tx.stagedEvents)
	u.s.insertOutboxLocked(tx.stagedOutbox)
	for _, f := range tx.stagedFinishes {
		u.s.finishCommandLocked(f.commandID, f.status, f.result, f.errMsg)
	}
	for _, snap := range tx.stagedSnaps {
		u.s.saveSnapshotLocked(snap)
	}
	return nil
}

func (t *memTx) AppendEvents(ctx context.Context, expectedVersion int64, events []model.DomainEvent) ([]model.DomainEvent, error) {
	if len(events) == 0 {
		return nil, errors.New("append: no events")
	}

	// Validate against committed state plus anything staged in this tx for
	// the same aggregate.
	current := t.s.currentVersionLocked(events[0].AggregateID)
	for _, e := range t.stagedEvents {
		if e.AggregateID == events[0].AggregateID && e.Version > current {
			current = e.Version
		}
	}
	if current != expectedVersion {
		return nil, repository.ErrConcurrencyConflict
	}

	out := make([]model.DomainEvent, len(events))
	copy(out, events)
	now := t.s.now().UTC()
	for i := range out {
		t.s.seq++
		out[i].SequenceNumber = t.s.seq
		out[i].Version = expectedVersion + int64(i) + 1
		if out[i].OccurredAt.IsZero() {
			out[i].OccurredAt = now
		}
	}
	t.stagedEvents = append(t.stagedEvents, out...)
	return out, nil
}

func (t *memTx) InsertOutbox(ctx context.Context, entries []model.OutboxEntry) error {
	t.stagedOutbox = append(t.stagedOutbox, entries...)
	return nil
}

func (t *memTx) FinishCommand(ctx context.Context, commandID string, status model.CommandStatus, result json.RawMessage, errMsg string) error {
	t.stagedFinishes = append(t.stagedFinishes, finishOp{
		commandID: commandID, status: status, result: result, errMsg: errMsg,
	})
	return nil
}

func (t *memTx) SaveSnapshot(ctx context.Context, snap model.AggregateSnapshot) error {
	t.stagedSnaps = append(t.stagedSnaps, snap)
	return nil
}
