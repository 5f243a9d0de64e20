package repository

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
)

// Tx is the set of writes that must land in one atomic unit when a
// command commits: the event append, the outbox inserts, the ledger
// result, and optionally a snapshot. This is the invariant that lets the
// outbox pattern stand in for a cross-system two-phase commit.
type Tx interface {
	AppendEvents(ctx context.Context, expectedVersion int64, events []model.DomainEvent) ([]model.DomainEvent, error)
	InsertOutbox(ctx context.Context, entries []model.OutboxEntry) error
	FinishCommand(ctx context.Context, commandID string, status model.CommandStatus, result json.RawMessage, errMsg string) error
	SaveSnapshot(ctx context.Context, snap model.AggregateSnapshot) error
}

// UnitOfWork runs fn inside one transaction; if fn returns an error
// nothing fn wrote is visible.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(tx Tx) error) error
}

// SQLUnitOfWork is the sqlx-backed UnitOfWork.
type SQLUnitOfWork struct {
	db        *sqlx.DB
	events    EventStore
	outbox    OutboxStore
	ledger    CommandLedger
	snapshots SnapshotStore
}

func NewSQLUnitOfWork(db *sqlx.DB, events EventStore, outbox OutboxStore, ledger CommandLedger, snapshots SnapshotStore) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db, events: events, outbox: outbox, ledger: ledger, snapshots: snapshots}
}

type sqlTx struct {
	u  *SQLUnitOfWork
	tx *sqlx.Tx
}

func (u *SQLUnitOfWork) Do(ctx context.Context, fn func(tx Tx) error) error {
	t, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(&sqlTx{u: u, tx: t}); err != nil {
		return err
	}
	return t.Commit()
}

func (t *sqlTx) AppendEvents(ctx context.Context, expectedVersion int64, events []model.DomainEvent) ([]model.DomainEvent, error) {
	return t.u.events.Append(ctx, t.tx, expectedVersion, events)
}

func (t *sqlTx) InsertOutbox(ctx context.Context, entries []model.OutboxEntry) error {
	return t.u.outbox.Insert(ctx, t.tx, entries)
}

func (t *sqlTx) FinishCommand(ctx context.Context, commandID string, status model.CommandStatus, result json.RawMessage, errMsg string) error {
	return t.u.ledger.Finish(ctx, t.tx, commandID, status, result, errMsg)
}

func (t *sqlTx) SaveSnapshot(ctx context.Context, snap model.AggregateSnapshot) error {
	return t.u.snapshots.Save(ctx, t.tx, snap)
}
