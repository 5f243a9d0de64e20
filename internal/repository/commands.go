package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
)

// BeginOutcome reports how a command id entered the ledger.
type BeginOutcome struct {
	// Cached is non-nil when the command already finished with SUCCESS; the
	// caller returns Cached.Result and performs no side effects.
	Cached *model.ProcessedCommand

	// Reclaimed is true when a stale PENDING or FAILED row was taken over.
	Reclaimed bool
}

// CommandLedger is the idempotency record keyed by command id.
type CommandLedger interface {
	// Begin registers the command as PENDING. A duplicate id is classified:
	// SUCCESS returns the cached row, FAILED is reclaimed for retry, and
	// PENDING is reclaimed only once its updated_at is older than staleness
	// (a prior attempt is presumed to have crashed mid-flight); otherwise
	// ErrCommandInFlight.
	Begin(ctx context.Context, cmd model.Command, staleness time.Duration) (BeginOutcome, error)

	// Finish persists the terminal status and cached result. It takes the
	// command transaction so the ledger commits atomically with the event
	// append and outbox inserts.
	Finish(ctx context.Context, tx *sqlx.Tx, commandID string, status model.CommandStatus, result json.RawMessage, errMsg string) error

	// Get returns the ledger row for a command id, or ErrNotFound.
	Get(ctx context.Context, commandID string) (model.ProcessedCommand, error)
}

type CommandLedgerImpl struct {
	db *sqlx.DB
}

func NewCommandLedger(db *sqlx.DB) *CommandLedgerImpl {
	return &CommandLedgerImpl{db: db}
}

func (r *CommandLedgerImpl) Begin(ctx context.Context, cmd model.Command, staleness time.Duration) (BeginOutcome, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_commands
		    (command_id, command_type, aggregate_id, status, created_at, updated_at)
		VALUES (?, ?, ?, 'PENDING', NOW(), NOW())
	`, cmd.CommandID, cmd.CommandType, cmd.AggregateID)
	if err == nil {
		return BeginOutcome{}, nil
	}

	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlErrDuplicateEntry {
		return BeginOutcome{}, fmt.Errorf("ledger insert: %w", err)
	}

	prior, err := r.Get(ctx, cmd.CommandID)
	if err != nil {
		return BeginOutcome{}, fmt.Errorf("ledger lookup: %w", err)
	}

	switch prior.Status {
	case model.CommandSuccess:
		return BeginOutcome{Cached: &prior}, nil

	case model.CommandFailed:
		res, err := r.db.ExecContext(ctx, `
			UPDATE processed_commands
			SET status = 'PENDING', error_message = '', updated_at = NOW()
			WHERE command_id = ? AND status = 'FAILED'
		`, cmd.CommandID)
		if err != nil {
			return BeginOutcome{}, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return BeginOutcome{Reclaimed: true}, nil
		}
		return BeginOutcome{}, ErrCommandInFlight

	default: // PENDING
		res, err := r.db.ExecContext(ctx, `
			UPDATE processed_commands
			SET updated_at = NOW()
			WHERE command_id = ? AND status = 'PENDING'
			  AND updated_at < DATE_SUB(NOW(), INTERVAL ? SECOND)
		`, cmd.CommandID, int(staleness.Seconds()))
		if err != nil {
			return BeginOutcome{}, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return BeginOutcome{Reclaimed: true}, nil
		}
		return BeginOutcome{}, ErrCommandInFlight
	}
}

func (r *CommandLedgerImpl) Finish(ctx context.Context, tx *sqlx.Tx, commandID string, status model.CommandStatus, result json.RawMessage, errMsg string) error {
	const q = `
		UPDATE processed_commands
		SET status = ?, result = ?, error_message = ?, updated_at = NOW()
		WHERE command_id = ?
	`
	if tx != nil {
		_, err := tx.ExecContext(ctx, q, status.String(), result, errMsg, commandID)
		return err
	}
	_, err := r.db.ExecContext(ctx, q, status.String(), result, errMsg, commandID)
	return err
}

func (r *CommandLedgerImpl) Get(ctx context.Context, commandID string) (model.ProcessedCommand, error) {
	const q = `
		SELECT command_id, command_type, aggregate_id, status, result, error_message,
		       created_at, updated_at
		FROM processed_commands
		WHERE command_id = ?
	`
	var row model.ProcessedCommand
	err := r.db.GetContext(ctx, &row, q, commandID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProcessedCommand{}, ErrNotFound
	}
	if err != nil {
		return model.ProcessedCommand{}, err
	}
	return row, nil
}
