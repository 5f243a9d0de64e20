package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// Ledger implements repository.CommandLedger.
type Ledger struct {
	s *Store
}

var _ repository.CommandLedger = (*Ledger)(nil)

func (r *Ledger) Begin(ctx context.Context, cmd model.Command, staleness time.Duration) (repository.BeginOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	prior, exists := r.s.commands[cmd.CommandID]
	if !exists {
		r.s.commands[cmd.CommandID] = &model.ProcessedCommand{
			CommandID:   cmd.CommandID,
			CommandType: cmd.CommandType,
			AggregateID: cmd.AggregateID,
			Status:      model.CommandPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return repository.BeginOutcome{}, nil
	}

	switch prior.Status {
	case model.CommandSuccess:
		row := *prior
		return repository.BeginOutcome{Cached: &row}, nil
	case model.CommandFailed:
		prior.Status = model.CommandPending
		prior.ErrorMessage = ""
		prior.UpdatedAt = now
		return repository.BeginOutcome{Reclaimed: true}, nil
	default: // PENDING
		if prior.UpdatedAt.Before(now.Add(-staleness)) {
			prior.UpdatedAt = now
			return repository.BeginOutcome{Reclaimed: true}, nil
		}
		return repository.BeginOutcome{}, repository.ErrCommandInFlight
	}
}

func (r *Ledger) Finish(ctx context.Context, _ *sqlx.Tx, commandID string, status model.CommandStatus, result json.RawMessage, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.finishCommandLocked(commandID, status, result, errMsg)
	return nil
}

func (s *Store) finishCommandLocked(commandID string, status model.CommandStatus, result json.RawMessage, errMsg string) {
	row, ok := s.commands[commandID]
	if !ok {
		return
	}
	row.Status = status
	row.Result = result
	row.ErrorMessage = errMsg
	row.UpdatedAt = s.now()
}

func (r *Ledger) Get(ctx context.Context, commandID string) (model.ProcessedCommand, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.commands[commandID]
	if !ok {
		return model.ProcessedCommand{}, repository.ErrNotFound
	}
	return *row, nil
}
