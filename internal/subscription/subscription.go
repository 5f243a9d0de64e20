// Package subscription tails the committed event log in sequence order.
// A subscriber resumes from its checkpoint, so the only reprocessing
// after a restart is replay of already-applied events, never a gap.
package subscription

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/haven-cms/eventcore/internal/logger"
	"github.com/haven-cms/eventcore/internal/metrics"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// Stream reads the event log from a position: finite catch-up, then live
// polling.
type Stream struct {
	Events       repository.EventStore
	BatchSize    int
	PollInterval time.Duration
}

func NewStream(events repository.EventStore) *Stream {
	return &Stream{Events: events, BatchSize: 100, PollInterval: 500 * time.Millisecond}
}

// Next returns the next batch of events after fromSequence. An empty
// batch means the subscriber caught up to the live edge.
func (s *Stream) Next(ctx context.Context, fromSequence int64) ([]model.DomainEvent, error) {
	return s.Events.ReadFrom(ctx, fromSequence, s.BatchSize)
}

// HandleFunc processes one event. It must be idempotent: delivery is
// at-least-once and the event id is the deduplication key.
type HandleFunc func(ctx context.Context, event model.DomainEvent) error

// Runner drives one named subscriber: read a batch, hand each event to
// the handler, advance the checkpoint. A handler error blocks the cursor
// (retried with backoff) rather than skipping the event.
type Runner struct {
	Name        string
	Stream      *Stream
	Checkpoints repository.CheckpointStore
	Handle      HandleFunc
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	cp, err := r.Checkpoints.Get(ctx, r.Name)
	if err != nil {
		return err
	}
	pos := cp.Position
	logger.Log.Info("subscription starting",
		zap.String("subscription", r.Name), zap.Int64("from_position", pos))

	retryWait := r.Stream.PollInterval
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := r.Stream.Next(ctx, pos)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.Error("subscription read failed",
				zap.String("subscription", r.Name), zap.Error(err))
			if !wait(ctx, jitter(retryWait)) {
				return ctx.Err()
			}
			continue
		}

		if len(batch) == 0 {
			if !wait(ctx, jitter(r.Stream.PollInterval)) {
				return ctx.Err()
			}
			continue
		}

		advanced := false
		for _, e := range batch {
			if err := r.Handle(ctx, e); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.Error("subscription handler failed, will retry",
					zap.String("subscription", r.Name),
					zap.Int64("sequence", e.SequenceNumber),
					zap.String("aggregate_id", e.AggregateID),
					zap.String("correlation_id", e.CorrelationID),
					zap.Error(err))
				break
			}
			pos = e.SequenceNumber
			advanced = true
		}

		if advanced {
			if err := r.Checkpoints.Update(ctx, r.Name, pos); err != nil {
				logger.Log.Error("checkpoint update failed",
					zap.String("subscription", r.Name),
					zap.Int64("position", pos), zap.Error(err))
			} else {
				metrics.CheckpointPosition.WithLabelValues(r.Name).Set(float64(pos))
			}
		} else {
			if !wait(ctx, jitter(retryWait)) {
				return ctx.Err()
			}
		}
	}
}

func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
