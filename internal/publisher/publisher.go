// Package publisher drains the outbox: claim a batch of due PENDING
// rows, dispatch them to the external transport, and record the result.
// Delivery is at-least-once; consumers deduplicate by event id.
package publisher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haven-cms/eventcore/internal/logger"
	"github.com/haven-cms/eventcore/internal/metrics"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

// Transport is the external message bus boundary. Any returned error,
// including a timeout, is a nack and counts toward the retry budget.
type Transport interface {
	Publish(ctx context.Context, destination, key string, payload []byte) error
}

// Publisher is a fixed-size pool of polling workers.
type Publisher struct {
	Outbox    repository.OutboxStore
	Transport Transport

	Workers         int
	BatchSize       int
	PollInterval    time.Duration
	ClaimLease      time.Duration
	DispatchTimeout time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
}

// New builds a publisher with sane defaults.
func New(outbox repository.OutboxStore, transport Transport) *Publisher {
	return &Publisher{
		Outbox:          outbox,
		Transport:       transport,
		Workers:         4,
		BatchSize:       50,
		PollInterval:    time.Second,
		ClaimLease:      30 * time.Second,
		DispatchTimeout: 5 * time.Second,
		BackoffBase:     2 * time.Second,
		BackoffCap:      5 * time.Minute,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled. Shutdown
// is cooperative: workers observe cancellation at the poll and dispatch
// boundaries, never mid-write.
func (p *Publisher) Run(ctx context.Context) error {
	if p.Workers <= 0 {
		p.Workers = 4
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}

	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Publisher) runWorker(ctx context.Context, id int) {
	empties := 0
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := p.Outbox.Claim(ctx, p.BatchSize, p.ClaimLease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error("outbox claim failed", zap.Int("worker", id), zap.Error(err))
			if !sleep(ctx, p.PollInterval) {
				return
			}
			continue
		}

		if len(claimed) == 0 {
			empties++
			if !sleep(ctx, idleBackoff(p.PollInterval, empties)) {
				return
			}
			continue
		}
		empties = 0

		for _, entry := range claimed {
			if ctx.Err() != nil {
				return
			}
			p.dispatchOne(ctx, entry)
		}
	}
}

func (p *Publisher) dispatchOne(ctx context.Context, entry model.OutboxEntry) {
	dctx, cancel := context.WithTimeout(ctx, p.DispatchTimeout)
	err := p.Transport.Publish(dctx, entry.Destination, entry.AggregateID, entry.Payload)
	cancel()

	if err == nil {
		if err := p.Outbox.MarkSent(ctx, entry.ID); err != nil {
			logger.Log.Error("mark sent failed",
				zap.Int64("outbox_id", entry.ID),
				zap.String("aggregate_id", entry.AggregateID),
				zap.Error(err))
			return
		}
		metrics.OutboxDispatchTotal.WithLabelValues("sent").Inc()
		return
	}

	retries := entry.RetryCount + 1
	if retries > entry.MaxRetries {
		// dead-letter; requires operator action
		if err := p.Outbox.MarkFailed(ctx, entry.ID, err.Error()); err != nil {
			logger.Log.Error("mark failed failed",
				zap.Int64("outbox_id", entry.ID), zap.Error(err))
			return
		}
		metrics.OutboxDispatchTotal.WithLabelValues("dead_letter").Inc()
		logger.Log.Error("outbox entry dead-lettered",
			zap.Int64("outbox_id", entry.ID),
			zap.String("event_id", entry.EventID),
			zap.String("aggregate_id", entry.AggregateID),
			zap.String("destination", entry.Destination),
			zap.Error(err))
		return
	}

	next := time.Now().Add(retryBackoff(p.BackoffBase, p.BackoffCap, retries))
	if err2 := p.Outbox.Reschedule(ctx, entry.ID, retries, next, err.Error()); err2 != nil {
		logger.Log.Error("reschedule failed",
			zap.Int64("outbox_id", entry.ID), zap.Error(err2))
		return
	}
	metrics.OutboxDispatchTotal.WithLabelValues("nack").Inc()
	logger.Log.Warn("outbox dispatch nacked",
		zap.Int64("outbox_id", entry.ID),
		zap.String("aggregate_id", entry.AggregateID),
		zap.Int("retry_count", retries),
		zap.Time("next_retry_at", next),
		zap.Error(err))
}

// sleep waits for d or cancellation; returns false when cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
