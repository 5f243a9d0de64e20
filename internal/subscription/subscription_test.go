package subscription_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository/memory"
	"github.com/haven-cms/eventcore/internal/subscription"
)

func seedEvents(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	events := make([]model.DomainEvent, n)
	for i := range events {
		events[i] = model.DomainEvent{
			AggregateID:   "a-1",
			AggregateType: "article",
			EventType:     fmt.Sprintf("article.event%d", i+1),
			Payload:       []byte(`{}`),
		}
	}
	_, err := store.Events().Append(context.Background(), nil, 0, events)
	require.NoError(t, err)
}

func newRunner(store *memory.Store, handle subscription.HandleFunc) *subscription.Runner {
	stream := subscription.NewStream(store.Events())
	stream.PollInterval = 5 * time.Millisecond
	return &subscription.Runner{
		Name:        "test-subscriber",
		Stream:      stream,
		Checkpoints: store.Checkpoints(),
		Handle:      handle,
	}
}

func TestRunnerCatchesUpAndCheckpoints(t *testing.T) {
	store := memory.NewStore()
	seedEvents(t, store, 5)

	var seen []int64
	runner := newRunner(store, func(_ context.Context, e model.DomainEvent) error {
		seen = append(seen, e.SequenceNumber)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, runner.Run(ctx), context.DeadlineExceeded)

	require.Equal(t, []int64{1, 2, 3, 4, 5}, seen)

	cp, err := store.Checkpoints().Get(context.Background(), "test-subscriber")
	require.NoError(t, err)
	require.Equal(t, int64(5), cp.Position)
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	store := memory.NewStore()
	seedEvents(t, store, 5)
	require.NoError(t, store.Checkpoints().Update(context.Background(), "test-subscriber", 3))

	var seen []int64
	runner := newRunner(store, func(_ context.Context, e model.DomainEvent) error {
		seen = append(seen, e.SequenceNumber)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, runner.Run(ctx), context.DeadlineExceeded)

	require.Equal(t, []int64{4, 5}, seen)
}

func TestRunnerHandlerErrorBlocksCursor(t *testing.T) {
	store := memory.NewStore()
	seedEvents(t, store, 5)

	attempts := map[int64]int{}
	runner := newRunner(store, func(_ context.Context, e model.DomainEvent) error {
		attempts[e.SequenceNumber]++
		if e.SequenceNumber == 3 {
			return errors.New("projection write failed")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, runner.Run(ctx), context.DeadlineExceeded)

	// events before the failure are applied once and checkpointed;
	// nothing after the failing event is delivered
	cp, err := store.Checkpoints().Get(context.Background(), "test-subscriber")
	require.NoError(t, err)
	require.Equal(t, int64(2), cp.Position)
	require.Equal(t, 1, attempts[1])
	require.Equal(t, 1, attempts[2])
	require.GreaterOrEqual(t, attempts[3], 2, "failing event is retried, not skipped")
	require.Zero(t, attempts[4])
	require.Zero(t, attempts[5])
}

func TestRunnerLiveTail(t *testing.T) {
	store := memory.NewStore()
	seedEvents(t, store, 2)

	got := make(chan int64, 8)
	runner := newRunner(store, func(_ context.Context, e model.DomainEvent) error {
		got <- e.SequenceNumber
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Equal(t, int64(1), <-got)
	require.Equal(t, int64(2), <-got)

	// appended after catch-up, picked up by the live poll
	_, err := store.Events().Append(context.Background(), nil, 0,
		[]model.DomainEvent{{AggregateID: "a-2", AggregateType: "article", EventType: "article.drafted", Payload: []byte(`{}`)}})
	require.NoError(t, err)
	require.Equal(t, int64(3), <-got)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
