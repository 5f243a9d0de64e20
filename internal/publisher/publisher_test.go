package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository/memory"
)

type fakeTransport struct {
	mu    sync.Mutex
	err   error
	calls []string // destination/key pairs in dispatch order
}

func (f *fakeTransport) Publish(_ context.Context, destination, key string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, destination+"/"+key)
	return f.err
}

func insertEntry(t *testing.T, store *memory.Store, eventID string, maxRetries int) model.OutboxEntry {
	t.Helper()
	err := store.Outbox().Insert(context.Background(), nil, []model.OutboxEntry{{
		EventID:     eventID,
		AggregateID: "a-1",
		EventType:   "article.drafted",
		Payload:     []byte(`{}`),
		Destination: "cms.articles",
		MaxRetries:  maxRetries,
	}})
	require.NoError(t, err)
	all := store.Outbox().All()
	return all[len(all)-1]
}

func TestDispatchAckMarksSent(t *testing.T) {
	store := memory.NewStore()
	transport := &fakeTransport{}
	p := New(store.Outbox(), transport)

	entry := insertEntry(t, store, "e-1", 3)
	p.dispatchOne(context.Background(), entry)

	all := store.Outbox().All()
	require.Equal(t, model.OutboxSent, all[0].Status)
	require.NotNil(t, all[0].SentAt)
	require.Equal(t, []string{"cms.articles/a-1"}, transport.calls)
}

func TestDispatchNackReschedulesWithBackoff(t *testing.T) {
	store := memory.NewStore()
	transport := &fakeTransport{err: errors.New("broker unavailable")}
	p := New(store.Outbox(), transport)

	entry := insertEntry(t, store, "e-1", 3)
	before := time.Now()
	p.dispatchOne(context.Background(), entry)

	all := store.Outbox().All()
	require.Equal(t, model.OutboxPending, all[0].Status)
	require.Equal(t, 1, all[0].RetryCount)
	require.Contains(t, all[0].LastError, "broker unavailable")
	require.True(t, all[0].NextRetryAt.After(before), "retry must be pushed into the future")
}

func TestDispatchExhaustedRetriesDeadLetters(t *testing.T) {
	store := memory.NewStore()
	transport := &fakeTransport{err: errors.New("broker unavailable")}
	p := New(store.Outbox(), transport)

	entry := insertEntry(t, store, "e-1", 2)
	entry.RetryCount = 2 // budget already spent
	p.dispatchOne(context.Background(), entry)

	all := store.Outbox().All()
	require.Equal(t, model.OutboxFailed, all[0].Status)
	require.Contains(t, all[0].LastError, "broker unavailable")
}

func TestRetryCountNeverExceedsBudget(t *testing.T) {
	store := memory.NewStore()
	transport := &fakeTransport{err: errors.New("down")}
	p := New(store.Outbox(), transport)
	p.BackoffBase = 0
	p.BackoffCap = time.Millisecond

	insertEntry(t, store, "e-1", 3)
	for i := 0; i < 10; i++ {
		all := store.Outbox().All()
		if all[0].Status != model.OutboxPending {
			break
		}
		p.dispatchOne(context.Background(), all[0])
	}

	all := store.Outbox().All()
	require.Equal(t, model.OutboxFailed, all[0].Status)
	require.LessOrEqual(t, all[0].RetryCount, 3)
}

func TestRetryBackoffBounds(t *testing.T) {
	base := 2 * time.Second
	cap := time.Minute
	for attempt := 1; attempt <= 20; attempt++ {
		d := retryBackoff(base, cap, attempt)
		require.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		require.LessOrEqual(t, d, cap+cap/2, "attempt %d: cap plus max jitter", attempt)
	}
	// grows before hitting the cap
	require.GreaterOrEqual(t, retryBackoff(base, cap, 3), 8*time.Second/2)
}

func TestIdleBackoffBounds(t *testing.T) {
	interval := time.Second
	for empties := 1; empties <= 10; empties++ {
		d := idleBackoff(interval, empties)
		require.GreaterOrEqual(t, d, interval)
		require.LessOrEqual(t, d, 8*interval+interval/4)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	p := New(store.Outbox(), &fakeTransport{})
	p.Workers = 2
	p.PollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunDrainsPendingEntries(t *testing.T) {
	store := memory.NewStore()
	transport := &fakeTransport{}
	p := New(store.Outbox(), transport)
	p.Workers = 2
	p.PollInterval = time.Millisecond

	for i := 0; i < 5; i++ {
		insertEntry(t, store, "e-"+string(rune('0'+i)), 3)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	for _, e := range store.Outbox().All() {
		require.Equal(t, model.OutboxSent, e.Status)
	}
}
