package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	br := NewBreaker(3, time.Hour)

	br.OnFailure()
	br.OnFailure()
	require.True(t, br.Ready(), "stays closed below the threshold")

	br.OnFailure()
	require.False(t, br.Ready())
	require.False(t, br.Acquire())
}

func TestBreakerProbeAfterOpenWindow(t *testing.T) {
	br := NewBreaker(1, 10*time.Millisecond)
	br.OnFailure()
	require.False(t, br.Acquire())

	time.Sleep(20 * time.Millisecond)

	// exactly one probe slot
	require.True(t, br.Acquire())
	require.False(t, br.Acquire())

	// failed probe re-opens the window
	br.OnFailure()
	require.False(t, br.Acquire())
}

func TestBreakerClosesOnSuccessfulProbe(t *testing.T) {
	br := NewBreaker(1, 10*time.Millisecond)
	br.OnFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, br.Acquire())

	br.OnSuccess()
	require.True(t, br.Acquire())
	require.True(t, br.Acquire(), "closed circuit has no probe limit")
}

func TestPublishDeliversWithHeaders(t *testing.T) {
	var gotDest, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDest = r.Header.Get("X-Event-Destination")
		gotKey = r.Header.Get("X-Event-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewTransport(map[string][]string{"cms.articles": {srv.URL}}, Config{})
	err := tr.Publish(context.Background(), "cms.articles", "article-1", []byte(`{"x":1}`))
	require.NoError(t, err)
	require.Equal(t, "cms.articles", gotDest)
	require.Equal(t, "article-1", gotKey)
	require.JSONEq(t, `{"x":1}`, string(gotBody))
}

func TestPublishUnknownDestination(t *testing.T) {
	tr := NewTransport(map[string][]string{}, Config{})
	err := tr.Publish(context.Background(), "nowhere", "k", nil)
	require.ErrorIs(t, err, ErrUnknownDestination)
}

func TestPublishFailsOverToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	var okCalls atomic.Int64
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		okCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	tr := NewTransport(map[string][]string{"d": {bad.URL, good.URL}}, Config{Attempts: 2})
	// both endpoints healthy: round-robin may hit the bad one first, the
	// second attempt lands on the good one
	require.NoError(t, tr.Publish(context.Background(), "d", "k", []byte(`{}`)))
	require.NoError(t, tr.Publish(context.Background(), "d", "k", []byte(`{}`)))
	require.GreaterOrEqual(t, okCalls.Load(), int64(2))
}

func TestBreakerShieldsDeadEndpoint(t *testing.T) {
	var deadCalls atomic.Int64
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		deadCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	tr := NewTransport(map[string][]string{"d": {dead.URL}},
		Config{FailThreshold: 2, OpenFor: time.Hour, Attempts: 1})

	require.Error(t, tr.Publish(context.Background(), "d", "k", nil))
	require.Error(t, tr.Publish(context.Background(), "d", "k", nil))

	// circuit is open: further publishes fail fast without a request
	err := tr.Publish(context.Background(), "d", "k", nil)
	require.ErrorIs(t, err, ErrNoHealthy)
	require.Equal(t, int64(2), deadCalls.Load())
}
