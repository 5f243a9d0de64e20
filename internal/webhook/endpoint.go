package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Endpoint is one subscriber URL for a destination, guarded by its own
// circuit breaker.
type Endpoint struct {
	url    string
	client *http.Client
	br     *Breaker
}

func NewEndpoint(url string, timeout time.Duration, failThreshold int, openFor time.Duration) *Endpoint {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Endpoint{
		url:    url,
		client: &http.Client{Timeout: timeout},
		br:     NewBreaker(failThreshold, openFor),
	}
}

func (e *Endpoint) URL() string   { return e.url }
func (e *Endpoint) Ready() bool   { return e.br.Ready() }
func (e *Endpoint) Acquire() bool { return e.br.Acquire() }

// Deliver posts one serialized envelope. key travels as a header so
// subscribers can shard or dedupe without parsing the body.
func (e *Endpoint) Deliver(ctx context.Context, destination, key string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Destination", destination)
	req.Header.Set("X-Event-Key", key)

	res, err := e.client.Do(req)
	if err != nil {
		e.br.OnFailure()
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		e.br.OnFailure()
		return fmt.Errorf("webhook %s: status=%d", e.url, res.StatusCode)
	}

	e.br.OnSuccess()

	return nil
}
