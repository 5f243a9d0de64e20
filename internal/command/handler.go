package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/haven-cms/eventcore/internal/aggregate"
	"github.com/haven-cms/eventcore/internal/model"
)

// ErrValidation marks a command the domain rejected. Not retried; the
// ledger records FAILED and the caller gets the reason.
var ErrValidation = errors.New("command validation failed")

// Proposed is an event a handler wants appended.
type Proposed struct {
	EventType string
	Payload   json.RawMessage
	Metadata  json.RawMessage

	// Destination is the transport topic for external delivery. Empty
	// means the event is internal and gets no outbox entry.
	Destination string
}

// Handler executes one command type against a rehydrated aggregate.
type Handler interface {
	CommandType() string
	AggregateType() string

	// NewAggregate builds the empty aggregate this handler targets.
	NewAggregate(id string) aggregate.Aggregate

	// Handle validates the command against current state and proposes new
	// events. Validation failures wrap ErrValidation.
	Handle(ctx context.Context, agg aggregate.Aggregate, cmd model.Command) ([]Proposed, error)
}

// Registry is the command-type dispatch table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[h.CommandType()]; dup {
		return fmt.Errorf("handler for %q already registered", h.CommandType())
	}
	r.handlers[h.CommandType()] = h
	return nil
}

// MustRegister panics on duplicate registration; wiring-time only.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(commandType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[commandType]
	return h, ok
}
