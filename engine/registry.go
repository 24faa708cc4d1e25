package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/txn"
)

// Compile-time interface check.
var _ outbox.Executor = (*Registry)(nil)

// HandlerFunc is a type-erased invocation handler that accepts the raw
// JSON argument payload. The active transaction is injected so handlers
// can perform business writes that commit atomically with the entry's
// terminal state.
type HandlerFunc func(ctx context.Context, tx txn.Transaction, args []byte) error

// Registry maps invocation targets to handler functions and implements
// outbox.Executor. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register registers a handler under target, replacing any previous
// registration.
func (r *Registry) Register(target string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[target] = h
}

// RegisterTyped registers a typed handler. The generic handler is
// wrapped in a closure that JSON-unmarshals the argument payload into T
// before calling it.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterTyped[T any](r *Registry, target string, h func(ctx context.Context, tx txn.Transaction, args T) error) {
	r.Register(target, func(ctx context.Context, tx txn.Transaction, args []byte) error {
		var t T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &t); err != nil {
				return fmt.Errorf("unmarshal args for target %q: %w", target, err)
			}
		}
		return h(ctx, tx, t)
	})
}

// Get returns the handler for the given target.
func (r *Registry) Get(target string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[target]
	return h, ok
}

// Targets returns all registered targets.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]string, 0, len(r.handlers))
	for target := range r.handlers {
		targets = append(targets, target)
	}
	return targets
}

// Execute implements outbox.Executor by dispatching to the registered
// handler for the invocation's target.
func (r *Registry) Execute(ctx context.Context, tx txn.Transaction, inv outbox.Invocation) error {
	h, ok := r.Get(inv.Target)
	if !ok {
		return fmt.Errorf("%w: %q", outbox.ErrUnknownTarget, inv.Target)
	}
	return h(ctx, tx, inv.Args)
}
