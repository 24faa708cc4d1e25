package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/soandrew/transaction-outbox/entry"
)

// Named hook entries pair a hook implementation with the listener name
// captured at registration time. This avoids type-asserting back to
// Listener inside the emit methods.
type submittedHook struct {
	name string
	hook EntrySubmitted
}

type processedHook struct {
	name string
	hook EntryProcessed
}

type retryingHook struct {
	name string
	hook EntryRetrying
}

type blockedHook struct {
	name string
	hook EntryBlocked
}

type unblockedHook struct {
	name string
	hook EntryUnblocked
}

type shutdownHook struct {
	name string
	hook Shutdown
}

// Registry holds registered listeners and dispatches lifecycle events
// to them. It type-caches listeners at registration time so emit calls
// iterate only over listeners that implement the relevant hook.
type Registry struct {
	listeners []Listener
	logger    *slog.Logger

	// Type-cached slices for each lifecycle hook.
	submitted []submittedHook
	processed []processedHook
	retrying  []retryingHook
	blocked   []blockedHook
	unblocked []unblockedHook
	shutdown  []shutdownHook
}

// NewRegistry creates a listener registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a listener and type-asserts it into all applicable
// hook caches. Listeners are notified in registration order.
func (r *Registry) Register(l Listener) {
	r.listeners = append(r.listeners, l)
	name := l.Name()

	if h, ok := l.(EntrySubmitted); ok {
		r.submitted = append(r.submitted, submittedHook{name, h})
	}
	if h, ok := l.(EntryProcessed); ok {
		r.processed = append(r.processed, processedHook{name, h})
	}
	if h, ok := l.(EntryRetrying); ok {
		r.retrying = append(r.retrying, retryingHook{name, h})
	}
	if h, ok := l.(EntryBlocked); ok {
		r.blocked = append(r.blocked, blockedHook{name, h})
	}
	if h, ok := l.(EntryUnblocked); ok {
		r.unblocked = append(r.unblocked, unblockedHook{name, h})
	}
	if h, ok := l.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownHook{name, h})
	}
}

// Listeners returns all registered listeners.
func (r *Registry) Listeners() []Listener { return r.listeners }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitEntrySubmitted notifies all listeners that implement EntrySubmitted.
func (r *Registry) EmitEntrySubmitted(ctx context.Context, e *entry.Entry) {
	for _, h := range r.submitted {
		if err := h.hook.OnEntrySubmitted(ctx, e); err != nil {
			r.logHookError("OnEntrySubmitted", h.name, err)
		}
	}
}

// EmitEntryProcessed notifies all listeners that implement EntryProcessed.
func (r *Registry) EmitEntryProcessed(ctx context.Context, e *entry.Entry, elapsed time.Duration) {
	for _, h := range r.processed {
		if err := h.hook.OnEntryProcessed(ctx, e, elapsed); err != nil {
			r.logHookError("OnEntryProcessed", h.name, err)
		}
	}
}

// EmitEntryRetrying notifies all listeners that implement EntryRetrying.
func (r *Registry) EmitEntryRetrying(ctx context.Context, e *entry.Entry, cause error, nextAttempt time.Time) {
	for _, h := range r.retrying {
		if err := h.hook.OnEntryRetrying(ctx, e, cause, nextAttempt); err != nil {
			r.logHookError("OnEntryRetrying", h.name, err)
		}
	}
}

// EmitEntryBlocked notifies all listeners that implement EntryBlocked.
func (r *Registry) EmitEntryBlocked(ctx context.Context, e *entry.Entry, cause error) {
	for _, h := range r.blocked {
		if err := h.hook.OnEntryBlocked(ctx, e, cause); err != nil {
			r.logHookError("OnEntryBlocked", h.name, err)
		}
	}
}

// EmitEntryUnblocked notifies all listeners that implement EntryUnblocked.
func (r *Registry) EmitEntryUnblocked(ctx context.Context, entryID string) {
	for _, h := range r.unblocked {
		if err := h.hook.OnEntryUnblocked(ctx, entryID); err != nil {
			r.logHookError("OnEntryUnblocked", h.name, err)
		}
	}
}

// EmitShutdown notifies all listeners that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, h := range r.shutdown {
		if err := h.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", h.name, err)
		}
	}
}

func (r *Registry) logHookError(hook, listener string, err error) {
	r.logger.Warn("outbox listener hook failed",
		slog.String("hook", hook),
		slog.String("listener", listener),
		slog.String("error", err.Error()),
	)
}
