// Package ext defines the listener system for the outbox. Listeners
// are notified of entry lifecycle events (submitted, processed,
// retrying, blocked, unblocked) and can react to them: logging,
// metrics, downstream notification, etc.
//
// Each lifecycle hook is a separate interface so listeners opt in only
// to the events they care about. Hooks are a fire-and-forget boundary:
// a hook error is logged, never propagated into outbox processing.
package ext

import (
	"context"
	"time"

	"github.com/soandrew/transaction-outbox/entry"
)

// Listener is the base interface all listeners must implement.
type Listener interface {
	// Name returns a unique human-readable name for the listener.
	Name() string
}

// ──────────────────────────────────────────────────
// Entry lifecycle hooks
// ──────────────────────────────────────────────────

// EntrySubmitted is called after an entry is inserted. The enclosing
// business transaction may still roll back.
type EntrySubmitted interface {
	OnEntrySubmitted(ctx context.Context, e *entry.Entry) error
}

// EntryProcessed is called after an entry executes successfully and
// its terminal state is committed.
type EntryProcessed interface {
	OnEntryProcessed(ctx context.Context, e *entry.Entry, elapsed time.Duration) error
}

// EntryRetrying is called when an attempt fails and the entry is
// rescheduled.
type EntryRetrying interface {
	OnEntryRetrying(ctx context.Context, e *entry.Entry, cause error, nextAttempt time.Time) error
}

// EntryBlocked is called when an entry exceeds the attempt threshold
// and is taken out of automatic scheduling.
type EntryBlocked interface {
	OnEntryBlocked(ctx context.Context, e *entry.Entry, cause error) error
}

// EntryUnblocked is called when an operator clears a blocked entry.
type EntryUnblocked interface {
	OnEntryUnblocked(ctx context.Context, entryID string) error
}

// Shutdown is called during graceful engine shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
