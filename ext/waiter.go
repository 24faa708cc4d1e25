package ext

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soandrew/transaction-outbox/entry"
)

// Compile-time interface checks.
var (
	_ Listener       = (*Waiter)(nil)
	_ EntrySubmitted = (*Waiter)(nil)
	_ EntryProcessed = (*Waiter)(nil)
	_ EntryBlocked   = (*Waiter)(nil)
)

// Waiter turns submitted entry IDs into awaitable handles. Register it
// as a listener, then call Wait with the ID returned by Submit to block
// until the entry is processed or blocked. Useful in tests and in hosts
// that want synchronous confirmation of out-of-transaction completion.
//
// A Waiter tracks an entry from its submission event. A terminal event
// for an ID it is not tracking, including one that arrives after Wait
// gave up on the ID, is dropped so abandoned waits leave no state
// behind.
type Waiter struct {
	mu      sync.Mutex
	results map[string]chan error
}

// NewWaiter creates a Waiter.
func NewWaiter() *Waiter {
	return &Waiter{results: make(map[string]chan error)}
}

// Name implements Listener.
func (w *Waiter) Name() string { return "waiter" }

// OnEntrySubmitted implements EntrySubmitted.
func (w *Waiter) OnEntrySubmitted(_ context.Context, e *entry.Entry) error {
	w.channel(e.ID)
	return nil
}

// OnEntryProcessed implements EntryProcessed.
func (w *Waiter) OnEntryProcessed(_ context.Context, e *entry.Entry, _ time.Duration) error {
	w.resolve(e.ID, nil)
	return nil
}

// OnEntryBlocked implements EntryBlocked.
func (w *Waiter) OnEntryBlocked(_ context.Context, e *entry.Entry, cause error) error {
	w.resolve(e.ID, fmt.Errorf("entry %s blocked after %d attempts: %w", e.ID, e.Attempts, cause))
	return nil
}

// Wait blocks until the entry reaches a terminal state or ctx is done.
// It returns nil when the entry was processed and the blocking cause
// when it was blocked.
func (w *Waiter) Wait(ctx context.Context, entryID string) error {
	ch := w.channel(entryID)
	select {
	case err := <-ch:
		w.forget(entryID)
		return err
	case <-ctx.Done():
		w.forget(entryID)
		return ctx.Err()
	}
}

func (w *Waiter) channel(entryID string) chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.results[entryID]
	if !ok {
		ch = make(chan error, 1)
		w.results[entryID] = ch
	}
	return ch
}

// resolve delivers a terminal result to a channel that already exists.
// It never creates one: an ID nobody tracks must not reappear in the
// map, or every abandoned Wait would strand a channel there forever.
func (w *Waiter) resolve(entryID string, err error) {
	w.mu.Lock()
	ch, ok := w.results[entryID]
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- err:
	default: // already resolved
	}
}

func (w *Waiter) forget(entryID string) {
	w.mu.Lock()
	delete(w.results, entryID)
	w.mu.Unlock()
}
