// Package entry defines the outbox row, the durable unit of deferred
// work, and the Persistor interface the dispatch engine depends on.
package entry

import (
	"time"

	"github.com/google/uuid"

	outbox "github.com/soandrew/transaction-outbox"
)

// Entry is a single outbox row. It is created inside the caller's
// business transaction, mutated only by the dispatch engine, and
// deleted only once Processed is true.
type Entry struct {
	// ID is assigned at creation and immutable.
	ID string `json:"id"`

	// Invocation is the stored payload to re-execute. Immutable.
	Invocation outbox.Invocation `json:"invocation"`

	// CreatedTime is when the entry was submitted.
	CreatedTime time.Time `json:"created_time"`

	// LastAttemptTime is when the entry was last attempted, nil before
	// the first attempt.
	LastAttemptTime *time.Time `json:"last_attempt_time,omitempty"`

	// NextAttemptTime is when the entry next becomes due. Advanced on
	// claim and on every failed attempt to implement backoff.
	NextAttemptTime time.Time `json:"next_attempt_time"`

	// Attempts counts execution attempts, success included.
	Attempts int `json:"attempts"`

	// Blocked marks an entry that exceeded the attempt threshold. A
	// blocked entry is never selected until explicitly unblocked.
	Blocked bool `json:"blocked"`

	// Processed marks successful execution. Terminal: once true the
	// entry is only eligible for cleanup.
	Processed bool `json:"processed"`

	// UniqueRequestID is the optional deduplication key. At most one
	// non-deleted entry exists per non-empty value.
	UniqueRequestID string `json:"unique_request_id,omitempty"`

	// Version is the optimistic concurrency counter, bumped on every
	// update.
	Version int `json:"version"`
}

// Option configures a new Entry.
type Option func(*Entry)

// WithUniqueRequestID sets the deduplication key.
func WithUniqueRequestID(id string) Option {
	return func(e *Entry) {
		e.UniqueRequestID = id
	}
}

// WithNextAttemptTime schedules the first attempt for a later time.
func WithNextAttemptTime(t time.Time) Option {
	return func(e *Entry) {
		e.NextAttemptTime = t
	}
}

// New creates a pending Entry for inv, due immediately.
func New(inv outbox.Invocation, now time.Time, opts ...Option) *Entry {
	e := &Entry{
		ID:              uuid.NewString(),
		Invocation:      inv,
		CreatedTime:     now,
		NextAttemptTime: now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
