package entry

import (
	"context"
	"time"

	"github.com/soandrew/transaction-outbox/txn"
)

// Persistor translates Entry operations into storage calls. All
// observable contracts are identical across backends; only the SQL
// text varies per dialect.
type Persistor interface {
	// Insert persists a new entry. It returns an error matching
	// outbox.ErrDuplicateRequest when the entry's unique request id
	// collides with an existing row.
	Insert(ctx context.Context, tx txn.Transaction, e *Entry) error

	// Update persists changes to e, matched on (id, version). On
	// success e.Version is incremented. When no row matches it returns
	// an error matching outbox.ErrOptimisticLock.
	Update(ctx context.Context, tx txn.Transaction, e *Entry) error

	// Delete removes e, matched on (id, version), only once processed.
	// Returns an error matching outbox.ErrEntryNotFound when no row
	// matches.
	Delete(ctx context.Context, tx txn.Transaction, e *Entry) error

	// Lock claims e for the current transaction, matched on
	// (id, version). It returns false when the row has been updated or
	// removed by a concurrent worker.
	Lock(ctx context.Context, tx txn.Transaction, e *Entry) (bool, error)

	// SelectBatch returns up to batchSize unprocessed, unblocked
	// entries due at or before now, oldest due first. Rows returned to
	// one caller are excluded from a concurrent caller's result set
	// for the duration of the transaction.
	SelectBatch(ctx context.Context, tx txn.Transaction, batchSize int, now time.Time) ([]*Entry, error)

	// ExistsUnique reports whether an entry with the given unique
	// request id exists.
	ExistsUnique(ctx context.Context, tx txn.Transaction, requestID string) (bool, error)

	// Unblock clears the blocked flag and resets the attempt counter
	// for the entry with the given id. Returns an error matching
	// outbox.ErrEntryNotFound when the entry is absent or not blocked.
	Unblock(ctx context.Context, tx txn.Transaction, entryID string) error

	// DeleteProcessedBefore removes processed entries whose last
	// attempt predates cutoff, returning how many were deleted.
	DeleteProcessedBefore(ctx context.Context, tx txn.Transaction, cutoff time.Time) (int64, error)
}
