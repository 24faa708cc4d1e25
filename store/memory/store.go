// Package memory provides a fully in-memory entry.Persistor and a
// pass-through transaction manager. Safe for concurrent access.
// Intended for unit testing and development; mutations are not
// transactional and are never rolled back.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/entry"
	"github.com/soandrew/transaction-outbox/txn"
)

// Compile-time interface checks.
var (
	_ entry.Persistor = (*Store)(nil)
	_ txn.Manager     = (*TxManager)(nil)
)

// TxManager is a no-op txn.Manager for use with Store. It runs the
// unit of work with a nil transaction handle.
type TxManager struct{}

// NewTxManager creates a pass-through transaction manager.
func NewTxManager() *TxManager { return &TxManager{} }

// InTransaction runs fn with a nil transaction.
func (*TxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx txn.Transaction) error) error {
	return fn(ctx, nil)
}

// Store is an in-memory implementation of entry.Persistor.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry.Entry)}
}

// Insert persists a new entry, enforcing id and unique request id
// uniqueness.
func (s *Store) Insert(_ context.Context, _ txn.Transaction, e *entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.ID]; exists {
		return outbox.ErrDuplicateRequest
	}
	if e.UniqueRequestID != "" {
		for _, other := range s.entries {
			if other.UniqueRequestID == e.UniqueRequestID {
				return outbox.ErrDuplicateRequest
			}
		}
	}

	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

// Update persists changes to e when the stored version matches; the
// version is bumped on success.
func (s *Store) Update(_ context.Context, _ txn.Transaction, e *entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[e.ID]
	if !ok || stored.Version != e.Version {
		return outbox.ErrOptimisticLock
	}

	e.Version++
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

// Delete removes a processed entry at the expected version.
func (s *Store) Delete(_ context.Context, _ txn.Transaction, e *entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[e.ID]
	if !ok || stored.Version != e.Version || !stored.Processed {
		return outbox.ErrEntryNotFound
	}
	delete(s.entries, e.ID)
	return nil
}

// Lock reports whether e still exists at the expected version.
func (s *Store) Lock(_ context.Context, _ txn.Transaction, e *entry.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[e.ID]
	return ok && stored.Version == e.Version, nil
}

// SelectBatch returns up to batchSize due entries, oldest due first.
func (s *Store) SelectBatch(_ context.Context, _ txn.Transaction, batchSize int, now time.Time) ([]*entry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*entry.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Processed || e.Blocked || e.NextAttemptTime.After(now) {
			continue
		}
		cp := *e
		candidates = append(candidates, &cp)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].NextAttemptTime.Equal(candidates[j].NextAttemptTime) {
			return candidates[i].NextAttemptTime.Before(candidates[j].NextAttemptTime)
		}
		return candidates[i].ID < candidates[j].ID
	})

	if batchSize > 0 && len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}
	return candidates, nil
}

// ExistsUnique reports whether an entry carrying requestID exists.
func (s *Store) ExistsUnique(_ context.Context, _ txn.Transaction, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.UniqueRequestID == requestID {
			return true, nil
		}
	}
	return false, nil
}

// Unblock clears the blocked flag and resets the attempt counter.
func (s *Store) Unblock(_ context.Context, _ txn.Transaction, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entryID]
	if !ok || !stored.Blocked || stored.Processed {
		return outbox.ErrEntryNotFound
	}
	stored.Blocked = false
	stored.Attempts = 0
	stored.Version++
	return nil
}

// DeleteProcessedBefore removes processed entries whose last attempt
// predates cutoff.
func (s *Store) DeleteProcessedBefore(_ context.Context, _ txn.Transaction, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, e := range s.entries {
		if e.Processed && e.LastAttemptTime != nil && e.LastAttemptTime.Before(cutoff) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// Get returns a copy of the entry with the given id, for tests.
func (s *Store) Get(entryID string) (*entry.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Len returns the number of stored entries, for tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
