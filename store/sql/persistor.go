// Package sqlstore implements entry.Persistor against any database/sql
// backend. The SQL text is resolved through a dialect; the observable
// contracts are identical across engines.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/dialect"
	"github.com/soandrew/transaction-outbox/entry"
	"github.com/soandrew/transaction-outbox/txn"
)

// Compile-time interface check.
var _ entry.Persistor = (*Persistor)(nil)

const allColumns = "id, invocation, created_time, last_attempt_time, next_attempt_time, " +
	"attempts, blocked, processed, unique_request_id, version"

// Persistor is the dialect-portable SQL implementation of
// entry.Persistor. It is stateless apart from precompiled query text
// and safe for concurrent use.
type Persistor struct {
	dialect dialect.Dialect
	logger  *slog.Logger

	insertSQL       string
	updateSQL       string
	deleteSQL       string
	lockSQL         string
	selectBatchSQL  string
	existsUniqueSQL string
	unblockSQL      string
	deleteDoneSQL   string
}

// Option configures the Persistor.
type Option func(*Persistor)

// WithLogger sets the logger for the persistor.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Persistor) {
		p.logger = logger
	}
}

// New creates a Persistor for the given dialect.
func New(d dialect.Dialect, opts ...Option) *Persistor {
	p := &Persistor{
		dialect: d,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.insertSQL = d.Rebind(
		"INSERT INTO " + dialect.EntryTable + " (" + allColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	p.updateSQL = d.Rebind(
		"UPDATE " + dialect.EntryTable + " SET last_attempt_time = ?, next_attempt_time = ?, " +
			"attempts = ?, blocked = ?, processed = ?, version = ? WHERE id = ? AND version = ?")
	p.deleteSQL = d.Rebind(
		"DELETE FROM " + dialect.EntryTable + " WHERE id = ? AND version = ? AND processed = ?")
	p.lockSQL = d.Rebind(
		"SELECT processed FROM " + dialect.EntryTable + " WHERE id = ? AND version = ?" + d.RowLockClause())
	p.selectBatchSQL = d.Rebind(
		"SELECT " + allColumns + " FROM " + dialect.EntryTable +
			" WHERE processed = ? AND blocked = ? AND next_attempt_time <= ?" +
			" ORDER BY next_attempt_time ASC, id ASC LIMIT ?" + d.BatchLockClause())
	p.existsUniqueSQL = d.Rebind(
		"SELECT EXISTS(SELECT 1 FROM " + dialect.EntryTable + " WHERE unique_request_id = ?)")
	p.unblockSQL = d.Rebind(
		"UPDATE " + dialect.EntryTable + " SET attempts = 0, blocked = ?, version = version + 1" +
			" WHERE id = ? AND blocked = ? AND processed = ?")
	p.deleteDoneSQL = d.Rebind(
		"DELETE FROM " + dialect.EntryTable + " WHERE processed = ? AND last_attempt_time < ?")

	return p
}

// Dialect returns the dialect the persistor was built for.
func (p *Persistor) Dialect() dialect.Dialect { return p.dialect }

// Insert persists a new entry. A unique request id collision is
// reported as outbox.ErrDuplicateRequest. The detection rides the
// unique constraint, and on PostgreSQL a constraint failure aborts the
// surrounding transaction; callers that need to continue it should
// check ExistsUnique before inserting.
func (p *Persistor) Insert(ctx context.Context, tx txn.Transaction, e *entry.Entry) error {
	inv, err := json.Marshal(e.Invocation)
	if err != nil {
		return fmt.Errorf("outbox/sqlstore: marshal invocation: %w", err)
	}

	_, err = tx.ExecContext(ctx, p.insertSQL,
		e.ID, string(inv), e.CreatedTime, e.LastAttemptTime, e.NextAttemptTime,
		e.Attempts, e.Blocked, e.Processed, nullString(e.UniqueRequestID), e.Version,
	)
	if err != nil {
		if p.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", outbox.ErrDuplicateRequest, e.UniqueRequestID)
		}
		return fmt.Errorf("outbox/sqlstore: insert entry: %w", err)
	}
	return nil
}

// Update persists changes to e, matched on (id, version). The version
// is bumped on success; zero matched rows means a concurrent worker won
// the race and is reported as outbox.ErrOptimisticLock.
func (p *Persistor) Update(ctx context.Context, tx txn.Transaction, e *entry.Entry) error {
	res, err := tx.ExecContext(ctx, p.updateSQL,
		e.LastAttemptTime, e.NextAttemptTime, e.Attempts, e.Blocked, e.Processed,
		e.Version+1, e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("outbox/sqlstore: update entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox/sqlstore: update entry: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entry %s version %d", outbox.ErrOptimisticLock, e.ID, e.Version)
	}
	e.Version++
	return nil
}

// Delete removes a processed entry, matched on (id, version).
func (p *Persistor) Delete(ctx context.Context, tx txn.Transaction, e *entry.Entry) error {
	res, err := tx.ExecContext(ctx, p.deleteSQL, e.ID, e.Version, true)
	if err != nil {
		return fmt.Errorf("outbox/sqlstore: delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox/sqlstore: delete entry: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entry %s version %d", outbox.ErrEntryNotFound, e.ID, e.Version)
	}
	return nil
}

// Lock claims e within the current transaction. False means the row was
// updated or removed concurrently since e was read.
func (p *Persistor) Lock(ctx context.Context, tx txn.Transaction, e *entry.Entry) (bool, error) {
	var processed bool
	err := tx.QueryRowContext(ctx, p.lockSQL, e.ID, e.Version).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("outbox/sqlstore: lock entry: %w", err)
	}
	return true, nil
}

// SelectBatch returns up to batchSize due entries, oldest due first,
// applying the dialect's batch lock so concurrent flushers skip each
// other's rows.
func (p *Persistor) SelectBatch(ctx context.Context, tx txn.Transaction, batchSize int, now time.Time) ([]*entry.Entry, error) {
	rows, err := tx.QueryContext(ctx, p.selectBatchSQL, false, false, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlstore: select batch: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// ExistsUnique reports whether an entry carrying requestID exists.
func (p *Persistor) ExistsUnique(ctx context.Context, tx txn.Transaction, requestID string) (bool, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, p.existsUniqueSQL, requestID).Scan(&exists); err != nil {
		return false, fmt.Errorf("outbox/sqlstore: exists unique: %w", err)
	}
	return exists, nil
}

// Unblock clears the blocked flag and resets the attempt counter so the
// entry resumes normal selection.
func (p *Persistor) Unblock(ctx context.Context, tx txn.Transaction, entryID string) error {
	res, err := tx.ExecContext(ctx, p.unblockSQL, false, entryID, true, false)
	if err != nil {
		return fmt.Errorf("outbox/sqlstore: unblock entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox/sqlstore: unblock entry: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: blocked entry %s", outbox.ErrEntryNotFound, entryID)
	}
	return nil
}

// DeleteProcessedBefore removes processed entries whose last attempt
// predates cutoff.
func (p *Persistor) DeleteProcessedBefore(ctx context.Context, tx txn.Transaction, cutoff time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, p.deleteDoneSQL, true, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox/sqlstore: delete processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox/sqlstore: delete processed: %w", err)
	}
	return affected, nil
}

// scanEntry scans a single entry row.
func scanEntry(rows *sql.Rows) (*entry.Entry, error) {
	var (
		e           entry.Entry
		inv         string
		created     sql.NullTime
		lastAttempt sql.NullTime
		nextAttempt sql.NullTime
		uniqueID    sql.NullString
	)
	err := rows.Scan(
		&e.ID, &inv, &created, &lastAttempt, &nextAttempt,
		&e.Attempts, &e.Blocked, &e.Processed, &uniqueID, &e.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(inv), &e.Invocation); err != nil {
		return nil, fmt.Errorf("unmarshal invocation for entry %s: %w", e.ID, err)
	}
	if created.Valid {
		e.CreatedTime = created.Time
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		e.LastAttemptTime = &t
	}
	if nextAttempt.Valid {
		e.NextAttemptTime = nextAttempt.Time
	}
	e.UniqueRequestID = uniqueID.String

	return &e, nil
}

// collectEntries collects all entries from query rows.
func collectEntries(rows *sql.Rows) ([]*entry.Entry, error) {
	var entries []*entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox/sqlstore: scan entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox/sqlstore: iterate entry rows: %w", err)
	}
	return entries, nil
}

// nullString maps the empty string to SQL NULL so the unique constraint
// permits any number of entries without a request id.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
