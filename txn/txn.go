// Package txn defines the transaction abstraction the outbox depends
// on. The engine and persistors issue SQL only through Transaction and
// never open connections themselves; the host application stays in
// control of connectivity and transaction boundaries.
package txn

import (
	"context"
	"database/sql"
)

// Transaction is the active database handle passed through every
// persistence operation. *sql.Tx satisfies it.
type Transaction interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Manager runs a unit of work inside a transaction: commit on success,
// roll back on error or panic.
type Manager interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}
