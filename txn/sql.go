package txn

import (
	"context"
	"database/sql"
	"fmt"
)

// Compile-time interface checks.
var (
	_ Transaction = (*sql.Tx)(nil)
	_ Manager     = (*SQLManager)(nil)
)

// SQLManager is the database/sql implementation of Manager.
// The caller owns the *sql.DB lifecycle; SQLManager never closes it.
type SQLManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// Option configures an SQLManager.
type Option func(*SQLManager)

// WithTxOptions sets the sql.TxOptions used for every transaction,
// e.g. a non-default isolation level.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(m *SQLManager) {
		m.opts = opts
	}
}

// NewManager creates a Manager over an open *sql.DB.
func NewManager(db *sql.DB, opts ...Option) *SQLManager {
	m := &SQLManager{db: db}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the underlying *sql.DB for advanced usage.
func (m *SQLManager) DB() *sql.DB {
	return m.db
}

// InTransaction begins a transaction, runs fn, and commits. The
// transaction is rolled back when fn returns an error or panics.
func (m *SQLManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) (err error) {
	sqlTx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("outbox/txn: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, sqlTx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("outbox/txn: rollback after %q: %w", err.Error(), rbErr)
		}
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("outbox/txn: commit: %w", err)
	}
	return nil
}
