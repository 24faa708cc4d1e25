// Package sqlitestore bundles SQLite connectivity for the outbox using
// the pure-Go modernc.org/sqlite driver. SQLite suits embedded and
// single-process deployments; the optimistic version check stands in
// for row locking.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/soandrew/transaction-outbox/dialect"
	sqlstore "github.com/soandrew/transaction-outbox/store/sql"
	"github.com/soandrew/transaction-outbox/txn"
)

// Open opens a *sql.DB for the SQLite database at path with a busy
// timeout, so a flusher and a submitter contending for the single
// writer retry instead of failing immediately.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?" + url.Values{
		"_pragma":      []string{"busy_timeout(5000)", "journal_mode(WAL)"},
		"_time_format": []string{"sqlite"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlitestore: open %s: %w", path, err)
	}
	// The write path serializes on SQLite's single writer anyway.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewManager creates a transaction manager over db with the SQLite
// dialect's persistor.
func NewManager(db *sql.DB, opts ...sqlstore.Option) (*txn.SQLManager, *sqlstore.Persistor) {
	return txn.NewManager(db), sqlstore.New(dialect.SQLite(), opts...)
}
