// Package bunstore adapts a *bun.DB for use with the outbox, so
// applications already built on the Bun ORM reuse their existing
// connection pool and dialect selection. The caller owns the *bun.DB
// lifecycle; the outbox never closes it.
package bunstore

import (
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	bundialect "github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/soandrew/transaction-outbox/dialect"
	sqlstore "github.com/soandrew/transaction-outbox/store/sql"
	"github.com/soandrew/transaction-outbox/txn"
)

// Open creates a PostgreSQL-backed *bun.DB from a DSN using pgdriver.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Dialect maps the bun dialect of db to the outbox dialect.
func Dialect(db *bun.DB) (dialect.Dialect, error) {
	switch db.Dialect().Name() {
	case bundialect.PG:
		return dialect.Postgres(), nil
	case bundialect.MySQL:
		return dialect.MySQL(), nil
	case bundialect.SQLite:
		return dialect.SQLite(), nil
	default:
		return nil, fmt.Errorf("outbox/bunstore: unsupported bun dialect %q", db.Dialect().Name())
	}
}

// NewManager creates a transaction manager over the bun connection with
// a persistor for the matching dialect.
func NewManager(db *bun.DB, opts ...sqlstore.Option) (*txn.SQLManager, *sqlstore.Persistor, error) {
	d, err := Dialect(db)
	if err != nil {
		return nil, nil, err
	}
	return txn.NewManager(db.DB), sqlstore.New(d, opts...), nil
}
