package dialect

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Compile-time interface check.
var _ Dialect = sqliteDialect{}

// SQLite returns the SQLite dialect. SQLite has no row locking; the
// single-writer model plus the optimistic version check stand in for
// SKIP LOCKED semantics.
func SQLite() Dialect {
	return sqliteDialect{}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return NameSQLite }

func (sqliteDialect) CreateVersionTableIfNotExists() string {
	return "CREATE TABLE IF NOT EXISTS " + VersionTable + " (version INT)"
}

func (sqliteDialect) SelectCurrentVersionAndLockTable() string {
	return "SELECT version FROM " + VersionTable
}

func (sqliteDialect) BatchLockClause() string { return "" }

func (sqliteDialect) RowLockClause() string { return "" }

func (sqliteDialect) RequiresCommitBeforeVersionDML() bool { return false }

func (sqliteDialect) Rebind(query string) string { return query }

// IsUniqueViolation checks for SQLITE_CONSTRAINT_UNIQUE and
// SQLITE_CONSTRAINT_PRIMARYKEY.
func (sqliteDialect) IsUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
