// Package dialect maps abstract outbox SQL operations to the SQL
// variant of a concrete database engine: type names, locking clauses,
// placeholder style, and driver-specific error detection. Dialects are
// stateless and safe for concurrent use.
package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// Table names used by every dialect. Migrations and the SQL persistor
// reference these; they are not configurable.
const (
	EntryTable   = "outbox"
	VersionTable = "outbox_version"
)

// Dialect names, usable with For.
const (
	NamePostgres = "postgres"
	NameMySQL    = "mysql"
	NameSQLite   = "sqlite"
)

// Dialect supplies the engine-specific SQL text for the outbox. It has
// no side effects beyond returning text and classifying driver errors.
type Dialect interface {
	// Name returns the dialect identifier, one of the Name constants.
	Name() string

	// CreateVersionTableIfNotExists returns the DDL that ensures the
	// schema version table exists.
	CreateVersionTableIfNotExists() string

	// SelectCurrentVersionAndLockTable returns the statement that reads
	// the current schema version, locking the record where the engine
	// supports it so concurrent migrators serialize.
	SelectCurrentVersionAndLockTable() string

	// BatchLockClause is appended to the due-entry selection so that
	// rows claimed by one flusher are invisible to a concurrent one.
	// Empty when the engine has no row locking.
	BatchLockClause() string

	// RowLockClause is appended to single-entry lock selects.
	RowLockClause() string

	// RequiresCommitBeforeVersionDML reports whether DDL must be
	// committed before the new objects can be referenced in DML. The
	// migration manager then creates the version table in its own
	// transaction.
	RequiresCommitBeforeVersionDML() bool

	// Rebind rewrites "?" placeholders into the engine's native style.
	Rebind(query string) string

	// IsUniqueViolation reports whether err is the engine's unique
	// constraint violation.
	IsUniqueViolation(err error) bool
}

// For returns the dialect registered under name.
func For(name string) (Dialect, error) {
	switch name {
	case NamePostgres:
		return Postgres(), nil
	case NameMySQL:
		return MySQL(), nil
	case NameSQLite:
		return SQLite(), nil
	default:
		return nil, fmt.Errorf("outbox/dialect: unsupported dialect %q", name)
	}
}

// rebindNumbered rewrites "?" placeholders as $1..$n. Outbox queries
// never contain a literal question mark, so no quote tracking is needed.
func rebindNumbered(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
