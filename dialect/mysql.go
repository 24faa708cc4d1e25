package dialect

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// Compile-time interface check.
var _ Dialect = mysqlDialect{}

// MySQL returns the MySQL 8 dialect. SKIP LOCKED requires 8.0 or later.
func MySQL() Dialect {
	return mysqlDialect{}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return NameMySQL }

func (mysqlDialect) CreateVersionTableIfNotExists() string {
	return "CREATE TABLE IF NOT EXISTS " + VersionTable + " (version INT)"
}

func (mysqlDialect) SelectCurrentVersionAndLockTable() string {
	return "SELECT version FROM " + VersionTable + " FOR UPDATE"
}

func (mysqlDialect) BatchLockClause() string { return " FOR UPDATE SKIP LOCKED" }

func (mysqlDialect) RowLockClause() string { return " FOR UPDATE" }

// MySQL commits DDL implicitly, so the version table is always visible
// to the migration transaction that follows.
func (mysqlDialect) RequiresCommitBeforeVersionDML() bool { return true }

func (mysqlDialect) Rebind(query string) string { return query }

// IsUniqueViolation checks for error 1062 (ER_DUP_ENTRY).
func (mysqlDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
