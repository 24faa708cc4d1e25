package dialect

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Compile-time interface check.
var _ Dialect = postgres{}

// Postgres returns the PostgreSQL dialect. It works with any
// database/sql driver; unique violations are recognized for both pgx
// and bun's pgdriver.
func Postgres() Dialect {
	return postgres{}
}

type postgres struct{}

func (postgres) Name() string { return NamePostgres }

func (postgres) CreateVersionTableIfNotExists() string {
	return "CREATE TABLE IF NOT EXISTS " + VersionTable + " (version INT)"
}

func (postgres) SelectCurrentVersionAndLockTable() string {
	return "SELECT version FROM " + VersionTable + " FOR UPDATE"
}

func (postgres) BatchLockClause() string { return " FOR UPDATE SKIP LOCKED" }

func (postgres) RowLockClause() string { return " FOR UPDATE" }

func (postgres) RequiresCommitBeforeVersionDML() bool { return false }

func (postgres) Rebind(query string) string { return rebindNumbered(query) }

// IsUniqueViolation checks for SQLSTATE 23505 (unique_violation).
func (postgres) IsUniqueViolation(err error) bool {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == "23505"
	}
	var bunErr pgdriver.Error
	if errors.As(err, &bunErr) {
		return bunErr.Field('C') == "23505"
	}
	return false
}
