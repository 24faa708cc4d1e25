package migrate

import "github.com/soandrew/transaction-outbox/dialect"

// DefaultMigrations returns the built-in schema history for the outbox
// tables. The default SQL targets MySQL; Postgres and SQLite divergences
// are expressed as overrides. Never reorder or renumber released steps;
// append only.
func DefaultMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create outbox table",
			SQL: `CREATE TABLE ` + dialect.EntryTable + ` (
				id VARCHAR(36) PRIMARY KEY,
				invocation TEXT,
				created_time TIMESTAMP(6) NULL,
				next_attempt_time TIMESTAMP(6) NULL,
				attempts INT,
				blocked BOOLEAN,
				version INT
			)`,
			DialectOverrides: map[string]string{
				// The sqlite driver maps TEXT back to time.Time only
				// for the bare TIMESTAMP declared type.
				dialect.NameSQLite: `CREATE TABLE ` + dialect.EntryTable + ` (
					id VARCHAR(36) PRIMARY KEY,
					invocation TEXT,
					created_time TIMESTAMP NULL,
					next_attempt_time TIMESTAMP NULL,
					attempts INT,
					blocked BOOLEAN,
					version INT
				)`,
			},
		},
		{
			Version: 2,
			Name:    "add unique request id",
			SQL:     "ALTER TABLE " + dialect.EntryTable + " ADD COLUMN unique_request_id VARCHAR(100) NULL UNIQUE",
			DialectOverrides: map[string]string{
				// SQLite cannot add a UNIQUE column; uniqueness arrives
				// with the partial index in version 8.
				dialect.NameSQLite: "ALTER TABLE " + dialect.EntryTable + " ADD COLUMN unique_request_id VARCHAR(100)",
			},
		},
		{
			Version: 3,
			Name:    "add processed flag",
			SQL:     "ALTER TABLE " + dialect.EntryTable + " ADD COLUMN processed BOOLEAN",
		},
		{
			Version: 4,
			Name:    "add flush index",
			SQL:     "CREATE INDEX idx_outbox_flush ON " + dialect.EntryTable + " (processed, blocked, next_attempt_time)",
		},
		{
			Version: 5,
			Name:    "widen unique request id",
			SQL:     "ALTER TABLE " + dialect.EntryTable + " MODIFY COLUMN unique_request_id VARCHAR(250)",
			DialectOverrides: map[string]string{
				dialect.NamePostgres: "ALTER TABLE " + dialect.EntryTable + " ALTER COLUMN unique_request_id TYPE VARCHAR(250)",
				// SQLite ignores declared lengths.
				dialect.NameSQLite: "",
			},
		},
		{
			Version: 6,
			Name:    "add last attempt time",
			SQL:     "ALTER TABLE " + dialect.EntryTable + " ADD COLUMN last_attempt_time TIMESTAMP(6) NULL",
			DialectOverrides: map[string]string{
				dialect.NameSQLite: "ALTER TABLE " + dialect.EntryTable + " ADD COLUMN last_attempt_time TIMESTAMP NULL",
			},
		},
		{
			Version: 7,
			Name:    "grow invocation column for MySQL",
			SQL:     "ALTER TABLE " + dialect.EntryTable + " MODIFY COLUMN invocation MEDIUMTEXT",
			DialectOverrides: map[string]string{
				dialect.NamePostgres: "",
				dialect.NameSQLite:   "",
			},
		},
		{
			Version: 8,
			Name:    "unique request id index allowing multiple nulls for SQLite",
			SQL:     "",
			DialectOverrides: map[string]string{
				dialect.NameSQLite: "CREATE UNIQUE INDEX ux_outbox_unique_request_id ON " + dialect.EntryTable +
					" (unique_request_id) WHERE unique_request_id IS NOT NULL",
			},
		},
		{
			Version: 9,
			Name:    "add retention index",
			SQL:     "CREATE INDEX idx_outbox_retention ON " + dialect.EntryTable + " (processed, last_attempt_time)",
		},
	}
}
