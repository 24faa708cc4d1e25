// Package migrate brings the outbox storage schema from its current
// version to the latest known version. Inspired by Flyway and
// Liquibase, trimmed down to the outbox's needs: an ordered, immutable
// list of versioned steps, each optionally overridden per dialect.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/dialect"
	"github.com/soandrew/transaction-outbox/txn"
)

// Migration is a single versioned schema step. Immutable, defined at
// build time.
type Migration struct {
	// Version orders migrations and is recorded after application.
	Version int

	// Name is a human-readable description, used for logging only.
	Name string

	// SQL is the default statement, used when no dialect override
	// applies.
	SQL string

	// DialectOverrides maps a dialect name to replacement SQL. An
	// explicitly empty override means "skip this step on this engine"
	// while still advancing the version record.
	DialectOverrides map[string]string
}

// SQLFor resolves the statement for the named dialect.
func (m Migration) SQLFor(dialectName string) string {
	if override, ok := m.DialectOverrides[dialectName]; ok {
		return override
	}
	return m.SQL
}

// Manager applies pending migrations. Safe under concurrent
// application startups: the version read locks the record, so racing
// instances serialize and the loser observes the advanced version.
type Manager struct {
	dialect    dialect.Dialect
	migrations []Migration
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMigrations replaces the default migration list.
func WithMigrations(migrations []Migration) Option {
	return func(m *Manager) {
		m.migrations = migrations
	}
}

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager for the given dialect, defaulting to
// DefaultMigrations.
func NewManager(d dialect.Dialect, opts ...Option) *Manager {
	m := &Manager{
		dialect:    d,
		migrations: DefaultMigrations(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	sorted := make([]Migration, len(m.migrations))
	copy(sorted, m.migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	m.migrations = sorted

	return m
}

// Migrate applies every migration above the current schema version, in
// ascending order, inside a single transaction. Any failure aborts the
// whole run; the returned error matches outbox.ErrMigrationFailed.
func (m *Manager) Migrate(ctx context.Context, mgr txn.Manager) error {
	// Engines that auto-commit DDL need the version table committed
	// before the migration transaction references it.
	if m.dialect.RequiresCommitBeforeVersionDML() {
		err := mgr.InTransaction(ctx, func(ctx context.Context, tx txn.Transaction) error {
			_, execErr := tx.ExecContext(ctx, m.dialect.CreateVersionTableIfNotExists())
			return execErr
		})
		if err != nil {
			return fmt.Errorf("%w: create version table: %w", outbox.ErrMigrationFailed, err)
		}
	}

	err := mgr.InTransaction(ctx, func(ctx context.Context, tx txn.Transaction) error {
		if !m.dialect.RequiresCommitBeforeVersionDML() {
			if _, execErr := tx.ExecContext(ctx, m.dialect.CreateVersionTableIfNotExists()); execErr != nil {
				return fmt.Errorf("create version table: %w", execErr)
			}
		}

		current, verErr := m.currentVersion(ctx, tx)
		if verErr != nil {
			return fmt.Errorf("read current version: %w", verErr)
		}

		for _, mig := range m.migrations {
			if mig.Version <= current {
				continue
			}
			if applyErr := m.apply(ctx, tx, mig); applyErr != nil {
				return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, applyErr)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", outbox.ErrMigrationFailed, err)
	}
	return nil
}

// currentVersion reads and locks the version record, returning 0 when
// it does not exist yet.
func (m *Manager) currentVersion(ctx context.Context, tx txn.Transaction) (int, error) {
	var version int
	err := tx.QueryRowContext(ctx, m.dialect.SelectCurrentVersionAndLockTable()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// apply executes one migration and advances the version record. The
// record is updated in place; when the update matches no rows (first
// ever migration) it is inserted instead.
func (m *Manager) apply(ctx context.Context, tx txn.Transaction, mig Migration) error {
	m.logger.Info("applying outbox migration",
		slog.Int("version", mig.Version),
		slog.String("name", mig.Name),
	)

	if stmt := mig.SQLFor(m.dialect.Name()); strings.TrimSpace(stmt) != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx,
		m.dialect.Rebind("UPDATE "+dialect.VersionTable+" SET version = ?"), mig.Version)
	if err != nil {
		return fmt.Errorf("update version record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update version record: %w", err)
	}
	if affected == 0 {
		if _, err := tx.ExecContext(ctx,
			m.dialect.Rebind("INSERT INTO "+dialect.VersionTable+" (version) VALUES (?)"), mig.Version); err != nil {
			return fmt.Errorf("insert version record: %w", err)
		}
	}
	return nil
}
