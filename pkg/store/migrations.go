package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
}

// migrations contains all local-store migrations in order
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema creation",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				createSchemaVersionTable,
				createPatternsTable,
				createSkillMetricsTable,
				createAgentMetricsTable,
				createModelsTable,
				createCountersTable,
				createFingerprintsTable,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to create table")
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add retrieval indexes",
		Up: func(tx *sql.Tx) error {
			indexes := []string{
				createIndexPatternsProject,
				createIndexPatternsTaskType,
				createIndexPatternsConfidence,
			}
			for _, index := range indexes {
				if _, err := tx.Exec(index); err != nil {
					return errors.Wrap(err, "failed to create index")
				}
			}
			return nil
		},
	},
}

// poolMigrations contains all pool-store migrations in order
var poolMigrations = []Migration{
	{
		Version:     1,
		Description: "Initial pool schema creation",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				createSchemaVersionTable,
				createUniversalPatternsTable,
				createPoolContributionsTable,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to create pool table")
				}
			}
			return nil
		},
	},
}

// runMigrations executes all pending migrations against db
func runMigrations(db *sqlx.DB, pending []Migration) error {
	currentVersion, err := currentSchemaVersion(db)
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}

	for _, migration := range pending {
		if migration.Version > currentVersion {
			if err := applyMigration(db, migration); err != nil {
				return errors.Wrapf(err, "failed to apply migration %d", migration.Version)
			}
		}
	}

	return nil
}

// currentSchemaVersion returns the highest applied schema version, or 0 for
// a fresh database.
func currentSchemaVersion(db *sqlx.DB) (int, error) {
	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return 0, errors.Wrap(err, "failed to check if schema_version table exists")
	}

	if !tableExists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_version
	`).Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get current schema version")
	}

	return version, nil
}

// applyMigration applies a single migration in its own transaction
func applyMigration(db *sqlx.DB, migration Migration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := migration.Up(tx.Tx); err != nil {
		return errors.Wrapf(err, "migration %d failed", migration.Version)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_version (version, applied_at, description)
		VALUES (?, ?, ?)
	`, migration.Version, time.Now().Format(time.RFC3339), migration.Description)
	if err != nil {
		return errors.Wrap(err, "failed to record migration")
	}

	return tx.Commit()
}
