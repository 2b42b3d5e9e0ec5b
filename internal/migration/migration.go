package migration

import (
	"context"

	"gofinetune/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the trial schema. Every statement is idempotent
// and valid on both PostgreSQL and SQLite.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createSeriesTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create finetune_series table")
	}

	if err := r.createTrialsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create finetune_trials table")
	}

	if err := r.createRecordsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create finetune_records table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createSeriesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS finetune_series (
			series_id VARCHAR(64) PRIMARY KEY,
			num_trials INTEGER NOT NULL,
			lazy BOOLEAN NOT NULL,
			pin_seed BOOLEAN NOT NULL,
			subjects INTEGER NOT NULL,
			examples INTEGER NOT NULL,
			seed BIGINT NOT NULL,
			num_folds INTEGER NOT NULL,
			cohort_hash VARCHAR(64) NOT NULL,
			params_hash VARCHAR(64) NOT NULL,
			code_version VARCHAR(64) NOT NULL,
			fingerprint VARCHAR(64) NOT NULL,
			created_at VARCHAR(40) NOT NULL,
			summary TEXT
		)
	`)
	return err
}

func (r *MigrationRunner) createTrialsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS finetune_trials (
			series_id VARCHAR(64) NOT NULL REFERENCES finetune_series(series_id) ON DELETE CASCADE,
			trial_index INTEGER NOT NULL,
			seed BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			passed_at INTEGER NOT NULL DEFAULT -1,
			artifact_ref TEXT NOT NULL DEFAULT '',
			folds_path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at VARCHAR(40) NOT NULL DEFAULT '',
			finished_at VARCHAR(40) NOT NULL DEFAULT '',
			PRIMARY KEY (series_id, trial_index)
		)
	`)
	return err
}

func (r *MigrationRunner) createRecordsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS finetune_records (
			series_id VARCHAR(64) NOT NULL REFERENCES finetune_series(series_id) ON DELETE CASCADE,
			trial_index INTEGER NOT NULL,
			increment_index INTEGER NOT NULL,
			passed BOOLEAN NOT NULL,
			stopped BOOLEAN NOT NULL,
			folds_grafted INTEGER NOT NULL,
			train_size INTEGER NOT NULL,
			test_size INTEGER NOT NULL,
			metrics TEXT NOT NULL,
			failures TEXT NOT NULL,
			training TEXT NOT NULL,
			recorded_at VARCHAR(40) NOT NULL,
			PRIMARY KEY (series_id, trial_index, increment_index)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_finetune_series_created_at ON finetune_series(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_finetune_trials_status ON finetune_trials(series_id, status)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
