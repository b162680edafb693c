package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := []string{
		`CREATE TABLE jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			process_id TEXT
		)`,
		`CREATE INDEX ix_jobs_status_created_at ON jobs (status, created_at)`,

		`CREATE TABLE job_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			job_id INTEGER NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			data TEXT,
			stack_trace TEXT
		)`,
		`CREATE INDEX ix_job_logs_job_id ON job_logs (job_id)`,

		// One row per uploaded file sitting in the temp area. The id is a
		// UUID so the file's temp name can't collide with another upload.
		`CREATE TABLE staged_files (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			filename TEXT NOT NULL,
			filepath TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			format TEXT NOT NULL,
			mime_type TEXT,
			file_hash TEXT NOT NULL,
			contributor TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX ix_staged_files_contributor_status ON staged_files (contributor, status, created_at)`,
		`CREATE UNIQUE INDEX ux_staged_files_filepath ON staged_files (filepath)`,
	}

	down := []string{
		`DROP TABLE IF EXISTS staged_files`,
		`DROP TABLE IF EXISTS job_logs`,
		`DROP TABLE IF EXISTS jobs`,
	}

	Migrations.MustRegister(execAll(up), execAll(down))
}

// execAll runs statements in order, stopping at the first failure.
func execAll(stmts []string) func(context.Context, *bun.DB) error {
	return func(ctx context.Context, db *bun.DB) error {
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "exec %.60q", stmt)
			}
		}
		return nil
	}
}
