package migrations

func init() {
	Migrations.MustRegister(execAll([]string{
		`CREATE TABLE review_items (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			staged_file_id TEXT,
			filename TEXT NOT NULL,
			filepath TEXT NOT NULL,
			file_hash TEXT,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			format TEXT,
			contributor TEXT NOT NULL,
			reason TEXT NOT NULL,
			status TEXT NOT NULL,
			extraction_method TEXT,
			extraction_confidence REAL NOT NULL DEFAULT 0,
			isbn_found BOOLEAN NOT NULL DEFAULT FALSE,
			extraction TEXT,
			lookup TEXT
		)`,
		`CREATE INDEX ix_review_items_status_created_at ON review_items (status, created_at)`,
	}), execAll([]string{
		`DROP TABLE IF EXISTS review_items`,
	}))
}
