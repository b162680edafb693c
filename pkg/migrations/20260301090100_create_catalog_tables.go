package migrations

func init() {
	Migrations.MustRegister(execAll([]string{
		`CREATE TABLE books (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			title TEXT NOT NULL,
			author TEXT,
			year INTEGER,
			isbn TEXT,
			publisher TEXT,
			media_type TEXT,
			notes TEXT,
			normalized_title TEXT,
			normalized_author TEXT
		)`,
		`CREATE INDEX ix_books_isbn ON books (isbn)`,
		`CREATE INDEX ix_books_normalized_title ON books (normalized_title)`,

		`CREATE TABLE book_contributors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			book_id INTEGER NOT NULL REFERENCES books (id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX ux_book_contributors_book_id_name ON book_contributors (book_id, name)`,

		`CREATE TABLE book_tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			book_id INTEGER NOT NULL REFERENCES books (id) ON DELETE CASCADE,
			name TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_book_tags_book_id_name ON book_tags (book_id, name)`,

		`CREATE TABLE copies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			book_id INTEGER NOT NULL REFERENCES books (id) ON DELETE CASCADE,
			file_hash TEXT NOT NULL,
			format TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			contributor TEXT NOT NULL,
			filepath TEXT NOT NULL
		)`,
		// One copy per content hash per book.
		`CREATE UNIQUE INDEX ux_copies_book_id_file_hash ON copies (book_id, file_hash)`,
		`CREATE INDEX ix_copies_file_hash ON copies (file_hash)`,
	}), execAll([]string{
		`DROP TABLE IF EXISTS copies`,
		`DROP TABLE IF EXISTS book_tags`,
		`DROP TABLE IF EXISTS book_contributors`,
		`DROP TABLE IF EXISTS books`,
	}))
}
