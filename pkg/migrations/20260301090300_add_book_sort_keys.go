package migrations

func init() {
	// Existing rows get the raw title and author until they're next written;
	// new rows get proper sort keys from the catalog service.
	Migrations.MustRegister(execAll([]string{
		`ALTER TABLE books ADD COLUMN sort_title TEXT`,
		`ALTER TABLE books ADD COLUMN sort_author TEXT`,
		`UPDATE books SET sort_title = title, sort_author = author`,
		`CREATE INDEX ix_books_sort_title ON books (sort_title COLLATE NOCASE)`,
	}), execAll([]string{
		`DROP INDEX IF EXISTS ix_books_sort_title`,
		`ALTER TABLE books DROP COLUMN sort_author`,
		`ALTER TABLE books DROP COLUMN sort_title`,
	}))
}
