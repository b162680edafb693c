package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/matcher"
	"github.com/shishobooks/spines/pkg/migrations"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func newCopy(hash, contributor string) NewCopy {
	return NewCopy{
		FileHash:    hash,
		Format:      "epub",
		SizeBytes:   1024,
		Contributor: contributor,
		Filepath:    "/books/[Ursula K. Le Guin] A Wizard of Earthsea/A Wizard of Earthsea.epub",
	}
}

var earthsea = BookMetadata{
	Title:  "A Wizard of Earthsea",
	Author: "Ursula K. Le Guin",
	Year:   intPtr(1968),
	ISBN:   strPtr("0-306-40615-2"),
	Tags:   []string{"fantasy", "fantasy", " "},
}

func TestCreateOrAppend_CreatesBook(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	res, err := svc.CreateOrAppend(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Appended)

	book, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &res.BookID})
	require.NoError(t, err)
	assert.Equal(t, "A Wizard of Earthsea", book.Title)
	require.NotNil(t, book.ISBN)
	assert.Equal(t, "9780306406157", *book.ISBN)
	require.NotNil(t, book.MediaType)
	assert.Equal(t, "book", *book.MediaType)
	assert.Equal(t, "a wizard of earthsea", book.NormalizedTitle)
	assert.Equal(t, "Wizard of Earthsea, A", book.SortTitle)
	assert.Equal(t, []string{"alice"}, book.ContributorNames())
	require.Len(t, book.Copies, 1)
	assert.Equal(t, "hash-1", book.Copies[0].FileHash)
	require.Len(t, book.Tags, 1)
	assert.Equal(t, "fantasy", book.Tags[0].Name)
}

func TestCreateOrAppend_SameHashIsNoop(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	first, err := svc.CreateOrAppend(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)

	second, err := svc.CreateOrAppend(ctx, BookMetadata{Title: "Something Else", Author: "Someone"}, newCopy("hash-1", "bob"))
	require.NoError(t, err)
	assert.Equal(t, first.BookID, second.BookID)
	assert.False(t, second.Created)
	assert.False(t, second.Appended)

	book, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &first.BookID})
	require.NoError(t, err)
	assert.Len(t, book.Copies, 1)
	assert.Equal(t, []string{"alice"}, book.ContributorNames())

	books, total, err := svc.ListBooksWithTotal(ctx, ListBooksOptions{})
	require.NoError(t, err)
	assert.Len(t, books, 1)
	assert.Equal(t, 1, total)
}

func TestCreateOrAppend_AppendsOnSameISBN(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	first, err := svc.CreateOrAppend(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)

	md := BookMetadata{Title: "Earthsea 1", Author: "Le Guin", ISBN: strPtr("9780306406157")}
	second, err := svc.CreateOrAppend(ctx, md, newCopy("hash-2", "bob"))
	require.NoError(t, err)
	assert.Equal(t, first.BookID, second.BookID)
	assert.True(t, second.Appended)
	assert.False(t, second.Created)

	book, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &first.BookID})
	require.NoError(t, err)
	assert.Len(t, book.Copies, 2)
	assert.Equal(t, []string{"alice", "bob"}, book.ContributorNames())
	// The first commit's metadata wins.
	assert.Equal(t, "A Wizard of Earthsea", book.Title)
}

func TestCreateOrAppend_AppendsOnNormalizedTitleAndAuthor(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	first, err := svc.CreateOrAppend(ctx, BookMetadata{Title: "Les Misérables", Author: "Victor Hugo"}, newCopy("hash-1", "alice"))
	require.NoError(t, err)

	second, err := svc.CreateOrAppend(ctx, BookMetadata{Title: "LES MISERABLES: Volume One", Author: "victor hugo"}, newCopy("hash-2", "alice"))
	require.NoError(t, err)
	assert.Equal(t, first.BookID, second.BookID)
	assert.True(t, second.Appended)

	book, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &first.BookID})
	require.NoError(t, err)
	assert.Len(t, book.Copies, 2)
	assert.Equal(t, []string{"alice"}, book.ContributorNames())
}

func TestCreateOrAppend_DifferentWorkCreates(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	first, err := svc.CreateOrAppend(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)
	second, err := svc.CreateOrAppend(ctx, BookMetadata{Title: "The Tombs of Atuan", Author: "Ursula K. Le Guin"}, newCopy("hash-2", "alice"))
	require.NoError(t, err)

	assert.NotEqual(t, first.BookID, second.BookID)
	assert.True(t, second.Created)
}

func TestCreateBook_RequiresTitle(t *testing.T) {
	svc := NewService(newTestDB(t))

	_, err := svc.CreateBook(context.Background(), BookMetadata{Author: "Nobody"}, newCopy("hash-1", "alice"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errcodes.ValidationError("A book needs a title."))
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestAppendCopy(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	bookID, err := svc.CreateBook(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)

	appended, err := svc.AppendCopy(ctx, bookID, newCopy("hash-1", "bob"), "bob")
	require.NoError(t, err)
	assert.False(t, appended, "identical content is not a new copy")

	appended, err = svc.AppendCopy(ctx, bookID, newCopy("hash-2", "bob"), "bob")
	require.NoError(t, err)
	assert.True(t, appended)

	appended, err = svc.AppendCopy(ctx, bookID, newCopy("hash-3", "bob"), "bob")
	require.NoError(t, err)
	assert.True(t, appended)

	book, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &bookID})
	require.NoError(t, err)
	assert.Len(t, book.Copies, 3)
	assert.Equal(t, []string{"alice", "bob"}, book.ContributorNames())

	_, err = svc.AppendCopy(ctx, bookID+100, newCopy("hash-4", "bob"), "bob")
	assert.ErrorIs(t, err, errcodes.NotFound("Book"))
}

func TestFindCopyByHash(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	c, err := svc.FindCopyByHash(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, c)

	bookID, err := svc.CreateBook(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)

	c, err = svc.FindCopyByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, bookID, c.BookID)
	assert.Equal(t, "alice", c.Contributor)
}

func TestFindCandidates(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	earthseaID, err := svc.CreateBook(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)
	_, err = svc.CreateBook(ctx, BookMetadata{Title: "Dune", Author: "Frank Herbert"}, newCopy("hash-2", "alice"))
	require.NoError(t, err)
	tombsID, err := svc.CreateBook(ctx, BookMetadata{Title: "The Tombs of Atuan", Author: "Ursula K. Le Guin"}, newCopy("hash-3", "alice"))
	require.NoError(t, err)

	books, err := svc.FindCandidates(ctx, matcher.CandidateQuery{
		NormalizedTitle: matcher.NormalizeTitle("Wizard of Earthsea (Illustrated)"),
	})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, earthseaID, books[0].ID)
	assert.Equal(t, []string{"alice"}, books[0].ContributorNames())

	books, err = svc.FindCandidates(ctx, matcher.CandidateQuery{
		NormalizedAuthor: matcher.NormalizeAuthor("Ursula K. Le Guin"),
	})
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, earthseaID, books[0].ID)
	assert.Equal(t, tombsID, books[1].ID)

	books, err = svc.FindCandidates(ctx, matcher.CandidateQuery{ISBN: "9780306406157"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, earthseaID, books[0].ID)

	books, err = svc.FindCandidates(ctx, matcher.CandidateQuery{})
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestFindCandidates_ExactISBNSurvivesManyLooseHits(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	for i := 1; i <= candidateLimit+10; i++ {
		_, err := svc.CreateBook(ctx, BookMetadata{
			Title:  fmt.Sprintf("History Volume %d", i),
			Author: "Various",
		}, newCopy(fmt.Sprintf("decoy-%d", i), "alice"))
		require.NoError(t, err)
	}
	targetID, err := svc.CreateBook(ctx, BookMetadata{
		Title:  "A Short Account",
		Author: "Someone Else",
		ISBN:   strPtr("0-306-40615-2"),
	}, newCopy("target", "bob"))
	require.NoError(t, err)

	r := &models.ExtractionResult{
		Title:  strPtr("History of Stuff"),
		Author: strPtr("Various"),
		ISBN:   strPtr("9780306406157"),
	}

	books, err := svc.FindCandidates(ctx, matcher.QueryFor(r))
	require.NoError(t, err)
	ids := make([]int, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	assert.Contains(t, ids, targetID)
	assert.LessOrEqual(t, len(books), candidateLimit+1)

	m := matcher.New(svc, matcher.DefaultPolicy())
	matches, err := m.FindSimilar(ctx, r)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, targetID, matches[0].BookID)
	assert.InDelta(t, 1.0, matches[0].Confidence, 0.0001)
	assert.True(t, m.HasActionable(matches))
}

func TestListBooks_Filters(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	_, err := svc.CreateBook(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)
	_, err = svc.CreateBook(ctx, BookMetadata{Title: "Dune", Author: "Frank Herbert"}, newCopy("hash-2", "bob"))
	require.NoError(t, err)

	books, err := svc.ListBooks(ctx, ListBooksOptions{Contributor: strPtr("bob")})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)

	books, err = svc.ListBooks(ctx, ListBooksOptions{Search: strPtr("earthsea")})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "A Wizard of Earthsea", books[0].Title)

	limit := 1
	books, total, err := svc.ListBooksWithTotal(ctx, ListBooksOptions{Limit: &limit})
	require.NoError(t, err)
	assert.Len(t, books, 1)
	assert.Equal(t, 2, total)
}

func TestListBooks_Sort(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t))

	for i, md := range []BookMetadata{
		earthsea,
		{Title: "The Dispossessed", Author: "Ursula K. Le Guin"},
		{Title: "Dune", Author: "Frank Herbert"},
	} {
		_, err := svc.CreateBook(ctx, md, newCopy(fmt.Sprintf("hash-%d", i), "alice"))
		require.NoError(t, err)
	}

	titles := func(sort string) []string {
		books, err := svc.ListBooks(ctx, ListBooksOptions{Sort: sort})
		require.NoError(t, err)
		out := []string{}
		for _, b := range books {
			out = append(out, b.Title)
		}
		return out
	}

	assert.Equal(t, []string{"A Wizard of Earthsea", "The Dispossessed", "Dune"}, titles(SortAdded))
	assert.Equal(t, []string{"Dune", "The Dispossessed", "A Wizard of Earthsea"}, titles(SortRecent))
	assert.Equal(t, []string{"The Dispossessed", "Dune", "A Wizard of Earthsea"}, titles(SortTitle))
	assert.Equal(t, []string{"The Dispossessed", "A Wizard of Earthsea", "Dune"}, titles(SortAuthor))
}

func TestRetrieveBook_NotFound(t *testing.T) {
	svc := NewService(newTestDB(t))

	_, err := svc.RetrieveBook(context.Background(), RetrieveBookOptions{ID: intPtr(42)})
	assert.ErrorIs(t, err, errcodes.NotFound("Book"))
}

func TestStorageFailureIsUnavailable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewService(db)
	require.NoError(t, db.Close())

	_, err := svc.CreateOrAppend(ctx, earthsea, newCopy("hash-1", "alice"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = svc.FindCandidates(ctx, matcher.CandidateQuery{NormalizedTitle: "dune"})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFakeRepository(t *testing.T) {
	ctx := context.Background()
	f := NewFakeRepository()

	first, err := f.CreateOrAppend(ctx, earthsea, newCopy("hash-1", "alice"))
	require.NoError(t, err)
	assert.True(t, first.Created)

	again, err := f.CreateOrAppend(ctx, earthsea, newCopy("hash-1", "bob"))
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.False(t, again.Appended)

	appended, err := f.AppendCopy(ctx, first.BookID, newCopy("hash-2", "bob"), "bob")
	require.NoError(t, err)
	assert.True(t, appended)
	assert.Equal(t, []string{"alice", "bob"}, f.Book(first.BookID).ContributorNames())
	assert.Equal(t, 1, f.CreateCalls)

	f.Err = errors.WithStack(ErrUnavailable)
	_, err = f.FindCandidates(ctx, matcher.CandidateQuery{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
