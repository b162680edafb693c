package catalog

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/identifiers"
	"github.com/shishobooks/spines/pkg/matcher"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/sortname"
	"github.com/uptrace/bun"
)

const (
	candidateLimit      = 200
	candidateTitleTerms = 3
)

// BookMetadata is what a new book is created from.
type BookMetadata struct {
	Title     string
	Author    string
	Year      *int
	ISBN      *string
	Publisher *string
	MediaType *string
	Notes     *string
	Tags      []string
}

// NewCopy describes a file about to become a Copy.
type NewCopy struct {
	FileHash    string
	Format      string
	SizeBytes   int64
	Contributor string
	Filepath    string
}

// CommitResult says what CreateOrAppend ended up doing.
type CommitResult struct {
	BookID   int  `json:"book_id"`
	Created  bool `json:"created"`
	Appended bool `json:"appended"`
}

// Repository is the catalog contract the pipeline depends on.
type Repository interface {
	matcher.CandidateFinder
	CreateBook(ctx context.Context, md BookMetadata, first NewCopy) (int, error)
	AppendCopy(ctx context.Context, bookID int, cp NewCopy, contributor string) (bool, error)
	CreateOrAppend(ctx context.Context, md BookMetadata, cp NewCopy) (*CommitResult, error)
	FindCopyByHash(ctx context.Context, hash string) (*models.Copy, error)
}

type RetrieveBookOptions struct {
	ID *int
}

// Book list orderings.
const (
	SortAdded  = "added"
	SortRecent = "recent"
	SortTitle  = "title"
	SortAuthor = "author"
)

type ListBooksOptions struct {
	Limit       *int
	Offset      *int
	Contributor *string
	Search      *string
	Sort        string

	includeTotal bool
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

var _ Repository = (*Service)(nil)

// CreateBook creates a book with its first copy, crediting the copy's
// contributor.
func (svc *Service) CreateBook(ctx context.Context, md BookMetadata, first NewCopy) (int, error) {
	var bookID int
	err := svc.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		id, err := createBook(ctx, tx, md, first)
		bookID = id
		return err
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return bookID, nil
}

// AppendCopy adds a copy to an existing book and credits the contributor.
// A copy whose hash the book already has is a no-op and returns false.
func (svc *Service) AppendCopy(ctx context.Context, bookID int, cp NewCopy, contributor string) (bool, error) {
	var appended bool
	err := svc.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Book)(nil)).
			Where("b.id = ?", bookID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Book")
		}
		appended, err = appendCopy(ctx, tx, bookID, cp, contributor)
		return err
	})
	if err != nil {
		return false, unavailable(err)
	}
	return appended, nil
}

// CreateOrAppend commits a file atomically. If any book already has a copy
// with the same content hash nothing is written. Otherwise a book with the
// same ISBN, or the same normalized title and author, receives the copy, and
// failing that a new book is created.
func (svc *Service) CreateOrAppend(ctx context.Context, md BookMetadata, cp NewCopy) (*CommitResult, error) {
	result := &CommitResult{}
	err := svc.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findCopyByHash(ctx, tx, cp.FileHash)
		if err != nil {
			return err
		}
		if existing != nil {
			result.BookID = existing.BookID
			return nil
		}

		bookID, err := findIdentity(ctx, tx, md)
		if err != nil {
			return err
		}
		if bookID != 0 {
			result.BookID = bookID
			result.Appended, err = appendCopy(ctx, tx, bookID, cp, cp.Contributor)
			return err
		}

		result.BookID, err = createBook(ctx, tx, md, cp)
		result.Created = err == nil
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return result, nil
}

// FindCopyByHash returns any copy with the given content hash, or nil.
func (svc *Service) FindCopyByHash(ctx context.Context, hash string) (*models.Copy, error) {
	c, err := findCopyByHash(ctx, svc.db, hash)
	return c, unavailable(err)
}

// FindCandidates returns books that could plausibly match the query. Exact
// hits (the same ISBN, or the same normalized title and author) are always
// returned. Looser hits (the same title or author, or a title sharing one of
// the query's longest words) are capped, closest first. Scoring is left to
// the matcher.
func (svc *Service) FindCandidates(ctx context.Context, q matcher.CandidateQuery) ([]*models.Book, error) {
	books := []*models.Book{}
	if q.ISBN == "" && q.NormalizedTitle == "" && q.NormalizedAuthor == "" {
		return books, nil
	}

	exact := []*models.Book{}
	if q.ISBN != "" || (q.NormalizedTitle != "" && q.NormalizedAuthor != "") {
		err := svc.db.
			NewSelect().
			Model(&exact).
			Relation("Contributors").
			WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				if q.ISBN != "" {
					sq = sq.WhereOr("b.isbn = ?", q.ISBN)
				}
				if q.NormalizedTitle != "" && q.NormalizedAuthor != "" {
					sq = sq.WhereOr("b.normalized_title = ? AND b.normalized_author = ?", q.NormalizedTitle, q.NormalizedAuthor)
				}
				return sq
			}).
			Order("b.id ASC").
			Scan(ctx)
		if err != nil {
			return nil, unavailable(err)
		}
	}

	seen := make(map[int]bool, len(exact))
	for _, b := range exact {
		seen[b.ID] = true
	}

	loose := []*models.Book{}
	terms := titleTerms(q.NormalizedTitle)
	if q.NormalizedTitle != "" || q.NormalizedAuthor != "" {
		query := svc.db.
			NewSelect().
			Model(&loose).
			Relation("Contributors").
			WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				if q.NormalizedTitle != "" {
					sq = sq.WhereOr("b.normalized_title = ?", q.NormalizedTitle)
				}
				if q.NormalizedAuthor != "" {
					sq = sq.WhereOr("b.normalized_author = ?", q.NormalizedAuthor)
				}
				for _, term := range terms {
					sq = sq.WhereOr("b.normalized_title LIKE ?", "%"+term+"%")
				}
				return sq
			})
		if len(seen) > 0 {
			query = query.Where("b.id NOT IN (?)", bun.In(mapKeys(seen)))
		}
		err := query.
			OrderExpr("(b.normalized_title = ?) DESC", q.NormalizedTitle).
			OrderExpr("(b.normalized_author = ?) DESC", q.NormalizedAuthor).
			Order("b.id ASC").
			Limit(candidateLimit).
			Scan(ctx)
		if err != nil {
			return nil, unavailable(err)
		}
	}

	books = append(books, exact...)
	books = append(books, loose...)
	sort.SliceStable(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := svc.db.
		NewSelect().
		Model(book).
		Relation("Contributors").
		Relation("Tags").
		Relation("Copies")

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, unavailable(err)
	}

	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	books := []*models.Book{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&books).
		Relation("Contributors").
		Relation("Copies")

	switch opts.Sort {
	case SortTitle:
		q = q.OrderExpr("b.sort_title COLLATE NOCASE ASC").Order("b.id ASC")
	case SortAuthor:
		q = q.OrderExpr("b.sort_author COLLATE NOCASE ASC").OrderExpr("b.sort_title COLLATE NOCASE ASC").Order("b.id ASC")
	case SortRecent:
		q = q.Order("b.id DESC")
	default:
		q = q.Order("b.id ASC")
	}

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Contributor != nil {
		q = q.Where("EXISTS (SELECT 1 FROM book_contributors bc2 WHERE bc2.book_id = b.id AND bc2.name = ?)", *opts.Contributor)
	}
	if opts.Search != nil && *opts.Search != "" {
		like := "%" + matcher.NormalizeAuthor(*opts.Search) + "%"
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("b.normalized_title LIKE ?", like).
				WhereOr("b.normalized_author LIKE ?", like).
				WhereOr("b.isbn = ?", *opts.Search)
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, unavailable(err)
	}

	return books, total, nil
}

func createBook(ctx context.Context, db bun.IDB, md BookMetadata, first NewCopy) (int, error) {
	now := time.Now()
	book := &models.Book{
		CreatedAt:        now,
		UpdatedAt:        now,
		Title:            strings.TrimSpace(md.Title),
		Author:           strings.TrimSpace(md.Author),
		Year:             md.Year,
		ISBN:             canonicalISBN(md.ISBN),
		Publisher:        md.Publisher,
		MediaType:        md.MediaType,
		Notes:            md.Notes,
		SortTitle:        sortname.Title(md.Title),
		SortAuthor:       sortname.Author(md.Author),
		NormalizedTitle:  matcher.NormalizeTitle(md.Title),
		NormalizedAuthor: matcher.NormalizeAuthor(md.Author),
	}
	if book.Title == "" {
		return 0, errcodes.ValidationError("A book needs a title.")
	}
	if book.MediaType == nil {
		mediaType := models.MediaTypeBook
		book.MediaType = &mediaType
	}

	_, err := db.NewInsert().
		Model(book).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	tags := uniqueStrings(md.Tags)
	if len(tags) > 0 {
		bookTags := make([]*models.BookTag, 0, len(tags))
		for _, name := range tags {
			bookTags = append(bookTags, &models.BookTag{BookID: book.ID, Name: name})
		}
		_, err = db.NewInsert().Model(&bookTags).Exec(ctx)
		if err != nil {
			return 0, errors.WithStack(err)
		}
	}

	if _, err := appendCopy(ctx, db, book.ID, first, first.Contributor); err != nil {
		return 0, err
	}

	return book.ID, nil
}

func appendCopy(ctx context.Context, db bun.IDB, bookID int, cp NewCopy, contributor string) (bool, error) {
	exists, err := db.NewSelect().
		Model((*models.Copy)(nil)).
		Where("c.book_id = ?", bookID).
		Where("c.file_hash = ?", cp.FileHash).
		Exists(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if exists {
		return false, nil
	}

	if contributor == "" {
		contributor = models.DefaultContributor
	}

	now := time.Now()
	c := &models.Copy{
		CreatedAt:   now,
		BookID:      bookID,
		FileHash:    cp.FileHash,
		Format:      cp.Format,
		SizeBytes:   cp.SizeBytes,
		Contributor: contributor,
		Filepath:    cp.Filepath,
	}
	_, err = db.NewInsert().
		Model(c).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}

	var maxOrder sql.NullInt64
	err = db.NewSelect().
		Model((*models.BookContributor)(nil)).
		ColumnExpr("MAX(bc.sort_order)").
		Where("bc.book_id = ?", bookID).
		Scan(ctx, &maxOrder)
	if err != nil {
		return false, errors.WithStack(err)
	}
	nextOrder := 0
	if maxOrder.Valid {
		nextOrder = int(maxOrder.Int64) + 1
	}

	_, err = db.NewInsert().
		Model(&models.BookContributor{
			CreatedAt: now,
			BookID:    bookID,
			Name:      contributor,
			SortOrder: nextOrder,
		}).
		On("CONFLICT (book_id, name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}

	return true, nil
}

func findCopyByHash(ctx context.Context, db bun.IDB, hash string) (*models.Copy, error) {
	if hash == "" {
		return nil, nil
	}
	c := &models.Copy{}
	err := db.NewSelect().
		Model(c).
		Where("c.file_hash = ?", hash).
		Order("c.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	return c, nil
}

// findIdentity looks for a book that is certainly the same work: the same
// ISBN, or the same normalized title and author.
func findIdentity(ctx context.Context, db bun.IDB, md BookMetadata) (int, error) {
	var ids []int

	if isbn := canonicalISBN(md.ISBN); isbn != nil {
		err := db.NewSelect().
			Model((*models.Book)(nil)).
			Column("b.id").
			Where("b.isbn = ?", *isbn).
			Order("b.id ASC").
			Limit(1).
			Scan(ctx, &ids)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}

	title := matcher.NormalizeTitle(md.Title)
	author := matcher.NormalizeAuthor(md.Author)
	if title == "" || author == "" {
		return 0, nil
	}
	err := db.NewSelect().
		Model((*models.Book)(nil)).
		Column("b.id").
		Where("b.normalized_title = ?", title).
		Where("b.normalized_author = ?", author).
		Order("b.id ASC").
		Limit(1).
		Scan(ctx, &ids)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if len(ids) > 0 {
		return ids[0], nil
	}
	return 0, nil
}

// titleTerms picks the longest few words of a normalized title for LIKE
// lookups. Short words match too much to be useful.
func titleTerms(normalizedTitle string) []string {
	var terms []string
	for _, f := range strings.Fields(normalizedTitle) {
		if len([]rune(f)) >= 4 {
			terms = append(terms, f)
		}
	}
	terms = uniqueStrings(terms)
	sort.SliceStable(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})
	if len(terms) > candidateTitleTerms {
		terms = terms[:candidateTitleTerms]
	}
	return terms
}

func canonicalISBN(isbn *string) *string {
	if isbn == nil {
		return nil
	}
	if canonical, ok := identifiers.CanonicalISBN(*isbn); ok {
		return &canonical
	}
	trimmed := strings.TrimSpace(*isbn)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func mapKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
