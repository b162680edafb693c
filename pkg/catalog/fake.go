package catalog

import (
	"context"
	"sync"

	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/matcher"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/sortname"
)

// FakeRepository is an in-memory Repository for tests of code that writes to
// the catalog. Setting Err makes every call fail with it.
type FakeRepository struct {
	mu sync.Mutex

	Books []*models.Book
	Err   error

	CreateCalls int
	AppendCalls int
	nextID      int
}

var _ Repository = (*FakeRepository)(nil)

func NewFakeRepository(books ...*models.Book) *FakeRepository {
	f := &FakeRepository{Books: books}
	for _, b := range books {
		if b.ID > f.nextID {
			f.nextID = b.ID
		}
	}
	return f
}

func (f *FakeRepository) FindCandidates(_ context.Context, _ matcher.CandidateQuery) ([]*models.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]*models.Book, len(f.Books))
	copy(out, f.Books)
	return out, nil
}

func (f *FakeRepository) CreateBook(_ context.Context, md BookMetadata, first NewCopy) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	f.CreateCalls++
	return f.create(md, first), nil
}

func (f *FakeRepository) AppendCopy(_ context.Context, bookID int, cp NewCopy, contributor string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	f.AppendCalls++
	book := f.find(bookID)
	if book == nil {
		return false, errcodes.NotFound("Book")
	}
	return f.append(book, cp, contributor), nil
}

func (f *FakeRepository) CreateOrAppend(_ context.Context, md BookMetadata, cp NewCopy) (*CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, b := range f.Books {
		if b.HasCopyWithHash(cp.FileHash) {
			return &CommitResult{BookID: b.ID}, nil
		}
	}
	isbn := canonicalISBN(md.ISBN)
	title := matcher.NormalizeTitle(md.Title)
	author := matcher.NormalizeAuthor(md.Author)
	for _, b := range f.Books {
		sameISBN := isbn != nil && b.ISBN != nil && *b.ISBN == *isbn
		sameWork := title != "" && author != "" && b.NormalizedTitle == title && b.NormalizedAuthor == author
		if sameISBN || sameWork {
			f.AppendCalls++
			return &CommitResult{BookID: b.ID, Appended: f.append(b, cp, cp.Contributor)}, nil
		}
	}
	f.CreateCalls++
	return &CommitResult{BookID: f.create(md, cp), Created: true}, nil
}

func (f *FakeRepository) FindCopyByHash(_ context.Context, hash string) (*models.Copy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, b := range f.Books {
		for _, c := range b.Copies {
			if c.FileHash == hash {
				return c, nil
			}
		}
	}
	return nil, nil
}

// Book returns the stored book with the given id, or nil.
func (f *FakeRepository) Book(id int) *models.Book {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(id)
}

func (f *FakeRepository) find(id int) *models.Book {
	for _, b := range f.Books {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (f *FakeRepository) create(md BookMetadata, first NewCopy) int {
	f.nextID++
	book := &models.Book{
		ID:               f.nextID,
		Title:            md.Title,
		Author:           md.Author,
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
	for _, name := range uniqueStrings(md.Tags) {
		book.Tags = append(book.Tags, &models.BookTag{BookID: book.ID, Name: name})
	}
	f.Books = append(f.Books, book)
	f.append(book, first, first.Contributor)
	return book.ID
}

func (f *FakeRepository) append(book *models.Book, cp NewCopy, contributor string) bool {
	if book.HasCopyWithHash(cp.FileHash) {
		return false
	}
	if contributor == "" {
		contributor = models.DefaultContributor
	}
	book.Copies = append(book.Copies, &models.Copy{
		ID:          len(book.Copies) + 1,
		BookID:      book.ID,
		FileHash:    cp.FileHash,
		Format:      cp.Format,
		SizeBytes:   cp.SizeBytes,
		Contributor: contributor,
		Filepath:    cp.Filepath,
	})
	if !book.HasContributor(contributor) {
		book.Contributors = append(book.Contributors, &models.BookContributor{
			BookID:    book.ID,
			Name:      contributor,
			SortOrder: len(book.Contributors),
		})
	}
	return true
}
