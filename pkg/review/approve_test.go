package review

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/catalog"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprove_AutoWithActionableMatchAppends(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewFakeRepository(earthseaBook(7))
	env := newTestEnv(t, repo)
	item := env.enqueue(t, "earthsea.epub", "new edition", earthseaExtraction(), models.ReviewReasonSimilarBookFound)

	result, err := env.svc.Approve(ctx, ApproveOptions{
		ItemID:      item.ID,
		Contributor: "bob",
		Action:      Auto{},
	})
	require.NoError(t, err)

	assert.Equal(t, CopyActionAddToExisting, result.Action)
	assert.Equal(t, 7, result.BookID)
	assert.True(t, result.Appended)
	assert.Equal(t, 1, repo.AppendCalls)
	assert.Equal(t, 0, repo.CreateCalls)
	assert.Equal(t, []string{"carol", "bob"}, repo.Book(7).ContributorNames())
	assert.Len(t, repo.Book(7).Copies, 2)

	_, err = env.svc.Retrieve(ctx, RetrieveItemOptions{ID: &item.ID})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestApprove_AutoWithoutMatchCreates(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewFakeRepository()
	env := newTestEnv(t, repo)
	item := env.enqueue(t, "earthsea.epub", "epub", earthseaExtraction(), models.ReviewReasonLowConfidence)

	result, err := env.svc.Approve(ctx, ApproveOptions{ItemID: item.ID})
	require.NoError(t, err)

	assert.Equal(t, CopyActionSeparate, result.Action)
	assert.True(t, result.Created)
	assert.Equal(t, 1, repo.CreateCalls)
	assert.Equal(t, 0, repo.AppendCalls)
	// An approval without a contributor credits the uploader.
	assert.Equal(t, []string{"alice"}, repo.Book(result.BookID).ContributorNames())
}

func TestApprove_SeparateCopyAlwaysCreates(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewFakeRepository(earthseaBook(7))
	env := newTestEnv(t, repo)
	item := env.enqueue(t, "earthsea.epub", "new edition", earthseaExtraction(), models.ReviewReasonSimilarBookFound)

	result, err := env.svc.Approve(ctx, ApproveOptions{
		ItemID:      item.ID,
		Contributor: "bob",
		Action:      SeparateCopy{},
	})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.NotEqual(t, 7, result.BookID)
	assert.Equal(t, 1, repo.CreateCalls)
	assert.Equal(t, 0, repo.AppendCalls)

	expected := filepath.Join(env.booksPath, "[Ursula K. Le Guin] A Wizard of Earthsea", "A Wizard of Earthsea.epub")
	assert.Equal(t, expected, result.Filepath)
	assert.FileExists(t, expected)
	assert.NoFileExists(t, item.Filepath)

	sf, err := env.staging.RetrieveStagedFile(ctx, staging.RetrieveStagedFileOptions{ID: &item.StagedFileID})
	require.NoError(t, err)
	assert.Equal(t, models.StagedFileStatusCommitted, sf.Status)
	assert.Equal(t, expected, sf.Filepath)
}

func TestApprove_AddToExistingAppendsOnceWithContributor(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewFakeRepository(earthseaBook(7))
	env := newTestEnv(t, repo)
	reason := models.ExtractionFailureRequiresOCR
	item := env.enqueue(t, "scan.pdf", "%PDF image only", &models.ExtractionResult{
		Method:        models.ExtractionMethodNone,
		FailureReason: &reason,
	}, reason)

	result, err := env.svc.Approve(ctx, ApproveOptions{
		ItemID:      item.ID,
		Metadata:    Corrections{Title: strPtr("A Wizard of Earthsea"), Author: strPtr("Ursula K. Le Guin")},
		Contributor: "dave",
		Action:      AddToExisting{BookID: 7},
	})
	require.NoError(t, err)

	assert.Equal(t, 7, result.BookID)
	assert.Equal(t, 1, repo.AppendCalls)
	assert.Equal(t, 0, repo.CreateCalls)
	copies := repo.Book(7).Copies
	require.Len(t, copies, 2)
	assert.Equal(t, "dave", copies[1].Contributor)

	pending, err := env.svc.List(ctx, ListItemsOptions{Statuses: []string{models.ReviewStatusPending}})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprove_IdenticalContentIsNoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	cat := catalog.NewService(env.db)

	item := env.enqueue(t, "earthsea.epub", "same bytes", earthseaExtraction(), models.ReviewReasonDuplicateFile)
	bookID, err := cat.CreateBook(ctx, catalog.BookMetadata{Title: "A Wizard of Earthsea", Author: "Ursula K. Le Guin"}, catalog.NewCopy{
		FileHash:    item.FileHash,
		Format:      "epub",
		Contributor: "carol",
		Filepath:    "/books/existing.epub",
	})
	require.NoError(t, err)

	result, err := env.svc.Approve(ctx, ApproveOptions{ItemID: item.ID, Action: AddToExisting{BookID: bookID}})
	require.NoError(t, err)
	assert.False(t, result.Appended)
	assert.Empty(t, result.Filepath)

	book, err := cat.RetrieveBook(ctx, catalog.RetrieveBookOptions{ID: &bookID})
	require.NoError(t, err)
	assert.Len(t, book.Copies, 1)
	assert.Equal(t, 0, fileCount(t, env.booksPath))
	assert.NoFileExists(t, item.Filepath)
}

func TestApproveAndReject_NonPendingFailWithoutChanges(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewFakeRepository(earthseaBook(7))
	env := newTestEnv(t, repo)
	item := env.enqueue(t, "earthsea.epub", "epub", earthseaExtraction(), models.ReviewReasonSimilarBookFound)
	require.NoError(t, env.svc.MarkProcessingFailed(ctx, item.ID))

	_, err := env.svc.Approve(ctx, ApproveOptions{ItemID: item.ID, Action: SeparateCopy{}})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.svc.Reject(ctx, RejectOptions{ItemID: item.ID, Reason: "nope"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := env.svc.Retrieve(ctx, RetrieveItemOptions{ID: &item.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusProcessingFailed, got.Status)
	assert.FileExists(t, item.Filepath)
	assert.Equal(t, 0, repo.CreateCalls)
	assert.Equal(t, 0, repo.AppendCalls)
}

func TestApprove_CatalogFailureLeavesItemPending(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewFakeRepository()
	env := newTestEnv(t, repo)
	item := env.enqueue(t, "earthsea.epub", "epub", earthseaExtraction(), models.ReviewReasonLowConfidence)

	repo.Err = errors.WithStack(catalog.ErrUnavailable)
	_, err := env.svc.Approve(ctx, ApproveOptions{ItemID: item.ID, Action: SeparateCopy{}})
	assert.ErrorIs(t, err, catalog.ErrUnavailable)

	got, err := env.svc.Retrieve(ctx, RetrieveItemOptions{ID: &item.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusPending, got.Status)
	assert.FileExists(t, item.Filepath)
	assert.Equal(t, 0, fileCount(t, env.booksPath))

	// The item can be approved once the catalog is back.
	repo.Err = nil
	result, err := env.svc.Approve(ctx, ApproveOptions{ItemID: item.ID, Action: SeparateCopy{}})
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestApprove_ItemRemovalFailureStillEndsApproved(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	item := env.enqueue(t, "earthsea.epub", "epub", earthseaExtraction(), models.ReviewReasonLowConfidence)

	_, err := env.db.ExecContext(ctx, `CREATE TRIGGER keep_review_items BEFORE DELETE ON review_items
		BEGIN SELECT RAISE(ABORT, 'review items are read-only'); END`)
	require.NoError(t, err)

	result, err := env.svc.Approve(ctx, ApproveOptions{ItemID: item.ID, Action: SeparateCopy{}})
	require.NoError(t, err)
	assert.True(t, result.Created)

	got, err := env.svc.Retrieve(ctx, RetrieveItemOptions{ID: &item.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusApproved, got.Status)

	_, err = env.svc.Approve(ctx, ApproveOptions{ItemID: item.ID, Action: SeparateCopy{}})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	pending, err := env.svc.List(ctx, ListItemsOptions{})
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = env.db.ExecContext(ctx, "DROP TRIGGER keep_review_items")
	require.NoError(t, err)
	n, err := env.svc.ReleaseStaleClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = env.svc.Retrieve(ctx, RetrieveItemOptions{ID: &item.ID})
	assert.ErrorIs(t, err, ErrItemNotFound)

	books, err := catalog.NewService(env.db).ListBooks(ctx, catalog.ListBooksOptions{})
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestApprove_MissingFile(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewFakeRepository()
	env := newTestEnv(t, repo)
	item := env.enqueue(t, "earthsea.epub", "epub", earthseaExtraction(), models.ReviewReasonLowConfidence)
	require.NoError(t, os.Remove(item.Filepath))

	_, err := env.svc.Approve(ctx, ApproveOptions{ItemID: item.ID})
	assert.ErrorIs(t, err, ErrFileMissing)

	got, err := env.svc.Retrieve(ctx, RetrieveItemOptions{ID: &item.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusFileMissing, got.Status)
	assert.Equal(t, 0, repo.CreateCalls)
}

func TestApprove_UnknownItem(t *testing.T) {
	env := newTestEnv(t, catalog.NewFakeRepository())

	_, err := env.svc.Approve(context.Background(), ApproveOptions{ItemID: "missing"})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewFakeRepository()
	env := newTestEnv(t, repo)
	item := env.enqueue(t, "junk.pdf", "junk", &models.ExtractionResult{Method: models.ExtractionMethodNone}, models.ReviewReasonLowConfidence)
	other := env.enqueue(t, "keep.pdf", "keep", &models.ExtractionResult{Method: models.ExtractionMethodNone}, models.ReviewReasonLowConfidence)

	rejected, err := env.svc.Reject(ctx, RejectOptions{ItemID: item.ID, Reason: "not a book"})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "not a book", *rejected.RejectionReason)

	assert.NoFileExists(t, item.Filepath)
	_, err = env.staging.RetrieveStagedFile(ctx, staging.RetrieveStagedFileOptions{ID: &item.StagedFileID})
	assert.Error(t, err)

	pending, err := env.svc.List(ctx, ListItemsOptions{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, other.ID, pending[0].ID)
	assert.Empty(t, repo.Books)

	_, err = env.svc.Reject(ctx, RejectOptions{ItemID: item.ID})
	assert.ErrorIs(t, err, ErrItemNotFound)
}
