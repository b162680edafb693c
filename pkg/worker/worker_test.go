package worker

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/internal/testgen"
	"github.com/shishobooks/spines/pkg/catalog"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/ingest"
	"github.com/shishobooks/spines/pkg/joblogs"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/migrations"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/ocr"
	"github.com/shishobooks/spines/pkg/progress"
	"github.com/shishobooks/spines/pkg/review"
	"github.com/shishobooks/spines/pkg/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type fakeRecognizer struct {
	configured bool
	text       string
	err        error
	calls      int
}

func (f *fakeRecognizer) Configured() bool { return f.configured }

func (f *fakeRecognizer) RecognizeText(_ context.Context, _ string, _ ocr.PageRange) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeLookup struct {
	md  *models.LookupMetadata
	err error
}

func (f *fakeLookup) Lookup(_ context.Context, isbn string) (*models.LookupMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	md := *f.md
	md.ISBN = isbn
	return &md, nil
}

// testContext holds all the dependencies needed for testing the worker.
type testContext struct {
	t        *testing.T
	ctx      context.Context
	db       *bun.DB
	worker   *Worker
	services *ingest.Services
	hub      *progress.Hub
	ocr      *fakeRecognizer
	lookup   *fakeLookup
	fixtures string
}

func newTestContext(t *testing.T) *testContext {
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

	root := t.TempDir()
	cfg := config.NewForTest()
	cfg.WorkerProcesses = 1
	cfg.TempPath = filepath.Join(root, "temp")
	cfg.HoldingPath = filepath.Join(root, "review")
	cfg.BooksPath = filepath.Join(root, "books")

	services := ingest.NewServices(cfg, db)
	hub := progress.NewHub(time.Minute, time.Minute)
	w := New(cfg, db, services, hub)

	tc := &testContext{
		t:        t,
		ctx:      logger.New().WithContext(context.Background()),
		db:       db,
		worker:   w,
		services: services,
		hub:      hub,
		ocr:      &fakeRecognizer{configured: true},
		lookup:   &fakeLookup{md: &models.LookupMetadata{Title: "A Wizard of Earthsea", Author: "Ursula K. Le Guin", Source: "openlibrary"}},
		fixtures: filepath.Join(root, "fixtures"),
	}
	w.ocr = tc.ocr
	w.lookup = tc.lookup
	w.ocrBackoff = 0
	return tc
}

func (tc *testContext) stageFile(path, contributor string) *models.StagedFile {
	tc.t.Helper()
	f, err := os.Open(path)
	require.NoError(tc.t, err)
	defer f.Close()

	sf, err := tc.services.Staging.Stage(tc.ctx, staging.StageOptions{
		Filename:    filepath.Base(path),
		Contributor: contributor,
		Content:     f,
	})
	require.NoError(tc.t, err)
	return sf
}

func (tc *testContext) createJob(job *models.Job) *models.Job {
	tc.t.Helper()
	require.NoError(tc.t, tc.services.Jobs.CreateJob(tc.ctx, job))
	job, err := tc.services.Jobs.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &job.ID})
	require.NoError(tc.t, err)
	return job
}

func (tc *testContext) jobLogger(job *models.Job) *joblogs.JobLogger {
	return tc.worker.jobLogService.NewJobLogger(tc.ctx, job.ID, logger.New())
}

// enqueueImageOnly stages an image-only PDF and queues it for review the way
// the orchestrator does.
func (tc *testContext) enqueueImageOnly() *models.ReviewItem {
	tc.t.Helper()
	path := testgen.GenerateImageOnlyPDF(tc.t, tc.fixtures, "scan.pdf", 3)
	sf := tc.stageFile(path, "alice")
	result := tc.services.Extraction.Extract(tc.ctx, sf)
	require.True(tc.t, result.Failed())

	item, err := tc.services.Review.Enqueue(tc.ctx, review.EnqueueOptions{
		StagedFile:  sf,
		Extraction:  result,
		Reason:      *result.FailureReason,
		Contributor: "alice",
	})
	require.NoError(tc.t, err)
	return item
}

func (tc *testContext) item(id string) *models.ReviewItem {
	tc.t.Helper()
	item, err := tc.services.Review.Retrieve(tc.ctx, review.RetrieveItemOptions{ID: &id})
	require.NoError(tc.t, err)
	return item
}

func TestProcessIngestJob_PublishesAndCommits(t *testing.T) {
	tc := newTestContext(t)

	tc.stageFile(testgen.GenerateEPUB(t, tc.fixtures, "earthsea.epub", testgen.EPUBOptions{
		Title:       "A Wizard of Earthsea",
		Authors:     []string{"Ursula K. Le Guin"},
		ISBN:        "9780306406157",
		ContentText: []string{"A Wizard of Earthsea", "ISBN 978-0-306-40615-7"},
	}), "alice")
	tc.stageFile(testgen.GenerateEPUB(t, tc.fixtures, "nineteen.epub", testgen.EPUBOptions{
		Title:       "Nineteen Eighty-Four",
		Authors:     []string{"George Orwell"},
		ISBN:        "9780141036144",
		ContentText: []string{"Nineteen Eighty-Four", "ISBN 978-0-14-103614-4"},
	}), "alice")

	startedAt := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	job := tc.createJob(&models.Job{
		Type:       models.JobTypeIngest,
		DataParsed: &models.JobIngestData{Contributor: "alice", StartedAt: startedAt},
	})

	sub := tc.hub.Subscribe(progress.NewRunKey("alice", startedAt))
	defer sub.Close()

	var (
		mu     sync.Mutex
		events []progress.Event
		wg     sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sub.Stream(context.Background(), func(ev progress.Event) error {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
			return nil
		})
	}()

	err := tc.worker.ProcessIngestJob(tc.ctx, job, tc.jobLogger(job))
	require.NoError(t, err)
	wg.Wait()

	require.NotEmpty(t, events)
	assert.Equal(t, progress.EventPing, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventComplete, last.Type)
	assert.Equal(t, 2, *last.ProcessedCount)

	got, err := tc.services.Jobs.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Progress)

	books, total, err := tc.services.Catalog.ListBooksWithTotal(tc.ctx, catalog.ListBooksOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, b := range books {
		require.Len(t, b.Copies, 1)
		assert.FileExists(t, b.Copies[0].Filepath)
	}

	logs, err := tc.worker.jobLogService.ListJobLogs(tc.ctx, joblogs.ListJobLogsOptions{JobID: job.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestRunJob_MarksCompletedAndFailed(t *testing.T) {
	tc := newTestContext(t)

	cleanup := tc.createJob(&models.Job{
		Type:       models.JobTypeTempCleanup,
		DataParsed: &models.JobTempCleanupData{MaxAgeSeconds: 3600},
	})
	tc.worker.runJob(cleanup)

	got, err := tc.services.Jobs.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &cleanup.ID})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.ProcessID)
	assert.Equal(t, processID, *got.ProcessID)

	broken := tc.createJob(&models.Job{
		Type:       models.JobTypeEnrichItem,
		DataParsed: &models.JobReviewItemData{},
	})
	tc.worker.runJob(broken)

	got, err = tc.services.Jobs.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &broken.ID})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestRunJob_PanicFailsJob(t *testing.T) {
	tc := newTestContext(t)
	tc.worker.processFuncs[models.JobTypeTempCleanup] = func(context.Context, *models.Job, *joblogs.JobLogger) error {
		panic("boom")
	}

	job := tc.createJob(&models.Job{
		Type:       models.JobTypeTempCleanup,
		DataParsed: &models.JobTempCleanupData{},
	})
	tc.worker.runJob(job)

	got, err := tc.services.Jobs.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)

	logs, err := tc.worker.jobLogService.ListJobLogs(tc.ctx, joblogs.ListJobLogsOptions{
		JobID:  job.ID,
		Levels: []string{models.JobLogLevelFatal},
	})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestProcessOCRJob_RescoresItem(t *testing.T) {
	tc := newTestContext(t)
	item := tc.enqueueImageOnly()
	tc.ocr.text = "A WIZARD OF EARTHSEA\nCopyright © 1968\nISBN 978-0-306-40615-7"

	job := tc.createJob(&models.Job{Type: models.JobTypeOCRItem, DataParsed: &models.JobReviewItemData{ReviewItemID: item.ID}})
	require.NoError(t, tc.worker.ProcessOCRJob(tc.ctx, job, tc.jobLogger(job)))

	got := tc.item(item.ID)
	assert.Equal(t, models.ReviewStatusPending, got.Status)
	assert.Equal(t, models.ExtractionMethodOCRPartial, got.ExtractionMethod)
	assert.True(t, got.ISBNFound)
	assert.Equal(t, "9780306406157", got.ExtractionParsed.ISBNString())

	jobType := models.JobTypeEnrichItem
	enrich, _, err := tc.services.Jobs.ListJobsWithTotal(tc.ctx, jobs.ListJobsOptions{Type: &jobType})
	require.NoError(t, err)
	require.Len(t, enrich, 1)
	assert.Equal(t, item.ID, enrich[0].DataParsed.(*models.JobReviewItemData).ReviewItemID)
}

func TestProcessOCRJob_FailureAfterRetries(t *testing.T) {
	tc := newTestContext(t)
	item := tc.enqueueImageOnly()
	tc.ocr.err = errors.New("model unavailable")

	job := tc.createJob(&models.Job{Type: models.JobTypeOCRItem, DataParsed: &models.JobReviewItemData{ReviewItemID: item.ID}})
	require.NoError(t, tc.worker.ProcessOCRJob(tc.ctx, job, tc.jobLogger(job)))

	assert.Equal(t, 3, tc.ocr.calls)
	assert.Equal(t, models.ReviewStatusProcessingFailed, tc.item(item.ID).Status)
}

func TestProcessOCRJob_MissingFile(t *testing.T) {
	tc := newTestContext(t)
	item := tc.enqueueImageOnly()
	require.NoError(t, os.Remove(item.Filepath))

	job := tc.createJob(&models.Job{Type: models.JobTypeOCRItem, DataParsed: &models.JobReviewItemData{ReviewItemID: item.ID}})
	require.NoError(t, tc.worker.ProcessOCRJob(tc.ctx, job, tc.jobLogger(job)))

	assert.Equal(t, 0, tc.ocr.calls)
	assert.Equal(t, models.ReviewStatusFileMissing, tc.item(item.ID).Status)
}

func TestProcessOCRJob_NotConfigured(t *testing.T) {
	tc := newTestContext(t)
	item := tc.enqueueImageOnly()
	tc.ocr.configured = false

	job := tc.createJob(&models.Job{Type: models.JobTypeOCRItem, DataParsed: &models.JobReviewItemData{ReviewItemID: item.ID}})
	require.NoError(t, tc.worker.ProcessOCRJob(tc.ctx, job, tc.jobLogger(job)))

	assert.Equal(t, 0, tc.ocr.calls)
	got := tc.item(item.ID)
	assert.Equal(t, models.ReviewStatusPending, got.Status)
	assert.Equal(t, item.ExtractionMethod, got.ExtractionMethod)
}

func TestProcessEnrichJob(t *testing.T) {
	tc := newTestContext(t)
	item := tc.enqueueImageOnly()
	isbn := "9780306406157"
	_, err := tc.services.Review.UpdateExtraction(tc.ctx, item.ID, &models.ExtractionResult{
		ISBN:      &isbn,
		ISBNFound: true,
		Method:    models.ExtractionMethodOCRPartial,
	})
	require.NoError(t, err)

	job := tc.createJob(&models.Job{Type: models.JobTypeEnrichItem, DataParsed: &models.JobReviewItemData{ReviewItemID: item.ID}})

	t.Run("lookup failure leaves the item alone", func(t *testing.T) {
		tc.lookup.err = errors.New("registry down")
		require.NoError(t, tc.worker.ProcessEnrichJob(tc.ctx, job, tc.jobLogger(job)))
		got := tc.item(item.ID)
		assert.Nil(t, got.LookupParsed)
		assert.Equal(t, models.ReviewStatusPending, got.Status)
	})

	t.Run("lookup result is stored", func(t *testing.T) {
		tc.lookup.err = nil
		require.NoError(t, tc.worker.ProcessEnrichJob(tc.ctx, job, tc.jobLogger(job)))
		got := tc.item(item.ID)
		require.NotNil(t, got.LookupParsed)
		assert.Equal(t, "A Wizard of Earthsea", got.LookupParsed.Title)
		assert.Equal(t, isbn, got.LookupParsed.ISBN)
	})
}

func TestProcessEnrichJob_ResolvedItem(t *testing.T) {
	tc := newTestContext(t)
	job := tc.createJob(&models.Job{Type: models.JobTypeEnrichItem, DataParsed: &models.JobReviewItemData{ReviewItemID: "gone"}})
	assert.NoError(t, tc.worker.ProcessEnrichJob(tc.ctx, job, tc.jobLogger(job)))
}

func TestProcessTempCleanupJob_PrunesOldJobLogs(t *testing.T) {
	tc := newTestContext(t)

	old := tc.createJob(&models.Job{
		Type:      models.JobTypeTempCleanup,
		Status:    models.JobStatusCompleted,
		CreatedAt: time.Now().Add(-2 * tc.worker.config.JobLogRetention),
	})
	tc.jobLogger(old).Info("ancient", nil)

	job := tc.createJob(&models.Job{Type: models.JobTypeTempCleanup, DataParsed: &models.JobTempCleanupData{}})
	require.NoError(t, tc.worker.ProcessTempCleanupJob(tc.ctx, job, tc.jobLogger(job)))

	logs, err := tc.worker.jobLogService.ListJobLogs(tc.ctx, joblogs.ListJobLogsOptions{JobID: old.ID})
	require.NoError(t, err)
	assert.Empty(t, logs)

	logs, err = tc.worker.jobLogService.ListJobLogs(tc.ctx, joblogs.ListJobLogsOptions{JobID: job.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}
