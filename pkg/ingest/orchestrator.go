package ingest

import (
	"context"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/catalog"
	"github.com/shishobooks/spines/pkg/fileutils"
	"github.com/shishobooks/spines/pkg/matcher"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/progress"
	"github.com/shishobooks/spines/pkg/review"
)

// ErrCancelled is returned when a run is cancelled between files.
var ErrCancelled = errors.New("ingest run cancelled")

// Policy is the auto-accept decision policy.
type Policy struct {
	// AutoAccept is the extraction confidence at or above which a file with
	// no actionable similar book is committed without review.
	AutoAccept float64
}

func DefaultPolicy() Policy {
	return Policy{AutoAccept: 0.85}
}

// Extractor produces metadata for a staged file. It reports tool failures
// through the result rather than an error.
type Extractor interface {
	Extract(ctx context.Context, sf *models.StagedFile) *models.ExtractionResult
}

// Queue is where deferred files go.
type Queue interface {
	Enqueue(ctx context.Context, opts review.EnqueueOptions) (*models.ReviewItem, error)
}

// Committer records that a staged file made it into the catalog.
type Committer interface {
	MarkCommitted(ctx context.Context, sf *models.StagedFile, path string) error
	Remove(ctx context.Context, sf *models.StagedFile) error
}

// Placer moves a committed file into the library.
type Placer interface {
	Place(src string, opts fileutils.OrganizedNameOptions) (*fileutils.PlaceResult, error)
}

type Dependencies struct {
	Extractor Extractor
	Matcher   *matcher.Matcher
	Catalog   catalog.Repository
	Queue     Queue
	Staging   Committer
	Placer    Placer
}

// Outcome is what happened to one file of a batch.
type Outcome struct {
	StagedFileID string  `json:"staged_file_id"`
	Filename     string  `json:"filename"`
	Status       string  `json:"status"`
	Reason       string  `json:"reason,omitempty"`
	BookID       *int    `json:"book_id,omitempty"`
	ReviewItemID *string `json:"review_item_id,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// result is the id the outcome points at, for the progress stream.
func (o *Outcome) result() string {
	switch {
	case o.BookID != nil:
		return strconv.Itoa(*o.BookID)
	case o.ReviewItemID != nil:
		return *o.ReviewItemID
	}
	return ""
}

type Summary struct {
	ProcessedCount   int        `json:"processed_count"`
	ReviewQueueCount int        `json:"review_queue_count"`
	FailedCount      int        `json:"failed_count"`
	Outcomes         []*Outcome `json:"outcomes"`
}

func (s *Summary) record(o *Outcome) {
	switch o.Status {
	case progress.StatusSuccess:
		s.ProcessedCount++
	case progress.StatusReview:
		s.ReviewQueueCount++
	default:
		s.FailedCount++
	}
	s.Outcomes = append(s.Outcomes, o)
}

type Orchestrator struct {
	extractor Extractor
	matcher   *matcher.Matcher
	catalog   catalog.Repository
	queue     Queue
	staging   Committer
	placer    Placer
	policy    Policy
}

func NewOrchestrator(deps Dependencies, policy Policy) *Orchestrator {
	return &Orchestrator{
		extractor: deps.Extractor,
		matcher:   deps.Matcher,
		catalog:   deps.Catalog,
		queue:     deps.Queue,
		staging:   deps.Staging,
		placer:    deps.Placer,
		policy:    policy,
	}
}

// ProcessBatch runs files through extraction and the decision policy one at
// a time, in order, so later files see what earlier ones committed. Every
// file ends up committed, queued for review, or reported as failed.
//
// Cancelling ctx stops the run before the next file; the file in progress is
// finished. A catalog outage stops the run too. Either way the remaining
// files are left staged and the summary covers the files handled so far.
func (o *Orchestrator) ProcessBatch(ctx context.Context, files []*models.StagedFile, contributor string, emit func(progress.Event)) (*Summary, error) {
	log := logger.FromContext(ctx)
	if emit == nil {
		emit = func(progress.Event) {}
	}
	summary := &Summary{Outcomes: []*Outcome{}}

	total := len(files)
	if total == 0 {
		ev := progress.Complete(0, 0, 0)
		ev.Message = "No uploaded files to process"
		emit(ev)
		return summary, nil
	}

	filenames := make([]string, 0, total)
	for _, sf := range files {
		filenames = append(filenames, sf.Filename)
	}
	emit(progress.Start(filenames))

	// Work on a file isn't interrupted once it starts.
	work := context.WithoutCancel(ctx)

	for i, sf := range files {
		current := i + 1

		if ctx.Err() != nil {
			log.Info("ingest run cancelled", logger.Data{"remaining": total - i})
			emit(progress.Error(ErrCancelled, progress.StatusCancelled,
				summary.ProcessedCount, summary.ReviewQueueCount, summary.FailedCount))
			return summary, errors.WithStack(ErrCancelled)
		}

		emit(progress.Progress(current, total, sf.Filename))
		log.Info("processing staged file", logger.Data{"current": current, "total": total, "filename": sf.Filename})

		outcome, err := o.processFile(work, sf, contributor, func(detail string) {
			emit(progress.Detail(sf.Filename, detail))
		})
		if err != nil {
			log.Err(err).Error("ingest run aborted", logger.Data{"filename": sf.Filename})
			emit(progress.Error(err, "", summary.ProcessedCount, summary.ReviewQueueCount, summary.FailedCount))
			return summary, err
		}

		summary.record(outcome)
		emit(progress.FileComplete(current, total, sf.Filename, outcome.Status, outcome.Reason, outcome.result()))
	}

	log.Info("ingest run complete", logger.Data{
		"processed":    summary.ProcessedCount,
		"review_queue": summary.ReviewQueueCount,
		"failed":       summary.FailedCount,
	})
	emit(progress.Complete(summary.ProcessedCount, summary.ReviewQueueCount, summary.FailedCount))

	return summary, nil
}

// processFile decides and applies one file's outcome. A returned error is
// systemic and stops the batch; anything specific to the file is reported in
// the outcome instead.
func (o *Orchestrator) processFile(ctx context.Context, sf *models.StagedFile, contributor string, detail func(string)) (*Outcome, error) {
	outcome := &Outcome{StagedFileID: sf.ID, Filename: sf.Filename}

	detail("Extracting metadata")
	result := o.extractor.Extract(ctx, sf)

	if result.Failed() {
		return o.sendToReview(ctx, sf, result, *result.FailureReason, contributor, outcome)
	}

	detail("Checking for duplicates")
	existing, err := o.catalog.FindCopyByHash(ctx, sf.FileHash)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if existing != nil {
		return o.sendToReview(ctx, sf, result, models.ReviewReasonDuplicateFile, contributor, outcome)
	}

	matches, err := o.matcher.FindSimilar(ctx, result)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if o.matcher.HasActionable(matches) {
		return o.sendToReview(ctx, sf, result, models.ReviewReasonSimilarBookFound, contributor, outcome)
	}
	if result.Confidence < o.policy.AutoAccept {
		return o.sendToReview(ctx, sf, result, models.ReviewReasonLowConfidence, contributor, outcome)
	}

	detail("Adding to library")
	return o.commit(ctx, sf, result, contributor, outcome)
}

func (o *Orchestrator) sendToReview(ctx context.Context, sf *models.StagedFile, result *models.ExtractionResult, reason, contributor string, outcome *Outcome) (*Outcome, error) {
	item, err := o.queue.Enqueue(ctx, review.EnqueueOptions{
		StagedFile:  sf,
		Extraction:  result,
		Reason:      reason,
		Contributor: contributor,
	})
	if err != nil {
		if isMissing(sf) {
			outcome.Status = progress.StatusFailed
			outcome.Reason = models.ReviewStatusFileMissing
			outcome.Error = err.Error()
			return outcome, nil
		}
		return nil, errors.Wrap(err, "couldn't queue file for review")
	}

	outcome.Status = progress.StatusReview
	outcome.Reason = reason
	outcome.ReviewItemID = &item.ID
	return outcome, nil
}

func (o *Orchestrator) commit(ctx context.Context, sf *models.StagedFile, result *models.ExtractionResult, contributor string, outcome *Outcome) (*Outcome, error) {
	log := logger.FromContext(ctx)

	md := catalog.BookMetadata{
		Title:     result.TitleString(),
		Author:    result.AuthorString(),
		Year:      result.Year,
		ISBN:      result.ISBN,
		Publisher: result.Publisher,
		MediaType: result.MediaType,
		Notes:     result.Description,
	}
	if md.MediaType != nil && *md.MediaType == models.MediaTypeUnknown {
		md.MediaType = nil
	}

	placed, err := o.placer.Place(sf.Filepath, fileutils.OrganizedNameOptions{Author: md.Author, Title: md.Title})
	if err != nil {
		outcome.Status = progress.StatusFailed
		outcome.Reason = "placement_failed"
		outcome.Error = err.Error()
		if isMissing(sf) {
			outcome.Reason = models.ReviewStatusFileMissing
		}
		return outcome, nil
	}

	if contributor == "" {
		contributor = sf.Contributor
	}
	res, err := o.catalog.CreateOrAppend(ctx, md, catalog.NewCopy{
		FileHash:    sf.FileHash,
		Format:      sf.Format,
		SizeBytes:   sf.SizeBytes,
		Contributor: contributor,
		Filepath:    placed.NewPath,
	})
	if err != nil {
		if uerr := placed.Undo(); uerr != nil {
			log.Err(uerr).Error("couldn't undo file placement", logger.Data{"path": placed.NewPath})
		}
		if errors.Is(err, catalog.ErrUnavailable) {
			return nil, errors.WithStack(err)
		}
		outcome.Status = progress.StatusFailed
		outcome.Reason = "commit_failed"
		outcome.Error = err.Error()
		return outcome, nil
	}

	if !res.Created && !res.Appended {
		// Identical content was already in the catalog.
		if uerr := placed.Undo(); uerr != nil {
			log.Err(uerr).Warn("couldn't undo redundant file placement", logger.Data{"path": placed.NewPath})
		}
		if rerr := o.staging.Remove(ctx, sf); rerr != nil {
			log.Err(rerr).Warn("couldn't remove redundant staged file", logger.Data{"staged_file_id": sf.ID})
		}
	} else if err := o.staging.MarkCommitted(ctx, sf, placed.NewPath); err != nil {
		log.Err(err).Warn("couldn't mark staged file committed", logger.Data{"staged_file_id": sf.ID})
	}

	outcome.Status = progress.StatusSuccess
	outcome.BookID = &res.BookID
	return outcome, nil
}

func isMissing(sf *models.StagedFile) bool {
	_, err := os.Stat(sf.Filepath)
	return os.IsNotExist(err)
}
