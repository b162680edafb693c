package worker

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/extraction"
	"github.com/shishobooks/spines/pkg/joblogs"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/ocr"
	"github.com/shishobooks/spines/pkg/review"
)

// reviewItemFor loads the item a job points at. A nil item means it was
// resolved before the job ran and there's nothing to do.
func (w *Worker) reviewItemFor(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) (*models.ReviewItem, error) {
	data, ok := job.DataParsed.(*models.JobReviewItemData)
	if !ok || data.ReviewItemID == "" {
		return nil, errors.New("review item job is missing its item id")
	}

	item, err := w.services.Review.Retrieve(ctx, review.RetrieveItemOptions{ID: &data.ReviewItemID})
	if err != nil {
		if errors.Is(err, review.ErrItemNotFound) {
			jl.Info("review item already resolved", logger.Data{"review_item_id": data.ReviewItemID})
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// ProcessEnrichJob looks the item's ISBN up in the registry and stores what
// came back. A failed lookup is logged and leaves the item alone.
func (w *Worker) ProcessEnrichJob(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) error {
	item, err := w.reviewItemFor(ctx, job, jl)
	if err != nil || item == nil {
		return err
	}

	isbn := item.ExtractionParsed.ISBNString()
	if isbn == "" {
		return nil
	}

	md, err := w.lookup.Lookup(ctx, isbn)
	if err != nil {
		jl.Warn("isbn lookup failed", logger.Data{"review_item_id": item.ID, "isbn": isbn, "error": err.Error()})
		return nil
	}

	if err := w.services.Review.SetLookup(ctx, item.ID, md); err != nil {
		if errors.Is(err, review.ErrItemNotFound) {
			return nil
		}
		return err
	}
	jl.Info("stored isbn lookup", logger.Data{"review_item_id": item.ID, "isbn": isbn, "title": md.Title})
	return nil
}

// ProcessOCRJob recognizes the text of an image-only item's leading and
// trailing pages and rescores the item with it. If a new ISBN turns up an
// enrichment job follows.
func (w *Worker) ProcessOCRJob(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) error {
	item, err := w.reviewItemFor(ctx, job, jl)
	if err != nil || item == nil {
		return err
	}
	if item.Status != models.ReviewStatusPending {
		jl.Info("review item no longer pending", logger.Data{"review_item_id": item.ID, "status": item.Status})
		return nil
	}

	if _, err := os.Stat(item.Filepath); os.IsNotExist(err) {
		jl.Warn("held file is missing", logger.Data{"review_item_id": item.ID, "path": item.Filepath})
		return ignoreTransition(w.services.Review.MarkFileMissing(ctx, item.ID))
	}

	if !w.ocr.Configured() {
		jl.Warn("ocr endpoint not configured, leaving item for manual review", logger.Data{"review_item_id": item.ID})
		return nil
	}

	text, err := w.recognize(ctx, item.Filepath, jl)
	if err != nil {
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		jl.Error("ocr failed", err, logger.Data{"review_item_id": item.ID})
		return ignoreTransition(w.services.Review.MarkProcessingFailed(ctx, item.ID))
	}

	result := extraction.FromOCRText(item.ExtractionParsed, text, item.Filename, w.weights)
	hadISBN := item.ExtractionParsed.ISBNString() != ""

	updated, err := w.services.Review.UpdateExtraction(ctx, item.ID, result)
	if err != nil {
		return ignoreTransition(err)
	}
	jl.Info("rescored review item from ocr", logger.Data{
		"review_item_id": item.ID,
		"confidence":     result.Confidence,
		"isbn_found":     result.ISBNFound,
	})

	if !hadISBN && updated.ExtractionParsed.ISBNString() != "" {
		err := w.jobService.CreateJob(ctx, &models.Job{
			Type:       models.JobTypeEnrichItem,
			Status:     models.JobStatusPending,
			DataParsed: &models.JobReviewItemData{ReviewItemID: item.ID},
		})
		if err != nil {
			jl.Warn("couldn't schedule enrichment", logger.Data{"review_item_id": item.ID, "error": err.Error()})
		}
	}
	return nil
}

// recognize calls the OCR capability, retrying with a growing pause.
func (w *Worker) recognize(ctx context.Context, path string, jl *joblogs.JobLogger) (string, error) {
	attempts := w.ocrAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := w.ocr.RecognizeText(ctx, path, ocr.DefaultPageRange())
		if err == nil {
			return text, nil
		}
		lastErr = err
		if errors.Is(err, ocr.ErrNoImages) || attempt == attempts {
			break
		}

		jl.Warn("ocr attempt failed", logger.Data{"attempt": attempt, "error": err.Error()})
		select {
		case <-ctx.Done():
			return "", errors.WithStack(ctx.Err())
		case <-time.After(w.ocrBackoff * time.Duration(attempt)):
		}
	}
	return "", lastErr
}

// ignoreTransition drops errors that only mean the item moved on while the
// job was running.
func ignoreTransition(err error) error {
	if errors.Is(err, review.ErrInvalidTransition) || errors.Is(err, review.ErrItemNotFound) {
		return nil
	}
	return err
}
