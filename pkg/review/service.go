package review

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/catalog"
	"github.com/shishobooks/spines/pkg/fileutils"
	"github.com/shishobooks/spines/pkg/matcher"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/staging"
	"github.com/uptrace/bun"
)

// Stager is the part of the staging area the queue moves files through.
type Stager interface {
	Hold(ctx context.Context, sf *models.StagedFile) error
	Unhold(ctx context.Context, sf *models.StagedFile, original string) error
	RetrieveStagedFile(ctx context.Context, opts staging.RetrieveStagedFileOptions) (*models.StagedFile, error)
	MarkCommitted(ctx context.Context, sf *models.StagedFile, path string) error
	Remove(ctx context.Context, sf *models.StagedFile) error
}

// Placer moves an approved file into the library.
type Placer interface {
	Place(src string, opts fileutils.OrganizedNameOptions) (*fileutils.PlaceResult, error)
}

// Scheduler queues background work for an item. jobs.Service satisfies it.
type Scheduler interface {
	CreateJob(ctx context.Context, job *models.Job) error
}

type Dependencies struct {
	Stager    Stager
	Catalog   catalog.Repository
	Matcher   *matcher.Matcher
	Placer    Placer
	Scheduler Scheduler
}

type EnqueueOptions struct {
	StagedFile  *models.StagedFile
	Extraction  *models.ExtractionResult
	Reason      string
	Contributor string
}

type RetrieveItemOptions struct {
	ID *string
}

type ListItemsOptions struct {
	Limit       *int
	Offset      *int
	Statuses    []string
	Contributor *string

	includeTotal bool
}

// Summary counts queued items by status. Items mid-approval count as pending.
type Summary struct {
	Total            int `json:"total"`
	PendingReview    int `json:"pending_review"`
	FileMissing      int `json:"file_missing"`
	ProcessingFailed int `json:"processing_failed"`
}

// SimilarResult is the set of books an item resembles.
type SimilarResult struct {
	Matches    []*models.SimilarBookMatch `json:"matches"`
	HasMatches bool                       `json:"has_matches"`
}

type Service struct {
	db        *bun.DB
	stager    Stager
	catalog   catalog.Repository
	matcher   *matcher.Matcher
	placer    Placer
	scheduler Scheduler
}

func NewService(db *bun.DB, deps Dependencies) *Service {
	return &Service{
		db:        db,
		stager:    deps.Stager,
		catalog:   deps.Catalog,
		matcher:   deps.Matcher,
		placer:    deps.Placer,
		scheduler: deps.Scheduler,
	}
}

// Enqueue moves a staged file into the holding area and creates a pending
// item for it. It accepts any extraction result; whether to call it is the
// caller's decision.
func (svc *Service) Enqueue(ctx context.Context, opts EnqueueOptions) (item *models.ReviewItem, err error) {
	sf := opts.StagedFile
	if sf == nil {
		return nil, errors.New("enqueue needs a staged file")
	}

	if sf.Status == "" || sf.Status == models.StagedFileStatusStaged {
		original := sf.Filepath
		if err := svc.stager.Hold(ctx, sf); err != nil {
			return nil, errors.WithStack(err)
		}
		// Until the item exists the file goes back to staging on failure, so a
		// later run still sees it.
		defer func() {
			if err == nil {
				return
			}
			if uerr := svc.stager.Unhold(ctx, sf, original); uerr != nil {
				logger.FromContext(ctx).Err(uerr).Error("couldn't return file to staging", logger.Data{"staged_file_id": sf.ID})
			}
		}()
	}

	contributor := opts.Contributor
	if contributor == "" {
		contributor = sf.Contributor
	}
	if contributor == "" {
		contributor = models.DefaultContributor
	}
	extraction := opts.Extraction
	if extraction == nil {
		extraction = &models.ExtractionResult{Method: models.ExtractionMethodNone}
	}

	now := time.Now()
	item = &models.ReviewItem{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
		StagedFileID:     sf.ID,
		Filename:         sf.Filename,
		Filepath:         sf.Filepath,
		FileHash:         sf.FileHash,
		SizeBytes:        sf.SizeBytes,
		Format:           sf.Format,
		Contributor:      contributor,
		Reason:           opts.Reason,
		Status:           models.ReviewStatusPending,
		ExtractionParsed: extraction,
	}
	if err := item.MarshalData(); err != nil {
		return nil, errors.WithStack(err)
	}

	_, err = svc.db.
		NewInsert().
		Model(item).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	logger.FromContext(ctx).Info("review item enqueued", logger.Data{
		"review_item_id": item.ID,
		"filename":       item.Filename,
		"reason":         item.Reason,
		"confidence":     item.ExtractionConfidence,
	})

	svc.scheduleFollowUps(ctx, item)

	return item, nil
}

// scheduleFollowUps queues ISBN enrichment and OCR for an item. Failing to
// schedule never fails the enqueue.
func (svc *Service) scheduleFollowUps(ctx context.Context, item *models.ReviewItem) {
	if svc.scheduler == nil {
		return
	}
	log := logger.FromContext(ctx)

	var jobTypes []string
	if item.ExtractionParsed.ISBNString() != "" {
		jobTypes = append(jobTypes, models.JobTypeEnrichItem)
	}
	if fr := item.ExtractionParsed.FailureReason; fr != nil && *fr == models.ExtractionFailureRequiresOCR {
		jobTypes = append(jobTypes, models.JobTypeOCRItem)
	}

	for _, jobType := range jobTypes {
		err := svc.scheduler.CreateJob(ctx, &models.Job{
			Type:       jobType,
			Status:     models.JobStatusPending,
			DataParsed: &models.JobReviewItemData{ReviewItemID: item.ID},
		})
		if err != nil {
			log.Err(err).Warn("couldn't schedule review item job", logger.Data{"review_item_id": item.ID, "type": jobType})
		}
	}
}

func (svc *Service) Retrieve(ctx context.Context, opts RetrieveItemOptions) (*models.ReviewItem, error) {
	item := &models.ReviewItem{}

	q := svc.db.
		NewSelect().
		Model(item)

	if opts.ID != nil {
		q = q.Where("ri.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithStack(ErrItemNotFound)
		}
		return nil, errors.WithStack(err)
	}

	if err := item.UnmarshalData(); err != nil {
		return nil, errors.WithStack(err)
	}

	return item, nil
}

func (svc *Service) List(ctx context.Context, opts ListItemsOptions) ([]*models.ReviewItem, error) {
	items, _, err := svc.listWithTotal(ctx, opts)
	return items, errors.WithStack(err)
}

func (svc *Service) ListWithTotal(ctx context.Context, opts ListItemsOptions) ([]*models.ReviewItem, int, error) {
	opts.includeTotal = true
	return svc.listWithTotal(ctx, opts)
}

func (svc *Service) listWithTotal(ctx context.Context, opts ListItemsOptions) ([]*models.ReviewItem, int, error) {
	items := []*models.ReviewItem{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&items).
		Order("ri.created_at ASC", "ri.id ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("ri.status IN (?)", bun.In(opts.Statuses))
	} else {
		q = q.Where("ri.status != ?", models.ReviewStatusApproved)
	}
	if opts.Contributor != nil {
		q = q.Where("ri.contributor = ?", *opts.Contributor)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, item := range items {
		if err := item.UnmarshalData(); err != nil {
			return nil, 0, errors.WithStack(err)
		}
	}

	return items, total, nil
}

func (svc *Service) Summary(ctx context.Context) (*Summary, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := svc.db.
		NewSelect().
		Model((*models.ReviewItem)(nil)).
		Column("ri.status").
		ColumnExpr("COUNT(*) AS count").
		Group("ri.status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	summary := &Summary{}
	for _, r := range rows {
		if r.Status == models.ReviewStatusApproved {
			continue
		}
		summary.Total += r.Count
		switch r.Status {
		case models.ReviewStatusPending, models.ReviewStatusApproving:
			summary.PendingReview += r.Count
		case models.ReviewStatusFileMissing:
			summary.FileMissing += r.Count
		case models.ReviewStatusProcessingFailed:
			summary.ProcessingFailed += r.Count
		}
	}
	return summary, nil
}

// Similar returns the catalog books that resemble an item's extracted
// metadata. Nothing is stored, so the result reflects the catalog as it is
// now.
func (svc *Service) Similar(ctx context.Context, itemID string) (*SimilarResult, error) {
	item, err := svc.Retrieve(ctx, RetrieveItemOptions{ID: &itemID})
	if err != nil {
		return nil, err
	}

	matches, err := svc.matcher.FindSimilar(ctx, item.ExtractionParsed)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &SimilarResult{
		Matches:    matches,
		HasMatches: svc.matcher.HasActionable(matches),
	}, nil
}

// MarkFileMissing moves a pending item to file_missing.
func (svc *Service) MarkFileMissing(ctx context.Context, itemID string) error {
	return svc.transition(ctx, itemID, models.ReviewStatusFileMissing,
		models.ReviewStatusPending, models.ReviewStatusApproving)
}

// MarkProcessingFailed moves a pending item to processing_failed.
func (svc *Service) MarkProcessingFailed(ctx context.Context, itemID string) error {
	return svc.transition(ctx, itemID, models.ReviewStatusProcessingFailed,
		models.ReviewStatusPending)
}

// UpdateExtraction replaces a pending item's extraction result, for example
// after OCR recovered an ISBN.
func (svc *Service) UpdateExtraction(ctx context.Context, itemID string, result *models.ExtractionResult) (*models.ReviewItem, error) {
	item := &models.ReviewItem{ID: itemID, ExtractionParsed: result, UpdatedAt: time.Now()}
	if err := item.MarshalData(); err != nil {
		return nil, errors.WithStack(err)
	}

	res, err := svc.db.
		NewUpdate().
		Model(item).
		Column("extraction", "extraction_method", "extraction_confidence", "isbn_found", "updated_at").
		WherePK().
		Where("status = ?", models.ReviewStatusPending).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := svc.checkAffected(ctx, res, itemID); err != nil {
		return nil, err
	}

	return svc.Retrieve(ctx, RetrieveItemOptions{ID: &itemID})
}

// SetLookup stores ISBN registry metadata on an item. It doesn't change the
// item's status.
func (svc *Service) SetLookup(ctx context.Context, itemID string, lookup *models.LookupMetadata) error {
	item := &models.ReviewItem{ID: itemID, LookupParsed: lookup, UpdatedAt: time.Now()}
	if err := item.MarshalData(); err != nil {
		return errors.WithStack(err)
	}

	res, err := svc.db.
		NewUpdate().
		Model(item).
		Column("lookup", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return errors.WithStack(ErrItemNotFound)
	}
	return nil
}

// ReleaseStaleClaims puts items left mid-approval by a crash back into
// pending review. A claim whose file already reached the catalog is finished
// instead, along with approved items whose removal failed. It's run at
// startup, before anything can approve.
func (svc *Service) ReleaseStaleClaims(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	claimed := []*models.ReviewItem{}
	err := svc.db.
		NewSelect().
		Model(&claimed).
		Where("ri.status = ?", models.ReviewStatusApproving).
		Order("ri.created_at ASC").
		Scan(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	released := 0
	for _, item := range claimed {
		cp, err := svc.catalog.FindCopyByHash(ctx, item.FileHash)
		if err != nil {
			return released, errors.WithStack(err)
		}
		if cp != nil {
			log.Warn("finishing approval that reached the catalog", logger.Data{"review_item_id": item.ID, "book_id": cp.BookID})
			if err := svc.transition(ctx, item.ID, models.ReviewStatusApproved, models.ReviewStatusApproving); err != nil {
				return released, err
			}
			continue
		}
		if err := svc.transition(ctx, item.ID, models.ReviewStatusPending, models.ReviewStatusApproving); err != nil {
			return released, err
		}
		released++
	}

	_, err = svc.db.
		NewDelete().
		Model((*models.ReviewItem)(nil)).
		Where("status = ?", models.ReviewStatusApproved).
		Exec(ctx)
	return released, errors.WithStack(err)
}

// transition moves an item to status if it's currently in one of from.
func (svc *Service) transition(ctx context.Context, itemID, status string, from ...string) error {
	res, err := svc.db.
		NewUpdate().
		Model((*models.ReviewItem)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", itemID).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	return svc.checkAffected(ctx, res, itemID)
}

// checkAffected turns a conditional update that matched nothing into the
// reason it didn't match.
func (svc *Service) checkAffected(ctx context.Context, res sql.Result, itemID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if n > 0 {
		return nil
	}
	item, err := svc.Retrieve(ctx, RetrieveItemOptions{ID: &itemID})
	if err != nil {
		return err
	}
	return transitionError(item.Status)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}
