package review

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/catalog"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/fileutils"
	"github.com/shishobooks/spines/pkg/matcher"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/staging"
)

// Corrections override the extracted metadata when approving. Nil fields keep
// the extracted value.
type Corrections struct {
	Title     *string
	Author    *string
	Year      *int
	ISBN      *string
	Publisher *string
	MediaType *string
	Notes     *string
	Tags      []string
}

type ApproveOptions struct {
	ItemID      string
	Metadata    Corrections
	Contributor string
	Action      CopyAction
}

type ApproveResult struct {
	ItemID   string `json:"item_id"`
	BookID   int    `json:"book_id"`
	Action   string `json:"action"`
	Created  bool   `json:"created"`
	Appended bool   `json:"appended"`
	Filepath string `json:"filepath,omitempty"`
}

type RejectOptions struct {
	ItemID string
	Reason string
}

// Approve commits a pending item into the catalog and removes it from the
// queue. The item is claimed first, so a concurrent approve or reject of the
// same item fails with ErrInvalidTransition. If the catalog write fails the
// file is moved back and the item returns to pending review.
func (svc *Service) Approve(ctx context.Context, opts ApproveOptions) (*ApproveResult, error) {
	if opts.Action == nil {
		opts.Action = Auto{}
	}

	err := svc.transition(ctx, opts.ItemID, models.ReviewStatusApproving, models.ReviewStatusPending)
	if err != nil {
		return nil, err
	}

	result, err := svc.approveClaimed(ctx, opts)
	if err != nil {
		if !errors.Is(err, ErrFileMissing) {
			if rerr := svc.transition(ctx, opts.ItemID, models.ReviewStatusPending, models.ReviewStatusApproving); rerr != nil {
				logger.FromContext(ctx).Err(rerr).Error("couldn't release review item claim", logger.Data{"review_item_id": opts.ItemID})
			}
		}
		return nil, err
	}

	return result, nil
}

func (svc *Service) approveClaimed(ctx context.Context, opts ApproveOptions) (*ApproveResult, error) {
	log := logger.FromContext(ctx)

	item, err := svc.Retrieve(ctx, RetrieveItemOptions{ID: &opts.ItemID})
	if err != nil {
		return nil, err
	}

	if !fileExists(item.Filepath) {
		if err := svc.MarkFileMissing(ctx, item.ID); err != nil {
			return nil, err
		}
		return nil, fileMissingError()
	}

	md := mergeMetadata(item, opts.Metadata)
	action, err := svc.resolveAction(ctx, opts.Action, md)
	if err != nil {
		return nil, err
	}

	contributor := opts.Contributor
	if contributor == "" {
		contributor = item.Contributor
	}

	placed, err := svc.placer.Place(item.Filepath, fileutils.OrganizedNameOptions{
		Author: md.Author,
		Title:  md.Title,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cp := catalog.NewCopy{
		FileHash:    item.FileHash,
		Format:      item.Format,
		SizeBytes:   item.SizeBytes,
		Contributor: contributor,
		Filepath:    placed.NewPath,
	}
	result := &ApproveResult{
		ItemID:   item.ID,
		Action:   action.Kind(),
		Filepath: placed.NewPath,
	}

	switch a := action.(type) {
	case SeparateCopy:
		result.BookID, err = svc.catalog.CreateBook(ctx, md, cp)
		result.Created = err == nil
	case AddToExisting:
		result.BookID = a.BookID
		result.Appended, err = svc.catalog.AppendCopy(ctx, a.BookID, cp, contributor)
	}
	if err != nil {
		if uerr := placed.Undo(); uerr != nil {
			log.Err(uerr).Error("couldn't undo file placement", logger.Data{"path": placed.NewPath})
		}
		return nil, errors.WithStack(err)
	}

	// The book already has this exact file, so the placed file is redundant.
	duplicate := !result.Created && !result.Appended
	if duplicate {
		if uerr := placed.Undo(); uerr != nil {
			log.Err(uerr).Warn("couldn't undo redundant file placement", logger.Data{"path": placed.NewPath})
		}
		result.Filepath = ""
	}

	// The catalog is written; nothing past this point fails the approval.
	svc.finishStagedFile(ctx, item, result.Filepath)

	_, err = svc.db.
		NewDelete().
		Model((*models.ReviewItem)(nil)).
		Where("id = ?", item.ID).
		Exec(ctx)
	if err != nil {
		log.Err(err).Error("couldn't remove approved review item", logger.Data{"review_item_id": item.ID})
		// A claim left in approving would be released on the next start and
		// could be approved a second time.
		if terr := svc.transition(ctx, item.ID, models.ReviewStatusApproved, models.ReviewStatusApproving); terr != nil {
			log.Err(terr).Error("couldn't mark review item approved", logger.Data{"review_item_id": item.ID})
		}
	}

	log.Info("review item approved", logger.Data{
		"review_item_id": item.ID,
		"book_id":        result.BookID,
		"action":         result.Action,
		"contributor":    contributor,
	})

	return result, nil
}

// resolveAction turns Auto into a concrete action using the matcher.
func (svc *Service) resolveAction(ctx context.Context, action CopyAction, md catalog.BookMetadata) (CopyAction, error) {
	if _, ok := action.(Auto); !ok {
		return action, nil
	}

	matches, err := svc.matcher.FindSimilar(ctx, extractionFor(md))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if top := matcher.TopActionable(matches, svc.matcher.Policy()); top != nil {
		return AddToExisting{BookID: top.BookID}, nil
	}
	return SeparateCopy{}, nil
}

// finishStagedFile records where an approved file went. A redundant file is
// removed along with its staged row.
func (svc *Service) finishStagedFile(ctx context.Context, item *models.ReviewItem, committedPath string) {
	log := logger.FromContext(ctx)

	sf, err := svc.stager.RetrieveStagedFile(ctx, staging.RetrieveStagedFileOptions{ID: &item.StagedFileID})
	if err != nil {
		if !errors.Is(err, errcodes.NotFound("Staged file")) {
			log.Err(err).Warn("couldn't load staged file for approved item", logger.Data{"review_item_id": item.ID})
		}
		if committedPath == "" {
			if rerr := removeWithSidecar(item.Filepath); rerr != nil {
				log.Err(rerr).Warn("couldn't remove redundant file", logger.Data{"path": item.Filepath})
			}
		}
		return
	}

	if committedPath == "" {
		err = svc.stager.Remove(ctx, sf)
	} else {
		err = svc.stager.MarkCommitted(ctx, sf, committedPath)
	}
	if err != nil {
		log.Err(err).Warn("couldn't update staged file for approved item", logger.Data{"staged_file_id": sf.ID})
	}
}

// Reject discards a pending item and its file. Nothing is written to the
// catalog. Rejecting the same id again returns ErrItemNotFound.
func (svc *Service) Reject(ctx context.Context, opts RejectOptions) (*models.ReviewItem, error) {
	log := logger.FromContext(ctx)

	item, err := svc.Retrieve(ctx, RetrieveItemOptions{ID: &opts.ItemID})
	if err != nil {
		return nil, err
	}
	if item.Status != models.ReviewStatusPending {
		return nil, transitionError(item.Status)
	}

	res, err := svc.db.
		NewDelete().
		Model((*models.ReviewItem)(nil)).
		Where("id = ?", item.ID).
		Where("status = ?", models.ReviewStatusPending).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := svc.checkAffected(ctx, res, item.ID); err != nil {
		return nil, err
	}

	sf, err := svc.stager.RetrieveStagedFile(ctx, staging.RetrieveStagedFileOptions{ID: &item.StagedFileID})
	if err == nil {
		err = svc.stager.Remove(ctx, sf)
	} else {
		err = removeWithSidecar(item.Filepath)
	}
	if err != nil {
		log.Err(err).Warn("couldn't remove rejected file", logger.Data{"path": item.Filepath})
	}

	item.Status = models.ReviewStatusRejected
	item.UpdatedAt = time.Now()
	if opts.Reason != "" {
		item.RejectionReason = &opts.Reason
	}

	log.Info("review item rejected", logger.Data{
		"review_item_id": item.ID,
		"filename":       item.Filename,
		"reason":         opts.Reason,
	})

	return item, nil
}

// mergeMetadata layers corrections over the extracted metadata, filling gaps
// from the ISBN lookup. Without any title the filename stands in.
func mergeMetadata(item *models.ReviewItem, c Corrections) catalog.BookMetadata {
	ex := item.ExtractionParsed
	if ex == nil {
		ex = &models.ExtractionResult{}
	}
	lk := item.LookupParsed

	md := catalog.BookMetadata{
		Title:     ex.TitleString(),
		Author:    ex.AuthorString(),
		Year:      ex.Year,
		ISBN:      ex.ISBN,
		Publisher: ex.Publisher,
		MediaType: ex.MediaType,
		Notes:     ex.Description,
		Tags:      c.Tags,
	}

	if lk != nil {
		if md.Title == "" {
			md.Title = lk.Title
		}
		if md.Author == "" {
			md.Author = lk.Author
		}
		if md.Year == nil {
			md.Year = lk.Year
		}
		if md.ISBN == nil && lk.ISBN != "" {
			isbn := lk.ISBN
			md.ISBN = &isbn
		}
		if md.Publisher == nil {
			md.Publisher = lk.Publisher
		}
	}

	if c.Title != nil {
		md.Title = strings.TrimSpace(*c.Title)
	}
	if c.Author != nil {
		md.Author = strings.TrimSpace(*c.Author)
	}
	if c.Year != nil {
		md.Year = c.Year
	}
	if c.ISBN != nil {
		md.ISBN = c.ISBN
	}
	if c.Publisher != nil {
		md.Publisher = c.Publisher
	}
	if c.MediaType != nil {
		md.MediaType = c.MediaType
	}
	if c.Notes != nil {
		md.Notes = c.Notes
	}

	if md.Title == "" {
		md.Title = strings.TrimSuffix(item.Filename, filepath.Ext(item.Filename))
	}
	if md.MediaType != nil && *md.MediaType == models.MediaTypeUnknown {
		md.MediaType = nil
	}

	return md
}

// extractionFor builds the matcher's view of approved metadata.
func extractionFor(md catalog.BookMetadata) *models.ExtractionResult {
	r := &models.ExtractionResult{Year: md.Year, ISBN: md.ISBN}
	if md.Title != "" {
		r.Title = &md.Title
	}
	if md.Author != "" {
		r.Author = &md.Author
	}
	return r
}

func removeWithSidecar(path string) error {
	if path == "" {
		return nil
	}
	if err := removeIfExists(path); err != nil {
		return err
	}
	return removeIfExists(fileutils.SidecarPath(path))
}
