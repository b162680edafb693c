package staging

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/fileutils"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/uptrace/bun"
)

const lockFilename = ".cleanup.lock"

// ErrCleanupInProgress is returned when another process holds the cleanup lock.
var ErrCleanupInProgress = errors.New("temp cleanup already in progress")

type StageOptions struct {
	Filename    string
	Contributor string
	Content     io.Reader
}

type RetrieveStagedFileOptions struct {
	ID *string
}

type ListStagedFilesOptions struct {
	Contributor *string
	Statuses    []string
	Limit       *int
}

type CleanupResult struct {
	Cleaned int      `json:"cleaned"`
	Errors  []string `json:"errors"`
}

type Service struct {
	db          *bun.DB
	tempPath    string
	holdingPath string
}

func NewService(db *bun.DB, tempPath, holdingPath string) *Service {
	return &Service{db, tempPath, holdingPath}
}

// Stage writes an upload into the temp area and records it. The content
// hash is computed while the file is written.
func (svc *Service) Stage(ctx context.Context, opts StageOptions) (*models.StagedFile, error) {
	filename := fileutils.SanitizeFilename(opts.Filename)
	format := models.FormatFromFilename(filename)
	if format == "" {
		return nil, errcodes.ValidationError("Unsupported file type " + filepath.Ext(filename) + ".")
	}

	if err := os.MkdirAll(svc.tempPath, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	f, path, err := fileutils.CreateExclusive(filepath.Join(svc.tempPath, filename))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), opts.Content)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, errors.WithStack(err)
	}

	contributor := strings.TrimSpace(opts.Contributor)
	if contributor == "" {
		contributor = models.DefaultContributor
	}

	mimeType := ""
	if mt, err := mimetype.DetectFile(path); err == nil {
		mimeType = mt.String()
	}

	now := time.Now()
	sf := &models.StagedFile{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Filename:    filepath.Base(path),
		Filepath:    path,
		SizeBytes:   size,
		Format:      format,
		MimeType:    mimeType,
		FileHash:    hex.EncodeToString(hasher.Sum(nil)),
		Contributor: contributor,
		Status:      models.StagedFileStatusStaged,
	}

	_, err = svc.db.
		NewInsert().
		Model(sf).
		Exec(ctx)
	if err != nil {
		os.Remove(path)
		return nil, errors.WithStack(err)
	}

	return sf, nil
}

func (svc *Service) RetrieveStagedFile(ctx context.Context, opts RetrieveStagedFileOptions) (*models.StagedFile, error) {
	sf := &models.StagedFile{}

	q := svc.db.
		NewSelect().
		Model(sf)

	if opts.ID != nil {
		q = q.Where("sf.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Staged file")
		}
		return nil, errors.WithStack(err)
	}

	return sf, nil
}

// ListStagedFiles returns files in arrival order, which is also the order a
// batch processes them in.
func (svc *Service) ListStagedFiles(ctx context.Context, opts ListStagedFilesOptions) ([]*models.StagedFile, error) {
	files := []*models.StagedFile{}

	q := svc.db.
		NewSelect().
		Model(&files).
		OrderExpr("sf.created_at ASC, sf.rowid ASC")

	if opts.Contributor != nil {
		q = q.Where("sf.contributor = ?", *opts.Contributor)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("sf.status IN (?)", bun.In(opts.Statuses))
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return files, nil
}

// List returns the contributor's still-staged files in arrival order.
func (svc *Service) List(ctx context.Context, contributor string) ([]*models.StagedFile, error) {
	return svc.ListStagedFiles(ctx, ListStagedFilesOptions{
		Contributor: &contributor,
		Statuses:    []string{models.StagedFileStatusStaged},
	})
}

// Hold moves a staged file into the review holding area. The held path is
// keyed by the staged file id so it never collides.
func (svc *Service) Hold(ctx context.Context, sf *models.StagedFile) error {
	if err := os.MkdirAll(svc.holdingPath, 0755); err != nil {
		return errors.WithStack(err)
	}

	target := filepath.Join(svc.holdingPath, sf.ID+strings.ToLower(filepath.Ext(sf.Filepath)))
	if err := fileutils.MoveFile(sf.Filepath, target); err != nil {
		return errors.WithStack(err)
	}
	if sidecar := fileutils.SidecarPath(sf.Filepath); fileExists(sidecar) {
		if err := fileutils.MoveFile(sidecar, fileutils.SidecarPath(target)); err != nil {
			logger.FromContext(ctx).Err(err).Warn("couldn't move sidecar to holding area", logger.Data{"path": sidecar})
		}
	}

	original := sf.Filepath
	sf.Filepath = target
	sf.Status = models.StagedFileStatusHeld
	if err := svc.update(ctx, sf, "filepath", "status"); err != nil {
		// Put the file back so the row and disk agree.
		_ = fileutils.MoveFile(target, original)
		sf.Filepath = original
		sf.Status = models.StagedFileStatusStaged
		return errors.WithStack(err)
	}
	return nil
}

// Unhold reverses Hold, moving a held file back to original and marking it
// staged again so the next run picks it up.
func (svc *Service) Unhold(ctx context.Context, sf *models.StagedFile, original string) error {
	held := sf.Filepath
	if err := fileutils.MoveFile(held, original); err != nil {
		return errors.WithStack(err)
	}
	if sidecar := fileutils.SidecarPath(held); fileExists(sidecar) {
		if err := fileutils.MoveFile(sidecar, fileutils.SidecarPath(original)); err != nil {
			logger.FromContext(ctx).Err(err).Warn("couldn't move sidecar out of holding area", logger.Data{"path": sidecar})
		}
	}

	sf.Filepath = original
	sf.Status = models.StagedFileStatusStaged
	return svc.update(ctx, sf, "filepath", "status")
}

// MarkCommitted records that a staged file now lives in the library at path.
func (svc *Service) MarkCommitted(ctx context.Context, sf *models.StagedFile, path string) error {
	sf.Filepath = path
	sf.Status = models.StagedFileStatusCommitted
	return svc.update(ctx, sf, "filepath", "status")
}

// Remove deletes the file, its text sidecar and the staged row.
func (svc *Service) Remove(ctx context.Context, sf *models.StagedFile) error {
	if err := removeWithSidecar(sf.Filepath); err != nil {
		return errors.WithStack(err)
	}
	_, err := svc.db.
		NewDelete().
		Model(sf).
		WherePK().
		Exec(ctx)
	return errors.WithStack(err)
}

// Cleanup sweeps the temp area. Files older than maxAge that no staged row
// points at are deleted, and rows whose file is gone (or that were committed
// more than maxAge ago) are dropped. The sweep holds an exclusive file lock so
// the CLI and the server never run it at the same time.
func (svc *Service) Cleanup(ctx context.Context, maxAge time.Duration) (*CleanupResult, error) {
	log := logger.FromContext(ctx)

	if err := os.MkdirAll(svc.tempPath, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	lock := flock.New(filepath.Join(svc.tempPath, lockFilename))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !locked {
		return nil, ErrCleanupInProgress
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Err(err).Warn("couldn't release cleanup lock")
		}
	}()

	result := &CleanupResult{Errors: []string{}}
	cutoff := time.Now().Add(-maxAge)

	rows, err := svc.ListStagedFiles(ctx, ListStagedFilesOptions{})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	known := make(map[string]bool, len(rows)*2)
	for _, sf := range rows {
		known[sf.Filepath] = true
		known[fileutils.SidecarPath(sf.Filepath)] = true
	}

	entries, err := os.ReadDir(svc.tempPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == lockFilename {
			continue
		}
		path := filepath.Join(svc.tempPath, entry.Name())
		if known[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, entry.Name()+": "+err.Error())
			continue
		}
		result.Cleaned++
	}

	for _, sf := range rows {
		stale := false
		switch sf.Status {
		case models.StagedFileStatusCommitted:
			stale = sf.UpdatedAt.Before(cutoff) || !fileExists(sf.Filepath)
		default:
			stale = !fileExists(sf.Filepath)
		}
		if !stale {
			continue
		}
		_, err := svc.db.
			NewDelete().
			Model(sf).
			WherePK().
			Exec(ctx)
		if err != nil {
			result.Errors = append(result.Errors, sf.Filename+": "+err.Error())
			continue
		}
		result.Cleaned++
	}

	log.Info("temp cleanup finished", logger.Data{"cleaned": result.Cleaned, "errors": len(result.Errors)})
	return result, nil
}

func (svc *Service) update(ctx context.Context, sf *models.StagedFile, columns ...string) error {
	sf.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(sf).
		Column(columns...).
		WherePK().
		Exec(ctx)
	return errors.WithStack(err)
}

func removeWithSidecar(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	if err := os.Remove(fileutils.SidecarPath(path)); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
