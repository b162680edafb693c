package staging

import (
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/binder"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/models"
)

type handler struct {
	stagingService *Service
	defaultMaxAge  time.Duration
}

func (h *handler) upload(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(ctx)

	// Bind params.
	params := UploadPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	fields := make([]string, 0, len(params.FormFiles))
	for field := range params.FormFiles {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	staged := []*models.StagedFile{}
	for _, field := range fields {
		for _, header := range params.FormFiles[field] {
			sf, err := h.stageUpload(c, header, params.Contributor)
			if err != nil {
				return errors.WithStack(err)
			}
			staged = append(staged, sf)
		}
	}
	if len(staged) == 0 {
		return errcodes.ValidationError("At least one file is required.")
	}

	log.Info("files staged", logger.Data{"count": len(staged), "contributor": staged[0].Contributor})

	resp := struct {
		Files []*models.StagedFile `json:"files"`
	}{staged}

	return errors.WithStack(c.JSON(http.StatusCreated, resp))
}

func (h *handler) stageUpload(c echo.Context, header *multipart.FileHeader, contributor string) (*models.StagedFile, error) {
	f, err := header.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	return h.stagingService.Stage(c.Request().Context(), StageOptions{
		Filename:    header.Filename,
		Contributor: contributor,
		Content:     f,
	})
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListStagedQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	statuses := params.Status
	if len(statuses) == 0 {
		statuses = []string{models.StagedFileStatusStaged}
	}

	files, err := h.stagingService.ListStagedFiles(ctx, ListStagedFilesOptions{
		Contributor: params.Contributor,
		Statuses:    statuses,
		Limit:       &params.Limit,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Files []*models.StagedFile `json:"files"`
		Total int                  `json:"total"`
	}{files, len(files)}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) cleanup(c echo.Context) error {
	ctx := c.Request().Context()

	binder.AllowEmptyBody(c)

	// Bind params.
	params := CleanupPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	maxAge := h.defaultMaxAge
	if params.MaxAge != nil {
		d, err := time.ParseDuration(*params.MaxAge)
		if err != nil || d <= 0 {
			return errcodes.ValidationError("max_age must be a positive duration like 24h.")
		}
		maxAge = d
	}

	result, err := h.stagingService.Cleanup(ctx, maxAge)
	if err != nil {
		if errors.Is(err, ErrCleanupInProgress) {
			return errcodes.Conflict("A temp cleanup is already in progress.")
		}
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}
