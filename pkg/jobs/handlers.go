package jobs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/models"
)

type handler struct {
	jobService    *Service
	defaultMaxAge time.Duration
}

func jobID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return 0, errcodes.NotFound("Job")
	}
	return id, nil
}

// create queues a temp cleanup. Ingest runs are started through /ingest and
// review jobs are queued by the review flow, so cleanup is the only type a
// client asks for directly.
func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(ctx)

	params := CreateJobPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	maxAge, err := params.maxAge(h.defaultMaxAge)
	if err != nil {
		return err
	}

	busy, err := h.jobService.HasActiveJobByType(ctx, models.JobTypeTempCleanup)
	if err != nil {
		return errors.WithStack(err)
	}
	if busy {
		return errcodes.Conflict("A cleanup job is already running or pending.")
	}

	job := &models.Job{
		Type:       params.Type,
		DataParsed: &models.JobTempCleanupData{MaxAgeSeconds: int(maxAge / time.Second)},
	}
	if err := h.jobService.CreateJob(ctx, job); err != nil {
		return errors.WithStack(err)
	}
	log.Info("cleanup job queued", logger.Data{"job_id": job.ID, "max_age": maxAge.String()})

	return h.respond(c, http.StatusCreated, job.ID)
}

func (h *handler) retrieve(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, id)
}

func (h *handler) retry(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}

	job, err := h.jobService.Retry(c.Request().Context(), id)
	if err != nil {
		return errors.WithStack(err)
	}
	logger.FromContext(c.Request().Context()).Info("job retried", logger.Data{"failed_job_id": id, "job_id": job.ID, "type": job.Type})

	return errors.WithStack(c.JSON(http.StatusCreated, job))
}

func (h *handler) list(c echo.Context) error {
	params := ListJobsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	jobs, total, err := h.jobService.ListJobsWithTotal(c.Request().Context(), ListJobsOptions{
		Limit:       &params.Limit,
		Offset:      &params.Offset,
		Statuses:    params.Status,
		Type:        params.Type,
		Contributor: params.Contributor,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Jobs  []*models.Job `json:"jobs"`
		Total int           `json:"total"`
	}{jobs, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) respond(c echo.Context, status, id int) error {
	job, err := h.jobService.RetrieveJob(c.Request().Context(), RetrieveJobOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(c.JSON(status, job))
}
