package joblogs

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/models"
)

type handler struct {
	jobLogService *Service
	jobService    *jobs.Service
}

// listLogs returns a job with its log rows and per-level counts, which is
// what a run's history view needs once its progress stream is gone.
func (h *handler) listLogs(c echo.Context) error {
	ctx := c.Request().Context()

	jobID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Job")
	}

	job, err := h.jobService.RetrieveJob(ctx, jobs.RetrieveJobOptions{
		ID: &jobID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	// Bind params.
	params := ListJobLogsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	levels := params.Level
	if params.MinLevel != nil && len(levels) == 0 {
		levels = models.JobLogLevelsFrom(*params.MinLevel)
	}

	logs, err := h.jobLogService.ListJobLogs(ctx, ListJobLogsOptions{
		JobID:    jobID,
		AfterID:  params.AfterID,
		Levels:   levels,
		Filename: params.Filename,
		Limit:    &params.Limit,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	counts, err := h.jobLogService.CountByLevel(ctx, jobID)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Job    *models.Job      `json:"job"`
		Logs   []*models.JobLog `json:"logs"`
		Counts map[string]int   `json:"counts"`
	}{job, logs, counts}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
