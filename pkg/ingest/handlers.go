package ingest

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/binder"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/progress"
)

// streamWriteTimeout bounds each progress frame write.
const streamWriteTimeout = 30 * time.Second

type handler struct {
	jobService *jobs.Service
	hub        *progress.Hub
}

// RunResponse tells the caller which job carries the run and the key to
// attach a progress stream to.
type RunResponse struct {
	Job         *models.Job `json:"job"`
	Contributor string      `json:"contributor"`
	StartedAt   time.Time   `json:"started_at"`
	Resumed     bool        `json:"resumed"`
}

func (h *handler) start(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(ctx)

	binder.AllowEmptyBody(c)

	// Bind params.
	params := StartPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}
	contributor := params.Contributor
	if contributor == "" {
		contributor = models.DefaultContributor
	}

	// A contributor has at most one run going. Starting again hands back the
	// existing run so the caller can reattach to its stream.
	existing, err := h.jobService.ActiveIngestJob(ctx, contributor)
	if err != nil {
		return errors.WithStack(err)
	}
	if existing != nil {
		data := existing.DataParsed.(*models.JobIngestData)
		key := progress.NewRunKey(data.Contributor, data.StartedAt)
		return errors.WithStack(c.JSON(http.StatusOK, RunResponse{existing, key.Contributor, key.StartedAt, true}))
	}

	key := progress.NewRunKey(contributor, time.Now())
	job := &models.Job{
		Type:   models.JobTypeIngest,
		Status: models.JobStatusPending,
		DataParsed: &models.JobIngestData{
			Contributor: key.Contributor,
			StartedAt:   key.StartedAt,
		},
	}
	if err := h.jobService.CreateJob(ctx, job); err != nil {
		return errors.WithStack(err)
	}

	log.Info("ingest run queued", logger.Data{"job_id": job.ID, "run_key": key.String()})

	return errors.WithStack(c.JSON(http.StatusAccepted, RunResponse{job, key.Contributor, key.StartedAt, false}))
}

func (h *handler) stream(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(ctx)

	// Bind params.
	params := StreamQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}
	contributor := params.Contributor
	if contributor == "" {
		contributor = models.DefaultContributor
	}

	job, err := h.jobService.ActiveIngestJob(ctx, contributor)
	if err != nil {
		return errors.WithStack(err)
	}
	if job == nil {
		return errcodes.NotFound("Ingest run")
	}
	data := job.DataParsed.(*models.JobIngestData)
	key := progress.NewRunKey(data.Contributor, data.StartedAt)

	if params.StartedAt != nil {
		startedAt, err := time.Parse(time.RFC3339Nano, *params.StartedAt)
		if err != nil {
			return errcodes.ValidationError("started_at must be an RFC 3339 timestamp.")
		}
		if !progress.NewRunKey(contributor, startedAt).StartedAt.Equal(key.StartedAt) {
			return errcodes.NotFound("Ingest run")
		}
	}

	sub := h.hub.Subscribe(key)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	// A client that stops reading fails its write instead of pinning the
	// stream open.
	rc := http.NewResponseController(res.Writer)
	err = sub.Stream(ctx, func(ev progress.Event) error {
		if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		if err := progress.WriteSSE(res, ev); err != nil {
			return err
		}
		res.Flush()
		return nil
	})
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, progress.ErrSubscriberLagged):
		log.Warn("progress stream fell behind", logger.Data{"run_key": key.String()})
	case errors.Is(err, progress.ErrStreamTimeout):
		log.Warn("progress stream went idle", logger.Data{"run_key": key.String()})
	default:
		// The response has already started so the error can't be rendered.
		log.Err(err).Warn("progress stream ended")
	}
	return nil
}
