package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/joblogs"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/progress"
)

// ProcessIngestJob runs the contributor's staged files through the pipeline
// and publishes every event under the job's run key. The job's progress
// column counts finished files.
func (w *Worker) ProcessIngestJob(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) error {
	data, ok := job.DataParsed.(*models.JobIngestData)
	if !ok {
		return errors.New("ingest job is missing its data")
	}

	files, err := w.services.Staging.List(ctx, data.Contributor)
	if err != nil {
		return errors.WithStack(err)
	}

	key := progress.NewRunKey(data.Contributor, data.StartedAt)
	publish := w.hub.Emitter(key)
	emit := func(ev progress.Event) {
		publish(ev)
		jl.Event(ev)
		if ev.Type == progress.EventFileComplete {
			job.Progress = ev.CurrentFile
			err := w.jobService.UpdateJob(context.WithoutCancel(ctx), job, jobs.UpdateJobOptions{
				Columns: []string{"progress"},
			})
			if err != nil {
				logger.FromContext(ctx).Err(err).Warn("couldn't update job progress")
			}
		}
	}

	_, err = w.services.Orchestrator.ProcessBatch(ctx, files, data.Contributor, emit)
	return err
}

// ProcessTempCleanupJob sweeps the staging temp area.
func (w *Worker) ProcessTempCleanupJob(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) error {
	maxAge := w.config.TempCleanupMaxAge
	if data, ok := job.DataParsed.(*models.JobTempCleanupData); ok && data.MaxAgeSeconds > 0 {
		maxAge = time.Duration(data.MaxAgeSeconds) * time.Second
	}

	result, err := w.services.Staging.Cleanup(ctx, maxAge)
	if err != nil {
		return errors.WithStack(err)
	}

	jl.Info("temp cleanup finished", logger.Data{"cleaned": result.Cleaned, "errors": len(result.Errors), "max_age": maxAge.String()})
	for _, msg := range result.Errors {
		jl.Warn("cleanup error", logger.Data{"error": msg})
	}

	if w.config.JobLogRetention > 0 {
		pruned, err := w.jobLogService.PruneFinished(ctx, time.Now().Add(-w.config.JobLogRetention))
		if err != nil {
			return errors.WithStack(err)
		}
		jl.Info("pruned old job logs", logger.Data{"rows": pruned, "retention": w.config.JobLogRetention.String()})
	}
	return nil
}
