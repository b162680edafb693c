package joblogs

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/progress"
)

const maxDataValueLen = 1024

// JobLogger mirrors a job's log lines into job_logs so a run's history can be
// read back after its progress stream is gone. Persisting is best effort: a
// failed insert never fails the job.
type JobLogger struct {
	ctx     context.Context
	jobID   int
	service *Service
	log     logger.Logger
}

func (svc *Service) NewJobLogger(ctx context.Context, jobID int, log logger.Logger) *JobLogger {
	return &JobLogger{
		ctx:     ctx,
		jobID:   jobID,
		service: svc,
		log:     log.Data(logger.Data{"job_id": jobID}),
	}
}

func (l *JobLogger) Info(msg string, data logger.Data) {
	l.log.Info(msg, data)
	l.persist(models.JobLogLevelInfo, msg, data, nil)
}

func (l *JobLogger) Warn(msg string, data logger.Data) {
	l.log.Warn(msg, data)
	l.persist(models.JobLogLevelWarn, msg, data, nil)
}

// Error records err's message under "error" along with a stack trace.
func (l *JobLogger) Error(msg string, err error, data logger.Data) {
	l.log.Err(err).Error(msg, data)
	l.persist(models.JobLogLevelError, msg, withError(data, err), stackOf(err))
}

// Fatal is Error for panics and other failures that end the job outright.
func (l *JobLogger) Fatal(msg string, err error, data logger.Data) {
	l.log.Err(err).Error(msg, data)
	l.persist(models.JobLogLevelFatal, msg, withError(data, err), stackOf(err))
}

func withError(data logger.Data, err error) logger.Data {
	if err == nil {
		return data
	}
	out := make(logger.Data, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}

// stackOf prefers the trace pkg/errors captured where err was created and
// falls back to the current goroutine's stack.
func stackOf(err error) *string {
	var st interface{ StackTrace() errors.StackTrace }
	var s string
	if errors.As(err, &st) {
		s = strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
	} else {
		s = string(debug.Stack())
	}
	return &s
}

// Event records a batch progress event. Pings, progress ticks and detail
// messages are too chatty to keep and are skipped.
func (l *JobLogger) Event(ev progress.Event) {
	switch ev.Type {
	case progress.EventStart:
		l.Info("ingest run started", logger.Data{"files": len(ev.Filenames)})
	case progress.EventFileComplete:
		data := logger.Data{
			"filename": ev.Filename,
			"current":  ev.CurrentFile,
			"total":    ev.TotalFiles,
			"status":   ev.Status,
		}
		if ev.Reason != "" {
			data["reason"] = ev.Reason
		}
		if ev.Result != "" {
			data["result"] = ev.Result
		}
		if ev.Status == progress.StatusFailed {
			l.Warn("file failed", data)
			return
		}
		l.Info("file complete", data)
	case progress.EventComplete:
		l.Info("ingest run complete", counts(ev))
	case progress.EventError:
		data := counts(ev)
		if ev.Status != "" {
			data["status"] = ev.Status
		}
		l.log.Error(ev.Error, data)
		l.persist(models.JobLogLevelError, ev.Error, data, nil)
	}
}

func counts(ev progress.Event) logger.Data {
	data := logger.Data{}
	if ev.ProcessedCount != nil {
		data["processed_count"] = *ev.ProcessedCount
	}
	if ev.ReviewQueueCount != nil {
		data["review_queue_count"] = *ev.ReviewQueueCount
	}
	if ev.FailedCount != nil {
		data["failed_count"] = *ev.FailedCount
	}
	return data
}

func (l *JobLogger) persist(level, msg string, data logger.Data, stackTrace *string) {
	jobLog := &models.JobLog{
		JobID:      l.jobID,
		Level:      level,
		Message:    msg,
		StackTrace: stackTrace,
	}
	if len(data) > 0 {
		clipped := make(logger.Data, len(data))
		for k, v := range data {
			if s, ok := v.(string); ok {
				v = truncateMiddle(s, maxDataValueLen)
			}
			clipped[k] = v
		}
		if b, err := json.Marshal(clipped); err == nil {
			encoded := string(b)
			jobLog.Data = &encoded
		}
	}

	if err := l.service.CreateJobLog(l.ctx, jobLog); err != nil {
		l.log.Err(err).Warn("failed to persist job log")
	}
}

func truncateMiddle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	half := (maxLen - 5) / 2
	return s[:half] + " ... " + s[len(s)-half:]
}
