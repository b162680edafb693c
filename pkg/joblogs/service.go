package joblogs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/uptrace/bun"
)

type ListJobLogsOptions struct {
	JobID    int
	AfterID  *int
	Levels   []string
	Filename *string
	Limit    *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateJobLog(ctx context.Context, log *models.JobLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	_, err := svc.db.
		NewInsert().
		Model(log).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

// ListJobLogs returns a job's log rows oldest first. AfterID lets a poller
// fetch only what it hasn't seen; Filename narrows an ingest run's log to one
// file.
func (svc *Service) ListJobLogs(ctx context.Context, opts ListJobLogsOptions) ([]*models.JobLog, error) {
	logs := []*models.JobLog{}

	q := svc.db.
		NewSelect().
		Model(&logs).
		Where("jl.job_id = ?", opts.JobID).
		Order("jl.id ASC")

	if opts.AfterID != nil {
		q = q.Where("jl.id > ?", *opts.AfterID)
	}
	if len(opts.Levels) > 0 {
		q = q.Where("jl.level IN (?)", bun.In(opts.Levels))
	}
	if opts.Filename != nil {
		q = q.Where("json_extract(jl.data, '$.filename') = ?", *opts.Filename)
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return logs, nil
}

// CountByLevel tallies a job's log rows per level. Levels with no rows are
// reported as zero.
func (svc *Service) CountByLevel(ctx context.Context, jobID int) (map[string]int, error) {
	var rows []struct {
		Level string `bun:"level"`
		Count int    `bun:"count"`
	}
	err := svc.db.
		NewSelect().
		Model((*models.JobLog)(nil)).
		Column("jl.level").
		ColumnExpr("COUNT(*) AS count").
		Where("jl.job_id = ?", jobID).
		Group("jl.level").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	counts := make(map[string]int, len(models.JobLogLevels))
	for _, lv := range models.JobLogLevels {
		counts[lv] = 0
	}
	for _, r := range rows {
		counts[r.Level] = r.Count
	}
	return counts, nil
}

// PruneFinished deletes the logs of completed and failed jobs that finished
// before cutoff. Logs of pending or running jobs are never touched.
func (svc *Service) PruneFinished(ctx context.Context, cutoff time.Time) (int, error) {
	finished := svc.db.
		NewSelect().
		Model((*models.Job)(nil)).
		Column("j.id").
		Where("j.status IN (?)", bun.In([]string{models.JobStatusCompleted, models.JobStatusFailed})).
		Where("j.updated_at < ?", cutoff)

	res, err := svc.db.
		NewDelete().
		Model((*models.JobLog)(nil)).
		Where("job_id IN (?)", finished).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	return int(n), errors.WithStack(err)
}
