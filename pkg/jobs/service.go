package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/uptrace/bun"
)

var activeStatuses = []string{models.JobStatusPending, models.JobStatusInProgress}

type RetrieveJobOptions struct {
	ID *int
}

type ListJobsOptions struct {
	Limit       *int
	Offset      *int
	Statuses    []string
	Type        *string
	Contributor *string
}

type UpdateJobOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// CreateJob inserts job as pending unless it already carries a status.
// DataParsed is serialized into Data when Data is empty.
func (svc *Service) CreateJob(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	switch {
	case job.Data != "":
	case job.DataParsed != nil:
		data, err := json.Marshal(job.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		job.Data = string(data)
	default:
		job.Data = "{}"
	}

	_, err := svc.db.
		NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveJob(ctx context.Context, opts RetrieveJobOptions) (*models.Job, error) {
	job := &models.Job{}

	q := svc.db.
		NewSelect().
		Model(job)
	if opts.ID != nil {
		q = q.Where("j.id = ?", *opts.ID)
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Job")
		}
		return nil, errors.WithStack(err)
	}
	return job, errors.WithStack(job.UnmarshalData())
}

// ListJobsWithTotal returns a page of jobs, oldest first, and how many match
// in all.
func (svc *Service) ListJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.Job, int, error) {
	jobs := []*models.Job{}

	q := svc.db.
		NewSelect().
		Model(&jobs).
		Order("j.created_at ASC", "j.id ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("j.status IN (?)", bun.In(opts.Statuses))
	}
	if opts.Type != nil {
		q = q.Where("j.type = ?", *opts.Type)
	}
	if opts.Contributor != nil {
		q = q.Where("json_extract(j.data, '$.contributor') = ?", *opts.Contributor)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	for _, job := range jobs {
		if err := job.UnmarshalData(); err != nil {
			return nil, 0, errors.WithStack(err)
		}
	}
	return jobs, total, nil
}

// ClaimNextJob marks the oldest runnable job as in progress for processID and
// returns it, or nil when there is nothing to do. Runnable means pending, or
// in progress under some other process ID, which is how a job orphaned by a
// crashed or restarted server gets resumed.
func (svc *Service) ClaimNextJob(ctx context.Context, processID string) (*models.Job, error) {
	next := svc.db.
		NewSelect().
		Model((*models.Job)(nil)).
		Column("j.id").
		Where("j.status IN (?)", bun.In(activeStatuses)).
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("j.process_id IS NULL").
				WhereOr("j.process_id != ?", processID)
		}).
		Order("j.created_at ASC", "j.id ASC").
		Limit(1)

	job := &models.Job{}
	err := svc.db.
		NewUpdate().
		Model(job).
		Set("status = ?", models.JobStatusInProgress).
		Set("process_id = ?", processID).
		Set("updated_at = ?", time.Now()).
		Where("id = (?)", next).
		Returning("*").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && job.ID == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return job, errors.WithStack(job.UnmarshalData())
}

// HasActiveJobByType checks if there's a pending or in-progress job of the given type.
func (svc *Service) HasActiveJobByType(ctx context.Context, jobType string) (bool, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.Job)(nil)).
		Where("j.type = ?", jobType).
		Where("j.status IN (?)", bun.In(activeStatuses)).
		Exists(ctx)
	return exists, errors.WithStack(err)
}

// ActiveIngestJob returns the contributor's pending or running ingest job, or
// nil if there isn't one.
func (svc *Service) ActiveIngestJob(ctx context.Context, contributor string) (*models.Job, error) {
	jobType := models.JobTypeIngest
	limit := 1
	jobs, _, err := svc.ListJobsWithTotal(ctx, ListJobsOptions{
		Limit:       &limit,
		Statuses:    activeStatuses,
		Type:        &jobType,
		Contributor: &contributor,
	})
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// Retry queues a fresh pending copy of a failed job. The failed job and its
// logs are left as they were.
func (svc *Service) Retry(ctx context.Context, id int) (*models.Job, error) {
	failed, err := svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &id})
	if err != nil {
		return nil, err
	}
	if failed.Status != models.JobStatusFailed {
		return nil, errcodes.InvalidTransition("Job", failed.Status)
	}
	if failed.Type == models.JobTypeIngest {
		data, _ := failed.DataParsed.(*models.JobIngestData)
		if data != nil {
			active, err := svc.ActiveIngestJob(ctx, data.Contributor)
			if err != nil {
				return nil, err
			}
			if active != nil {
				return nil, errcodes.Conflict("An ingest run is already active for this contributor.")
			}
		}
	}

	job := &models.Job{Type: failed.Type, Data: failed.Data}
	if err := svc.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
}

func (svc *Service) UpdateJob(ctx context.Context, job *models.Job, opts UpdateJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	job.UpdatedAt = time.Now()
	columns := append(append([]string{}, opts.Columns...), "updated_at")

	res, err := svc.db.
		NewUpdate().
		Model(job).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errcodes.NotFound("Job")
	}
	return nil
}
