package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobTypeIngest      = "ingest"
	JobTypeTempCleanup = "temp_cleanup"
	JobTypeEnrichItem  = "enrich_review_item"
	JobTypeOCRItem     = "ocr_review_item"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID         int         `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Type       string      `bun:",nullzero" json:"type"`
	Status     string      `bun:",nullzero" json:"status"`
	Data       string      `bun:",nullzero" json:"-"`
	DataParsed interface{} `bun:"-" json:"data"`
	Progress   int         `json:"progress"`
	ProcessID  *string     `json:"process_id,omitempty"`
}

func (job *Job) UnmarshalData() error {
	switch job.Type {
	case JobTypeIngest:
		job.DataParsed = &JobIngestData{}
	case JobTypeTempCleanup:
		job.DataParsed = &JobTempCleanupData{}
	case JobTypeEnrichItem, JobTypeOCRItem:
		job.DataParsed = &JobReviewItemData{}
	default:
		return errors.Errorf("unknown job type %q", job.Type)
	}

	err := json.Unmarshal([]byte(job.Data), job.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// JobIngestData identifies the batch run. The pair is the key progress
// subscribers attach to.
type JobIngestData struct {
	Contributor string    `json:"contributor"`
	StartedAt   time.Time `json:"started_at"`
}

type JobTempCleanupData struct {
	MaxAgeSeconds int `json:"max_age_seconds"`
}

type JobReviewItemData struct {
	ReviewItemID string `json:"review_item_id"`
}
