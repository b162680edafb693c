package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	JobLogLevelInfo  = "info"
	JobLogLevelWarn  = "warn"
	JobLogLevelError = "error"
	JobLogLevelFatal = "fatal"
)

// JobLogLevels lists every level in increasing severity.
var JobLogLevels = []string{JobLogLevelInfo, JobLogLevelWarn, JobLogLevelError, JobLogLevelFatal}

// JobLog is one persisted line of a job's log. Data holds the structured
// fields as a JSON object; ingest runs always include "filename" on per-file
// lines so a run's log can be narrowed to one upload.
type JobLog struct {
	bun.BaseModel `bun:"table:job_logs,alias:jl"`

	ID         int       `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	JobID      int       `bun:",nullzero" json:"job_id"`
	Level      string    `bun:",nullzero" json:"level"`
	Message    string    `bun:",nullzero" json:"message"`
	Data       *string   `json:"data,omitempty"`
	StackTrace *string   `json:"stack_trace,omitempty"`
}

// JobLogLevelsFrom returns min and every level more severe than it. An
// unknown level yields nil.
func JobLogLevelsFrom(min string) []string {
	for i, lv := range JobLogLevels {
		if lv == min {
			return JobLogLevels[i:]
		}
	}
	return nil
}
