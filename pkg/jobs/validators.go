package jobs

import (
	"time"

	"github.com/shishobooks/spines/pkg/errcodes"
)

type CreateJobPayload struct {
	Type string `json:"type" validate:"required,oneof=temp_cleanup"`
	// MaxAge overrides the configured cleanup age, e.g. "6h".
	MaxAge *string `json:"max_age,omitempty" mod:"trim"`
}

func (p CreateJobPayload) maxAge(fallback time.Duration) (time.Duration, error) {
	if p.MaxAge == nil || *p.MaxAge == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(*p.MaxAge)
	if err != nil || d <= 0 {
		return 0, errcodes.ValidationError(`"max_age" must be a positive duration like 24h.`)
	}
	return d, nil
}

type ListJobsQuery struct {
	Limit       int      `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset      int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status      []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending in_progress completed failed"`
	Type        *string  `query:"type" json:"type,omitempty" validate:"omitempty,oneof=ingest temp_cleanup enrich_review_item ocr_review_item"`
	Contributor *string  `query:"contributor" json:"contributor,omitempty" mod:"trim"`
}
