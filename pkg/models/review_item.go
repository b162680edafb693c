package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	ReviewStatusPending          = "pending_review"
	ReviewStatusFileMissing      = "file_missing"
	ReviewStatusProcessingFailed = "processing_failed"
	// ReviewStatusApproving marks an item claimed by an in-flight approval.
	ReviewStatusApproving = "approving"
	// Terminal dispositions. Items in these states are no longer stored.
	ReviewStatusApproved = "approved"
	ReviewStatusRejected = "rejected"
)

const (
	ReviewReasonLowConfidence    = "low_confidence"
	ReviewReasonSimilarBookFound = "similar_book_found"
	ReviewReasonDuplicateFile    = "duplicate_file"
)

type ReviewItem struct {
	bun.BaseModel `bun:"table:review_items,alias:ri"`

	ID                   string            `bun:",pk" json:"id"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	StagedFileID         string            `bun:",nullzero" json:"staged_file_id"`
	Filename             string            `bun:",nullzero" json:"filename"`
	Filepath             string            `bun:",nullzero" json:"filepath"`
	FileHash             string            `bun:",nullzero" json:"file_hash"`
	SizeBytes            int64             `json:"size_bytes"`
	Format               string            `bun:",nullzero" json:"format"`
	Contributor          string            `bun:",nullzero" json:"contributor"`
	Reason               string            `bun:",nullzero" json:"reason"`
	Status               string            `bun:",nullzero" json:"status"`
	ExtractionMethod     string            `bun:",nullzero" json:"extraction_method"`
	ExtractionConfidence float64           `json:"extraction_confidence"`
	ISBNFound            bool              `bun:"isbn_found" json:"isbn_found"`
	Extraction           string            `bun:",nullzero" json:"-"`
	ExtractionParsed     *ExtractionResult `bun:"-" json:"extracted_metadata"`
	Lookup               *string           `json:"-"`
	LookupParsed         *LookupMetadata   `bun:"-" json:"lookup,omitempty"`
	RejectionReason      *string           `bun:"-" json:"rejection_reason,omitempty"`
}

// MarshalData serializes the parsed extraction and lookup snapshots into the
// columns they're stored in.
func (item *ReviewItem) MarshalData() error {
	if item.ExtractionParsed != nil {
		b, err := json.Marshal(item.ExtractionParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		item.Extraction = string(b)
		item.ExtractionMethod = item.ExtractionParsed.Method
		item.ExtractionConfidence = item.ExtractionParsed.Confidence
		item.ISBNFound = item.ExtractionParsed.ISBNFound
	}
	if item.LookupParsed != nil {
		b, err := json.Marshal(item.LookupParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		s := string(b)
		item.Lookup = &s
	}
	return nil
}

func (item *ReviewItem) UnmarshalData() error {
	if item.Extraction != "" {
		item.ExtractionParsed = &ExtractionResult{}
		if err := json.Unmarshal([]byte(item.Extraction), item.ExtractionParsed); err != nil {
			return errors.WithStack(err)
		}
	}
	if item.Lookup != nil && *item.Lookup != "" {
		item.LookupParsed = &LookupMetadata{}
		if err := json.Unmarshal([]byte(*item.Lookup), item.LookupParsed); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
