package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	StagedFileStatusStaged    = "staged"
	StagedFileStatusHeld      = "held"
	StagedFileStatusCommitted = "committed"
)

// StagedFile is an uploaded file sitting in the temp intake area. It stays in
// the staged status until a batch run either commits it into the catalog or
// moves it into the review holding area.
type StagedFile struct {
	bun.BaseModel `bun:"table:staged_files,alias:sf"`

	ID          string    `bun:",pk" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Filename    string    `bun:",nullzero" json:"filename"`
	Filepath    string    `bun:",nullzero" json:"filepath"`
	SizeBytes   int64     `json:"size_bytes"`
	Format      string    `bun:",nullzero" json:"format"`
	MimeType    string    `bun:",nullzero" json:"mime_type"`
	FileHash    string    `bun:",nullzero" json:"file_hash"`
	Contributor string    `bun:",nullzero" json:"contributor"`
	Status      string    `bun:",nullzero" json:"status"`
}
