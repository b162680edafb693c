package models

import (
	"time"

	"github.com/uptrace/bun"
)

// DefaultContributor is credited when an upload doesn't name anyone.
const DefaultContributor = "anonymous"

// Copy is one physical file backing a Book. A book never holds two copies
// with the same file hash.
type Copy struct {
	bun.BaseModel `bun:"table:copies,alias:c"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	BookID      int       `bun:",nullzero" json:"book_id"`
	FileHash    string    `bun:",nullzero" json:"file_hash"`
	Format      string    `bun:",nullzero" json:"format"`
	SizeBytes   int64     `json:"size_bytes"`
	Contributor string    `bun:",nullzero" json:"contributor"`
	Filepath    string    `bun:",nullzero" json:"filepath"`
}
