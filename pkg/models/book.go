package models

import (
	"sort"
	"time"

	"github.com/uptrace/bun"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID               int                `bun:",pk,nullzero" json:"id"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Title            string             `bun:",nullzero" json:"title"`
	Author           string             `bun:",nullzero" json:"author"`
	Year             *int               `json:"year"`
	ISBN             *string            `bun:"isbn" json:"isbn"`
	Publisher        *string            `json:"publisher"`
	MediaType        *string            `json:"media_type"`
	Notes            *string            `json:"notes"`
	SortTitle        string             `bun:",nullzero" json:"sort_title"`
	SortAuthor       string             `bun:",nullzero" json:"sort_author,omitempty"`
	NormalizedTitle  string             `bun:",nullzero" json:"-"`
	NormalizedAuthor string             `bun:",nullzero" json:"-"`
	Contributors     []*BookContributor `bun:"rel:has-many,join:id=book_id" json:"contributors,omitempty"`
	Tags             []*BookTag         `bun:"rel:has-many,join:id=book_id" json:"tags,omitempty"`
	Copies           []*Copy            `bun:"rel:has-many,join:id=book_id" json:"copies,omitempty"`
}

// ContributorNames returns the contributor names in the order they were added.
func (b *Book) ContributorNames() []string {
	contributors := make([]*BookContributor, len(b.Contributors))
	copy(contributors, b.Contributors)
	sort.SliceStable(contributors, func(i, j int) bool {
		return contributors[i].SortOrder < contributors[j].SortOrder
	})

	names := make([]string, 0, len(contributors))
	for _, c := range contributors {
		names = append(names, c.Name)
	}
	return names
}

// HasContributor reports whether name is already credited on the book.
func (b *Book) HasContributor(name string) bool {
	for _, c := range b.Contributors {
		if c.Name == name {
			return true
		}
	}
	return false
}

// HasCopyWithHash reports whether the book already owns a copy of the same content.
func (b *Book) HasCopyWithHash(hash string) bool {
	for _, c := range b.Copies {
		if c.FileHash == hash {
			return true
		}
	}
	return false
}

type BookContributor struct {
	bun.BaseModel `bun:"table:book_contributors,alias:bc"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	BookID    int       `bun:",nullzero" json:"book_id"`
	Name      string    `bun:",nullzero" json:"name"`
	SortOrder int       `json:"sort_order"`
}

type BookTag struct {
	bun.BaseModel `bun:"table:book_tags,alias:bt"`

	ID     int    `bun:",pk,nullzero" json:"id"`
	BookID int    `bun:",nullzero" json:"book_id"`
	Name   string `bun:",nullzero" json:"name"`
}
