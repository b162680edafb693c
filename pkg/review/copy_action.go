package review

import (
	"github.com/shishobooks/spines/pkg/errcodes"
)

const (
	CopyActionSeparate      = "separate_copy"
	CopyActionAddToExisting = "add_to_existing"
	CopyActionAuto          = "auto"
)

// CopyAction decides what approving an item does to the catalog. It is one of
// SeparateCopy, AddToExisting or Auto.
type CopyAction interface {
	Kind() string
	copyAction()
}

// SeparateCopy always creates a new book.
type SeparateCopy struct{}

// AddToExisting appends the file as a copy of BookID.
type AddToExisting struct {
	BookID int
}

// Auto adds to the top actionable similar book if there is one and creates a
// new book otherwise.
type Auto struct{}

func (SeparateCopy) Kind() string  { return CopyActionSeparate }
func (AddToExisting) Kind() string { return CopyActionAddToExisting }
func (Auto) Kind() string          { return CopyActionAuto }

func (SeparateCopy) copyAction()  {}
func (AddToExisting) copyAction() {}
func (Auto) copyAction()          {}

// ParseCopyAction builds a CopyAction from its wire form. An empty kind means
// auto.
func ParseCopyAction(kind string, bookID *int) (CopyAction, error) {
	switch kind {
	case "", CopyActionAuto:
		return Auto{}, nil
	case CopyActionSeparate:
		return SeparateCopy{}, nil
	case CopyActionAddToExisting:
		if bookID == nil || *bookID <= 0 {
			return nil, errcodes.ValidationError("A book id is required to add to an existing book.")
		}
		return AddToExisting{BookID: *bookID}, nil
	default:
		return nil, errcodes.ValidationError("Unknown copy action " + kind + ".")
	}
}
