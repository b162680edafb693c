package review

import (
	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/errcodes"
)

// ErrItemNotFound is returned for an id that isn't in the queue, including
// items that were already approved or rejected.
var ErrItemNotFound = errcodes.NotFound("Review item")

var (
	// ErrInvalidTransition is returned when approve or reject is called on an
	// item that isn't pending review.
	ErrInvalidTransition = errors.New("review item is not pending review")
	// ErrFileMissing is returned by approve when the held file is gone. The
	// item is moved to file_missing.
	ErrFileMissing = errors.New("review item file is missing")
)

// codedError ties a sentinel to the HTTP error it renders as.
type codedError struct {
	sentinel error
	coded    *errcodes.Error
}

func (e *codedError) Error() string {
	return e.coded.Message
}

func (e *codedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *codedError) As(target interface{}) bool {
	t, ok := target.(**errcodes.Error)
	if !ok {
		return false
	}
	*t = e.coded
	return true
}

func transitionError(status string) error {
	return errors.WithStack(&codedError{
		sentinel: ErrInvalidTransition,
		coded:    errcodes.InvalidTransition("Review item", status).(*errcodes.Error),
	})
}

func fileMissingError() error {
	return errors.WithStack(&codedError{
		sentinel: ErrFileMissing,
		coded:    errcodes.Conflict("The file for this review item is missing.").(*errcodes.Error),
	})
}
