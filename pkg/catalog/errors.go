package catalog

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/errcodes"
)

// ErrUnavailable marks a systemic storage failure. Callers running a batch
// stop when they see it; the files they haven't reached stay staged.
var ErrUnavailable = errors.New("catalog repository unavailable")

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Unwrap() error {
	return e.cause
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// unavailable wraps storage errors as ErrUnavailable. Caller errors (not
// found, validation) and cancellation pass through untouched.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	var ec *errcodes.Error
	if errors.As(err, &ec) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	return errors.WithStack(&unavailableError{err})
}
