package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrForbidden = errors.New("access forbidden")
	ErrConflict  = errors.New("job already exists")
)

// InvalidStateError reports an illegal status transition or an unmet stage
// dependency. The reason is safe to show to the caller.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return e.Reason
}

func invalidState(format string, args ...any) error {
	return &InvalidStateError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var ise *InvalidStateError
	return errors.As(err, &ise)
}

// DispatchError wraps a queue transport failure. The job's status is left
// unchanged, so the dispatch is safe to retry.
type DispatchError struct {
	Queue string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", e.Queue, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
