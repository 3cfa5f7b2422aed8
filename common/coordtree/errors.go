package coordtree

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoNode           = errors.New("node does not exist")
	ErrNodeExists       = errors.New("node already exists")
	ErrNotEmpty         = errors.New("node has children")
	ErrOperationTimeout = errors.New("operation timed out")
	ErrAccessDenied     = errors.New("access denied")
	ErrRequestFailed    = errors.New("coordination request failed")
	ErrInvalidPath      = errors.New("invalid path")
	ErrBatchTooLarge    = errors.New("batch too large")
)

// CoordinationError is returned by every Tree operation which fails.  Err is
// always one of the sentinel errors above, Cause optionally carries the
// underlying transport error.
type CoordinationError struct {
	Op    string
	Path  string
	Err   error
	Cause error
}

func (e *CoordinationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("coordination %s %s: %s: %s", e.Op, e.Path, e.Err, e.Cause)
	}
	return fmt.Sprintf("coordination %s %s: %s", e.Op, e.Path, e.Err)
}

func (e *CoordinationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func newError(op, path string, err error) error {
	return &CoordinationError{Op: op, Path: path, Err: err}
}
