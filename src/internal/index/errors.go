package index

import (
	"github.com/pachyderm/seekidx/src/internal/errors"
)

// Error kinds.  Failures are reported as one of these; match them with errors.Is.  Errors
// returned by callbacks and context errors are passed through unchanged.
var (
	// ErrPrecondition means a method was called out of order, or with arguments that would
	// break the format's invariants.
	ErrPrecondition = errors.New("precondition failed")
	// ErrLockContention means the resource's lock is held by someone else.
	ErrLockContention = errors.New("resource is locked")
	// ErrOverwriteRefused means the resource exists and overwriting was not requested.
	ErrOverwriteRefused = errors.New("resource exists and overwrite was not requested")
	// ErrFormat means the resource is not a complete, well-formed index.
	ErrFormat = errors.New("malformed index")
	// ErrBackendIO means the underlying storage failed.
	ErrBackendIO = errors.New("backend i/o failed")
)

// ErrBreak stops Iterate without an error.
var ErrBreak = errors.New("break")

// kindError tags a storage error with ErrBackendIO while keeping the original in the chain.
type kindError struct {
	kind error
	what string
	err  error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.what + ": " + e.err.Error()
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.err }

func backendErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendIO) {
		return err
	}
	return errors.WithStack(&kindError{kind: ErrBackendIO, what: what, err: err})
}

func preconditionf(format string, args ...any) error {
	return errors.Wrapf(ErrPrecondition, format, args...)
}

func formatf(format string, args ...any) error {
	return errors.Wrapf(ErrFormat, format, args...)
}
