// Package errors wraps github.com/pkg/errors so that every error leaving a package boundary
// carries a stack trace, and adds helpers for combining errors from deferred cleanup.
package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// New returns an error with the supplied message and a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Errorf formats according to a format specifier and returns the string as a value that
// satisfies error, with a stack trace.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap returns an error annotating err with a stack trace and the supplied message.  If err is
// nil, Wrap returns nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf is like Wrap, with a format specifier.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack annotates err with a stack trace.  If err is nil, WithStack returns nil.
func WithStack(err error) error {
	return errors.WithStack(err)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// EnsureStack adds a stack trace to err if it does not already have one.  Use it on errors
// returned by third-party code.
func EnsureStack(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if As(err, &st) {
		return err
	}
	return errors.WithStack(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join combines errs into one error, dropping nils.
func Join(errs ...error) error {
	return multierr.Combine(errs...)
}

// JoinInto appends err to *into.  It's meant for deferred cleanup:
//
//	defer errors.JoinInto(&retErr, f.Close())
func JoinInto(into *error, err error) {
	multierr.AppendInto(into, err)
}

// Close closes c and joins any error into *retErr, annotated with what.
func Close(retErr *error, c interface{ Close() error }, what string) {
	if err := c.Close(); err != nil {
		JoinInto(retErr, Wrap(err, what))
	}
}
