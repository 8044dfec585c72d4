package index

import "github.com/pachyderm/seekidx/src/internal/diag"

type options struct {
	overwrite bool
	diag      *diag.Sink
}

// Option configures a Writer or a Reader.
type Option func(o *options)

// WithOverwrite lets a Writer truncate a resource that already exists.
func WithOverwrite() Option {
	return func(o *options) {
		o.overwrite = true
	}
}

// WithDiagnostics reports a message to s for every failed operation.
func WithDiagnostics(s *diag.Sink) Option {
	return func(o *options) {
		o.diag = s
	}
}

func makeOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
