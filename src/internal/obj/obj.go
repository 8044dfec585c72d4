// Package obj provides a uniform client over object storage: a local directory, memory,
// gocloud.dev buckets (S3, GCS, local files) and MinIO.
package obj

import (
	"context"
	"io"
	"io/fs"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

// Client is an interface to object storage.
type Client interface {
	// Put writes the data from r to an object at name.  It replaces any existing object.
	Put(ctx context.Context, name string, r io.Reader) error
	// Get writes the data for an object to w.  It returns an error for which IsNotExist is
	// true if the object does not exist.
	Get(ctx context.Context, name string, w io.Writer) error
	// Delete deletes an object.  Deleting an object that does not exist is not an error.
	Delete(ctx context.Context, name string) error
	// Walk calls cb with the names of objects which can be found under prefix.
	Walk(ctx context.Context, prefix string, cb func(name string) error) error
	// Exists checks if a given object already exists.
	Exists(ctx context.Context, name string) (bool, error)
	// BucketURL returns the URL of the bucket this client uses.
	BucketURL() ObjectStoreURL
}

type notExistError struct {
	bucket, name string
}

func (e *notExistError) Error() string {
	return "object " + e.name + " does not exist in " + e.bucket
}

func (e *notExistError) Is(target error) bool {
	return target == fs.ErrNotExist
}

// NewNotExist returns an error reporting that name does not exist in bucket.
func NewNotExist(bucket, name string) error {
	return errors.WithStack(&notExistError{bucket: bucket, name: name})
}

// IsNotExist returns true if err reports a missing object.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
