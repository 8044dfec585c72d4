package obj

import (
	"context"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

var _ Client = &bucketClient{}

type bucketClient struct {
	url    ObjectStoreURL
	bucket *Bucket
}

// NewBucketClient adapts a gocloud.dev bucket to a Client.  url is reported by BucketURL.
func NewBucketClient(bucket *Bucket, url ObjectStoreURL) Client {
	url.Object, url.Params = "", ""
	return newUniformClient(&bucketClient{url: url, bucket: bucket})
}

func (c *bucketClient) Put(ctx context.Context, name string, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := c.bucket.NewWriter(ctx, name, nil)
	if err != nil {
		return errors.EnsureStack(err)
	}
	if _, err := io.Copy(w, r); err != nil {
		// Canceling before Close aborts the upload, so a partial object is never visible.
		cancel()
		w.Close() //nolint:errcheck
		return errors.EnsureStack(err)
	}
	return errors.EnsureStack(w.Close())
}

func (c *bucketClient) Get(ctx context.Context, name string, w io.Writer) (retErr error) {
	r, err := c.bucket.NewReader(ctx, name, nil)
	if err != nil {
		return c.transformError(err, name)
	}
	defer errors.Close(&retErr, r, "close reader")
	_, err = io.Copy(w, r)
	return c.transformError(err, name)
}

func (c *bucketClient) Delete(ctx context.Context, name string) error {
	return c.transformError(c.bucket.Delete(ctx, name), name)
}

func (c *bucketClient) Exists(ctx context.Context, name string) (bool, error) {
	exists, err := c.bucket.Exists(ctx, name)
	return exists, errors.EnsureStack(err)
}

func (c *bucketClient) Walk(ctx context.Context, prefix string, cb func(name string) error) error {
	it := c.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.EnsureStack(err)
		}
		if obj.IsDir {
			continue
		}
		if err := cb(obj.Key); err != nil {
			return err
		}
	}
}

func (c *bucketClient) BucketURL() ObjectStoreURL {
	return c.url
}

func (c *bucketClient) transformError(err error, name string) error {
	if err == nil {
		return nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return NewNotExist(c.url.String(), name)
	}
	return errors.EnsureStack(err)
}
