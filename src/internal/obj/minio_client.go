package obj

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pachyderm/seekidx/src/internal/config"
	"github.com/pachyderm/seekidx/src/internal/errors"
)

var _ Client = &minioClient{}

type minioClient struct {
	*minio.Client
	endpoint string
	bucket   string
}

// NewMinioClient creates a Client for a minio://host:port/bucket URL.
func NewMinioClient(objURL *ObjectStoreURL, conf *config.MinioConfiguration) (Client, error) {
	endpoint, bucket, ok := strings.Cut(objURL.Bucket, "/")
	if !ok || endpoint == "" || bucket == "" {
		return nil, errors.Errorf("malformed minio bucket %q, expected host:port/bucket", objURL.Bucket)
	}
	mclient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.Secure,
	})
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	return newUniformClient(&minioClient{
		Client:   mclient,
		endpoint: endpoint,
		bucket:   bucket,
	}), nil
}

func (c *minioClient) Put(ctx context.Context, name string, r io.Reader) error {
	_, err := c.PutObject(ctx, c.bucket, name, r, -1, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return errors.EnsureStack(err)
}

func (c *minioClient) Get(ctx context.Context, name string, w io.Writer) (retErr error) {
	obj, err := c.GetObject(ctx, c.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return c.transformError(err, name)
	}
	defer errors.Close(&retErr, obj, "close object")
	// GetObject is lazy; a missing key surfaces on the first read.
	_, err = io.Copy(w, obj)
	return c.transformError(err, name)
}

func (c *minioClient) Delete(ctx context.Context, name string) error {
	return c.transformError(c.RemoveObject(ctx, c.bucket, name, minio.RemoveObjectOptions{}), name)
}

func (c *minioClient) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.StatObject(ctx, c.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		err = c.transformError(err, name)
		if IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *minioClient) Walk(ctx context.Context, prefix string, cb func(name string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for oi := range c.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if oi.Err != nil {
			return errors.EnsureStack(oi.Err)
		}
		if err := cb(oi.Key); err != nil {
			return err
		}
	}
	return errors.EnsureStack(ctx.Err())
}

func (c *minioClient) BucketURL() ObjectStoreURL {
	return ObjectStoreURL{Scheme: Minio, Bucket: c.endpoint + "/" + c.bucket}
}

func (c *minioClient) transformError(err error, name string) error {
	if err == nil {
		return nil
	}
	if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
		return NewNotExist(c.BucketURL().String(), name)
	}
	return errors.EnsureStack(err)
}
