package obj

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/uuid"
)

// NewLocalClient returns a Client that stores data on the local file system.  Objects are
// written to a staging directory and renamed into place, so readers never observe a partial
// object.
func NewLocalClient(ctx context.Context, rootDir string) (Client, error) {
	c, err := newFSClient(ctx, rootDir)
	if err != nil {
		return nil, err
	}
	return newUniformClient(c), nil
}

type fsClient struct {
	rootDir string
}

func newFSClient(ctx context.Context, rootDir string) (*fsClient, error) {
	c := &fsClient{
		rootDir: filepath.Clean(rootDir),
	}
	if c.rootDir == "" || c.rootDir == "/" || c.rootDir == "." {
		return nil, errors.Errorf("refusing to use %q as the local object store root", rootDir)
	}
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *fsClient) Put(ctx context.Context, name string, r io.Reader) (retErr error) {
	log.Debug(ctx, "put", zap.String("key", name))
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	staging := c.stagingPathFor()
	final := c.finalPathFor(name)
	f, err := os.OpenFile(staging, os.O_EXCL|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.EnsureStack(err)
	}
	defer c.closeFile(&retErr, f)
	defer c.removeFile(&retErr, staging)
	if _, err := io.Copy(f, r); err != nil {
		return errors.EnsureStack(err)
	}
	if err := f.Close(); err != nil {
		return errors.EnsureStack(err)
	}
	return errors.EnsureStack(os.Rename(staging, final))
}

func (c *fsClient) Get(ctx context.Context, name string, w io.Writer) (retErr error) {
	log.Debug(ctx, "get", zap.String("key", name))
	defer func() { retErr = c.transformError(retErr, name) }()
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	f, err := os.Open(c.finalPathFor(name))
	if err != nil {
		return errors.EnsureStack(err)
	}
	defer c.closeFile(&retErr, f)
	_, err = io.Copy(w, f)
	return errors.EnsureStack(err)
}

func (c *fsClient) Delete(ctx context.Context, name string) error {
	log.Debug(ctx, "delete", zap.String("key", name))
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	err := os.Remove(c.finalPathFor(name))
	if os.IsNotExist(err) {
		err = nil
	}
	return errors.EnsureStack(err)
}

func (c *fsClient) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.EnsureStack(err)
	}
	_, err := os.Stat(c.finalPathFor(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.EnsureStack(err)
	}
	return true, nil
}

func (c *fsClient) Walk(ctx context.Context, prefix string, cb func(string) error) error {
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	dirEnts, err := os.ReadDir(filepath.Join(c.rootDir, "objects"))
	if err != nil {
		return errors.EnsureStack(err)
	}
	enc := base64.URLEncoding
	for _, dirEnt := range dirEnts {
		name, err := enc.DecodeString(dirEnt.Name())
		if err != nil {
			return errors.Wrapf(err, "parsing object name")
		}
		if bytes.HasPrefix(name, []byte(prefix)) {
			if err := cb(string(name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *fsClient) BucketURL() ObjectStoreURL {
	return ObjectStoreURL{
		Scheme: Local,
		Bucket: filepath.ToSlash(c.rootDir),
	}
}

func (c *fsClient) stagingPathFor() string {
	return filepath.Join(c.rootDir, "staging", uuid.NewWithoutDashes())
}

// finalPathFor flattens names into a single directory; base64 keeps "/" out of file names.
func (c *fsClient) finalPathFor(name string) string {
	enc := base64.URLEncoding
	return filepath.Join(c.rootDir, "objects", enc.EncodeToString([]byte(name)))
}

func (c *fsClient) init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(c.rootDir, "staging"), 0o755); err != nil {
		return errors.EnsureStack(err)
	}
	if err := os.MkdirAll(filepath.Join(c.rootDir, "objects"), 0o755); err != nil {
		return errors.EnsureStack(err)
	}
	log.Debug(ctx, "initialized fs-backed object store", zap.String("root", c.rootDir))
	return nil
}

func (c *fsClient) transformError(err error, name string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) || strings.HasSuffix(err.Error(), ": no such file or directory") {
		return NewNotExist(c.BucketURL().String(), name)
	}
	return err
}

func (c *fsClient) closeFile(retErr *error, f *os.File) {
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errors.JoinInto(retErr, errors.Wrap(err, "close"))
	}
}

func (c *fsClient) removeFile(retErr *error, p string) {
	err := os.Remove(p)
	if os.IsNotExist(err) {
		err = nil
	}
	if err != nil {
		errors.JoinInto(retErr, errors.Wrap(err, "deleting file"))
	}
}
