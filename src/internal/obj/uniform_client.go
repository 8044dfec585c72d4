package obj

import (
	"context"
	"io"
	"strings"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

var _ Client = &uniformClient{}

// uniformClient is for ensuring uniform behavior across all the object clients: names are
// trimmed of slashes, errors carry stacks, and deleting a missing object succeeds.
type uniformClient struct {
	c Client
}

func newUniformClient(c Client) Client {
	return &uniformClient{c: c}
}

func (uc *uniformClient) Put(ctx context.Context, name string, r io.Reader) (retErr error) {
	defer func() {
		retErr = errors.EnsureStack(retErr)
	}()
	return uc.c.Put(ctx, strings.Trim(name, "/"), r)
}

func (uc *uniformClient) Get(ctx context.Context, name string, w io.Writer) (retErr error) {
	defer func() {
		retErr = errors.EnsureStack(retErr)
	}()
	return uc.c.Get(ctx, strings.Trim(name, "/"), w)
}

func (uc *uniformClient) Delete(ctx context.Context, name string) (retErr error) {
	defer func() {
		retErr = errors.EnsureStack(retErr)
	}()
	err := uc.c.Delete(ctx, strings.Trim(name, "/"))
	if IsNotExist(err) {
		err = nil
	}
	return err
}

func (uc *uniformClient) Walk(ctx context.Context, prefix string, fn func(name string) error) (retErr error) {
	defer func() {
		retErr = errors.EnsureStack(retErr)
	}()
	return uc.c.Walk(ctx, strings.TrimLeft(prefix, "/"), fn)
}

func (uc *uniformClient) Exists(ctx context.Context, name string) (_ bool, retErr error) {
	defer func() {
		retErr = errors.EnsureStack(retErr)
	}()
	exists, err := uc.c.Exists(ctx, strings.Trim(name, "/"))
	if IsNotExist(err) {
		exists = false
		err = nil
	}
	return exists, err
}

func (uc *uniformClient) BucketURL() ObjectStoreURL {
	return uc.c.BucketURL()
}
