package obj

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

var _ Client = &memClient{}

type memClient struct {
	name    string
	mu      sync.RWMutex
	objects map[string][]byte
}

var (
	memBucketsMu sync.Mutex
	memBuckets   = map[string]*memClient{}
)

// NewMemClient returns a Client backed by process memory.  Clients created with the same
// bucket name share their objects, so mem://bucket URLs resolve to the same data.  An empty
// name returns a private client.
func NewMemClient(bucket string) Client {
	if bucket == "" {
		return newUniformClient(&memClient{objects: map[string][]byte{}})
	}
	memBucketsMu.Lock()
	defer memBucketsMu.Unlock()
	c, ok := memBuckets[bucket]
	if !ok {
		c = &memClient{name: bucket, objects: map[string][]byte{}}
		memBuckets[bucket] = c
	}
	return newUniformClient(c)
}

func (c *memClient) Put(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.EnsureStack(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[name] = data
	return nil
}

func (c *memClient) Get(ctx context.Context, name string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	c.mu.RLock()
	data, ok := c.objects[name]
	c.mu.RUnlock()
	if !ok {
		return NewNotExist(c.BucketURL().String(), name)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return errors.EnsureStack(err)
}

func (c *memClient) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, name)
	return nil
}

func (c *memClient) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.EnsureStack(err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.objects[name]
	return ok, nil
}

func (c *memClient) Walk(ctx context.Context, prefix string, cb func(name string) error) error {
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	c.mu.RLock()
	var names []string
	for name := range c.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	c.mu.RUnlock()
	sort.Strings(names)
	for _, name := range names {
		if err := cb(name); err != nil {
			return err
		}
	}
	return nil
}

func (c *memClient) BucketURL() ObjectStoreURL {
	return ObjectStoreURL{Scheme: Mem, Bucket: c.name}
}
