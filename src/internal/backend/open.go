package backend

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/config"
	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/lock"
	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/obj"
)

// Open returns the resource named by rawURL.  A plain path or a file:// URL is a Local
// resource.  mem://, local://, s3://, gs:// and minio:// URLs are Object resources: they are
// locked in etcd when conf names etcd endpoints, in process memory for mem://, and with marker
// objects otherwise.
func Open(ctx context.Context, rawURL string, conf *config.Configuration) (Resource, error) {
	if conf == nil {
		conf = config.Default()
	}
	if !strings.Contains(rawURL, "://") {
		return NewLocal(rawURL), nil
	}
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing url %q", rawURL)
		}
		return NewLocal(u.Path), nil
	}
	objURL, err := obj.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if objURL.Object == "" {
		return nil, errors.Errorf("%q names a bucket, not an object", rawURL)
	}
	client, err := newClient(ctx, objURL, conf)
	if err != nil {
		return nil, err
	}
	client = obj.NewLimitedClient(client, conf.Storage.MaxReaders, conf.Storage.MaxWriters)
	locker, err := newLocker(ctx, client, objURL, conf)
	if err != nil {
		return nil, err
	}
	log.Debug(ctx, "opened object resource", zap.Stringer("url", objURL), zap.Stringer("lock", lockKindOf(locker)))
	return NewObject(client, objURL.Object, locker, conf.Storage.Root), nil
}

func newClient(ctx context.Context, objURL *obj.ObjectStoreURL, conf *config.Configuration) (obj.Client, error) {
	switch objURL.Scheme {
	case obj.Mem:
		return obj.NewMemClient(objURL.Bucket), nil
	case obj.Local:
		return obj.NewLocalClient(ctx, objURL.Bucket)
	case obj.Minio:
		return obj.NewMinioClient(objURL, &conf.Minio)
	}
	bucket, err := obj.NewBucket(ctx, objURL, conf)
	if err != nil {
		return nil, err
	}
	return obj.NewBucketClient(bucket, *objURL), nil
}

func newLocker(ctx context.Context, client obj.Client, objURL *obj.ObjectStoreURL, conf *config.Configuration) (lock.Locker, error) {
	name := objURL.BucketString() + "/" + objURL.Object
	if len(conf.Lock.EtcdEndpoints) > 0 {
		ec, err := etcdClient(ctx, conf.Lock.EtcdEndpoints)
		if err != nil {
			return nil, err
		}
		return lock.NewEtcdLocker(ec, conf.Lock.EtcdPrefix, name, conf.Lock.TTL), nil
	}
	if objURL.Scheme == obj.Mem {
		return lock.NewMemLocker(name), nil
	}
	return lock.NewMarkerLocker(client, objURL.Object, conf.Lock.TTL), nil
}

var (
	etcdClientsMu sync.Mutex
	etcdClients   = map[string]*etcd.Client{}
)

// etcdClient returns a process-wide client for endpoints.
func etcdClient(ctx context.Context, endpoints []string) (*etcd.Client, error) {
	key := strings.Join(endpoints, ",")
	etcdClientsMu.Lock()
	defer etcdClientsMu.Unlock()
	if c, ok := etcdClients[key]; ok {
		return c, nil
	}
	cfg := log.GetEtcdClientConfig(ctx)
	// The client is shared by later calls.
	cfg.Context = context.WithoutCancel(cfg.Context)
	cfg.Endpoints = endpoints
	cfg.DialTimeout = 10 * time.Second
	c, err := etcd.New(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to etcd at %s", key)
	}
	etcdClients[key] = c
	return c, nil
}

type lockKind string

func (k lockKind) String() string { return string(k) }

func lockKindOf(l lock.Locker) lockKind {
	switch l.(type) {
	case *lock.EtcdLocker:
		return "etcd"
	case *lock.MemLocker:
		return "mem"
	case *lock.MarkerLocker:
		return "marker"
	}
	return "other"
}
