// Package testetcd runs an in-process etcd server for tests.
package testetcd

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	etcd "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap/zapcore"

	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/pctx"
)

// Env contains a running etcd server and a client connected to it.
type Env struct {
	Context    context.Context
	EtcdClient *etcd.Client
}

// NewEnv starts etcd in a temporary directory.  Both the server and the client are shut down
// when the test ends.  Tests using it are skipped under -short.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	if testing.Short() {
		t.Skip("embedded etcd is not started in short mode")
	}
	ctx := pctx.TestContext(t)
	tmpdir := t.TempDir()

	etcdConfig := embed.NewConfig()
	etcdConfig.Dir = path.Join(tmpdir, "etcd_data")
	etcdConfig.WalDir = path.Join(tmpdir, "etcd_wal")
	etcdConfig.UnsafeNoFsync = true
	etcdConfig.InitialElectionTickAdvance = false
	etcdConfig.TickMs = 10
	etcdConfig.ElectionMs = 50
	level := log.AddLoggerToEtcdServer(ctx, etcdConfig)

	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err, "create etcd listener")
	require.NoError(t, lis.Close(), "close etcd listener")
	clientURL, err := url.Parse(fmt.Sprintf("http://%s", lis.Addr().String()))
	require.NoError(t, err)
	etcdConfig.ListenPeerUrls = []url.URL{}
	etcdConfig.ListenClientUrls = []url.URL{*clientURL}
	etcdConfig.AdvertiseClientUrls = []url.URL{*clientURL}

	server, err := embed.StartEtcd(etcdConfig)
	require.NoError(t, err, "start etcd")
	t.Cleanup(func() {
		level.SetLevel(zapcore.FatalLevel)
		server.Close()
	})
	select {
	case <-server.Server.ReadyNotify():
	case <-time.After(30 * time.Second):
		t.Fatal("etcd did not become ready")
	}

	cfg := log.GetEtcdClientConfig(ctx)
	cfg.Endpoints = []string{clientURL.String()}
	cfg.DialTimeout = 10 * time.Second
	client, err := etcd.New(cfg)
	require.NoError(t, err, "create etcd client")
	t.Cleanup(func() { client.Close() })
	return &Env{Context: ctx, EtcdClient: client}
}
