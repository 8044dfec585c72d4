package log

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AddLoggerToEtcdServer adds the context's logger to an in-process etcd server.  The returned
// level starts at error; etcd is very chatty.
func AddLoggerToEtcdServer(ctx context.Context, config *embed.Config) zap.AtomicLevel {
	lvl := zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	config.ZapLoggerBuilder = embed.NewZapLoggerBuilder(extractLogger(ctx).WithOptions(zap.IncreaseLevel(lvl)).Named("etcd-server"))
	return lvl
}

// GetEtcdClientConfig returns an etcd client configuration with the logger set to this
// context's logger, capped at level info.
func GetEtcdClientConfig(ctx context.Context) clientv3.Config {
	l := extractLogger(ctx).Named("etcd-client")
	if lvl := zap.InfoLevel; l.Level() <= lvl {
		l = l.WithOptions(zap.IncreaseLevel(lvl))
	}
	return clientv3.Config{
		Context: withLogger(ctx, l),
		Logger:  l,
	}
}
