package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.Equal(t, 60*time.Second, c.Lock.TTL)
	require.Equal(t, "/seekidx/locks", c.Lock.EtcdPrefix)
	require.Equal(t, "us-east-1", c.Amazon.Region)
	require.Equal(t, 10, c.Amazon.Retries)
	require.Equal(t, 5*time.Minute, c.Amazon.Timeout)
	require.True(t, c.Minio.Secure)
	require.Empty(t, c.Lock.EtcdEndpoints)
}

// Each option must come from its own key.
func TestLoadMapsEachKey(t *testing.T) {
	t.Setenv("SEEKIDX_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("SEEKIDX_S3_REGION", "eu-west-2")
	t.Setenv("SEEKIDX_S3_DISABLE_SSL", "true")
	t.Setenv("SEEKIDX_S3_NO_VERIFY_SSL", "false")
	t.Setenv("SEEKIDX_S3_RETRIES", "2")
	t.Setenv("SEEKIDX_S3_TIMEOUT", "30s")
	t.Setenv("SEEKIDX_LOCK_TTL", "5s")
	t.Setenv("SEEKIDX_LOCK_ETCD_ENDPOINTS", "http://e1:2379,http://e2:2379")
	t.Setenv("SEEKIDX_MAX_READERS", "4")
	t.Setenv("SEEKIDX_MAX_WRITERS", "1")
	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9000", c.Amazon.Endpoint)
	require.Equal(t, "eu-west-2", c.Amazon.Region)
	require.True(t, c.Amazon.DisableSSL)
	require.False(t, c.Amazon.NoVerifySSL)
	require.Equal(t, 2, c.Amazon.Retries)
	require.Equal(t, 30*time.Second, c.Amazon.Timeout)
	require.Equal(t, 5*time.Second, c.Lock.TTL)
	require.Equal(t, []string{"http://e1:2379", "http://e2:2379"}, c.Lock.EtcdEndpoints)
	require.Equal(t, 4, c.Storage.MaxReaders)
	require.Equal(t, 1, c.Storage.MaxWriters)
}
