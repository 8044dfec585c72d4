// Package config holds the process configuration for seekidx, populated from the environment
// (and optionally a YAML file) by cmdutil.Populate.
package config

import (
	"time"

	"github.com/pachyderm/seekidx/src/internal/cmdutil"
)

// Configuration is the full set of options.  Every option reads its own key.
type Configuration struct {
	Storage StorageConfiguration
	Lock    LockConfiguration
	Amazon  AmazonConfiguration
	Minio   MinioConfiguration
}

// StorageConfiguration configures object clients.
type StorageConfiguration struct {
	// Root is the directory used by local:// object storage and for write spooling.
	Root string `env:"SEEKIDX_STORAGE_ROOT"`
	// MaxReaders and MaxWriters bound concurrent object reads and writes; < 1 is unbounded.
	MaxReaders int `env:"SEEKIDX_MAX_READERS,default=0"`
	MaxWriters int `env:"SEEKIDX_MAX_WRITERS,default=0"`
}

// LockConfiguration configures locking for remote resources.
type LockConfiguration struct {
	// TTL is the age after which an object-storage lock marker is considered abandoned, and
	// the lease TTL of etcd locks.
	TTL time.Duration `env:"SEEKIDX_LOCK_TTL,default=60s"`
	// EtcdEndpoints, when set, makes remote resources lock through etcd instead of marker
	// objects.
	EtcdEndpoints []string `env:"SEEKIDX_LOCK_ETCD_ENDPOINTS"`
	EtcdPrefix    string   `env:"SEEKIDX_LOCK_ETCD_PREFIX,default=/seekidx/locks"`
}

// AmazonConfiguration configures the S3 session used for s3:// URLs.
type AmazonConfiguration struct {
	Endpoint    string        `env:"SEEKIDX_S3_ENDPOINT"`
	Region      string        `env:"SEEKIDX_S3_REGION,default=us-east-1"`
	DisableSSL  bool          `env:"SEEKIDX_S3_DISABLE_SSL,default=false"`
	Retries     int           `env:"SEEKIDX_S3_RETRIES,default=10"`
	Timeout     time.Duration `env:"SEEKIDX_S3_TIMEOUT,default=5m"`
	NoVerifySSL bool          `env:"SEEKIDX_S3_NO_VERIFY_SSL,default=false"`
}

// MinioConfiguration configures the client used for minio:// URLs.
type MinioConfiguration struct {
	AccessKey string `env:"SEEKIDX_MINIO_ACCESS_KEY"`
	SecretKey string `env:"SEEKIDX_MINIO_SECRET_KEY"`
	Secure    bool   `env:"SEEKIDX_MINIO_SECURE,default=true"`
}

// Load reads the configuration from the environment, then from decoders.
func Load(decoders ...cmdutil.Decoder) (*Configuration, error) {
	c := &Configuration{}
	if err := cmdutil.Populate(c, decoders...); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the configuration with only default values applied.
func Default() *Configuration {
	c := &Configuration{}
	if err := cmdutil.PopulateDefaults(c); err != nil {
		// The tags above are static; failing to parse them is a programming error.
		panic(err)
	}
	return c
}
