package obj

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // registers gs://
	"gocloud.dev/blob/memblob"
	"gocloud.dev/blob/s3blob"

	"github.com/pachyderm/seekidx/src/internal/config"
	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
)

// Bucket represents access to a single object storage bucket.
type Bucket = blob.Bucket

func amazonHTTPClient(conf *config.AmazonConfiguration) *http.Client {
	httpClient := &http.Client{Timeout: conf.Timeout}
	if conf.NoVerifySSL {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		httpClient.Transport = transport
	}
	return httpClient
}

// amazonSession builds the aws session for an s3:// URL.  URL parameters (endpoint, region,
// disableSSL) override the configuration.
func amazonSession(ctx context.Context, objURL *ObjectStoreURL, conf *config.AmazonConfiguration) (*session.Session, error) {
	urlParams, err := url.ParseQuery(objURL.Params)
	if err != nil {
		return nil, errors.Wrap(err, "creating amazon session")
	}
	endpoint := conf.Endpoint
	if e := urlParams.Get("endpoint"); e != "" {
		endpoint = e
	}
	region := conf.Region
	if r := urlParams.Get("region"); r != "" {
		region = r
	}
	disableSSL := conf.DisableSSL
	if d := urlParams.Get("disableSSL"); d != "" {
		if disableSSL, err = strconv.ParseBool(d); err != nil {
			return nil, errors.Wrap(err, "parsing disableSSL")
		}
	}
	awsConfig := &aws.Config{
		Region:     aws.String(region),
		MaxRetries: aws.Int(conf.Retries),
		HTTPClient: amazonHTTPClient(conf),
		DisableSSL: aws.Bool(disableSSL),
		Logger:     log.NewAmazonLogger(ctx),
	}
	// Set custom endpoint for a custom deployment.
	if endpoint != "" {
		awsConfig.Endpoint = aws.String(endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating amazon session")
	}
	return sess, nil
}

// NewAmazonBucket opens the S3 bucket named by objURL.
func NewAmazonBucket(ctx context.Context, objURL *ObjectStoreURL, conf *config.AmazonConfiguration) (*Bucket, error) {
	sess, err := amazonSession(ctx, objURL, conf)
	if err != nil {
		return nil, errors.Wrap(err, "amazon bucket")
	}
	blobBucket, err := s3blob.OpenBucket(ctx, sess, objURL.Bucket, nil)
	if err != nil {
		return nil, errors.Wrap(err, "amazon bucket")
	}
	return blobBucket, nil
}

// NewBucket opens the gocloud.dev bucket for objURL.
func NewBucket(ctx context.Context, objURL *ObjectStoreURL, conf *config.Configuration) (*Bucket, error) {
	var err error
	var bucket *Bucket
	switch objURL.Scheme {
	case Amazon:
		bucket, err = NewAmazonBucket(ctx, objURL, &conf.Amazon)
	case Google:
		bucket, err = blob.OpenBucket(ctx, objURL.BucketString())
	case Local:
		bucket, err = fileblob.OpenBucket(objURL.Bucket, &fileblob.Options{CreateDir: true})
	case Mem:
		bucket = memblob.OpenBucket(nil)
	default:
		return nil, errors.Errorf("unrecognized storage backend: %s", objURL.Scheme)
	}
	if err != nil {
		return nil, errors.Wrap(err, "new bucket")
	}
	return bucket, nil
}
