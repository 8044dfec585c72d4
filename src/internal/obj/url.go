package obj

import (
	"net/url"
	"strings"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

// Schemes understood by ParseURL.
const (
	Local  = "local"
	Mem    = "mem"
	Amazon = "s3"
	Google = "gs"
	Minio  = "minio"
)

// ObjectStoreURL represents a parsed URL to an object in an object store.
type ObjectStoreURL struct {
	// Scheme is the object store, e.g. s3, gs, minio...
	Scheme string
	// Bucket is the bucket name.  For local:// it is the root directory, for minio:// it is
	// host/bucket.
	Bucket string
	// Object is the object key, possibly empty.
	Object string
	// Params are the raw query parameters, passed through to the driver.
	Params string
}

// String returns the URL of the object.
func (s ObjectStoreURL) String() string {
	u := s.BucketString()
	if s.Object != "" {
		if s.Scheme == Local {
			u += "/"
		}
		u += "/" + s.Object
	}
	if s.Params != "" {
		u += "?" + s.Params
	}
	return u
}

// BucketString returns the URL of the bucket, without the object or params.
func (s ObjectStoreURL) BucketString() string {
	return s.Scheme + "://" + s.Bucket
}

// ParseURL parses an URL into ObjectStoreURL.
func ParseURL(urlStr string) (*ObjectStoreURL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing url %q", urlStr)
	}
	switch u.Scheme {
	case Amazon, Google, Mem:
		return &ObjectStoreURL{
			Scheme: u.Scheme,
			Bucket: u.Host,
			Object: strings.Trim(u.Path, "/"),
			Params: u.RawQuery,
		}, nil
	case Minio:
		// minio://host:port/bucket/object
		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		if u.Host == "" || parts[0] == "" {
			return nil, errors.Errorf("malformed minio URL %q, expected minio://host/bucket/object", urlStr)
		}
		o := &ObjectStoreURL{Scheme: u.Scheme, Bucket: u.Host + "/" + parts[0], Params: u.RawQuery}
		if len(parts) == 2 {
			o.Object = parts[1]
		}
		return o, nil
	case Local:
		// local:///root/dir//object: the root and the object are split on "//".
		p := u.Host + u.Path
		root, object, _ := strings.Cut(p, "//")
		if root == "" {
			return nil, errors.Errorf("malformed local URL %q, expected local:///root//object", urlStr)
		}
		return &ObjectStoreURL{Scheme: u.Scheme, Bucket: root, Object: strings.Trim(object, "/"), Params: u.RawQuery}, nil
	}
	return nil, errors.Errorf("unrecognized object store: %s", u.Scheme)
}
