package objectstore

import (
	"fmt"
	"strings"
)

const scheme = "s3://"

// Location is a bucket/key pair parsed from an s3:// URI.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return scheme + l.Bucket + "/" + l.Key
}

// ParseURI splits s3://bucket/key. Both parts are required.
func ParseURI(uri string) (Location, error) {
	if !strings.HasPrefix(uri, scheme) {
		return Location{}, fmt.Errorf("unsupported object URI %q: expected %sbucket/key", uri, scheme)
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.TrimLeft(key, "/") == "" {
		return Location{}, fmt.Errorf("invalid object URI %q: bucket and key are required", uri)
	}
	return Location{Bucket: bucket, Key: strings.TrimLeft(key, "/")}, nil
}

// IsObjectURI reports whether uri points at object storage.
func IsObjectURI(uri string) bool {
	return strings.HasPrefix(uri, scheme)
}
