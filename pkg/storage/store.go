package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

//go:generate mockgen -destination=./mock/store.go -package=mock github.com/JGrubb/open-finops-pipelines-bigquery/pkg/storage Store,Writer

// ErrObjectNotFound is returned by Read when key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Store lists and reads objects in a single bucket.
type Store interface {
	// List returns every object key below prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	// URI returns the location of key as understood by a warehouse loading
	// directly from the bucket, e.g. gs://bucket/key.
	URI(key string) string
}

// Writer is implemented by stores that can persist objects.
type Writer interface {
	Write(ctx context.Context, key string, data []byte) error
}

// ReadWriter is a Store that is also a Writer.
type ReadWriter interface {
	Store
	Writer
}

// Location is a parsed object URI.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

func (l Location) String() string {
	if l.Scheme == "file" {
		return "file://" + l.Key
	}
	return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key)
}

// ParseURI splits a gs://, s3:// or file:// URI.
func ParseURI(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("invalid object uri %q: %w", uri, err)
	}
	switch u.Scheme {
	case "gs", "s3":
		if u.Host == "" {
			return Location{}, fmt.Errorf("object uri %q has no bucket", uri)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
	case "file":
		return Location{Scheme: u.Scheme, Key: u.Path}, nil
	default:
		return Location{}, fmt.Errorf("unsupported object uri scheme %q in %q", u.Scheme, uri)
	}
}

// KeyOf returns the key of uri if it points into the bucket served by s.
func KeyOf(s Store, uri string) (string, bool) {
	base := s.URI("")
	if !strings.HasPrefix(uri, base) {
		return "", false
	}
	return strings.TrimPrefix(uri, base), true
}
