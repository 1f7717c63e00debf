package storage

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore is a Google Cloud Storage backed Store. Credentials come from
// the application default chain.
type GCSStore struct {
	Bucket string
	client *gcs.Client
}

var _ ReadWriter = &GCSStore{}

func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not create GCS client: %w", err)
	}
	return &GCSStore{Bucket: bucket, client: client}, nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.Bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS for 'gs://%s/%s': %w", s.Bucket, prefix, err)
		}
		// directory placeholders
		if attrs.Name == "" {
			continue
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.Bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("'gs://%s/%s': %w", s.Bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve 'gs://%s/%s': %w", s.Bucket, key, err)
	}
	defer r.Close()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read 'gs://%s/%s': %w", s.Bucket, key, err)
	}
	return data, nil
}

func (s *GCSStore) Write(ctx context.Context, key string, data []byte) error {
	w := s.client.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write 'gs://%s/%s': %w", s.Bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write 'gs://%s/%s': %w", s.Bucket, key, err)
	}
	return nil
}

func (s *GCSStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.Bucket, key)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
