package storage

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	// EndpointURL is host:port or a URL; an https scheme enables TLS.
	EndpointURL     string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// MinioStore serves S3 compatible object stores (MinIO, Ceph, R2) through
// minio-go. Warehouses see the objects as s3:// URIs.
type MinioStore struct {
	Bucket string
	client *minio.Client
}

var _ ReadWriter = &MinioStore{}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	endpoint := cfg.EndpointURL
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.EndpointURL); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	opts := &minio.Options{
		Secure: useSSL,
		Region: cfg.Region,
	}
	if cfg.AccessKeyID != "" {
		opts.Creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		opts.Creds = credentials.NewEnvAWS()
	}

	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioStore{Bucket: cfg.Bucket, client: client}, nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	objectCh := s.client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objectCh {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list 's3://%s/%s': %w", s.Bucket, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *MinioStore) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify(key, err)
	}
	defer obj.Close()

	data, err := ioutil.ReadAll(obj)
	if err != nil {
		return nil, s.classify(key, err)
	}
	return data, nil
}

func (s *MinioStore) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to write 's3://%s/%s': %w", s.Bucket, key, err)
	}
	return nil
}

func (s *MinioStore) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key)
}

func (s *MinioStore) classify(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("'s3://%s/%s': %w", s.Bucket, key, ErrObjectNotFound)
	}
	return fmt.Errorf("failed to retrieve 's3://%s/%s': %w", s.Bucket, key, err)
}
