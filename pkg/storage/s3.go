package storage

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint for S3 compatible services.
	Endpoint       string
	ForcePathStyle bool
}

// NewS3Store configures an S3 client from the default credential chain and
// returns a Store for a bucket.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg = awsCfg.WithS3ForcePathStyle(true)
	}
	awsSession, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("could not create AWS session: %w", err)
	}
	return &S3Store{
		Bucket: cfg.Bucket,
		s3:     s3.New(awsSession),
	}, nil
}

// S3Store is a implementation of an S3 backed Store.
type S3Store struct {
	Bucket string
	s3     s3iface.S3API
}

var _ ReadWriter = &S3Store{}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 for 's3://%s/%s': %w", s.Bucket, prefix, err)
	}
	return keys, nil
}

func (s *S3Store) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("'s3://%s/%s': %w", s.Bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve 's3://%s/%s': %w", s.Bucket, key, err)
	}
	defer out.Body.Close()

	data, err := ioutil.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from S3 response for 's3://%s/%s': %w", s.Bucket, key, err)
	}
	return data, nil
}

// Write stores data at key, overwriting any existing object.
func (s *S3Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write 's3://%s/%s': %w", s.Bucket, key, err)
	}
	return nil
}

func (s *S3Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key)
}
