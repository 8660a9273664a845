// Package archivestore saves signed archives to a local directory or an S3-compatible bucket.
package archivestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/and161185/signflow/internal/errs"
)

// Store persists one archive under key and returns where it ended up.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Dir writes archives below a root directory.
type Dir struct{ root string }

// NewDir returns a store rooted at root.
func NewDir(root string) *Dir { return &Dir{root: root} }

// Put writes data to root/key through a temp file. key must stay inside root.
func (d *Dir) Put(_ context.Context, key string, data []byte) (string, error) {
	clean := filepath.Clean(key)
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archivestore: key %q escapes the root: %w", key, errs.ErrValidation)
	}
	dst := filepath.Join(d.root, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return "", fmt.Errorf("archivestore: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".archive-*")
	if err != nil {
		return "", fmt.Errorf("archivestore: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("archivestore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("archivestore: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("archivestore: %w", err)
	}
	return dst, nil
}

// S3Config selects the bucket endpoint and credentials. Empty credentials fall back
// to the default AWS chain; an Endpoint switches to path-style addressing (MinIO).
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// PutObjectAPI is the part of *s3.Client the store uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads archives as objects of one bucket.
type S3 struct {
	client PutObjectAPI
	bucket string
}

// loadDefaultAWSConfig is replaced in tests.
var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3 builds an S3 client from cfg.
func NewS3(ctx context.Context, cfg S3Config, bucket string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archivestore: empty bucket: %w", errs.ErrValidation)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archivestore: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return NewS3WithClient(client, bucket), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client PutObjectAPI, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// Put uploads data as bucket/key.
func (s *S3) Put(ctx context.Context, key string, data []byte) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("archivestore: empty key: %w", errs.ErrValidation)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("archivestore: put s3://%s/%s: %w", s.bucket, key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

// ParseS3URL splits "s3://bucket/key". ok is false for anything else.
func ParseS3URL(u string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(u, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, key, true
}
