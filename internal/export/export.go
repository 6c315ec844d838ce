// Package export uploads history CSV files to S3-compatible object storage.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/terminal-bench/blasttap/internal/history"
)

var ErrDisabled = errors.New("export storage not configured")

// Config holds the object store settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Uploader writes CSV exports into a bucket.
type Uploader struct {
	client *minio.Client
	bucket string
}

// NewUploader creates an uploader. An empty endpoint yields ErrDisabled.
func NewUploader(cfg Config) (*Uploader, error) {
	if cfg.Endpoint == "" {
		return nil, ErrDisabled
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when missing.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Upload writes entries as CSV and returns the object key.
func (u *Uploader) Upload(ctx context.Context, sessionID uuid.UUID, entries []history.Entry, now time.Time) (string, error) {
	var buf bytes.Buffer
	if err := history.WriteCSV(&buf, entries); err != nil {
		return "", err
	}

	key := ObjectKey(sessionID, now)
	_, err := u.client.PutObject(ctx, u.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "text/csv; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload export: %w", err)
	}
	return key, nil
}

// ObjectKey lays exports out by day then session.
func ObjectKey(sessionID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("exports/%s/%s/history_%s.csv",
		now.UTC().Format("2006/01/02"), sessionID, now.UTC().Format("20060102T150405Z"))
}
