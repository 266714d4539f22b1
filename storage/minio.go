// Package storage fetches audio objects from a MinIO (S3-compatible) bucket
// into the local audio directory.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"hibikido/config"
	"hibikido/logger"
)

const clientTimeout = 10 * time.Second

// MinioFetcher downloads objects by their catalog-relative path.
type MinioFetcher struct {
	client *minio.Client
	bucket string
}

// NewMinioFetcher connects to the configured endpoint and verifies the
// bucket exists.
func NewMinioFetcher(cfg config.StorageConfig) (*MinioFetcher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio %s: %w", cfg.Endpoint, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	logger.Info("object storage connected",
		logger.String("endpoint", cfg.Endpoint),
		logger.String("bucket", cfg.Bucket))
	return &MinioFetcher{client: client, bucket: cfg.Bucket}, nil
}

// Fetch downloads the object at remotePath into localPath.
func (m *MinioFetcher) Fetch(ctx context.Context, remotePath, localPath string) error {
	err := m.client.FGetObject(ctx, m.bucket, remotePath, localPath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object %s: %w", remotePath, err)
	}
	return nil
}
