package infrastructure

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/yourusername/ytdl-go/internal/domain"
	"go.uber.org/zap"
)

// S3Storage keeps converted files in an S3 compatible bucket
type S3Storage struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Storage connects to the object store and creates the bucket if missing
func NewS3Storage(ctx context.Context, config domain.S3Config, logger *zap.Logger) (*S3Storage, error) {
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket must be configured")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", config.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", config.Bucket, err)
		}
		logger.Info("Created bucket", zap.String("bucket", config.Bucket))
	}

	return &S3Storage{
		client: client,
		bucket: config.Bucket,
		prefix: config.Prefix,
		logger: logger,
	}, nil
}

func (s *S3Storage) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// SaveDownloadFromFile uploads path and removes the local copy
func (s *S3Storage) SaveDownloadFromFile(ctx context.Context, download *domain.Download, filePath string) (string, error) {
	key := storageKey(download)
	_, err := s.client.FPutObject(ctx, s.bucket, s.objectName(key), filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"media-id":  download.MediaID,
			"client-id": download.ClientID,
		},
	})
	if err != nil {
		return "", domain.NewExternalServiceError(domain.CodeNetworkError,
			fmt.Errorf("failed to upload %s: %w", key, err))
	}

	if err := os.Remove(filePath); err != nil {
		s.logger.Warn("Failed to remove uploaded file", zap.String("path", filePath), zap.Error(err))
	}
	return key, nil
}

// GetDownload streams an object from the bucket
func (s *S3Storage) GetDownload(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, s.translate(key, err)
	}

	// GetObject is lazy; Stat surfaces a missing key
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, s.translate(key, err)
	}
	return obj, info.Size, nil
}

// RemoveDownload deletes an object. Missing objects are ignored.
func (s *S3Storage) RemoveDownload(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return domain.NewExternalServiceError(domain.CodeNetworkError,
			fmt.Errorf("failed to remove %s: %w", key, err))
	}
	return nil
}

func (s *S3Storage) translate(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return domain.ErrStoredFileNotFound
	}
	return domain.NewExternalServiceError(domain.CodeNetworkError,
		fmt.Errorf("failed to read %s: %w", key, err))
}
