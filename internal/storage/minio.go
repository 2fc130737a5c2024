package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds the connection settings of an object store
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOStorage stores covers as objects in a MinIO or S3 bucket
type MinIOStorage struct {
	client *minio.Client
	bucket string
}

// NewMinIOStorage connects to the object store and creates the bucket if needed
func NewMinIOStorage(ctx context.Context, cfg MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIOStorage{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func coverKey(bookID string) string {
	return "covers/" + bookID
}

// SaveCover uploads a cover. The object only becomes visible once the
// upload completes, so readers never see a partial image.
func (s *MinIOStorage) SaveCover(ctx context.Context, bookID string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, coverKey(bookID), r, -1, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return fmt.Errorf("failed to upload to minio: %w", err)
	}
	return nil
}

// OpenCover streams a cover from the bucket
func (s *MinIOStorage) OpenCover(ctx context.Context, bookID string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, coverKey(bookID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key
	if _, err := object.Stat(); err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrCoverNotFound
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return object, nil
}

// DeleteCover removes a cover object
func (s *MinIOStorage) DeleteCover(ctx context.Context, bookID string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, coverKey(bookID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
