// Package storage ships database snapshots to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinioStore uploads files into one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *zerolog.Logger) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "offsite").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// ObjectName is the key a local snapshot is stored under.
func ObjectName(prefix, file string) string {
	name := filepath.Base(file)
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Upload copies the file at localPath into the bucket.
func (s *MinioStore) Upload(ctx context.Context, localPath string) error {
	object := ObjectName(s.prefix, localPath)
	info, err := s.client.FPutObject(ctx, s.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", object, err)
	}
	s.logger.Info().Str("object", object).Int64("size", info.Size).Msg("snapshot uploaded")
	return nil
}
