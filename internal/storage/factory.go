// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pdiddy/fileconv/pkg/types"
)

// Secret names read from the secrets directory.
const (
	SecretS3AccessKeyID     = "s3-access-key-id"
	SecretS3SecretAccessKey = "s3-secret-access-key"
	SecretMinioAccessKey    = "minio-access-key"
	SecretMinioSecretKey    = "minio-secret-key"
	SecretNATSToken         = "nats-token"
)

// New builds the store selected by cfg.Backend. Stores that hold a
// connection also implement io.Closer.
func New(ctx context.Context, cfg types.StorageConfig, secrets map[string]string, ckpt Checkpointer, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	switch cfg.Backend {
	case types.StorageFS, "":
		s, err := NewFSStore(cfg.Dir, FSOptions{
			PartSize:    cfg.PartSize,
			MaxRetries:  cfg.MaxRetries,
			Checkpoints: ckpt,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case types.StorageS3:
		client, err := NewS3Client(ctx, cfg.Region, cfg.Endpoint, S3Credentials{
			AccessKeyID:     secrets[SecretS3AccessKeyID],
			SecretAccessKey: secrets[SecretS3SecretAccessKey],
		})
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, S3Options{
			Bucket:      cfg.Bucket,
			PartSize:    cfg.PartSize,
			MaxRetries:  cfg.MaxRetries,
			Checkpoints: ckpt,
			Logger:      log,
		}), nil

	case types.StorageMinio:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("storage backend minio requires an endpoint")
		}
		client, err := NewMinioClient(cfg.Endpoint, secrets[SecretMinioAccessKey], secrets[SecretMinioSecretKey], cfg.UseSSL)
		if err != nil {
			return nil, err
		}
		s := NewMinioStore(client, cfg.Bucket, cfg.PartSize)
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil

	case types.StorageNATS:
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("storage backend nats requires nats_url")
		}
		s, err := DialNATS(ctx, cfg.NATSURL, cfg.Bucket, secrets[SecretNATSToken])
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
