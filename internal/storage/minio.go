// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pdiddy/fileconv/pkg/types"
)

// minioAPI is the subset of *minio.Client used by MinioStore.
type minioAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// MinioStore uploads objects to a MinIO bucket. The client splits large
// objects into parts itself; progress is observed through its hook reader.
type MinioStore struct {
	client   minioAPI
	bucket   string
	partSize int64
}

// NewMinioClient connects to a MinIO endpoint with static credentials.
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client for %s: %w", endpoint, err)
	}
	return client, nil
}

// NewMinioStore wraps client for bucket.
func NewMinioStore(client minioAPI, bucket string, partSize int64) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, partSize: partSize}
}

func (s *MinioStore) Name() string { return string(types.StorageMinio) }

// EnsureBucket creates the bucket when it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return newError(s.Name(), "bucketExists", s.bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return newError(s.Name(), "makeBucket", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, req UploadRequest) (types.BlobRef, error) {
	req.report(0)
	progress := &progressReader{req: req}

	opts := minio.PutObjectOptions{
		ContentType: req.ContentType,
		Progress:    progress,
	}
	if s.partSize > 0 {
		opts.PartSize = uint64(s.partSize)
	}
	info, err := s.client.PutObject(ctx, s.bucket, req.Key,
		io.NewSectionReader(req.Content, 0, req.Size), req.Size, opts)
	if err != nil {
		return types.BlobRef{}, newError(s.Name(), "putObject", req.Key, err)
	}
	if progress.sent.Load() < req.Size {
		req.report(req.Size)
	}

	return types.BlobRef{
		Backend:      s.Name(),
		Key:          req.Key,
		Size:         info.Size,
		ContentType:  req.ContentType,
		OriginalName: req.Name,
		ETag:         info.ETag,
	}, nil
}

func (s *MinioStore) Open(ctx context.Context, ref types.BlobRef) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, newError(s.Name(), "getObject", ref.Key, err)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, ref types.BlobRef) error {
	if err := s.client.RemoveObject(ctx, s.bucket, ref.Key, minio.RemoveObjectOptions{}); err != nil {
		return newError(s.Name(), "removeObject", ref.Key, err)
	}
	return nil
}

// progressReader receives the bytes the minio client has sent and turns
// them into progress reports, capped at the request size.
type progressReader struct {
	req  UploadRequest
	sent atomic.Int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := p.sent.Add(int64(len(b)))
	if n > p.req.Size {
		n = p.req.Size
	}
	p.req.report(n)
	return len(b), nil
}
