// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pdiddy/fileconv/pkg/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket      string
	PartSize    int64
	MaxRetries  int
	Checkpoints Checkpointer
	Logger      *slog.Logger
}

// S3Store uploads objects to an S3 bucket. Files larger than one part use
// an explicit multipart upload whose ID is checkpointed, so a cancelled
// upload resumes with the parts S3 already holds.
type S3Store struct {
	client     S3API
	bucket     string
	partSize   int64
	maxRetries int
	ckpt       Checkpointer
	log        *slog.Logger
}

// S3Credentials are static keys used instead of the default credential chain.
type S3Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client from the default AWS configuration.
// A non-empty endpoint switches to path-style addressing for S3-compatible
// services.
func NewS3Client(ctx context.Context, region, endpoint string, creds S3Credentials) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var s3Opts []func(*s3.Options)
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(cfg, s3Opts...), nil
}

// NewS3Store wraps client for the given bucket.
func NewS3Store(client S3API, opts S3Options) *S3Store {
	if opts.PartSize <= 0 {
		opts.PartSize = DefaultPartSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &S3Store{
		client:     client,
		bucket:     opts.Bucket,
		partSize:   opts.PartSize,
		maxRetries: opts.MaxRetries,
		ckpt:       opts.Checkpoints,
		log:        opts.Logger,
	}
}

func (s *S3Store) Name() string { return string(types.StorageS3) }

func (s *S3Store) Upload(ctx context.Context, req UploadRequest) (types.BlobRef, error) {
	if req.Size <= s.partSize {
		return s.putObject(ctx, req)
	}
	return s.multipart(ctx, req)
}

func (s *S3Store) putObject(ctx context.Context, req UploadRequest) (types.BlobRef, error) {
	req.report(0)
	etag, err := putWithRetry(ctx, 1, 0, nil, s.maxRetries, s.log,
		func(ctx context.Context, _ int32, _ int64, _ []byte) (string, error) {
			out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(req.Key),
				Body:          io.NewSectionReader(req.Content, 0, req.Size),
				ContentLength: aws.Int64(req.Size),
				ContentType:   contentType(req.ContentType),
			})
			if err != nil {
				return "", err
			}
			return aws.ToString(out.ETag), nil
		})
	if err != nil {
		return types.BlobRef{}, newError(s.Name(), "putObject", req.Key, err)
	}
	req.report(req.Size)
	return s.ref(req, req.Key, etag), nil
}

func (s *S3Store) multipart(ctx context.Context, req UploadRequest) (types.BlobRef, error) {
	ckpt := checkpointsFor(s.ckpt, req)

	key, uploadID, done := s.resume(ctx, ckpt, req)
	if uploadID == "" {
		out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			ContentType: contentType(req.ContentType),
		})
		if err != nil {
			return types.BlobRef{}, newError(s.Name(), "createMultipartUpload", key, err)
		}
		uploadID = aws.ToString(out.UploadId)
		if err := ckpt.Save(ctx, Checkpoint{
			Fingerprint: req.Fingerprint,
			Backend:     s.Name(),
			Key:         key,
			Name:        req.Name,
			UploadID:    uploadID,
			PartSize:    s.partSize,
			Size:        req.Size,
		}); err != nil {
			s.log.Warn("saving upload checkpoint", "key", key, "error", err)
		}
	}

	parts, err := uploadParts(ctx, req, s.partSize, done, ckpt, s.maxRetries, s.log,
		func(ctx context.Context, num int32, _ int64, data []byte) (string, error) {
			out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(key),
				UploadId:      aws.String(uploadID),
				PartNumber:    aws.Int32(num),
				Body:          bytes.NewReader(data),
				ContentLength: aws.Int64(int64(len(data))),
			})
			if err != nil {
				return "", err
			}
			return aws.ToString(out.ETag), nil
		})
	if err != nil {
		if !isCancel(err) {
			s.abort(ctx, ckpt, req.Fingerprint, key, uploadID)
		}
		return types.BlobRef{}, newError(s.Name(), "uploadPart", key, err)
	}

	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		}
	}
	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		if !isCancel(err) {
			s.abort(ctx, ckpt, req.Fingerprint, key, uploadID)
		}
		return types.BlobRef{}, newError(s.Name(), "completeMultipartUpload", key, err)
	}

	if err := ckpt.Remove(detached(ctx), req.Fingerprint); err != nil {
		s.log.Warn("removing upload checkpoint", "key", key, "error", err)
	}
	return s.ref(req, key, aws.ToString(out.ETag)), nil
}

// resume returns the key, upload ID, and completed parts of a checkpointed
// multipart upload that S3 still knows about. The part list comes from S3.
func (s *S3Store) resume(ctx context.Context, ckpt Checkpointer, req UploadRequest) (string, string, []Part) {
	cp, err := ckpt.Load(ctx, req.Fingerprint)
	if err != nil {
		s.log.Warn("loading upload checkpoint", "fingerprint", req.Fingerprint, "error", err)
		return req.Key, "", nil
	}
	if cp == nil || cp.Backend != s.Name() || cp.UploadID == "" ||
		cp.Size != req.Size || cp.PartSize != s.partSize {
		return req.Key, "", nil
	}

	var parts []Part
	var marker *string
	for {
		out, err := s.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(s.bucket),
			Key:              aws.String(cp.Key),
			UploadId:         aws.String(cp.UploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			s.log.Info("checkpointed upload no longer available, starting over", "key", cp.Key, "error", err)
			ckpt.Remove(detached(ctx), req.Fingerprint)
			return req.Key, "", nil
		}
		for _, p := range out.Parts {
			parts = append(parts, Part{
				Number: aws.ToInt32(p.PartNumber),
				Size:   aws.ToInt64(p.Size),
				ETag:   aws.ToString(p.ETag),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		marker = out.NextPartNumberMarker
	}

	s.log.Info("resuming multipart upload", "key", cp.Key, "parts", len(parts))
	return cp.Key, cp.UploadID, parts
}

// abort discards a multipart upload. Errors are logged; the upload already failed.
func (s *S3Store) abort(ctx context.Context, ckpt Checkpointer, fingerprint, key, uploadID string) {
	ctx = detached(ctx)
	if _, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}); err != nil {
		s.log.Warn("aborting multipart upload", "key", key, "error", err)
	}
	ckpt.Remove(ctx, fingerprint)
}

func (s *S3Store) ref(req UploadRequest, key, etag string) types.BlobRef {
	return types.BlobRef{
		Backend:      s.Name(),
		Key:          key,
		Size:         req.Size,
		ContentType:  req.ContentType,
		OriginalName: req.Name,
		ETag:         etag,
	}
}

func (s *S3Store) Open(ctx context.Context, ref types.BlobRef) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			err = ErrNotFound
		}
		return nil, newError(s.Name(), "getObject", ref.Key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, ref types.BlobRef) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Key),
	}); err != nil {
		return newError(s.Name(), "deleteObject", ref.Key, err)
	}
	return nil
}

func contentType(ct string) *string {
	if ct == "" {
		return nil
	}
	return aws.String(ct)
}
