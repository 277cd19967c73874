// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/fileconv/pkg/types"
)

const partialSuffix = ".partial"

// FSStore writes objects under a local directory. Parts are written into a
// .partial file that is renamed into place once every part is present.
type FSStore struct {
	root       string
	partSize   int64
	maxRetries int
	ckpt       Checkpointer
	log        *slog.Logger
}

// FSOptions configures an FSStore.
type FSOptions struct {
	PartSize    int64
	MaxRetries  int
	Checkpoints Checkpointer
	Logger      *slog.Logger
}

// NewFSStore creates a store rooted at dir, creating the directory if needed.
func NewFSStore(dir string, opts FSOptions) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	if opts.PartSize <= 0 {
		opts.PartSize = DefaultPartSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FSStore{
		root:       dir,
		partSize:   opts.PartSize,
		maxRetries: opts.MaxRetries,
		ckpt:       opts.Checkpoints,
		log:        opts.Logger,
	}, nil
}

func (s *FSStore) Name() string { return string(types.StorageFS) }

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Upload(ctx context.Context, req UploadRequest) (types.BlobRef, error) {
	ckpt := checkpointsFor(s.ckpt, req)

	cp, err := ckpt.Load(ctx, req.Fingerprint)
	if err != nil {
		s.log.Warn("loading upload checkpoint", "fingerprint", req.Fingerprint, "error", err)
		cp = nil
	}

	var done []Part
	key := req.Key
	if cp != nil && cp.Backend == s.Name() && cp.Size == req.Size && cp.PartSize == s.partSize {
		if p, perr := s.path(cp.Key); perr == nil {
			if _, serr := os.Stat(p + partialSuffix); serr == nil {
				key = cp.Key
				done = cp.Parts
				s.log.Info("resuming upload", "key", key, "parts", len(done))
			}
		}
	}

	dest, err := s.path(key)
	if err != nil {
		return types.BlobRef{}, newError(s.Name(), "upload", key, err)
	}
	if done == nil {
		if err := ckpt.Save(ctx, Checkpoint{
			Fingerprint: req.Fingerprint,
			Backend:     s.Name(),
			Key:         key,
			Name:        req.Name,
			PartSize:    s.partSize,
			Size:        req.Size,
		}); err != nil {
			s.log.Warn("saving upload checkpoint", "key", key, "error", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return types.BlobRef{}, newError(s.Name(), "upload", key, err)
	}
	partial := dest + partialSuffix
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return types.BlobRef{}, newError(s.Name(), "upload", key, err)
	}

	_, err = uploadParts(ctx, req, s.partSize, done, ckpt, s.maxRetries, s.log,
		func(ctx context.Context, _ int32, offset int64, data []byte) (string, error) {
			if _, err := f.WriteAt(data, offset); err != nil {
				return "", err
			}
			return "", f.Sync()
		})
	if err == nil {
		err = f.Truncate(req.Size)
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if !isCancel(err) {
			os.Remove(partial)
			ckpt.Remove(detached(ctx), req.Fingerprint)
		}
		return types.BlobRef{}, newError(s.Name(), "upload", key, err)
	}

	if err := os.Rename(partial, dest); err != nil {
		return types.BlobRef{}, newError(s.Name(), "upload", key, err)
	}
	if err := ckpt.Remove(detached(ctx), req.Fingerprint); err != nil {
		s.log.Warn("removing upload checkpoint", "key", key, "error", err)
	}

	return types.BlobRef{
		Backend:      s.Name(),
		Key:          key,
		Size:         req.Size,
		ContentType:  req.ContentType,
		OriginalName: req.Name,
	}, nil
}

func (s *FSStore) Open(_ context.Context, ref types.BlobRef) (io.ReadCloser, error) {
	p, err := s.path(ref.Key)
	if err != nil {
		return nil, newError(s.Name(), "open", ref.Key, err)
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrNotFound
		}
		return nil, newError(s.Name(), "open", ref.Key, err)
	}
	return f, nil
}

func (s *FSStore) Delete(_ context.Context, ref types.BlobRef) error {
	p, err := s.path(ref.Key)
	if err != nil {
		return newError(s.Name(), "delete", ref.Key, err)
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrNotFound
		}
		return newError(s.Name(), "delete", ref.Key, err)
	}
	return nil
}
