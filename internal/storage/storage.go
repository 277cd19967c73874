// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package storage implements the upload boundary: a Store accepts a file's
// bytes under a destination key and reports progress while it writes. The
// fs and s3 backends upload in parts and record checkpoints so an
// interrupted upload can resume; minio and nats delegate chunking to their
// client libraries.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pdiddy/fileconv/pkg/types"
)

// DefaultPartSize is the chunk size used when none is configured.
const DefaultPartSize int64 = 5 * 1024 * 1024

// ErrNotFound is returned when an object does not exist in the backend.
var ErrNotFound = errors.New("object not found")

// ProgressFunc receives the number of bytes durably written so far and the
// total size. Calls are made from the uploading goroutine in order.
type ProgressFunc func(transferred, total int64)

// UploadRequest describes one object to upload.
type UploadRequest struct {
	// Key is the destination key. A resumed upload keeps the key it started with.
	Key string

	// Name is the original filename, recorded in the returned BlobRef.
	Name string

	Content     io.ReaderAt
	Size        int64
	ContentType string

	// Fingerprint identifies the content for checkpoint lookup. Empty
	// disables resumption for this request.
	Fingerprint string

	Progress ProgressFunc
}

func (r UploadRequest) report(transferred int64) {
	if r.Progress != nil {
		r.Progress(transferred, r.Size)
	}
}

// Store is a blob storage backend.
type Store interface {
	// Name returns the backend name recorded in BlobRefs.
	Name() string

	// Upload writes the request's content. Cancelling ctx stops the upload
	// and returns an error wrapping ctx.Err(); resumable backends keep their
	// checkpoint in that case.
	Upload(ctx context.Context, req UploadRequest) (types.BlobRef, error)

	// Open returns a reader over a stored object.
	Open(ctx context.Context, ref types.BlobRef) (io.ReadCloser, error)

	// Delete removes a stored object.
	Delete(ctx context.Context, ref types.BlobRef) error
}

// Error carries the backend operation and key that failed.
type Error struct {
	Op      string
	Backend string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s.%s %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func newError(backend, op, key string, err error) *Error {
	return &Error{Op: op, Backend: backend, Key: key, Err: err}
}

// Part is one uploaded chunk.
type Part struct {
	Number int32  `json:"number" yaml:"number"`
	Size   int64  `json:"size" yaml:"size"`
	ETag   string `json:"etag,omitempty" yaml:"etag,omitempty"`
}

// Checkpoint records the progress of a resumable upload.
type Checkpoint struct {
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	Backend     string    `json:"backend" yaml:"backend"`
	Key         string    `json:"key" yaml:"key"`
	Name        string    `json:"name" yaml:"name"`
	UploadID    string    `json:"upload_id,omitempty" yaml:"upload_id,omitempty"`
	PartSize    int64     `json:"part_size" yaml:"part_size"`
	Size        int64     `json:"size" yaml:"size"`
	Parts       []Part    `json:"parts,omitempty" yaml:"parts,omitempty"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Transferred returns the number of bytes covered by recorded parts.
func (c *Checkpoint) Transferred() int64 {
	var n int64
	for _, p := range c.Parts {
		n += p.Size
	}
	return n
}

// Checkpointer persists upload checkpoints keyed by content fingerprint.
type Checkpointer interface {
	// Load returns the checkpoint for fingerprint, or nil when none exists.
	Load(ctx context.Context, fingerprint string) (*Checkpoint, error)

	// Save creates or replaces the checkpoint header. Recorded parts are
	// kept when the backend, key, and upload ID are unchanged.
	Save(ctx context.Context, cp Checkpoint) error

	// AddPart records a completed part.
	AddPart(ctx context.Context, fingerprint string, p Part) error

	// Remove deletes the checkpoint and its parts.
	Remove(ctx context.Context, fingerprint string) error
}

// MemoryCheckpointer keeps checkpoints in process memory. It resumes
// uploads within one process only.
type MemoryCheckpointer struct {
	mu  sync.Mutex
	cps map[string]*Checkpoint
}

// NewMemoryCheckpointer returns an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{cps: make(map[string]*Checkpoint)}
}

func (m *MemoryCheckpointer) Load(_ context.Context, fingerprint string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[fingerprint]
	if !ok {
		return nil, nil
	}
	out := *cp
	out.Parts = append([]Part(nil), cp.Parts...)
	return &out, nil
}

func (m *MemoryCheckpointer) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.cps[cp.Fingerprint]; ok &&
		old.Backend == cp.Backend && old.Key == cp.Key && old.UploadID == cp.UploadID {
		cp.Parts = old.Parts
	} else {
		cp.Parts = nil
	}
	cp.UpdatedAt = time.Now().UTC()
	m.cps[cp.Fingerprint] = &cp
	return nil
}

func (m *MemoryCheckpointer) AddPart(_ context.Context, fingerprint string, p Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[fingerprint]
	if !ok {
		return fmt.Errorf("no checkpoint for %s", fingerprint)
	}
	for i, existing := range cp.Parts {
		if existing.Number == p.Number {
			cp.Parts[i] = p
			return nil
		}
	}
	cp.Parts = append(cp.Parts, p)
	cp.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryCheckpointer) Remove(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, fingerprint)
	return nil
}

// Len returns the number of stored checkpoints.
func (m *MemoryCheckpointer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cps)
}

// noCheckpoints is used when a request carries no fingerprint.
type noCheckpoints struct{}

func (noCheckpoints) Load(context.Context, string) (*Checkpoint, error) { return nil, nil }
func (noCheckpoints) Save(context.Context, Checkpoint) error            { return nil }
func (noCheckpoints) AddPart(context.Context, string, Part) error       { return nil }
func (noCheckpoints) Remove(context.Context, string) error              { return nil }

func checkpointsFor(c Checkpointer, req UploadRequest) Checkpointer {
	if c == nil || req.Fingerprint == "" {
		return noCheckpoints{}
	}
	return c
}

// bookkeeping writes to the checkpointer must survive a cancelled upload.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// isCancel reports whether err stems from the caller cancelling the upload.
func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
