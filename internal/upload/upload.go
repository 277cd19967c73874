// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package upload runs one resumable upload of a selected file and reports
// it as an ordered stream of events: a Progress(0) event first,
// non-decreasing progress after that, and exactly one terminal event.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/fileconv/internal/localfile"
	"github.com/pdiddy/fileconv/internal/storage"
	"github.com/pdiddy/fileconv/pkg/types"
)

// ErrCanceled is the failure reported when an upload is cancelled.
var ErrCanceled = errors.New("upload canceled")

// EventKind distinguishes progress from terminal events.
type EventKind int

const (
	EventProgress EventKind = iota
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one item of a session's event stream.
type Event struct {
	Kind EventKind

	// Progress is the completed percentage in [0, 100].
	Progress float64

	// Ref is set on EventCompleted.
	Ref types.BlobRef

	// Err is set on EventFailed.
	Err error
}

// Request describes the upload to start.
type Request struct {
	File *localfile.File

	// Key is the destination key. Empty uses DestinationKey.
	Key string
}

// Session is a single upload in flight.
type Session struct {
	key    string
	events chan Event
	cancel context.CancelFunc
	log    *slog.Logger

	mu       sync.Mutex
	terminal bool
	canceled bool
}

// Option configures a session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Start begins uploading req.File to store. The caller must receive from
// Events until the channel is closed.
func Start(ctx context.Context, store storage.Store, req Request, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(ctx)
	key := req.Key
	if key == "" {
		key = DestinationKey(time.Now(), req.File.Name())
	}

	s := &Session{
		key:    key,
		events: make(chan Event, 16),
		cancel: cancel,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run(ctx, store, req.File)
	return s
}

// Key returns the destination key the upload was started with.
func (s *Session) Key() string { return s.key }

// Events returns the ordered event stream. It is closed after the terminal event.
func (s *Session) Events() <-chan Event { return s.events }

// Cancel stops the upload. Before the outcome is decided the session fails
// with ErrCanceled and removes anything the store wrote; afterwards Cancel
// has no effect. Cancelling the context passed to Start behaves the same.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.terminal {
		s.canceled = true
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) run(ctx context.Context, store storage.Store, f *localfile.File) {
	defer s.cancel()
	defer close(s.events)

	var (
		progressMu sync.Mutex
		last       float64
	)
	emit := func(p float64) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if p > 100 {
			p = 100
		}
		if p <= last {
			return
		}
		last = p
		select {
		case s.events <- Event{Kind: EventProgress, Progress: p}:
		case <-ctx.Done():
		}
	}
	s.events <- Event{Kind: EventProgress, Progress: 0}

	s.log.Debug("upload started", "key", s.key, "backend", store.Name(), "size", f.Size())
	ref, err := store.Upload(ctx, storage.UploadRequest{
		Key:         s.key,
		Name:        f.Name(),
		Content:     f,
		Size:        f.Size(),
		ContentType: f.MIMEType(),
		Fingerprint: f.Fingerprint(),
		Progress: func(transferred, total int64) {
			if total > 0 {
				emit(float64(transferred) / float64(total) * 100)
			}
		},
	})

	s.mu.Lock()
	canceled := s.canceled || ctx.Err() != nil
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		err = fmt.Errorf("%w: %v", ErrCanceled, err)
	case canceled:
		err = ErrCanceled
	}
	s.terminal = true
	s.mu.Unlock()
	if canceled && ref.Key != "" {
		s.discard(store, ref)
	}

	if err != nil {
		s.log.Info("upload failed", "key", s.key, "error", err)
		s.events <- Event{Kind: EventFailed, Err: err}
		return
	}

	s.log.Debug("upload completed", "key", ref.Key, "size", ref.Size)
	progressMu.Lock()
	final := last < 100
	progressMu.Unlock()
	if final {
		s.events <- Event{Kind: EventProgress, Progress: 100}
	}
	s.events <- Event{Kind: EventCompleted, Progress: 100, Ref: ref}
}

// discard removes an object whose upload finished after cancellation.
func (s *Session) discard(store storage.Store, ref types.BlobRef) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Delete(ctx, ref); err != nil {
		s.log.Warn("removing cancelled upload", "key", ref.Key, "error", err)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName reduces name to a safe object-key component.
func SanitizeName(name string) string {
	base := unsafeChars.ReplaceAllString(filepath.Base(name), "_")
	if base == "" || base == "." || base == ".." || base == "_" {
		return "file"
	}
	return base
}

// DestinationKey returns a collision-resistant key for name:
// uploads/<unix-millis>-<random>-<sanitized name>.
func DestinationKey(now time.Time, name string) string {
	id := uuid.New()
	return fmt.Sprintf("uploads/%d-%x-%s", now.UnixMilli(), id[:4], SanitizeName(name))
}
