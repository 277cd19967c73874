// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package transfer orchestrates one file conversion at a time: it owns the
// selected file, its preview, the target format, and the downloadable
// result, and drives each attempt through upload and conversion.
//
// State moves Idle → Converting → Done or Error. Select returns to Idle
// from any state and cancels the attempt in flight; Reset does the same and
// also clears the file and format. Every attempt carries an ID, and results
// that arrive for an attempt that is no longer current are dropped.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/fileconv/internal/catalog"
	"github.com/pdiddy/fileconv/internal/convert"
	"github.com/pdiddy/fileconv/internal/localfile"
	"github.com/pdiddy/fileconv/internal/objurl"
	"github.com/pdiddy/fileconv/internal/preview"
	"github.com/pdiddy/fileconv/internal/storage"
	"github.com/pdiddy/fileconv/internal/upload"
	"github.com/pdiddy/fileconv/pkg/types"
)

var (
	// ErrInvalidRequest is returned by Convert when no file or format is set.
	ErrInvalidRequest = errors.New("a file and a target format are required")

	// ErrBusy is returned by Convert while an attempt is in flight.
	ErrBusy = errors.New("a conversion is already in progress")

	// ErrInvalidState is returned by Convert from Done or Error.
	ErrInvalidState = errors.New("reset before converting again")

	// ErrUnknownFormat is returned by SetFormat for codes missing from the catalog.
	ErrUnknownFormat = errors.New("unknown target format")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transfer closed")

	// ErrUpload wraps the cause of a failed upload.
	ErrUpload = errors.New("upload failed")

	// ErrConversion wraps the cause of a failed conversion.
	ErrConversion = errors.New("conversion failed")
)

// Deps are the collaborators a Machine drives. They are shared and
// read-only; the Machine never reconfigures them.
type Deps struct {
	Catalog   *catalog.Catalog
	Store     storage.Store
	Converter convert.Converter
	Handles   *objurl.Registry

	// Previews is optional. Without it no preview is generated.
	Previews *preview.Generator

	Logger *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithKeyFunc overrides how destination keys are derived from file names.
func WithKeyFunc(fn func(name string) string) Option {
	return func(m *Machine) { m.keyFor = fn }
}

// WithObserver registers fn to receive every snapshot synchronously, in
// commit order. fn runs with the Machine locked and must not call it.
func WithObserver(fn func(types.Snapshot)) Option {
	return func(m *Machine) { m.observers = append(m.observers, fn) }
}

// attempt is one Convert call in flight.
type attempt struct {
	id      string
	cancel  context.CancelFunc
	session *upload.Session
	file    *localfile.File

	// Guarded by Machine.mu. A file replaced while the attempt may still be
	// reading it is closed by the attempt when it exits.
	closeFile bool
	exited    bool
}

// Machine is the transfer state machine. All methods are safe for
// concurrent use.
type Machine struct {
	deps      Deps
	log       *slog.Logger
	keyFor    func(name string) string
	observers []func(types.Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	state     types.State
	file      *localfile.File
	format    *types.Format
	progress  float64
	attempt   *attempt
	attemptID string
	errText   string

	preview    *preview.Artifact
	previewErr string
	previewGen uint64

	download     *objurl.Handle
	downloadInfo *types.Download

	subs    map[int]chan types.Snapshot
	nextSub int
}

// New returns an idle Machine.
func New(deps Deps, opts ...Option) *Machine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Handles == nil {
		deps.Handles = objurl.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		deps:   deps,
		log:    deps.Logger,
		keyFor: func(name string) string { return upload.DestinationKey(time.Now(), name) },
		ctx:    ctx,
		cancel: cancel,
		state:  types.StateIdle,
		subs:   make(map[int]chan types.Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handles returns the registry holding preview and download objects.
func (m *Machine) Handles() *objurl.Registry { return m.deps.Handles }

// Catalog returns the format catalog used to validate SetFormat.
func (m *Machine) Catalog() *catalog.Catalog { return m.deps.Catalog }

// Select makes f the current file and returns to Idle. Any attempt in
// flight is cancelled and the previous file, preview, and result are
// released. The format is kept. The Machine takes ownership of f and
// closes it when it is replaced. A nil f clears the file.
func (m *Machine) Select(f *localfile.File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		if f != nil {
			f.Close()
		}
		return
	}

	a := m.abortLocked()
	m.releasePreviewLocked()
	m.releaseDownloadLocked()
	m.closeFileLocked(a, f)

	m.file = f
	m.state = types.StateIdle
	m.progress = 0
	m.attemptID = ""
	m.errText = ""

	if f != nil {
		m.log.Debug("file selected", "name", f.Name(), "size", f.Size(), "mime", f.MIMEType())
		m.startPreviewLocked(f)
	}
	m.publishLocked()
}

// SetFormat sets the target format by catalog code. The state is unchanged.
func (m *Machine) SetFormat(code string) error {
	format, ok := m.deps.Catalog.Lookup(code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, code)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.format = &format
	m.publishLocked()
	return nil
}

// Convert starts an attempt for the current file and format. It returns
// once the attempt is running; use Wait or Subscribe to follow it.
func (m *Machine) Convert() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClosed
	case m.state == types.StateConverting:
		return ErrBusy
	case m.state.IsFinished():
		return fmt.Errorf("%w: state is %s", ErrInvalidState, m.state)
	case m.file == nil || m.format == nil:
		return ErrInvalidRequest
	}

	ctx, cancel := context.WithCancel(m.ctx)
	a := &attempt{id: uuid.NewString(), cancel: cancel, file: m.file}
	a.session = upload.Start(ctx, m.deps.Store, upload.Request{
		File: m.file,
		Key:  m.keyFor(m.file.Name()),
	}, upload.WithLogger(m.log))
	m.attempt = a
	m.attemptID = a.id
	m.state = types.StateConverting
	m.progress = 0
	m.errText = ""
	m.releaseDownloadLocked()

	m.log.Info("conversion started",
		"attempt", a.id, "file", m.file.Name(), "format", m.format.Value, "backend", m.deps.Store.Name())
	m.publishLocked()

	m.wg.Add(1)
	go m.run(ctx, a, *m.format)
	return nil
}

// Reset cancels any attempt and returns to Idle with no file, no format,
// and no live handles. Calling it again has no further effect.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	a := m.abortLocked()
	m.releasePreviewLocked()
	m.releaseDownloadLocked()
	m.closeFileLocked(a, nil)

	m.file = nil
	m.format = nil
	m.state = types.StateIdle
	m.progress = 0
	m.attemptID = ""
	m.errText = ""
	m.publishLocked()
}

// Close cancels all work, releases every handle and file, closes
// subscriber channels, and waits for background goroutines to exit.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	a := m.abortLocked()
	m.cancel()
	m.releasePreviewLocked()
	m.releaseDownloadLocked()
	m.closeFileLocked(a, nil)
	m.file = nil
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// Snapshot returns the current view of the Machine.
func (m *Machine) Snapshot() types.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Download returns the result of the last successful attempt. It reports
// false unless the state is Done.
func (m *Machine) Download() (types.Download, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateDone || m.downloadInfo == nil {
		return types.Download{}, false
	}
	return *m.downloadInfo, true
}

// Subscribe returns a channel that receives the current snapshot and every
// later one. A subscriber that falls behind sees only the latest snapshot.
// The returned func unsubscribes; the channel is closed by it or by Close.
func (m *Machine) Subscribe() (<-chan types.Snapshot, func()) {
	ch := make(chan types.Snapshot, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				close(c)
				delete(m.subs, id)
			}
		})
	}
}

// Wait blocks until the state is Done or Error and returns that snapshot.
// It returns ErrInvalidState if the Machine is, or returns to, Idle, and
// ErrClosed if it is closed.
func (m *Machine) Wait(ctx context.Context) (types.Snapshot, error) {
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	var last types.Snapshot
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return last, ErrClosed
			}
			last = snap
			switch snap.State {
			case types.StateDone, types.StateError:
				return snap, nil
			case types.StateIdle:
				return snap, fmt.Errorf("%w: no conversion in progress", ErrInvalidState)
			}
		}
	}
}

// run drives one attempt: it drains the upload session, then requests the
// conversion. Every commit is dropped once a is no longer current.
func (m *Machine) run(ctx context.Context, a *attempt, format types.Format) {
	defer m.wg.Done()
	defer m.exit(a)
	defer a.cancel()

	f := a.file
	var (
		ref       types.BlobRef
		completed bool
		uploadErr error
	)
	for ev := range a.session.Events() {
		switch ev.Kind {
		case upload.EventProgress:
			p := ev.Progress
			m.commit(a, func() bool { return m.advanceLocked(p) })
		case upload.EventCompleted:
			ref, completed = ev.Ref, true
			m.commit(a, func() bool { return m.advanceLocked(100) })
		case upload.EventFailed:
			uploadErr = ev.Err
		}
	}
	if !completed {
		m.fail(a, fmt.Errorf("%w: %w", ErrUpload, uploadErr))
		return
	}
	if ctx.Err() != nil {
		m.discard(a, ref)
		m.fail(a, fmt.Errorf("%w: %w", ErrUpload, upload.ErrCanceled))
		return
	}

	art, err := m.deps.Converter.Convert(ctx, ref, format)
	if err != nil {
		m.fail(a, fmt.Errorf("%w: %w", ErrConversion, err))
		if ctx.Err() != nil {
			m.discard(a, ref)
		}
		return
	}

	done := m.commit(a, func() bool {
		name := localfile.DownloadName(f.Name(), format)
		m.releaseDownloadLocked()
		m.download = m.deps.Handles.Create(objurl.Object{
			Name:        name,
			ContentType: art.ContentType,
			Size:        art.Size(),
			Content:     bytes.NewReader(art.Data),
			Attachment:  true,
		})
		m.downloadInfo = &types.Download{
			URL:         m.download.URL(),
			Filename:    name,
			ContentType: art.ContentType,
			Size:        art.Size(),
		}
		m.progress = 100
		m.state = types.StateDone
		m.attempt = nil
		m.log.Info("conversion finished", "attempt", a.id, "download", name, "size", art.Size())
		return true
	})
	if !done {
		m.discard(a, ref)
	}
}

// exit marks a as finished and closes its file if it was replaced meanwhile.
func (m *Machine) exit(a *attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.exited = true
	if a.closeFile {
		a.file.Close()
	}
}

// discard deletes the uploaded source of an attempt that was superseded.
func (m *Machine) discard(a *attempt, ref types.BlobRef) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.deps.Store.Delete(ctx, ref); err != nil {
		m.log.Warn("removing upload of superseded attempt", "attempt", a.id, "key", a.session.Key(), "error", err)
		return
	}
	m.log.Debug("removed upload of superseded attempt", "attempt", a.id, "key", ref.Key)
}

// fail moves the current attempt to Error.
func (m *Machine) fail(a *attempt, err error) {
	committed := m.commit(a, func() bool {
		m.state = types.StateError
		m.errText = err.Error()
		m.attempt = nil
		m.releaseDownloadLocked()
		return true
	})
	if committed {
		m.log.Warn("conversion attempt failed", "attempt", a.id, "error", err)
	} else {
		m.log.Debug("dropping result of superseded attempt", "attempt", a.id, "error", err)
	}
}

// commit applies fn if a is still the current attempt and publishes when
// fn reports a change. It reports whether a was current.
func (m *Machine) commit(a *attempt, fn func() bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.attempt != a {
		return false
	}
	if fn() {
		m.publishLocked()
	}
	return true
}

// advanceLocked raises progress to p, clamped to [0, 100].
func (m *Machine) advanceLocked(p float64) bool {
	p = min(max(p, 0), 100)
	if p <= m.progress {
		return false
	}
	m.progress = p
	return true
}

// abortLocked cancels the attempt in flight, if any, and returns it.
func (m *Machine) abortLocked() *attempt {
	a := m.attempt
	if a == nil {
		return nil
	}
	m.log.Info("conversion cancelled", "attempt", a.id)
	a.session.Cancel()
	a.cancel()
	m.attempt = nil
	return a
}

// closeFileLocked closes the current file unless it is keep. When the
// aborted attempt a may still be reading it, the close is left to a.
func (m *Machine) closeFileLocked(a *attempt, keep *localfile.File) {
	f := m.file
	if f == nil || f == keep {
		return
	}
	if a != nil && a.file == f && !a.exited {
		a.closeFile = true
		return
	}
	f.Close()
}

func (m *Machine) startPreviewLocked(f *localfile.File) {
	if m.deps.Previews == nil {
		return
	}
	m.previewGen++
	gen := m.previewGen

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		art, err := m.deps.Previews.Generate(m.ctx, f)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.previewGen != gen {
			art.Release()
			return
		}
		if err != nil {
			m.log.Warn("preview unavailable", "file", f.Name(), "error", err)
			m.previewErr = err.Error()
		} else {
			m.preview = art
		}
		m.publishLocked()
	}()
}

// releasePreviewLocked revokes the current preview and invalidates any
// preview still being generated.
func (m *Machine) releasePreviewLocked() {
	m.previewGen++
	m.preview.Release()
	m.preview = nil
	m.previewErr = ""
}

func (m *Machine) releaseDownloadLocked() {
	m.download.Revoke()
	m.download = nil
	m.downloadInfo = nil
}

func (m *Machine) snapshotLocked() types.Snapshot {
	snap := types.Snapshot{
		State:        m.state,
		Attempt:      m.attemptID,
		Progress:     m.progress,
		Preview:      m.preview.Info(),
		PreviewError: m.previewErr,
		Error:        m.errText,
	}
	if m.file != nil {
		info := m.file.Info()
		snap.File = &info
	}
	if m.format != nil {
		format := *m.format
		snap.Format = &format
	}
	if m.downloadInfo != nil {
		d := *m.downloadInfo
		snap.Download = &d
	}
	return snap
}

// publishLocked delivers the current snapshot to observers and subscribers.
// A full subscriber channel has its stale snapshot replaced.
func (m *Machine) publishLocked() {
	snap := m.snapshotLocked()
	for _, fn := range m.observers {
		fn(snap)
	}
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
