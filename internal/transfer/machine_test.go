// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fileconv/internal/catalog"
	"github.com/pdiddy/fileconv/internal/convert"
	"github.com/pdiddy/fileconv/internal/localfile"
	"github.com/pdiddy/fileconv/internal/objurl"
	"github.com/pdiddy/fileconv/internal/preview"
	"github.com/pdiddy/fileconv/internal/storage"
	"github.com/pdiddy/fileconv/pkg/types"
)

const waitFor = 2 * time.Second

// fakeStore keeps uploads in memory. Progress reports each of steps in
// order; a non-nil gate holds the upload until it is closed or, unless
// ignoreCtx is set, ctx ends.
type fakeStore struct {
	steps     []int64
	err       error
	gate      chan struct{}
	ignoreCtx bool

	mu       sync.Mutex
	objects  map[string][]byte
	keys     []string
	readErrs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Name() string { return "memory" }

func (s *fakeStore) Upload(ctx context.Context, req storage.UploadRequest) (types.BlobRef, error) {
	s.mu.Lock()
	s.keys = append(s.keys, req.Key)
	s.mu.Unlock()

	for _, n := range s.steps {
		req.Progress(n, req.Size)
	}
	if s.gate != nil && s.ignoreCtx {
		<-s.gate
	} else if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return types.BlobRef{}, ctx.Err()
		}
	}
	if s.err != nil {
		return types.BlobRef{}, s.err
	}

	data, err := io.ReadAll(io.NewSectionReader(req.Content, 0, req.Size))
	if err != nil {
		s.mu.Lock()
		s.readErrs = append(s.readErrs, err)
		s.mu.Unlock()
		return types.BlobRef{}, err
	}
	s.mu.Lock()
	s.objects[req.Key] = data
	s.mu.Unlock()
	return types.BlobRef{
		Backend:      s.Name(),
		Key:          req.Key,
		Size:         req.Size,
		ContentType:  req.ContentType,
		OriginalName: req.Name,
	}, nil
}

func (s *fakeStore) Open(_ context.Context, ref types.BlobRef) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[ref.Key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) objectKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

func (s *fakeStore) Delete(_ context.Context, ref types.BlobRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, ref.Key)
	return nil
}

// fakeConverter returns a fixed artifact. A non-nil gate holds the call
// until it is closed; unless stubborn, a cancelled ctx releases it early.
type fakeConverter struct {
	err      error
	gate     chan struct{}
	stubborn bool

	calls   atomic.Int32
	entered chan struct{}
}

func (c *fakeConverter) Convert(ctx context.Context, ref types.BlobRef, target types.Format) (*convert.Artifact, error) {
	c.calls.Add(1)
	if c.entered != nil {
		close(c.entered)
	}
	if c.gate != nil {
		if c.stubborn {
			<-c.gate
		} else {
			select {
			case <-c.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &convert.Artifact{
		ContentType: "audio/mpeg",
		Data:        []byte("converted " + ref.OriginalName + " to " + target.Value),
	}, nil
}

// recorder collects every published snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []types.Snapshot
}

func (r *recorder) observe(s types.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []types.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Snapshot(nil), r.snaps...)
}

type harness struct {
	m        *Machine
	store    *fakeStore
	conv     *fakeConverter
	handles  *objurl.Registry
	recorder *recorder
}

func newHarness(t *testing.T, store *fakeStore, conv *fakeConverter, withPreviews bool) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		conv:     conv,
		handles:  objurl.NewRegistry(),
		recorder: &recorder{},
	}
	deps := Deps{
		Catalog:   catalog.Default(),
		Store:     store,
		Converter: conv,
		Handles:   h.handles,
	}
	if withPreviews {
		deps.Previews = preview.NewGenerator(h.handles, 0)
	}
	h.m = New(deps, WithObserver(h.recorder.observe))
	t.Cleanup(func() { h.m.Close() })
	return h
}

func notesFile() *localfile.File {
	return localfile.FromBytes("notes.txt", "text/plain", bytes.Repeat([]byte("a"), 2000))
}

func binFile(name string) *localfile.File {
	return localfile.FromBytes(name, "application/octet-stream", []byte("\x00\x01\x02\x03"))
}

func wait(t *testing.T, m *Machine) types.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	snap, err := m.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestConvert_Succeeds(t *testing.T) {
	store := newFakeStore()
	store.steps = []int64{500, 250, 1500, 2000}
	h := newHarness(t, store, &fakeConverter{}, true)

	h.m.Select(notesFile())
	require.NoError(t, h.m.SetFormat("mp3"))
	require.NoError(t, h.m.Convert())

	snap := wait(t, h.m)
	assert.Equal(t, types.StateDone, snap.State)
	assert.Equal(t, 100.0, snap.Progress)
	assert.NotEmpty(t, snap.Attempt)
	assert.Empty(t, snap.Error)

	d, ok := h.m.Download()
	require.True(t, ok)
	assert.Equal(t, "notes-converted.mp3", d.Filename)
	assert.Equal(t, "audio/mpeg", d.ContentType)
	assert.Equal(t, d, *snap.Download)

	obj, ok := h.handles.Resolve(d.URL)
	require.True(t, ok)
	assert.True(t, obj.Attachment)
	data, err := io.ReadAll(obj.Reader())
	require.NoError(t, err)
	assert.Equal(t, "converted notes.txt to mp3", string(data))

	assert.Len(t, store.keys, 1)
	assert.True(t, strings.HasPrefix(store.keys[0], "uploads/"))
	assert.True(t, strings.HasSuffix(store.keys[0], "-notes.txt"))
}

func TestConvert_ProgressIsMonotonicAndReaches100First(t *testing.T) {
	store := newFakeStore()
	store.steps = []int64{500, 250, 1500, 1500, 2000}
	h := newHarness(t, store, &fakeConverter{}, false)

	h.m.Select(notesFile())
	require.NoError(t, h.m.SetFormat("mp3"))
	require.NoError(t, h.m.Convert())
	wait(t, h.m)

	var converting []types.Snapshot
	var done int
	for _, s := range h.recorder.all() {
		switch s.State {
		case types.StateConverting:
			require.Zero(t, done, "converting snapshot after done")
			converting = append(converting, s)
		case types.StateDone:
			done++
		}
	}
	require.NotEmpty(t, converting)
	assert.Equal(t, 1, done)
	assert.Equal(t, 0.0, converting[0].Progress)
	assert.Equal(t, 100.0, converting[len(converting)-1].Progress)

	var progress []float64
	for i, s := range converting {
		progress = append(progress, s.Progress)
		if i > 0 {
			assert.GreaterOrEqual(t, s.Progress, converting[i-1].Progress)
		}
	}
	assert.Equal(t, []float64{0, 25, 75, 100}, progress)
}

func TestConvert_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, h *harness)
		wantErr   error
		wantState types.State
	}{
		{
			name:      "no file or format",
			setup:     func(*testing.T, *harness) {},
			wantErr:   ErrInvalidRequest,
			wantState: types.StateIdle,
		},
		{
			name: "no format",
			setup: func(_ *testing.T, h *harness) {
				h.m.Select(notesFile())
			},
			wantErr:   ErrInvalidRequest,
			wantState: types.StateIdle,
		},
		{
			name: "no file",
			setup: func(t *testing.T, h *harness) {
				require.NoError(t, h.m.SetFormat("mp3"))
			},
			wantErr:   ErrInvalidRequest,
			wantState: types.StateIdle,
		},
		{
			name: "already converting",
			setup: func(t *testing.T, h *harness) {
				h.store.gate = make(chan struct{})
				h.m.Select(notesFile())
				require.NoError(t, h.m.SetFormat("mp3"))
				require.NoError(t, h.m.Convert())
			},
			wantErr:   ErrBusy,
			wantState: types.StateConverting,
		},
		{
			name: "done needs reset",
			setup: func(t *testing.T, h *harness) {
				h.m.Select(notesFile())
				require.NoError(t, h.m.SetFormat("mp3"))
				require.NoError(t, h.m.Convert())
				wait(t, h.m)
			},
			wantErr:   ErrInvalidState,
			wantState: types.StateDone,
		},
		{
			name: "error needs reset",
			setup: func(t *testing.T, h *harness) {
				h.store.err = errors.New("connection refused")
				h.m.Select(notesFile())
				require.NoError(t, h.m.SetFormat("mp3"))
				require.NoError(t, h.m.Convert())
				wait(t, h.m)
			},
			wantErr:   ErrInvalidState,
			wantState: types.StateError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeStore(), &fakeConverter{}, false)
			tt.setup(t, h)
			before := len(h.recorder.all())

			err := h.m.Convert()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantState, h.m.Snapshot().State)
			assert.Len(t, h.recorder.all(), before, "rejected convert must not publish")
		})
	}
}

func TestConvert_UploadFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	conv := &fakeConverter{}
	h := newHarness(t, store, conv, false)

	h.m.Select(notesFile())
	require.NoError(t, h.m.SetFormat("mp3"))
	require.NoError(t, h.m.Convert())

	snap := wait(t, h.m)
	assert.Equal(t, types.StateError, snap.State)
	assert.Contains(t, snap.Error, "upload failed")
	assert.Contains(t, snap.Error, "connection refused")
	assert.Nil(t, snap.Download)
	assert.Zero(t, conv.calls.Load())

	_, ok := h.m.Download()
	assert.False(t, ok)
	assert.Zero(t, h.handles.Live())

	h.m.Reset()
	snap = h.m.Snapshot()
	assert.Equal(t, types.StateIdle, snap.State)
	assert.Empty(t, snap.Error)
}

func TestConvert_ConversionFailure(t *testing.T) {
	h := newHarness(t, newFakeStore(), &fakeConverter{err: convert.ErrUnsupportedTarget}, false)

	h.m.Select(notesFile())
	require.NoError(t, h.m.SetFormat("pdf"))
	require.NoError(t, h.m.Convert())

	snap := wait(t, h.m)
	assert.Equal(t, types.StateError, snap.State)
	assert.Contains(t, snap.Error, "conversion failed")
	assert.Equal(t, 100.0, snap.Progress)
	assert.Zero(t, h.handles.Live())
}

func TestReset_IsIdempotent(t *testing.T) {
	tests := []struct {
		name      string
		uploadErr error
	}{
		{name: "from done"},
		{name: "from error", uploadErr: errors.New("server rejected upload")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.err = tt.uploadErr
			h := newHarness(t, store, &fakeConverter{}, true)

			h.m.Select(localfile.FromBytes("cover.png", "image/png", []byte("\x89PNG")))
			require.Eventually(t, func() bool { return h.m.Snapshot().Preview != nil }, waitFor, 5*time.Millisecond)
			require.NoError(t, h.m.SetFormat("jpg"))
			require.NoError(t, h.m.Convert())
			wait(t, h.m)

			want := types.Snapshot{State: types.StateIdle}
			for i := 0; i < 2; i++ {
				h.m.Reset()
				assert.Equal(t, want, h.m.Snapshot())
				assert.Zero(t, h.handles.Live())
			}
		})
	}
}

func TestSelect_WhileConvertingDropsLateResult(t *testing.T) {
	conv := &fakeConverter{
		gate:     make(chan struct{}),
		stubborn: true,
		entered:  make(chan struct{}),
	}
	h := newHarness(t, newFakeStore(), conv, false)

	h.m.Select(notesFile())
	require.NoError(t, h.m.SetFormat("mp3"))
	require.NoError(t, h.m.Convert())

	select {
	case <-conv.entered:
	case <-time.After(waitFor):
		t.Fatal("conversion was not requested")
	}
	first := h.m.Snapshot()
	require.Equal(t, types.StateConverting, first.State)

	h.m.Select(binFile("song.wav"))
	selected := h.m.Snapshot()
	published := len(h.recorder.all())

	close(conv.gate)
	h.m.wg.Wait()

	assert.Equal(t, selected, h.m.Snapshot())
	assert.Len(t, h.recorder.all(), published, "late result must not publish")
	assert.Equal(t, types.StateIdle, selected.State)
	assert.Equal(t, "song.wav", selected.File.Name)
	require.NotNil(t, selected.Format)
	assert.Equal(t, "mp3", selected.Format.Value)
	assert.Zero(t, selected.Progress)
	assert.Empty(t, selected.Attempt)
	assert.Zero(t, h.handles.Live())
	assert.Empty(t, h.store.objectKeys(), "source of the abandoned attempt is removed")
}

func TestSelect_WhileUploadingCancelsSession(t *testing.T) {
	store := newFakeStore()
	store.steps = []int64{1000}
	store.gate = make(chan struct{})
	conv := &fakeConverter{}
	h := newHarness(t, store, conv, false)

	h.m.Select(notesFile())
	require.NoError(t, h.m.SetFormat("mp3"))
	require.NoError(t, h.m.Convert())
	require.Eventually(t, func() bool { return h.m.Snapshot().Progress == 50 }, waitFor, 5*time.Millisecond)

	h.m.Select(binFile("other.bin"))
	h.m.wg.Wait()

	snap := h.m.Snapshot()
	assert.Equal(t, types.StateIdle, snap.State)
	assert.Zero(t, snap.Progress)
	assert.Zero(t, conv.calls.Load())

	require.NoError(t, h.m.Convert())
	close(store.gate)
	snap = wait(t, h.m)
	assert.Equal(t, types.StateDone, snap.State)
	assert.Equal(t, "other-converted.mp3", snap.Download.Filename)
}

func TestSelect_RemovesUploadFinishedAfterCancel(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	store.ignoreCtx = true
	conv := &fakeConverter{}
	h := newHarness(t, store, conv, false)

	h.m.Select(notesFile())
	require.NoError(t, h.m.SetFormat("mp3"))
	require.NoError(t, h.m.Convert())
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.keys) == 1
	}, waitFor, 5*time.Millisecond)

	h.m.Select(binFile("other.bin"))
	close(store.gate)
	h.m.wg.Wait()

	assert.Empty(t, store.objectKeys())
	assert.Empty(t, store.readErrs)
	assert.Equal(t, types.StateIdle, h.m.Snapshot().State)
	assert.Zero(t, conv.calls.Load())
}

func TestSelect_ReplacedFileOutlivesItsUpload(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	store.ignoreCtx = true
	h := newHarness(t, store, &fakeConverter{}, false)

	dir := t.TempDir()
	f, err := localfile.Spool("notes.txt", "text/plain", strings.NewReader("some notes"), dir)
	require.NoError(t, err)

	h.m.Select(f)
	require.NoError(t, h.m.SetFormat("txt"))
	require.NoError(t, h.m.Convert())
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.keys) == 1
	}, waitFor, 5*time.Millisecond)

	h.m.Reset()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "file stays open while the upload reads it")

	close(store.gate)
	h.m.wg.Wait()

	assert.Empty(t, store.readErrs)
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "file closed once the upload exits")
}

func TestSelect_FromDoneReleasesDownload(t *testing.T) {
	h := newHarness(t, newFakeStore(), &fakeConverter{}, false)

	h.m.Select(notesFile())
	require.NoError(t, h.m.SetFormat("wav"))
	require.NoError(t, h.m.Convert())
	first := wait(t, h.m)
	require.Equal(t, 1, h.handles.Live())

	h.m.Select(binFile("archive.tar.gz"))
	assert.Zero(t, h.handles.Live())
	_, ok := h.handles.Resolve(first.Download.URL)
	assert.False(t, ok)

	require.NoError(t, h.m.Convert())
	second := wait(t, h.m)
	assert.Equal(t, "archive-converted.wav", second.Download.Filename)
	assert.NotEqual(t, first.Attempt, second.Attempt)
	assert.Equal(t, 1, h.handles.Live())
}

func TestSelect_TextPreview(t *testing.T) {
	h := newHarness(t, newFakeStore(), &fakeConverter{}, true)

	h.m.Select(notesFile())
	require.Eventually(t, func() bool { return h.m.Snapshot().Preview != nil }, waitFor, 5*time.Millisecond)

	p := h.m.Snapshot().Preview
	assert.Equal(t, types.PreviewText, p.Kind)
	assert.True(t, p.Truncated)
	assert.Equal(t, strings.Repeat("a", 1000)+"...", p.Text)
	assert.Empty(t, p.URL)
	assert.Equal(t, types.StateIdle, h.m.Snapshot().State)
}

func TestSelect_ReplacesMediaPreview(t *testing.T) {
	h := newHarness(t, newFakeStore(), &fakeConverter{}, true)

	previewURL := func() string {
		if p := h.m.Snapshot().Preview; p != nil {
			return p.URL
		}
		return ""
	}

	h.m.Select(localfile.FromBytes("a.png", "image/png", []byte("png-a")))
	require.Eventually(t, func() bool { return previewURL() != "" }, waitFor, 5*time.Millisecond)
	first := previewURL()

	h.m.Select(localfile.FromBytes("b.mp4", "video/mp4", []byte("mp4-b")))
	require.Eventually(t, func() bool { u := previewURL(); return u != "" && u != first }, waitFor, 5*time.Millisecond)

	assert.Equal(t, 1, h.handles.Live())
	_, ok := h.handles.Resolve(first)
	assert.False(t, ok)
	assert.Equal(t, types.PreviewVideo, h.m.Snapshot().Preview.Kind)

	h.m.Select(nil)
	assert.Zero(t, h.handles.Live())
	assert.Nil(t, h.m.Snapshot().File)
}

func TestSetFormat(t *testing.T) {
	h := newHarness(t, newFakeStore(), &fakeConverter{}, false)

	require.NoError(t, h.m.SetFormat(".MP3"))
	assert.Equal(t, "mp3", h.m.Snapshot().Format.Value)

	err := h.m.SetFormat("exe")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Equal(t, "mp3", h.m.Snapshot().Format.Value)
}

func TestSubscribe_SlowSubscriberSeesLatest(t *testing.T) {
	h := newHarness(t, newFakeStore(), &fakeConverter{}, false)

	ch, unsubscribe := h.m.Subscribe()
	defer unsubscribe()

	for _, code := range []string{"mp3", "wav", "flac", "ogg"} {
		require.NoError(t, h.m.SetFormat(code))
	}

	snap := <-ch
	require.NotNil(t, snap.Format)
	assert.Equal(t, "ogg", snap.Format.Value)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected queued snapshot: %+v", extra)
	default:
	}

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestWait_Idle(t *testing.T) {
	h := newHarness(t, newFakeStore(), &fakeConverter{}, false)

	_, err := h.m.Wait(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestClose(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	h := newHarness(t, store, &fakeConverter{}, true)

	ch, _ := h.m.Subscribe()
	<-ch

	h.m.Select(localfile.FromBytes("clip.mp4", "video/mp4", []byte("mp4")))
	require.NoError(t, h.m.SetFormat("webm"))
	require.NoError(t, h.m.Convert())

	require.NoError(t, h.m.Close())
	require.NoError(t, h.m.Close())

	for range ch {
	}
	assert.Zero(t, h.handles.Live())
	assert.ErrorIs(t, h.m.Convert(), ErrClosed)
	assert.ErrorIs(t, h.m.SetFormat("mp3"), ErrClosed)

	h.m.Reset()
	h.m.Select(notesFile())
	assert.Nil(t, h.m.Snapshot().File)

	_, err := h.m.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
