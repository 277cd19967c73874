// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fileconv/pkg/types"
)

// fakeObjectStore overrides the methods NATSStore uses; the embedded
// interface panics on anything else.
type fakeObjectStore struct {
	jetstream.ObjectStore
	objects map[string][]byte
	headers map[string]string
}

func (f *fakeObjectStore) Put(_ context.Context, meta jetstream.ObjectMeta, r io.Reader) (*jetstream.ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.objects[meta.Name] = data
	f.headers[meta.Name] = meta.Headers.Get("Content-Type")
	return &jetstream.ObjectInfo{ObjectMeta: meta, Size: uint64(len(data)), Digest: "SHA-256=abc"}, nil
}

func (f *fakeObjectStore) Get(_ context.Context, name string, _ ...jetstream.GetObjectOpt) (jetstream.ObjectResult, error) {
	data, ok := f.objects[name]
	if !ok {
		return nil, jetstream.ErrObjectNotFound
	}
	return &fakeResult{r: bytes.NewReader(data)}, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, name string) error {
	if _, ok := f.objects[name]; !ok {
		return jetstream.ErrObjectNotFound
	}
	delete(f.objects, name)
	return nil
}

type fakeResult struct {
	jetstream.ObjectResult
	r io.Reader
}

func (f *fakeResult) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *fakeResult) Close() error               { return nil }

func refFor(key string) types.BlobRef {
	return types.BlobRef{Key: key}
}

func TestNATSStore_RoundTrip(t *testing.T) {
	fake := &fakeObjectStore{objects: map[string][]byte{}, headers: map[string]string{}}
	s := NewNATSStore(fake)
	ctx := context.Background()
	p := &progressLog{}

	req := newRequest("uploads/n", []byte("payload"), p)
	req.ContentType = "text/plain"
	ref, err := s.Upload(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "nats", ref.Backend)
	assert.Equal(t, int64(7), ref.Size)
	assert.Equal(t, "SHA-256=abc", ref.ETag)
	assert.Equal(t, "text/plain", fake.headers["uploads/n"])
	assert.Equal(t, int64(0), p.reports[0])
	assert.Equal(t, int64(7), p.reports[len(p.reports)-1])
	p.assertMonotonic(t)

	rc, err := s.Open(ctx, ref)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Open(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, ref), ErrNotFound)
	assert.NoError(t, s.Close())
}
