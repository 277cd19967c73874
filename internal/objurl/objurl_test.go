// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package objurl

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateResolveRevoke(t *testing.T) {
	r := NewRegistry()
	data := []byte("hello")
	h := r.Create(Object{Name: "a.txt", ContentType: "text/plain", Size: int64(len(data)), Content: bytes.NewReader(data)})

	assert.Equal(t, 1, r.Live())
	assert.Equal(t, Scheme+h.ID(), h.URL())

	obj, ok := r.Resolve(h.URL())
	require.True(t, ok)
	got, err := io.ReadAll(obj.Reader())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, ok = r.Resolve(h.ID())
	assert.True(t, ok, "resolves by bare ID too")

	h.Revoke()
	h.Revoke()
	assert.Equal(t, 0, r.Live())
	_, ok = r.Resolve(h.URL())
	assert.False(t, ok)
}

func TestRevokeNilHandle(t *testing.T) {
	var h *Handle
	assert.NotPanics(t, func() { h.Revoke() })
}

func TestConcurrentCreateRevoke(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.Create(Object{Content: bytes.NewReader(nil)})
			h.Revoke()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Live())
}

func TestPathID(t *testing.T) {
	assert.Equal(t, "abc", PathID(Scheme+"abc"))
	assert.Equal(t, "abc", PathID("abc"))
}
