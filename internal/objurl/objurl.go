// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package objurl keeps a registry of revocable references to in-memory or
// on-disk content. Each reference is exposed as an opaque blob URL that a
// renderer can resolve until the owner revokes it.
package objurl

import (
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Scheme prefixes every URL issued by a Registry.
const Scheme = "blob:fileconv/"

// Object is the content behind a handle.
type Object struct {
	// Name is the filename offered when the object is downloaded.
	Name        string
	ContentType string
	Size        int64
	Content     io.ReaderAt

	// Attachment marks objects that should be saved rather than displayed.
	Attachment bool
}

// Reader returns a fresh reader over the object's content.
func (o Object) Reader() io.Reader {
	return io.NewSectionReader(o.Content, 0, o.Size)
}

// Registry issues and resolves handles. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[string]Object)}
}

// Handle is a single-owner reference to a registered object. Only the owner
// calls Revoke.
type Handle struct {
	id   string
	reg  *Registry
	once sync.Once
}

// Create registers obj and returns its handle.
func (r *Registry) Create(obj Object) *Handle {
	id := uuid.NewString()
	r.mu.Lock()
	r.objects[id] = obj
	r.mu.Unlock()
	return &Handle{id: id, reg: r}
}

// ID returns the handle's identifier.
func (h *Handle) ID() string { return h.id }

// URL returns the blob URL for the handle.
func (h *Handle) URL() string { return Scheme + h.id }

// Revoke removes the object from the registry. Calling it more than once is a no-op.
func (h *Handle) Revoke() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.reg.mu.Lock()
		delete(h.reg.objects, h.id)
		h.reg.mu.Unlock()
	})
}

// Resolve looks up an object by handle ID or by full blob URL.
func (r *Registry) Resolve(ref string) (Object, bool) {
	id := strings.TrimPrefix(ref, Scheme)
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[id]
	return obj, ok
}

// Live returns the number of handles that have not been revoked.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// PathID extracts the handle ID from a blob URL, for building HTTP paths.
func PathID(url string) string {
	return strings.TrimPrefix(url, Scheme)
}
