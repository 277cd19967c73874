// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// BlobRef identifies an uploaded object in a storage backend. It is only
// meaningful to the attempt that produced it.
type BlobRef struct {
	// Backend names the store that holds the object (fs, s3, minio, nats).
	Backend string `json:"backend" yaml:"backend"`

	// Key is the destination key inside the backend.
	Key string `json:"key" yaml:"key"`

	// Size is the number of bytes stored.
	Size int64 `json:"size" yaml:"size"`

	// ContentType is the MIME type recorded with the object.
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`

	// OriginalName is the user-facing name of the source file.
	OriginalName string `json:"original_name" yaml:"original_name"`

	// ETag is the backend's content tag when the backend reports one.
	ETag string `json:"etag,omitempty" yaml:"etag,omitempty"`
}
