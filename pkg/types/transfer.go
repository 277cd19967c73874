// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// State is the lifecycle position of a transfer.
type State string

const (
	StateIdle       State = "idle"
	StateConverting State = "converting"
	StateDone       State = "done"
	StateError      State = "error"
)

// IsActive reports whether an attempt is in flight.
func (s State) IsActive() bool {
	return s == StateConverting
}

// IsFinished reports whether the last attempt reached a terminal outcome.
func (s State) IsFinished() bool {
	return s == StateDone || s == StateError
}

// FileInfo describes the selected file without exposing its content.
type FileInfo struct {
	Name     string `json:"name" yaml:"name"`
	Size     int64  `json:"size" yaml:"size"`
	MIMEType string `json:"mime_type" yaml:"mime_type"`
}

// PreviewKind classifies the preview produced for a file.
type PreviewKind string

const (
	PreviewNone  PreviewKind = "none"
	PreviewImage PreviewKind = "image"
	PreviewVideo PreviewKind = "video"
	PreviewAudio PreviewKind = "audio"
	PreviewText  PreviewKind = "text"
)

// PreviewInfo is the observable part of a preview artifact.
type PreviewInfo struct {
	Kind PreviewKind `json:"kind" yaml:"kind"`

	// URL references the raw bytes for media previews.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Text holds the display text for text previews, marker included.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// Truncated reports that the file is longer than the text preview.
	Truncated bool `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

// Download is the downloadable conversion result.
type Download struct {
	URL         string `json:"url" yaml:"url"`
	Filename    string `json:"filename" yaml:"filename"`
	ContentType string `json:"content_type" yaml:"content_type"`
	Size        int64  `json:"size" yaml:"size"`
}

// Snapshot is a point-in-time view of a transfer, published to observers.
type Snapshot struct {
	State State `json:"state" yaml:"state"`

	// Attempt identifies the conversion attempt the snapshot belongs to.
	// Empty when no attempt has started since the last selection or reset.
	Attempt string `json:"attempt,omitempty" yaml:"attempt,omitempty"`

	File     *FileInfo    `json:"file,omitempty" yaml:"file,omitempty"`
	Format   *Format      `json:"format,omitempty" yaml:"format,omitempty"`
	Progress float64      `json:"progress" yaml:"progress"`
	Preview  *PreviewInfo `json:"preview,omitempty" yaml:"preview,omitempty"`

	// PreviewError is set when a preview could not be produced. It never
	// affects State.
	PreviewError string `json:"preview_error,omitempty" yaml:"preview_error,omitempty"`

	Download *Download `json:"download,omitempty" yaml:"download,omitempty"`
	Error    string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// CanConvert reports whether a convert request would be accepted.
func (s Snapshot) CanConvert() bool {
	return s.State == StateIdle && s.File != nil && s.Format != nil
}
