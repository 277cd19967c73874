// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package preview produces lightweight previews of a selected file: a
// revocable reference to the raw bytes for images, video, and audio, and a
// leading text snippet for text files.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pdiddy/fileconv/internal/localfile"
	"github.com/pdiddy/fileconv/internal/objurl"
	"github.com/pdiddy/fileconv/pkg/types"
)

// DefaultTextLimit is the number of leading bytes read for text previews.
const DefaultTextLimit = 1000

// TruncationMarker is appended to text previews of longer files.
const TruncationMarker = "..."

// ErrPreviewUnavailable is returned when a text preview cannot be read.
var ErrPreviewUnavailable = errors.New("could not read the text file")

// Artifact is a generated preview. Media artifacts hold a registry handle
// that must be released by the owner.
type Artifact struct {
	Kind      types.PreviewKind
	Text      string
	Truncated bool

	handle *objurl.Handle
}

// URL returns the blob URL of a media preview, or "" for other kinds.
func (a *Artifact) URL() string {
	if a == nil || a.handle == nil {
		return ""
	}
	return a.handle.URL()
}

// Display returns the text to show for a text preview, with the
// truncation marker when the file is longer than the snippet.
func (a *Artifact) Display() string {
	if a == nil {
		return ""
	}
	if a.Truncated {
		return a.Text + TruncationMarker
	}
	return a.Text
}

// Info returns the observable form of the artifact.
func (a *Artifact) Info() *types.PreviewInfo {
	if a == nil {
		return nil
	}
	return &types.PreviewInfo{
		Kind:      a.Kind,
		URL:       a.URL(),
		Text:      a.Display(),
		Truncated: a.Truncated,
	}
}

// Release revokes the artifact's handle. Safe to call more than once and on nil.
func (a *Artifact) Release() {
	if a == nil {
		return
	}
	a.handle.Revoke()
}

// Generator builds previews backed by a handle registry.
type Generator struct {
	handles   *objurl.Registry
	textLimit int
}

// NewGenerator creates a generator. A non-positive textLimit uses DefaultTextLimit.
func NewGenerator(handles *objurl.Registry, textLimit int) *Generator {
	if textLimit <= 0 {
		textLimit = DefaultTextLimit
	}
	return &Generator{handles: handles, textLimit: textLimit}
}

// Classify maps a MIME type to the preview kind it produces.
func Classify(mimeType string) types.PreviewKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return types.PreviewImage
	case strings.HasPrefix(mimeType, "video/"):
		return types.PreviewVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return types.PreviewAudio
	case strings.HasPrefix(mimeType, "text/"):
		return types.PreviewText
	default:
		return types.PreviewNone
	}
}

// Generate produces the preview for f. Files of unsupported types get an
// artifact of kind none. A failed text read returns ErrPreviewUnavailable.
func (g *Generator) Generate(ctx context.Context, f *localfile.File) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind := Classify(f.MIMEType())
	switch kind {
	case types.PreviewImage, types.PreviewVideo, types.PreviewAudio:
		h := g.handles.Create(objurl.Object{
			Name:        f.Name(),
			ContentType: f.MIMEType(),
			Size:        f.Size(),
			Content:     f,
		})
		return &Artifact{Kind: kind, handle: h}, nil
	case types.PreviewText:
		return g.text(f)
	default:
		return &Artifact{Kind: types.PreviewNone}, nil
	}
}

func (g *Generator) text(f *localfile.File) (*Artifact, error) {
	n := int64(g.textLimit)
	if f.Size() < n {
		n = f.Size()
	}
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
		return nil, fmt.Errorf("%w: %s: %v", ErrPreviewUnavailable, f.Name(), err)
	}
	return &Artifact{
		Kind:      types.PreviewText,
		Text:      strings.ToValidUTF8(string(buf[:read]), "�"),
		Truncated: f.Size() > int64(g.textLimit),
	}, nil
}

// Describe returns the placeholder line shown for a file without a visual
// preview: name, human-readable size, and extension.
func Describe(f *localfile.File) string {
	ext := strings.ToUpper(f.Extension())
	if ext == "" {
		ext = "FILE"
	}
	return fmt.Sprintf("%s (%s, %s)", f.Name(), humanize.IBytes(uint64(f.Size())), ext)
}
