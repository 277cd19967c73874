// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package localfile represents a file the user selected for conversion.
// A File is immutable once constructed and carries a cleanup hook that runs
// exactly once when the owner closes it.
package localfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pdiddy/fileconv/pkg/types"
)

const octetStream = "application/octet-stream"

// File is a read-only view of the selected file's metadata and content.
type File struct {
	name     string
	size     int64
	mimeType string
	modTime  time.Time
	content  io.ReaderAt
	digest   string

	closeOnce sync.Once
	cleanup   func() error
	closeErr  error
}

// Open opens the file at path. The MIME type comes from content sniffing,
// falling back to the extension when the content is not recognized.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	mt, err := detect(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{
		name:     filepath.Base(path),
		size:     info.Size(),
		mimeType: mt,
		modTime:  info.ModTime(),
		content:  f,
		cleanup:  f.Close,
	}, nil
}

// FromBytes wraps in-memory content. An empty mimeType is detected from the data.
func FromBytes(name, mimeType string, data []byte) *File {
	if mimeType == "" {
		mimeType = byContentOrName(mimetype.Detect(data), name)
	}
	sum := sha256.Sum256(data)
	return &File{
		name:     name,
		size:     int64(len(data)),
		mimeType: mimeType,
		content:  bytes.NewReader(data),
		digest:   hex.EncodeToString(sum[:8]),
		cleanup:  func() error { return nil },
	}
}

// Spool copies r into a temporary file under dir and returns a File that
// owns it. Close removes the temporary file. An empty dir uses os.TempDir.
func Spool(name, mimeType string, r io.Reader, dir string) (*File, error) {
	tmp, err := os.CreateTemp(dir, "fileconv-spool-*")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	remove := func() error {
		cerr := tmp.Close()
		if rerr := os.Remove(tmp.Name()); rerr != nil && !os.IsNotExist(rerr) {
			return rerr
		}
		return cerr
	}

	h := sha256.New()
	n, err := io.Copy(tmp, io.TeeReader(r, h))
	if err != nil {
		remove()
		return nil, fmt.Errorf("spooling %s: %w", name, err)
	}

	if mimeType == "" {
		if mimeType, err = detect(tmp, name); err != nil {
			remove()
			return nil, err
		}
	}

	return &File{
		name:     filepath.Base(name),
		size:     n,
		mimeType: mimeType,
		modTime:  time.Now(),
		content:  tmp,
		digest:   hex.EncodeToString(h.Sum(nil)[:8]),
		cleanup:  remove,
	}, nil
}

func detect(f *os.File, name string) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding %s: %w", name, err)
	}
	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("detecting type of %s: %w", name, err)
	}
	return byContentOrName(m, name), nil
}

func byContentOrName(m *mimetype.MIME, name string) string {
	if m != nil && !m.Is(octetStream) {
		return m.String()
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return ""
}

// Name returns the base filename.
func (f *File) Name() string { return f.name }

// Size returns the content length in bytes.
func (f *File) Size() int64 { return f.size }

// MIMEType returns the detected or declared type. It may be empty.
func (f *File) MIMEType() string { return f.mimeType }

// ModTime returns the modification time, zero for in-memory files.
func (f *File) ModTime() time.Time { return f.modTime }

// ReadAt implements io.ReaderAt over the file content.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.content.ReadAt(p, off)
}

// Reader returns a fresh sequential reader over the whole content.
func (f *File) Reader() io.Reader {
	return io.NewSectionReader(f.content, 0, f.size)
}

// Info returns the file's public metadata.
func (f *File) Info() types.FileInfo {
	return types.FileInfo{Name: f.name, Size: f.size, MIMEType: f.mimeType}
}

// Fingerprint identifies the content for upload resumption. Two Files with
// the same fingerprint are assumed to hold the same bytes.
func (f *File) Fingerprint() string {
	if f.digest != "" {
		return fmt.Sprintf("%s:%d:%s", f.name, f.size, f.digest)
	}
	return fmt.Sprintf("%s:%d:%d", f.name, f.size, f.modTime.UnixNano())
}

// Stem returns the name up to its first dot, or "file" when that is empty.
func (f *File) Stem() string {
	return Stem(f.name)
}

// Extension returns the text after the last dot, without the dot.
func (f *File) Extension() string {
	i := strings.LastIndex(f.name, ".")
	if i < 0 || i == len(f.name)-1 {
		return ""
	}
	return f.name[i+1:]
}

// Close runs the cleanup hook. Only the first call has an effect.
func (f *File) Close() error {
	f.closeOnce.Do(func() {
		if f.cleanup != nil {
			f.closeErr = f.cleanup()
		}
	})
	return f.closeErr
}

// Stem returns name up to its first dot, or "file" when that is empty.
func Stem(name string) string {
	stem, _, _ := strings.Cut(filepath.Base(name), ".")
	if stem == "" {
		return "file"
	}
	return stem
}

// DownloadName returns the result filename for converting name to format.
func DownloadName(name string, format types.Format) string {
	return Stem(name) + "-converted." + format.Value
}
