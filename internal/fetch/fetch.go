// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch downloads a remote file over HTTP(S) so it can be selected
// like a local one.
package fetch

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/pdiddy/fileconv/internal/httputil"
	"github.com/pdiddy/fileconv/internal/localfile"
)

// DefaultUserAgent identifies fileconv to remote servers.
const DefaultUserAgent = "fileconv/1.0"

// Options configures a download.
type Options struct {
	Client     *http.Client
	UserAgent  string
	MaxRetries int

	// MaxSize rejects bodies larger than this many bytes. Zero means no limit.
	MaxSize int64

	// SpoolDir holds the downloaded copy. Empty uses os.TempDir.
	SpoolDir string
}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// URL downloads rawURL into a spooled file. The name comes from the
// Content-Disposition header, then the last path segment, then "download".
func URL(ctx context.Context, rawURL string, opts Options) (*localfile.File, error) {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, opts.Client, req, opts.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	if opts.MaxSize > 0 && resp.ContentLength > opts.MaxSize {
		return nil, fmt.Errorf("%s is %d bytes, over the %d byte limit", rawURL, resp.ContentLength, opts.MaxSize)
	}

	name := fileName(resp.Header.Get("Content-Disposition"), resp.Request.URL)
	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}

	body := resp.Body
	if opts.MaxSize > 0 {
		body = http.MaxBytesReader(nil, resp.Body, opts.MaxSize)
	}
	f, err := localfile.Spool(name, mimeType, body, opts.SpoolDir)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	return f, nil
}

// fileName picks the download's filename.
func fileName(disposition string, u *url.URL) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := path.Base(params["filename"]); name != "" && name != "." && name != "/" {
			return name
		}
	}
	if u != nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "download"
}

// Redacted returns rawURL without credentials or query, for logs.
func Redacted(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.User = nil
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "?")
}
