// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert requests the conversion of an uploaded blob into a target
// format. Backends implement Converter: a stub that simulates the service,
// a remote HTTP service, and a local container image.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pdiddy/fileconv/internal/container"
	"github.com/pdiddy/fileconv/internal/storage"
	"github.com/pdiddy/fileconv/pkg/types"
)

// SecretConverterToken is the secret file holding the remote service bearer token.
const SecretConverterToken = "converter-token"

var (
	// ErrConversionFailed wraps every backend failure other than cancellation.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrUnsupportedTarget is returned when a backend cannot produce the format.
	ErrUnsupportedTarget = errors.New("unsupported target format")
)

// Artifact is the converted content.
type Artifact struct {
	ContentType string
	Data        []byte
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int64 { return int64(len(a.Data)) }

// Converter turns an uploaded blob into target. Implementations return
// ctx.Err() (possibly wrapped) when ctx is cancelled.
type Converter interface {
	Convert(ctx context.Context, ref types.BlobRef, target types.Format) (*Artifact, error)
}

// failed wraps err in ErrConversionFailed unless it is a cancellation.
func failed(err error, format string, args ...any) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrConversionFailed, fmt.Sprintf(format, args...), err)
}

// contentType sniffs data, falling back to the target extension when the
// bytes are not recognised.
func contentType(target types.Format, data []byte) string {
	if mt := mimetype.Detect(data); !mt.Is("application/octet-stream") {
		return mt.String()
	}
	if ct := mime.TypeByExtension(target.Extension()); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Deps carries what the non-stub backends need.
type Deps struct {
	Store   storage.Store
	Secrets map[string]string
	Logger  *slog.Logger

	// HTTPClient overrides the remote backend client.
	HTTPClient *http.Client

	// Runtime overrides container runtime detection.
	Runtime container.Runtime
}

// New builds the converter selected by cfg.Backend.
func New(ctx context.Context, cfg types.ConversionConfig, deps Deps) (Converter, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	switch cfg.Backend {
	case types.BackendStub, "":
		return NewStubConverter(cfg.Delay), nil

	case types.BackendRemote:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("conversion backend remote requires an endpoint")
		}
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: cfg.Timeout}
		}
		return NewRemoteConverter(RemoteOptions{
			Endpoint:   cfg.Endpoint,
			Token:      deps.Secrets[SecretConverterToken],
			Client:     client,
			MaxRetries: cfg.MaxRetries,
		}), nil

	case types.BackendContainer:
		rt := deps.Runtime
		if rt == nil {
			var err error
			if rt, err = container.DetectRuntime(ctx); err != nil {
				return nil, err
			}
		}
		c, err := NewContainerConverter(ctx, rt, deps.Store, cfg.Image, deps.Logger)
		if err != nil {
			return nil, err
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown conversion backend %q", cfg.Backend)
	}
}

// BatchResult holds the outcome of converting several files.
type BatchResult struct {
	Converted int
	Skipped   int
	Failed    int
}

// Total returns the number of files processed.
func (r BatchResult) Total() int {
	return r.Converted + r.Skipped + r.Failed
}

// HasFailures reports whether any file failed conversion.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// Fprint writes the one-line batch summary.
func (r BatchResult) Fprint(w io.Writer) {
	fmt.Fprintf(w, "\nBatch summary: %d converted, %d skipped, %d failed (total: %d)\n",
		r.Converted, r.Skipped, r.Failed, r.Total())
}
