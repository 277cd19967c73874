// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/fileconv/internal/httputil"
	"github.com/pdiddy/fileconv/pkg/types"
)

// maxErrorBody caps how much of a failed response is quoted in errors.
const maxErrorBody = 512

// RemoteOptions configures a RemoteConverter.
type RemoteOptions struct {
	Endpoint   string
	Token      string
	Client     *http.Client
	MaxRetries int
}

// RemoteConverter posts conversion requests to an HTTP service. The
// service reads the blob from shared storage and responds with the
// converted bytes.
type RemoteConverter struct {
	opts RemoteOptions
}

// NewRemoteConverter returns a converter calling opts.Endpoint.
func NewRemoteConverter(opts RemoteOptions) *RemoteConverter {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &RemoteConverter{opts: opts}
}

// remoteRequest is the JSON body sent to the service.
type remoteRequest struct {
	Backend      string `json:"backend"`
	Key          string `json:"key"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type,omitempty"`
	Target       string `json:"target"`
}

func (c *RemoteConverter) Convert(ctx context.Context, ref types.BlobRef, target types.Format) (*Artifact, error) {
	body, err := json.Marshal(remoteRequest{
		Backend:      ref.Backend,
		Key:          ref.Key,
		OriginalName: ref.OriginalName,
		Size:         ref.Size,
		ContentType:  ref.ContentType,
		Target:       target.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding conversion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating conversion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := httputil.DoWithRetry(ctx, c.opts.Client, req, c.opts.MaxRetries)
	if err != nil {
		return nil, failed(err, "requesting %s", target.Value)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: service returned %d: %s",
			ErrConversionFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failed(err, "reading response")
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = contentType(target, data)
	}
	return &Artifact{ContentType: ct, Data: data}, nil
}
