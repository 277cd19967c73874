// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"time"
)

// PartRetryDelay is the base backoff between attempts of a failed part.
// Tests override this to avoid real sleeps.
var PartRetryDelay = 500 * time.Millisecond

// putPartFunc writes one part and returns its ETag.
type putPartFunc func(ctx context.Context, number int32, offset int64, data []byte) (string, error)

// partCount returns the number of parts needed for size bytes.
func partCount(size, partSize int64) int32 {
	if size <= 0 {
		return 0
	}
	return int32((size + partSize - 1) / partSize)
}

// uploadParts writes every part of req not already listed in done, in
// order, recording each completed part in the checkpointer and reporting
// progress after it. It returns the full sorted part list.
func uploadParts(
	ctx context.Context,
	req UploadRequest,
	partSize int64,
	done []Part,
	ckpt Checkpointer,
	maxRetries int,
	log *slog.Logger,
	put putPartFunc,
) ([]Part, error) {
	have := make(map[int32]Part, len(done))
	var transferred int64
	for _, p := range done {
		have[p.Number] = p
		transferred += p.Size
	}
	req.report(transferred)

	n := partCount(req.Size, partSize)
	bufSize := partSize
	if req.Size < bufSize {
		bufSize = req.Size
	}
	buf := make([]byte, bufSize)
	for num := int32(1); num <= n; num++ {
		if _, ok := have[num]; ok {
			continue
		}
		offset := int64(num-1) * partSize
		size := partSize
		if offset+size > req.Size {
			size = req.Size - offset
		}

		data := buf[:size]
		n, err := req.Content.ReadAt(data, offset)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("reading part %d: %w", num, ctx.Err())
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading part %d: %w", num, err)
		}
		if n < len(data) {
			return nil, fmt.Errorf("reading part %d: got %d of %d bytes: %w", num, n, len(data), io.ErrUnexpectedEOF)
		}

		etag, err := putWithRetry(ctx, num, offset, data, maxRetries, log, put)
		if err != nil {
			return nil, err
		}

		p := Part{Number: num, Size: size, ETag: etag}
		if err := ckpt.AddPart(detached(ctx), req.Fingerprint, p); err != nil {
			log.Warn("recording upload checkpoint", "key", req.Key, "part", num, "error", err)
		}
		have[num] = p
		transferred += size
		req.report(transferred)
	}

	parts := make([]Part, 0, len(have))
	for _, p := range have {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts, nil
}

func putWithRetry(ctx context.Context, num int32, offset int64, data []byte, maxRetries int, log *slog.Logger, put putPartFunc) (string, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		etag, err := put(ctx, num, offset, data)
		if err == nil {
			return etag, nil
		}
		if isCancel(err) || attempt >= maxRetries {
			return "", fmt.Errorf("uploading part %d: %w", num, err)
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * PartRetryDelay
		log.Warn("part upload failed, retrying", "part", num, "attempt", attempt+1, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
}
