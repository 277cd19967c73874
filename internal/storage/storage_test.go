// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	PartRetryDelay = time.Millisecond
}

// progressLog records progress callbacks.
type progressLog struct {
	reports []int64
}

func (p *progressLog) fn(transferred, _ int64) {
	p.reports = append(p.reports, transferred)
}

func (p *progressLog) assertMonotonic(t *testing.T) {
	t.Helper()
	for i := 1; i < len(p.reports); i++ {
		assert.GreaterOrEqual(t, p.reports[i], p.reports[i-1], "progress went backwards at %d", i)
	}
}

func newRequest(key string, data []byte, p *progressLog) UploadRequest {
	req := UploadRequest{
		Key:         key,
		Name:        "input.bin",
		Content:     bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: "application/octet-stream",
		Fingerprint: "input.bin:" + key,
	}
	if p != nil {
		req.Progress = p.fn
	}
	return req
}

func TestPartCount(t *testing.T) {
	tests := []struct {
		size, part int64
		want       int32
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{12, 4, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, partCount(tt.size, tt.part), "size=%d part=%d", tt.size, tt.part)
	}
}

func TestUploadParts_RetriesThenSucceeds(t *testing.T) {
	req := newRequest("k", []byte("abcdefghij"), nil)
	ckpt := NewMemoryCheckpointer()
	require.NoError(t, ckpt.Save(context.Background(), Checkpoint{Fingerprint: req.Fingerprint}))

	failures := map[int32]int{2: 2}
	var written []int32
	parts, err := uploadParts(context.Background(), req, 4, nil, ckpt, 3, discardLogger(),
		func(_ context.Context, num int32, _ int64, _ []byte) (string, error) {
			if failures[num] > 0 {
				failures[num]--
				return "", errors.New("transient")
			}
			written = append(written, num)
			return "etag", nil
		})
	require.NoError(t, err)
	assert.Len(t, parts, 3)
	assert.Equal(t, []int32{1, 2, 3}, written)

	cp, err := ckpt.Load(context.Background(), req.Fingerprint)
	require.NoError(t, err)
	assert.Len(t, cp.Parts, 3)
	assert.Equal(t, int64(10), cp.Transferred())
}

func TestUploadParts_ExhaustsRetries(t *testing.T) {
	req := newRequest("k", []byte("abcdefghij"), nil)
	calls := 0
	_, err := uploadParts(context.Background(), req, 4, nil, noCheckpoints{}, 2, discardLogger(),
		func(context.Context, int32, int64, []byte) (string, error) {
			calls++
			return "", errors.New("down")
		})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestUploadParts_SkipsDoneParts(t *testing.T) {
	p := &progressLog{}
	req := newRequest("k", []byte("abcdefghij"), p)
	done := []Part{{Number: 1, Size: 4}, {Number: 3, Size: 2}}

	var written []int32
	parts, err := uploadParts(context.Background(), req, 4, done, noCheckpoints{}, 0, discardLogger(),
		func(_ context.Context, num int32, offset int64, data []byte) (string, error) {
			assert.Equal(t, int64(4), offset)
			assert.Equal(t, "efgh", string(data))
			written = append(written, num)
			return "", nil
		})
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, written)
	assert.Equal(t, []int32{1, 2, 3}, []int32{parts[0].Number, parts[1].Number, parts[2].Number})
	assert.Equal(t, []int64{6, 10}, p.reports)
}

func TestUploadParts_ShortReadFailsPart(t *testing.T) {
	req := newRequest("k", []byte("abcdef"), nil)
	req.Size = 10

	var written []string
	_, err := uploadParts(context.Background(), req, 4, nil, noCheckpoints{}, 0, discardLogger(),
		func(_ context.Context, _ int32, _ int64, data []byte) (string, error) {
			written = append(written, string(data))
			return "", nil
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []string{"abcd"}, written, "the truncated part is never written")
}

func TestMemoryCheckpointer(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCheckpointer()

	cp, err := m.Load(ctx, "fp")
	require.NoError(t, err)
	assert.Nil(t, cp)

	assert.Error(t, m.AddPart(ctx, "fp", Part{Number: 1}))

	require.NoError(t, m.Save(ctx, Checkpoint{Fingerprint: "fp", Backend: "fs", Key: "a"}))
	require.NoError(t, m.AddPart(ctx, "fp", Part{Number: 1, Size: 3}))
	require.NoError(t, m.AddPart(ctx, "fp", Part{Number: 1, Size: 3, ETag: "x"}))

	// Same upload: parts survive a header rewrite.
	require.NoError(t, m.Save(ctx, Checkpoint{Fingerprint: "fp", Backend: "fs", Key: "a"}))
	cp, err = m.Load(ctx, "fp")
	require.NoError(t, err)
	require.Len(t, cp.Parts, 1)
	assert.Equal(t, "x", cp.Parts[0].ETag)

	// Different key: parts reset.
	require.NoError(t, m.Save(ctx, Checkpoint{Fingerprint: "fp", Backend: "fs", Key: "b"}))
	cp, err = m.Load(ctx, "fp")
	require.NoError(t, err)
	assert.Empty(t, cp.Parts)

	require.NoError(t, m.Remove(ctx, "fp"))
	assert.Equal(t, 0, m.Len())
}

func TestError(t *testing.T) {
	base := errors.New("boom")
	err := newError("s3", "putObject", "uploads/a", base)
	assert.Equal(t, "s3.putObject uploads/a: boom", err.Error())
	assert.ErrorIs(t, err, base)

	err = newError("nats", "open", "", base)
	assert.Equal(t, "nats.open: boom", err.Error())
}
