// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fileconv/internal/catalog"
	"github.com/pdiddy/fileconv/internal/localfile"
	"github.com/pdiddy/fileconv/internal/objurl"
	"github.com/pdiddy/fileconv/internal/preview"
	"github.com/pdiddy/fileconv/internal/secrets"
	"github.com/pdiddy/fileconv/pkg/types"
)

func testConfig(t *testing.T) types.Config {
	t.Helper()
	dir := t.TempDir()
	c := types.DefaultConfig()
	c.Storage.Dir = filepath.Join(dir, "objects")
	c.Storage.Journal = filepath.Join(dir, "uploads.db")
	c.Storage.PartSize = 64
	c.Conversion.Delay = 0
	return c
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       types.LogConfig
		wantDebug bool
		wantJSON  bool
	}{
		{name: "text info", cfg: types.LogConfig{Level: "info", Format: "text"}},
		{name: "json debug", cfg: types.LogConfig{Level: "debug", Format: "json"}, wantDebug: true, wantJSON: true},
		{name: "unknown level falls back to info", cfg: types.LogConfig{Level: "chatty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := newLogger(tt.cfg, &buf)

			assert.Equal(t, tt.wantDebug, log.Enabled(context.Background(), slog.LevelDebug))
			log.Info("hello", "k", "v")
			assert.Equal(t, tt.wantJSON, strings.HasPrefix(buf.String(), "{"))
		})
	}
}

func TestPrintFormats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printFormats(&buf, catalog.Default(), false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Audio      mp3, wav, aac, flac, ogg", lines[0])

	buf.Reset()
	require.NoError(t, printFormats(&buf, catalog.Default(), true))
	assert.Contains(t, buf.String(), `"value": "webm"`)
}

func TestPrintPreview(t *testing.T) {
	tests := []struct {
		name string
		file *localfile.File
		want []string
	}{
		{
			name: "truncated text",
			file: localfile.FromBytes("notes.txt", "text/plain", []byte("abcdefghij")),
			want: []string{"notes.txt (10 B, TXT)", "abcd..."},
		},
		{
			name: "image",
			file: localfile.FromBytes("cover.png", "image/png", []byte("png")),
			want: []string{"cover.png (3 B, PNG)", "image preview (image/png)"},
		},
		{
			name: "other",
			file: localfile.FromBytes("data.bin", "application/octet-stream", []byte{0, 1}),
			want: []string{"data.bin (2 B, BIN)", "no preview available"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handles := objurl.NewRegistry()
			require.NoError(t, printPreview(context.Background(), &buf, preview.NewGenerator(handles, 4), tt.file))

			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
			assert.Zero(t, handles.Live())
		})
	}
}

func TestConvertOne(t *testing.T) {
	c := testConfig(t)
	a, err := newApp(context.Background(), c, nil)
	require.NoError(t, err)
	defer a.Close()

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("x"), 300), 0o644))
	outDir := t.TempDir()
	format, ok := a.catalog.Lookup("mp3")
	require.True(t, ok)

	var out bytes.Buffer
	status, err := convertOne(context.Background(), a, src, format, outDir, false, &out)
	require.NoError(t, err)
	assert.Equal(t, statusConverted, status)
	assert.Contains(t, out.String(), "uploading notes.txt   0%")
	assert.Contains(t, out.String(), "uploading notes.txt 100%")

	data, err := os.ReadFile(filepath.Join(outDir, "notes-converted.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "This is a simulated converted file.\nOriginal: notes.txt\nConverted to: .mp3", string(data))
	assert.Zero(t, a.handles.Live())

	out.Reset()
	status, err = convertOne(context.Background(), a, src, format, outDir, false, &out)
	require.NoError(t, err)
	assert.Equal(t, statusSkipped, status)
	assert.Contains(t, out.String(), "skipped")

	status, err = convertOne(context.Background(), a, src, format, outDir, true, &out)
	require.NoError(t, err)
	assert.Equal(t, statusConverted, status)

	cps, err := a.journal.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cps, "completed uploads leave no checkpoint")
}

func TestConvertOne_MissingFile(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	format, _ := a.catalog.Lookup("wav")
	_, err = convertOne(context.Background(), a, filepath.Join(t.TempDir(), "none.mp3"), format, t.TempDir(), false, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestConvertOne_RemoteSource(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF....WAVE"))
	}))
	defer ts.Close()

	a, err := newApp(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	format, _ := a.catalog.Lookup("flac")
	outDir := t.TempDir()
	status, err := convertOne(context.Background(), a, ts.URL+"/media/song.wav", format, outDir, false, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, statusConverted, status)
	assert.FileExists(t, filepath.Join(outDir, "song-converted.flac"))
}

func TestRequiredSecrets(t *testing.T) {
	tests := []struct {
		name       string
		storage    types.StorageBackend
		conversion types.ConversionBackend
		have       map[string]string
		want       []string
	}{
		{name: "fs and stub", storage: types.StorageFS, conversion: types.BackendStub},
		{
			name:       "s3 without credentials",
			storage:    types.StorageS3,
			conversion: types.BackendStub,
			want:       []string{"s3-access-key-id", "s3-secret-access-key"},
		},
		{
			name:       "minio and remote with one key set",
			storage:    types.StorageMinio,
			conversion: types.BackendRemote,
			have:       map[string]string{"minio-access-key": "ak"},
			want:       []string{"converter-token", "minio-secret-key"},
		},
		{
			name:       "nats with token",
			storage:    types.StorageNATS,
			conversion: types.BackendContainer,
			have:       map[string]string{"nats-token": "tok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := types.DefaultConfig()
			c.Storage.Backend = tt.storage
			c.Conversion.Backend = tt.conversion

			assert.Equal(t, tt.want, secrets.Missing(tt.have, requiredSecrets(c)...))
		})
	}
}
