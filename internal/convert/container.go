// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pdiddy/fileconv/internal/container"
	"github.com/pdiddy/fileconv/internal/storage"
	"github.com/pdiddy/fileconv/pkg/types"
)

// DefaultImage is the ffmpeg image used when none is configured.
const DefaultImage = "linuxserver/ffmpeg:latest"

// muxers maps a target format to the ffmpeg output arguments that write it
// to a pipe. Formats missing here cannot be produced by the container.
var muxers = map[string][]string{
	"mp3":  {"-f", "mp3"},
	"wav":  {"-f", "wav"},
	"ogg":  {"-f", "ogg"},
	"flac": {"-f", "flac"},
	"aac":  {"-c:a", "aac", "-f", "adts"},
	"mp4":  {"-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
	"mov":  {"-movflags", "frag_keyframe+empty_moov", "-f", "mov"},
	"avi":  {"-f", "avi"},
	"mkv":  {"-f", "matroska"},
	"webm": {"-f", "webm"},
	"jpg":  {"-frames:v", "1", "-c:v", "mjpeg", "-f", "image2pipe"},
	"png":  {"-frames:v", "1", "-c:v", "png", "-f", "image2pipe"},
	"gif":  {"-f", "gif"},
	"webp": {"-frames:v", "1", "-c:v", "libwebp", "-f", "webp"},
}

// ffmpegArgs returns the ffmpeg argument list for target.
func ffmpegArgs(target string) ([]string, bool) {
	out, ok := muxers[target]
	if !ok {
		return nil, false
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
	args = append(args, out...)
	return append(args, "pipe:1"), true
}

// ContainerConverter runs ffmpeg in a local container. The blob is streamed
// from the store into the container's stdin.
type ContainerConverter struct {
	rt    container.Runtime
	store storage.Store
	image string
	log   *slog.Logger
}

// NewContainerConverter checks that image is available and returns a
// converter using it.
func NewContainerConverter(ctx context.Context, rt container.Runtime, store storage.Store, image string, log *slog.Logger) (*ContainerConverter, error) {
	if store == nil {
		return nil, errors.New("container conversion requires a store")
	}
	if image == "" {
		image = DefaultImage
	}
	if log == nil {
		log = slog.Default()
	}
	if err := rt.ImageExists(ctx, image); err != nil {
		return nil, fmt.Errorf("%w (run %s pull %s)", err, rt.Name(), image)
	}
	return &ContainerConverter{rt: rt, store: store, image: image, log: log}, nil
}

func (c *ContainerConverter) Convert(ctx context.Context, ref types.BlobRef, target types.Format) (*Artifact, error) {
	args, ok := ffmpegArgs(target.Value)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTarget, target.Value)
	}

	in, err := c.store.Open(ctx, ref)
	if err != nil {
		return nil, failed(err, "opening %s", ref.Key)
	}
	defer in.Close()

	c.log.Debug("running conversion container",
		"runtime", c.rt.Name(), "image", c.image, "key", ref.Key, "target", target.Value)

	var out bytes.Buffer
	err = c.rt.Run(ctx, container.RunSpec{
		Image:  c.image,
		Args:   args,
		Stdin:  in,
		Stdout: &out,
	})
	if err != nil {
		return nil, failed(err, "%s %s", c.rt.Name(), c.image)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: %s produced no output", ErrConversionFailed, c.image)
	}

	return &Artifact{
		ContentType: contentType(target, out.Bytes()),
		Data:        out.Bytes(),
	}, nil
}
