// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pdiddy/fileconv/pkg/types"
)

// NATSStore keeps objects in a NATS JetStream object store bucket.
type NATSStore struct {
	conn  *nats.Conn
	store jetstream.ObjectStore
}

// DialNATS connects to url and opens bucket, creating it if necessary.
// A non-empty token is sent as the connection auth token.
func DialNATS(ctx context.Context, url, bucket, token string) (*NATSStore, error) {
	var opts []nats.Option
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	store, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "fileconv uploads",
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("creating object store bucket %s: %w", bucket, err)
		}
	}

	return &NATSStore{conn: conn, store: store}, nil
}

// NewNATSStore wraps an already opened object store.
func NewNATSStore(store jetstream.ObjectStore) *NATSStore {
	return &NATSStore{store: store}
}

func (s *NATSStore) Name() string { return string(types.StorageNATS) }

func (s *NATSStore) Upload(ctx context.Context, req UploadRequest) (types.BlobRef, error) {
	req.report(0)
	meta := jetstream.ObjectMeta{
		Name: req.Key,
		Headers: nats.Header{
			"Content-Type":  []string{req.ContentType},
			"Original-Name": []string{req.Name},
		},
	}
	r := &countingReader{r: io.NewSectionReader(req.Content, 0, req.Size), req: req}
	info, err := s.store.Put(ctx, meta, r)
	if err != nil {
		return types.BlobRef{}, newError(s.Name(), "put", req.Key, err)
	}
	req.report(req.Size)

	return types.BlobRef{
		Backend:      s.Name(),
		Key:          req.Key,
		Size:         int64(info.Size),
		ContentType:  req.ContentType,
		OriginalName: req.Name,
		ETag:         info.Digest,
	}, nil
}

func (s *NATSStore) Open(ctx context.Context, ref types.BlobRef) (io.ReadCloser, error) {
	res, err := s.store.Get(ctx, ref.Key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			err = ErrNotFound
		}
		return nil, newError(s.Name(), "get", ref.Key, err)
	}
	return res, nil
}

func (s *NATSStore) Delete(ctx context.Context, ref types.BlobRef) error {
	if err := s.store.Delete(ctx, ref.Key); err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			err = ErrNotFound
		}
		return newError(s.Name(), "delete", ref.Key, err)
	}
	return nil
}

// Close drains the NATS connection when the store owns one.
func (s *NATSStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// countingReader reports progress as the object store consumes the content.
// The final report is left to the caller so 100% follows the server ack.
type countingReader struct {
	r    io.Reader
	req  UploadRequest
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.read < c.req.Size {
			c.req.report(c.read)
		}
	}
	return n, err
}
