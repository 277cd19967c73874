// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"fmt"
	"time"

	"github.com/pdiddy/fileconv/pkg/types"
)

// DefaultStubDelay is the simulated processing time.
const DefaultStubDelay = 1500 * time.Millisecond

// StubConverter stands in for a conversion service. It waits a fixed delay
// and returns a short text artifact naming the original and target.
type StubConverter struct {
	delay time.Duration
}

// NewStubConverter returns a stub with the given delay. A negative delay
// uses DefaultStubDelay; zero converts immediately.
func NewStubConverter(delay time.Duration) *StubConverter {
	if delay < 0 {
		delay = DefaultStubDelay
	}
	return &StubConverter{delay: delay}
}

func (s *StubConverter) Convert(ctx context.Context, ref types.BlobRef, target types.Format) (*Artifact, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("This is a simulated converted file.\nOriginal: %s\nConverted to: %s",
		ref.OriginalName, target.Extension())
	return &Artifact{ContentType: "text/plain", Data: []byte(body)}, nil
}
