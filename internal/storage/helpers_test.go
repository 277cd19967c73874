// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storage

import (
	"io"
	"log/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
