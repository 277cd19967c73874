// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/pdiddy/fileconv/pkg/types"
)

// setDefaults registers every config key with viper so that environment
// variables can override keys absent from the config file.
func setDefaults(d types.Config) {
	viper.SetDefault("catalog", d.Catalog)

	viper.SetDefault("storage.backend", string(d.Storage.Backend))
	viper.SetDefault("storage.dir", d.Storage.Dir)
	viper.SetDefault("storage.bucket", d.Storage.Bucket)
	viper.SetDefault("storage.endpoint", d.Storage.Endpoint)
	viper.SetDefault("storage.region", d.Storage.Region)
	viper.SetDefault("storage.use_ssl", d.Storage.UseSSL)
	viper.SetDefault("storage.nats_url", d.Storage.NATSURL)
	viper.SetDefault("storage.part_size", d.Storage.PartSize)
	viper.SetDefault("storage.max_retries", d.Storage.MaxRetries)
	viper.SetDefault("storage.journal", d.Storage.Journal)

	viper.SetDefault("conversion.backend", string(d.Conversion.Backend))
	viper.SetDefault("conversion.delay", d.Conversion.Delay)
	viper.SetDefault("conversion.endpoint", d.Conversion.Endpoint)
	viper.SetDefault("conversion.image", d.Conversion.Image)
	viper.SetDefault("conversion.timeout", d.Conversion.Timeout)
	viper.SetDefault("conversion.max_retries", d.Conversion.MaxRetries)

	viper.SetDefault("preview.text_limit", d.Preview.TextLimit)

	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.max_upload_size", d.Server.MaxUploadSize)
	viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
}

// loadConfig decodes the merged viper settings.
func loadConfig() (types.Config, error) {
	c := types.DefaultConfig()
	if err := viper.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding config: %w", err)
	}
	if c.Storage.PartSize <= 0 {
		return c, fmt.Errorf("storage.part_size must be positive, got %d", c.Storage.PartSize)
	}
	return c, nil
}

// newLogger builds the process logger from the log settings. Unknown
// levels fall back to info.
func newLogger(c types.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
