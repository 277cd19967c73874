// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// StorageBackend identifies where uploads are written.
type StorageBackend string

const (
	StorageFS    StorageBackend = "fs"
	StorageS3    StorageBackend = "s3"
	StorageMinio StorageBackend = "minio"
	StorageNATS  StorageBackend = "nats"
)

// StorageConfig holds settings for the upload stage.
type StorageConfig struct {
	// Backend selects the store: fs, s3, minio, or nats.
	Backend StorageBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Dir is the root directory for the fs backend.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// Bucket is the bucket name for s3, minio, and nats backends.
	Bucket string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`

	// Endpoint overrides the service endpoint (minio host:port, or a custom S3 URL).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`

	// Region is the AWS region for the s3 backend.
	Region string `json:"region,omitempty" yaml:"region,omitempty" mapstructure:"region"`

	// UseSSL enables TLS for the minio backend.
	UseSSL bool `json:"use_ssl" yaml:"use_ssl" mapstructure:"use_ssl"`

	// NATSURL is the server URL for the nats backend.
	NATSURL string `json:"nats_url,omitempty" yaml:"nats_url,omitempty" mapstructure:"nats_url"`

	// PartSize is the chunk size for resumable uploads in bytes (default 5 MiB).
	PartSize int64 `json:"part_size" yaml:"part_size" mapstructure:"part_size"`

	// MaxRetries is the number of retries for a failed chunk (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// Journal is the SQLite file recording upload checkpoints. Empty disables resume.
	Journal string `json:"journal" yaml:"journal" mapstructure:"journal"`
}

// ConversionBackend identifies the conversion service implementation.
type ConversionBackend string

const (
	BackendStub      ConversionBackend = "stub"
	BackendRemote    ConversionBackend = "remote"
	BackendContainer ConversionBackend = "container"
)

// ConversionConfig holds settings for the conversion stage.
type ConversionConfig struct {
	// Backend selects the converter: stub, remote, or container.
	Backend ConversionBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Delay is the simulated processing time of the stub backend (default 1.5s).
	Delay time.Duration `json:"delay" yaml:"delay" mapstructure:"delay"`

	// Endpoint is the URL of the remote conversion service.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`

	// Image is the container image used by the container backend.
	Image string `json:"image,omitempty" yaml:"image,omitempty" mapstructure:"image"`

	// Timeout bounds a single remote conversion request.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// MaxRetries is the retry budget for rate-limited remote requests (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// PreviewConfig holds settings for preview generation.
type PreviewConfig struct {
	// TextLimit is the number of leading bytes shown for text files (default 1000).
	TextLimit int `json:"text_limit" yaml:"text_limit" mapstructure:"text_limit"`
}

// ServerConfig holds settings for the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// MaxUploadSize caps multipart file bodies in bytes (default 100 MiB).
	MaxUploadSize int64 `json:"max_upload_size" yaml:"max_upload_size" mapstructure:"max_upload_size"`

	// ShutdownTimeout bounds graceful shutdown (default 30s).
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LogConfig holds settings for the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is text or json (default text).
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Config groups all fileconv settings.
type Config struct {
	// Catalog is an optional YAML file that replaces the built-in format catalog.
	Catalog string `json:"catalog,omitempty" yaml:"catalog,omitempty" mapstructure:"catalog"`

	Storage    StorageConfig    `json:"storage" yaml:"storage" mapstructure:"storage"`
	Conversion ConversionConfig `json:"conversion" yaml:"conversion" mapstructure:"conversion"`
	Preview    PreviewConfig    `json:"preview" yaml:"preview" mapstructure:"preview"`
	Server     ServerConfig     `json:"server" yaml:"server" mapstructure:"server"`
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns the settings used when no config file is present.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Backend:    StorageFS,
			Dir:        "data/objects",
			Bucket:     "fileconv",
			Region:     "us-east-1",
			PartSize:   5 * 1024 * 1024,
			MaxRetries: 3,
			Journal:    "data/uploads.db",
		},
		Conversion: ConversionConfig{
			Backend:    BackendStub,
			Delay:      1500 * time.Millisecond,
			Image:      "linuxserver/ffmpeg:latest",
			Timeout:    5 * time.Minute,
			MaxRetries: 3,
		},
		Preview: PreviewConfig{
			TextLimit: 1000,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			MaxUploadSize:   100 * 1024 * 1024,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
