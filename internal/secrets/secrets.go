// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads storage and converter credentials from a directory
// of plain-text files. Each file holds one secret: the filename is the key
// and the trimmed contents are the value. An environment variable named
// FILECONV_ followed by the upper-cased key (dashes become underscores)
// overrides the file.
//
// Known keys: s3-access-key-id, s3-secret-access-key, minio-access-key,
// minio-secret-key, nats-token, converter-token.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvPrefix is prepended to environment overrides.
const EnvPrefix = "FILECONV_"

// Known lists the secret keys the storage and conversion backends read.
var Known = []string{
	"s3-access-key-id",
	"s3-secret-access-key",
	"minio-access-key",
	"minio-secret-key",
	"nats-token",
	"converter-token",
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Load reads all files in dir and returns a map of filename to trimmed
// contents, then applies environment overrides for the Known keys. A
// missing directory is not an error. Unreadable files are logged and
// skipped.
func Load(dir string) (map[string]string, error) {
	secrets := make(map[string]string)

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("could not read secret", "name", name, "error", err)
			continue
		}

		if value := strings.TrimSpace(string(data)); value != "" {
			secrets[name] = value
		}
	}

	for _, key := range Known {
		if value := strings.TrimSpace(os.Getenv(EnvName(key))); value != "" {
			secrets[key] = value
		}
	}

	return secrets, nil
}

// Missing returns the keys absent from secrets, sorted.
func Missing(secrets map[string]string, keys ...string) []string {
	var out []string
	for _, k := range keys {
		if secrets[k] == "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
