// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the data records shared across fileconv packages:
// formats, transfer snapshots, blob references, and configuration.
package types

// Format is one conversion target offered by the catalog.
type Format struct {
	// Value is the format code used for lookups and file extensions (e.g. "mp3").
	Value string `json:"value" yaml:"value"`

	// Label is the human-readable name (e.g. "MP3", "WebM").
	Label string `json:"label" yaml:"label"`
}

// Extension returns the format code with a leading dot.
func (f Format) Extension() string {
	return "." + f.Value
}

// FormatCategory groups related formats under a display name.
type FormatCategory struct {
	Name    string   `json:"name" yaml:"name"`
	Formats []Format `json:"formats" yaml:"formats"`
}
