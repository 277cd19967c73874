// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog provides the read-only set of conversion target formats.
// A catalog is built once at startup, from the built-in defaults or a YAML
// file, and injected into the components that need it.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/fileconv/pkg/types"
)

// ErrDuplicateFormat is returned when two formats share a value.
var ErrDuplicateFormat = errors.New("duplicate format value")

// Catalog is an immutable, validated list of format categories.
type Catalog struct {
	categories []types.FormatCategory
	byValue    map[string]types.Format
}

// File is the on-disk representation of a catalog override.
type File struct {
	Categories []types.FormatCategory `yaml:"categories"`
}

var defaultCategories = []types.FormatCategory{
	{Name: "Audio", Formats: []types.Format{
		{Value: "mp3", Label: "MP3"},
		{Value: "wav", Label: "WAV"},
		{Value: "aac", Label: "AAC"},
		{Value: "flac", Label: "FLAC"},
		{Value: "ogg", Label: "OGG"},
	}},
	{Name: "Video", Formats: []types.Format{
		{Value: "mp4", Label: "MP4"},
		{Value: "avi", Label: "AVI"},
		{Value: "mov", Label: "MOV"},
		{Value: "mkv", Label: "MKV"},
		{Value: "webm", Label: "WebM"},
	}},
	{Name: "Image", Formats: []types.Format{
		{Value: "jpg", Label: "JPG"},
		{Value: "png", Label: "PNG"},
		{Value: "gif", Label: "GIF"},
		{Value: "webp", Label: "WebP"},
		{Value: "svg", Label: "SVG"},
	}},
	{Name: "Document", Formats: []types.Format{
		{Value: "pdf", Label: "PDF"},
		{Value: "docx", Label: "DOCX"},
		{Value: "txt", Label: "TXT"},
		{Value: "html", Label: "HTML"},
	}},
}

// Default returns the built-in catalog of audio, video, image, and document formats.
func Default() *Catalog {
	c, err := New(defaultCategories)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// New validates categories and returns a catalog. Format values are
// normalized to lower case and must be non-empty and unique across the
// whole catalog. A missing label defaults to the upper-cased value.
func New(categories []types.FormatCategory) (*Catalog, error) {
	c := &Catalog{byValue: make(map[string]types.Format)}
	for _, cat := range categories {
		if strings.TrimSpace(cat.Name) == "" {
			return nil, fmt.Errorf("category with %d formats has no name", len(cat.Formats))
		}
		copied := types.FormatCategory{Name: cat.Name, Formats: make([]types.Format, 0, len(cat.Formats))}
		for _, f := range cat.Formats {
			f.Value = strings.ToLower(strings.TrimSpace(f.Value))
			if f.Value == "" {
				return nil, fmt.Errorf("category %s: format with empty value", cat.Name)
			}
			if _, dup := c.byValue[f.Value]; dup {
				return nil, fmt.Errorf("category %s: %w: %s", cat.Name, ErrDuplicateFormat, f.Value)
			}
			if f.Label == "" {
				f.Label = strings.ToUpper(f.Value)
			}
			c.byValue[f.Value] = f
			copied.Formats = append(copied.Formats, f)
		}
		c.categories = append(c.categories, copied)
	}
	return c, nil
}

// Load reads a catalog override from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("catalog file %s defines no categories", path)
	}
	return New(f.Categories)
}

// FromPath returns Load(path) when path is set, otherwise Default().
func FromPath(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Lookup returns the format with the given value. Matching ignores case
// and a leading dot.
func (c *Catalog) Lookup(value string) (types.Format, bool) {
	v := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "."))
	f, ok := c.byValue[v]
	return f, ok
}

// Categories returns a copy of the catalog's categories in display order.
func (c *Catalog) Categories() []types.FormatCategory {
	out := make([]types.FormatCategory, len(c.categories))
	for i, cat := range c.categories {
		out[i] = types.FormatCategory{
			Name:    cat.Name,
			Formats: append([]types.Format(nil), cat.Formats...),
		}
	}
	return out
}

// Len returns the number of formats across all categories.
func (c *Catalog) Len() int {
	return len(c.byValue)
}
