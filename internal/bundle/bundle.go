// Package bundle reads app bundles: zip containers with an embedded
// manifest.toml declaring at least name and version.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	manifestName = "manifest.toml"
	iconName     = "icon.png"
)

var (
	// ErrManifestMissing means the bundle has no manifest.toml entry.
	ErrManifestMissing = errors.New("bundle has no manifest.toml")
	// ErrManifestMalformed means manifest.toml exists but cannot be parsed
	// or lacks a required field.
	ErrManifestMalformed = errors.New("manifest.toml is malformed")
)

type manifest struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
}

// Bundle is the parsed metadata of one app bundle. Parsing is atomic: a bad
// bundle yields an error and no partial Bundle.
type Bundle struct {
	Name        string
	Version     string
	Description string
	Icon        string // base64 PNG, empty if the bundle carries none
	Size        int64
}

// Parse reads the bundle file at path.
func Parse(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses bundle bytes.
func ParseBytes(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open bundle container: %w", err)
	}

	var m *manifest
	var icon string
	for _, f := range zr.File {
		switch f.Name {
		case manifestName:
			raw, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			var parsed manifest
			if err := toml.Unmarshal(raw, &parsed); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrManifestMalformed, err)
			}
			m = &parsed
		case iconName:
			raw, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			icon = base64.StdEncoding.EncodeToString(raw)
		}
	}

	if m == nil {
		return nil, ErrManifestMissing
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrManifestMalformed)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrManifestMalformed)
	}

	return &Bundle{
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Icon:        icon,
		Size:        int64(len(data)),
	}, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return raw, nil
}
