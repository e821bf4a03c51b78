// SPDX-License-Identifier: MIT

// Package resources carries the assets bundled with the daemon: the default
// subtitle templates, the default background images, the icon glyph map and
// any packaged fonts.
//
// The media player and the template loader work with real files on disk, so
// the assets are extracted into the daemon's temporary directory at startup
// with Extract.
package resources

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed all:share
var share embed.FS

// Dir is an extracted copy of the bundled assets on disk.
type Dir struct {
	root string
}

// Extract writes the bundled assets under dest and returns the extracted
// tree. dest must exist.
func Extract(dest string) (*Dir, error) {
	err := fs.WalkDir(share, "share", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		target := filepath.Join(dest, path)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}

		data, err := share.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o640)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract bundled resources: %w", err)
	}

	return &Dir{root: filepath.Join(dest, "share")}, nil
}

// Templates returns the directory of the default subtitle templates.
func (d *Dir) Templates() string { return filepath.Join(d.root, "templates") }

// Backgrounds returns the directory of the default background images.
func (d *Dir) Backgrounds() string { return filepath.Join(d.root, "backgrounds") }

// Fonts returns the directory of the packaged fonts.
func (d *Dir) Fonts() string { return filepath.Join(d.root, "fonts") }

// IconMap returns the path of the icon-name to glyph-codepoint map.
func (d *Dir) IconMap() string { return filepath.Join(d.root, "font-awesome.ini") }
