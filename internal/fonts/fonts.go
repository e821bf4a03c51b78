// SPDX-License-Identifier: MIT

// Package fonts installs the bundled fonts into the OS font namespace for
// the lifetime of the daemon.
//
// The subtitle overlays reference the bundled fonts by family name, so the
// media player must be able to find them through the regular OS font
// lookup. Load installs what is missing; Unload removes exactly what Load
// installed.
package fonts

import (
	"path/filepath"
	"strings"
)

// fontExtensions lists the file extensions treated as installable fonts.
var fontExtensions = []string{".ttf", ".otf"}

// Loader installs and removes the bundled fonts.
type Loader interface {
	// Load installs the fonts found in the packaged font directory.
	Load() error

	// Unload removes whatever Load installed. It is tolerant of files
	// already removed by someone else.
	Unload() error
}

func isFontFile(name string) bool {
	ext := filepath.Ext(name)
	for _, want := range fontExtensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}
