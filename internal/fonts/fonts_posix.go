// SPDX-License-Identifier: MIT

//go:build !windows

package fonts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Default font directories on POSIX-like systems.
const (
	systemFontDir = "/usr/share/fonts"
	userFontDir   = ".fonts"
)

// PosixLoader symlinks the bundled fonts into the user font directory.
// On Unload it removes the symlinks it created.
type PosixLoader struct {
	// SourceDir is the packaged font directory.
	SourceDir string

	// SystemDirs are scanned for already-installed copies. Defaults to
	// /usr/share/fonts when empty.
	SystemDirs []string

	// UserDir is the user font directory. Defaults to ~/.fonts when empty.
	UserDir string

	// Logger is optional; nil disables logging.
	Logger *slog.Logger

	installed []string
}

// NewLoader returns the font loader for this platform.
func NewLoader(sourceDir string, logger *slog.Logger) Loader {
	return &PosixLoader{SourceDir: sourceDir, Logger: logger}
}

// Load scans the packaged font directory and installs each font that is not
// already present in a system or user font directory. A dead symlink in the
// user directory is replaced.
func (l *PosixLoader) Load() error {
	if l.Logger == nil {
		l.Logger = slog.New(slog.DiscardHandler)
	}
	if len(l.SystemDirs) == 0 {
		l.SystemDirs = []string{systemFontDir}
	}
	if l.UserDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to locate user font directory: %w", err)
		}
		l.UserDir = filepath.Join(home, userFontDir)
	}

	if err := os.MkdirAll(l.UserDir, 0o750); err != nil {
		return fmt.Errorf("failed to create user font directory: %w", err)
	}

	sources, err := l.scanSource()
	if err != nil {
		return err
	}
	l.Logger.Debug("found fonts to load", "count", len(sources))

	for _, source := range sources {
		if err := l.loadFont(source); err != nil {
			return err
		}
	}
	return nil
}

// scanSource lists the font files bundled in the source directory.
func (l *PosixLoader) scanSource() ([]string, error) {
	entries, err := os.ReadDir(l.SourceDir)
	if err != nil {
		// A missing packaged font directory just means nothing to install.
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan font directory: %w", err)
	}

	var fonts []string
	for _, entry := range entries {
		if entry.IsDir() || !isFontFile(entry.Name()) {
			continue
		}
		fonts = append(fonts, filepath.Join(l.SourceDir, entry.Name()))
	}
	return fonts, nil
}

// loadFont installs a single font file if needed.
func (l *PosixLoader) loadFont(source string) error {
	name := filepath.Base(source)

	if l.inSystemDirs(name) {
		l.Logger.Debug("font already installed system-wide", "font", name)
		return nil
	}

	target := filepath.Join(l.UserDir, name)
	info, err := os.Lstat(target)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		if _, err := os.Stat(target); err == nil {
			l.Logger.Debug("font already linked in user directory", "font", name)
			return nil
		}
		// Dead symlink left behind by a previous run: replace it.
		l.Logger.Debug("replacing dead font symlink", "font", name)
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("failed to remove dead font symlink %q: %w", target, err)
		}
	case err == nil:
		l.Logger.Debug("font already present in user directory", "font", name)
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to inspect font target %q: %w", target, err)
	}

	if err := os.Symlink(source, target); err != nil {
		return fmt.Errorf("failed to install font %q: %w", name, err)
	}
	l.installed = append(l.installed, target)
	l.Logger.Info("installed font", "font", name, "path", target)
	return nil
}

// inSystemDirs reports whether a font with this file name exists under any
// system font directory.
func (l *PosixLoader) inSystemDirs(name string) bool {
	for _, dir := range l.SystemDirs {
		found := false
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, keep walking the rest
			}
			if !d.IsDir() && d.Name() == name {
				found = true
				return fs.SkipAll
			}
			return nil
		})
		if found {
			return true
		}
	}
	return false
}

// Unload removes the symlinks created by Load. Files already removed by
// someone else are not an error.
func (l *PosixLoader) Unload() error {
	for _, target := range l.installed {
		err := os.Remove(target)
		switch {
		case err == nil:
			l.Logger.Info("removed font", "path", target)
		case errors.Is(err, fs.ErrNotExist):
			l.Logger.Debug("font already removed", "path", target)
		default:
			return fmt.Errorf("failed to remove font %q: %w", target, err)
		}
	}
	l.installed = nil
	return nil
}
