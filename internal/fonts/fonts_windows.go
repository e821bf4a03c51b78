// SPDX-License-Identifier: MIT

//go:build windows

package fonts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"
)

// WindowsLoader registers the bundled fonts with the session font table
// through AddFontResourceW and removes them again on Unload. Registration
// lasts for the session only, which matches the daemon's lifetime.
type WindowsLoader struct {
	// SourceDir is the packaged font directory.
	SourceDir string

	// Logger is optional; nil disables logging.
	Logger *slog.Logger

	registered []string
}

// NewLoader returns the font loader for this platform.
func NewLoader(sourceDir string, logger *slog.Logger) Loader {
	return &WindowsLoader{SourceDir: sourceDir, Logger: logger}
}

var (
	gdi32              = syscall.NewLazyDLL("gdi32.dll")
	addFontResource    = gdi32.NewProc("AddFontResourceW")
	removeFontResource = gdi32.NewProc("RemoveFontResourceW")
)

// Load registers every bundled font file for the current session.
func (l *WindowsLoader) Load() error {
	if l.Logger == nil {
		l.Logger = slog.New(slog.DiscardHandler)
	}

	entries, err := os.ReadDir(l.SourceDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to scan font directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isFontFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.SourceDir, entry.Name())

		ptr, err := syscall.UTF16PtrFromString(path)
		if err != nil {
			return fmt.Errorf("failed to encode font path %q: %w", path, err)
		}
		added, _, _ := addFontResource.Call(uintptr(unsafe.Pointer(ptr)))
		if added == 0 {
			return fmt.Errorf("failed to register font %q", path)
		}

		l.registered = append(l.registered, path)
		l.Logger.Info("registered font", "path", path)
	}
	return nil
}

// Unload unregisters the fonts registered by Load.
func (l *WindowsLoader) Unload() error {
	for _, path := range l.registered {
		ptr, err := syscall.UTF16PtrFromString(path)
		if err != nil {
			continue
		}
		removed, _, _ := removeFontResource.Call(uintptr(unsafe.Pointer(ptr)))
		if removed == 0 {
			l.Logger.Warn("failed to unregister font", "path", path)
			continue
		}
		l.Logger.Info("unregistered font", "path", path)
	}
	l.registered = nil
	return nil
}
