// SPDX-License-Identifier: MIT

// Package background resolves which image to show behind the idle and
// transition screens.
//
// Per kind, the search order is: the user directory with the configured
// file name, the user directory with the default file name, then the
// packaged default. Only a missing packaged default is an error.
package background

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hoshikara/karad/internal/config"
	"github.com/hoshikara/karad/internal/playlist"
)

// Loader resolves background image paths.
type Loader struct {
	// UserDir is the optional user background directory.
	UserDir string

	// DefaultDir is the packaged background directory.
	DefaultDir string

	// Names maps a kind to its configured file name.
	Names map[playlist.Kind]string

	// DefaultNames maps a kind to its packaged default file name.
	DefaultNames map[playlist.Kind]string

	// Logger is optional; nil disables logging.
	Logger *slog.Logger

	resolved map[playlist.Kind]string
}

// Load resolves every configured kind up front so a broken installation is
// caught at startup, not mid-song.
func (l *Loader) Load() error {
	if l.Logger == nil {
		l.Logger = slog.New(slog.DiscardHandler)
	}

	l.resolved = make(map[playlist.Kind]string, len(l.DefaultNames))
	for kind := range l.DefaultNames {
		path, err := l.resolve(kind)
		if err != nil {
			return err
		}
		l.resolved[kind] = path
	}
	return nil
}

// Resolve returns the absolute path of the background for kind.
func (l *Loader) Resolve(kind playlist.Kind) (string, error) {
	if path, ok := l.resolved[kind]; ok {
		return path, nil
	}
	return l.resolve(kind)
}

func (l *Loader) resolve(kind playlist.Kind) (string, error) {
	defaultName, ok := l.DefaultNames[kind]
	if !ok {
		return "", fmt.Errorf("no background defined for %s screen", kind)
	}

	if l.UserDir != "" {
		candidates := []string{}
		if name := l.Names[kind]; name != "" {
			candidates = append(candidates, filepath.Join(l.UserDir, name))
		}
		candidates = append(candidates, filepath.Join(l.UserDir, defaultName))

		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				abs, err := filepath.Abs(candidate)
				if err != nil {
					return "", err
				}
				l.Logger.Debug("using user background", "kind", kind, "path", abs)
				return abs, nil
			}
		}
	}

	packaged := filepath.Join(l.DefaultDir, defaultName)
	if _, err := os.Stat(packaged); err != nil {
		return "", fmt.Errorf("%w: no background found for %s screen: %v", config.ErrInvalid, kind, err)
	}

	abs, err := filepath.Abs(packaged)
	if err != nil {
		return "", err
	}
	return abs, nil
}
