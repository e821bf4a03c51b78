// SPDX-License-Identifier: MIT

// Package text renders the idle and transition subtitle overlays from ASS
// templates.
//
// Templates are plain text/template files. A user-configured template
// directory is consulted first; a missing user template falls back silently
// to the packaged default, while a malformed template is fatal. Templates
// may use the icon filter to turn an icon name into the matching glyph of
// the bundled icon font:
//
//	{{icon "microphone"}} {{.Entry.Owner}}
package text

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/ini.v1"

	"github.com/hoshikara/karad/internal/config"
	"github.com/hoshikara/karad/internal/playlist"
)

// Template kinds.
const (
	KindIdle       = "idle"
	KindTransition = "transition"
)

// IdleContext is the data handed to the idle template.
type IdleContext struct {
	// Notes are free-form lines shown on the idle screen, typically the
	// player and daemon versions.
	Notes []string
}

// TransitionContext is the data handed to the transition template.
type TransitionContext struct {
	Entry *playlist.Entry

	// FadeIn enables the fade-in effect on the card.
	FadeIn bool
}

// Generator compiles the subtitle templates and renders them on demand.
type Generator struct {
	// UserDir is the optional user template directory, searched first.
	UserDir string

	// DefaultDir is the packaged template directory.
	DefaultDir string

	// IconMapPath is the icon-name to glyph-codepoint INI file.
	IconMapPath string

	// Names maps a kind to its template file name.
	Names map[string]string

	// Logger is optional; nil disables logging.
	Logger *slog.Logger

	icons     map[string]rune
	templates map[string]*template.Template
}

// Load parses the icon map and compiles the idle and transition templates.
// A syntactically invalid template is a configuration error.
func (g *Generator) Load() error {
	if g.Logger == nil {
		g.Logger = slog.New(slog.DiscardHandler)
	}

	if err := g.loadIconMap(); err != nil {
		return err
	}

	g.templates = make(map[string]*template.Template, 2)
	for _, kind := range []string{KindIdle, KindTransition} {
		tmpl, err := g.compile(kind)
		if err != nil {
			return err
		}
		g.templates[kind] = tmpl
	}

	return nil
}

// loadIconMap reads the [map] section of the icon INI file.
func (g *Generator) loadIconMap() error {
	file, err := ini.Load(g.IconMapPath)
	if err != nil {
		return fmt.Errorf("%w: failed to load icon map %q: %v", config.ErrInvalid, g.IconMapPath, err)
	}

	section := file.Section("map")
	g.icons = make(map[string]rune, len(section.Keys()))
	for _, key := range section.Keys() {
		codepoint, err := strconv.ParseUint(key.Value(), 16, 32)
		if err != nil {
			return fmt.Errorf("%w: icon %q has invalid codepoint %q", config.ErrInvalid, key.Name(), key.Value())
		}
		g.icons[key.Name()] = rune(codepoint)
	}

	return nil
}

// icon resolves an icon name to its glyph. Unknown names render a space so
// a template typo degrades instead of breaking the overlay.
func (g *Generator) icon(name string) string {
	glyph, ok := g.icons[name]
	if !ok {
		g.Logger.Warn("unknown icon requested", "icon", name)
		return " "
	}
	return string(glyph)
}

// compile parses the template for kind, preferring the user directory.
func (g *Generator) compile(kind string) (*template.Template, error) {
	name := g.Names[kind]
	path := filepath.Join(g.DefaultDir, name)

	if g.UserDir != "" {
		userPath := filepath.Join(g.UserDir, name)
		if _, err := os.Stat(userPath); err == nil {
			path = userPath
		} else {
			g.Logger.Debug("user template not found, using default", "kind", kind, "path", userPath)
		}
	}

	data, err := os.ReadFile(path) // #nosec G304 - paths come from configuration
	if err != nil {
		return nil, fmt.Errorf("%w: no template file for %s screen found: %v", config.ErrInvalid, kind, err)
	}

	tmpl, err := template.New(name).Funcs(template.FuncMap{"icon": g.icon}).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: template %q is malformed: %v", config.ErrInvalid, path, err)
	}

	g.Logger.Debug("loaded template", "kind", kind, "path", path)
	return tmpl, nil
}

// Render produces the overlay text for kind. It is a pure function of its
// inputs: same context, same output.
//
// ctx must be IdleContext for the idle kind and TransitionContext for the
// transition kind.
func (g *Generator) Render(kind string, ctx interface{}) (string, error) {
	tmpl, ok := g.templates[kind]
	if !ok {
		return "", fmt.Errorf("unknown text screen kind %q", kind)
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, ctx); err != nil {
		return "", fmt.Errorf("failed to render %s screen: %w", kind, err)
	}

	return out.String(), nil
}

// Write renders the overlay for kind and writes it to path as UTF-8.
// It returns path for convenience.
func (g *Generator) Write(kind string, ctx interface{}, path string) (string, error) {
	content, err := g.Render(kind, ctx)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return "", fmt.Errorf("failed to write %s screen text: %w", kind, err)
	}

	g.Logger.Debug("wrote text screen", "kind", kind, "path", path)
	return path, nil
}
