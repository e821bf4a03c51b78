// SPDX-License-Identifier: MIT

package text

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hoshikara/karad/internal/config"
	"github.com/hoshikara/karad/internal/playlist"
)

// newTestGenerator builds a loaded generator backed by small fixtures.
func newTestGenerator(t *testing.T, idleTmpl, transitionTmpl string) *Generator {
	t.Helper()
	dir := t.TempDir()

	iconMap := "[map]\nmusic = f001\nuser = f007\n"
	iconPath := filepath.Join(dir, "icons.ini")
	if err := os.WriteFile(iconPath, []byte(iconMap), 0o600); err != nil {
		t.Fatal(err)
	}

	defaultDir := filepath.Join(dir, "defaults")
	if err := os.Mkdir(defaultDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(defaultDir, "idle.ass"), []byte(idleTmpl), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(defaultDir, "transition.ass"), []byte(transitionTmpl), 0o600); err != nil {
		t.Fatal(err)
	}

	gen := &Generator{
		DefaultDir:  defaultDir,
		IconMapPath: iconPath,
		Names: map[string]string{
			KindIdle:       "idle.ass",
			KindTransition: "transition.ass",
		},
	}
	if err := gen.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return gen
}

func TestRenderIdle(t *testing.T) {
	gen := newTestGenerator(t,
		"{{range .Notes}}{{.}}\n{{end}}",
		"{{.Entry.Song.Title}}")

	got, err := gen.Render(KindIdle, IdleContext{Notes: []string{"mpv 0.36.0", "karad 1.0.0"}})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if got != "mpv 0.36.0\nkarad 1.0.0\n" {
		t.Errorf("Render() = %q", got)
	}
}

func TestRenderTransition(t *testing.T) {
	gen := newTestGenerator(t,
		"idle",
		`{{.Entry.Song.Title}} by {{range $i, $a := .Entry.Song.Artists}}{{if $i}}, {{end}}{{$a.Name}}{{end}} for {{.Entry.Owner}}{{if .FadeIn}} [fade]{{end}}`)

	entry := &playlist.Entry{
		ID:    42,
		Owner: "rin",
		Song: playlist.Song{
			Title:   "Sous le vent",
			Artists: []playlist.Artist{{Name: "A"}, {Name: "B"}},
		},
	}

	got, err := gen.Render(KindTransition, TransitionContext{Entry: entry, FadeIn: true})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	want := "Sous le vent by A, B for rin [fade]"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}

	// No fade.
	got, err = gen.Render(KindTransition, TransitionContext{Entry: entry})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if strings.Contains(got, "[fade]") {
		t.Errorf("Render() without FadeIn still contains the fade marker: %q", got)
	}
}

func TestRenderIsPure(t *testing.T) {
	gen := newTestGenerator(t, "{{range .Notes}}{{.}}{{end}}", "x")
	ctx := IdleContext{Notes: []string{"a", "b"}}

	first, err := gen.Render(KindIdle, ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := gen.Render(KindIdle, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("Render() not pure: %q != %q", first, second)
	}
}

func TestIconFilter(t *testing.T) {
	gen := newTestGenerator(t, `{{icon "music"}}|{{icon "no_such_icon"}}`, "x")

	got, err := gen.Render(KindIdle, IdleContext{})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	want := string(rune(0xf001)) + "| "
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestUserTemplateOverride(t *testing.T) {
	gen := newTestGenerator(t, "default idle", "default transition")

	userDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(userDir, "idle.ass"), []byte("custom idle"), 0o600); err != nil {
		t.Fatal(err)
	}
	gen.UserDir = userDir
	if err := gen.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Present user template wins.
	got, err := gen.Render(KindIdle, IdleContext{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "custom idle" {
		t.Errorf("Render(idle) = %q, want user template", got)
	}

	// Missing user template falls back silently.
	got, err = gen.Render(KindTransition, TransitionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "default transition" {
		t.Errorf("Render(transition) = %q, want default template", got)
	}
}

func TestLoadMalformedTemplateFatal(t *testing.T) {
	dir := t.TempDir()
	iconPath := filepath.Join(dir, "icons.ini")
	if err := os.WriteFile(iconPath, []byte("[map]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	defaultDir := filepath.Join(dir, "defaults")
	if err := os.Mkdir(defaultDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(defaultDir, "idle.ass"), []byte("{{.Broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(defaultDir, "transition.ass"), []byte("ok"), 0o600); err != nil {
		t.Fatal(err)
	}

	gen := &Generator{
		DefaultDir:  defaultDir,
		IconMapPath: iconPath,
		Names:       map[string]string{KindIdle: "idle.ass", KindTransition: "transition.ass"},
	}

	if err := gen.Load(); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid for malformed template", err)
	}
}

func TestWrite(t *testing.T) {
	gen := newTestGenerator(t, "idle text", "x")

	path := filepath.Join(t.TempDir(), "idle.ass")
	got, err := gen.Write(KindIdle, IdleContext{}, path)
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if got != path {
		t.Errorf("Write() = %q, want %q", got, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "idle text" {
		t.Errorf("written content = %q", data)
	}
}
