// SPDX-License-Identifier: MIT

package background

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hoshikara/karad/internal/config"
	"github.com/hoshikara/karad/internal/playlist"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("png"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestResolveSearchOrder(t *testing.T) {
	defaultDir := t.TempDir()
	touch(t, filepath.Join(defaultDir, "idle.png"))
	touch(t, filepath.Join(defaultDir, "transition.png"))

	tests := []struct {
		name     string
		userName string // configured file name for idle
		files    []string
		want     string // relative to the user dir; "" means packaged default
	}{
		{"configured name in user dir", "night.png", []string{"night.png", "idle.png"}, "night.png"},
		{"default name in user dir", "night.png", []string{"idle.png"}, "idle.png"},
		{"packaged fallback", "night.png", nil, ""},
		{"no configured name", "", []string{"idle.png"}, "idle.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userDir := t.TempDir()
			for _, f := range tt.files {
				touch(t, filepath.Join(userDir, f))
			}

			loader := &Loader{
				UserDir:    userDir,
				DefaultDir: defaultDir,
				Names: map[playlist.Kind]string{
					playlist.KindIdle: tt.userName,
				},
				DefaultNames: map[playlist.Kind]string{
					playlist.KindIdle:       "idle.png",
					playlist.KindTransition: "transition.png",
				},
			}
			if err := loader.Load(); err != nil {
				t.Fatalf("Load() error: %v", err)
			}

			got, err := loader.Resolve(playlist.KindIdle)
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}

			want := filepath.Join(defaultDir, "idle.png")
			if tt.want != "" {
				want = filepath.Join(userDir, tt.want)
			}
			if got != want {
				t.Errorf("Resolve() = %q, want %q", got, want)
			}
		})
	}
}

func TestResolveNoUserDir(t *testing.T) {
	defaultDir := t.TempDir()
	touch(t, filepath.Join(defaultDir, "idle.png"))

	loader := &Loader{
		DefaultDir:   defaultDir,
		DefaultNames: map[playlist.Kind]string{playlist.KindIdle: "idle.png"},
	}
	if err := loader.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	got, err := loader.Resolve(playlist.KindIdle)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != filepath.Join(defaultDir, "idle.png") {
		t.Errorf("Resolve() = %q", got)
	}
}

func TestResolveMissingPackagedDefault(t *testing.T) {
	loader := &Loader{
		DefaultDir:   t.TempDir(), // empty
		DefaultNames: map[playlist.Kind]string{playlist.KindIdle: "idle.png"},
	}

	err := loader.Load()
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}
