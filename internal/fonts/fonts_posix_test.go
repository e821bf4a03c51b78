// SPDX-License-Identifier: MIT

//go:build !windows

package fonts

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFont(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("font"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestLoader builds a loader with isolated source, system and user dirs.
func newTestLoader(t *testing.T) (*PosixLoader, string, string, string) {
	t.Helper()
	source := t.TempDir()
	system := t.TempDir()
	user := filepath.Join(t.TempDir(), ".fonts")

	loader := &PosixLoader{
		SourceDir:  source,
		SystemDirs: []string{system},
		UserDir:    user,
	}
	return loader, source, system, user
}

func TestLoadInstallsSymlinks(t *testing.T) {
	loader, source, _, user := newTestLoader(t)
	writeFont(t, source, "icons.ttf")
	writeFont(t, source, "serif.otf")
	writeFont(t, source, "README.md") // not a font, must be ignored

	if err := loader.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, name := range []string{"icons.ttf", "serif.otf"} {
		target := filepath.Join(user, name)
		info, err := os.Lstat(target)
		if err != nil {
			t.Fatalf("font %s not installed: %v", name, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			t.Errorf("font %s installed as a regular file, want symlink", name)
		}
	}

	if _, err := os.Lstat(filepath.Join(user, "README.md")); err == nil {
		t.Error("non-font file was installed")
	}
}

func TestLoadSkipsSystemFont(t *testing.T) {
	loader, source, system, user := newTestLoader(t)
	writeFont(t, source, "icons.ttf")

	// Same font already in a system subdirectory.
	sub := filepath.Join(system, "truetype")
	if err := os.Mkdir(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	writeFont(t, sub, "icons.ttf")

	if err := loader.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if _, err := os.Lstat(filepath.Join(user, "icons.ttf")); err == nil {
		t.Error("system-installed font was installed again in the user directory")
	}
}

func TestLoadSkipsExistingUserFont(t *testing.T) {
	loader, source, _, user := newTestLoader(t)
	writeFont(t, source, "icons.ttf")

	if err := os.MkdirAll(user, 0o750); err != nil {
		t.Fatal(err)
	}
	writeFont(t, user, "icons.ttf") // user installed their own copy

	if err := loader.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	info, err := os.Lstat(filepath.Join(user, "icons.ttf"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("user's own font file was replaced by a symlink")
	}

	// Nothing installed, so Unload must remove nothing.
	if err := loader.Unload(); err != nil {
		t.Fatalf("Unload() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(user, "icons.ttf")); err != nil {
		t.Error("Unload() removed a font it did not install")
	}
}

func TestLoadReplacesDeadSymlink(t *testing.T) {
	loader, source, _, user := newTestLoader(t)
	fontPath := writeFont(t, source, "icons.ttf")

	if err := os.MkdirAll(user, 0o750); err != nil {
		t.Fatal(err)
	}
	dead := filepath.Join(user, "icons.ttf")
	if err := os.Symlink(filepath.Join(source, "gone.ttf"), dead); err != nil {
		t.Fatal(err)
	}

	if err := loader.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	resolved, err := os.Readlink(dead)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != fontPath {
		t.Errorf("symlink points to %q, want %q", resolved, fontPath)
	}
}

func TestUnloadRemovesOnlyInstalled(t *testing.T) {
	loader, source, _, user := newTestLoader(t)
	writeFont(t, source, "icons.ttf")

	if err := loader.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := loader.Unload(); err != nil {
		t.Fatalf("Unload() error: %v", err)
	}

	if _, err := os.Lstat(filepath.Join(user, "icons.ttf")); err == nil {
		t.Error("installed font still present after Unload()")
	}
}

func TestUnloadTolerantOfRemovedFile(t *testing.T) {
	loader, source, _, user := newTestLoader(t)
	writeFont(t, source, "icons.ttf")

	if err := loader.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Someone removed the symlink behind our back.
	if err := os.Remove(filepath.Join(user, "icons.ttf")); err != nil {
		t.Fatal(err)
	}

	if err := loader.Unload(); err != nil {
		t.Errorf("Unload() error on already-removed font: %v", err)
	}
}

func TestLoadMissingSourceDir(t *testing.T) {
	loader := &PosixLoader{
		SourceDir:  filepath.Join(t.TempDir(), "nope"),
		SystemDirs: []string{t.TempDir()},
		UserDir:    filepath.Join(t.TempDir(), ".fonts"),
	}
	if err := loader.Load(); err != nil {
		t.Errorf("Load() with missing source dir should be a no-op, got %v", err)
	}
}
