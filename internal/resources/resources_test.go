// SPDX-License-Identifier: MIT

package resources

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExtract(t *testing.T) {
	dest := t.TempDir()

	dir, err := Extract(dest)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	// The default templates and backgrounds must be on disk.
	for _, path := range []string{
		filepath.Join(dir.Templates(), "idle.ass"),
		filepath.Join(dir.Templates(), "transition.ass"),
		filepath.Join(dir.Backgrounds(), "idle.png"),
		filepath.Join(dir.Backgrounds(), "transition.png"),
		dir.IconMap(),
	} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("expected extracted file %s: %v", path, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("extracted file %s is empty", path)
		}
	}

	// The fonts directory exists even when no fonts are bundled.
	if info, err := os.Stat(dir.Fonts()); err != nil || !info.IsDir() {
		t.Errorf("fonts directory missing: %v", err)
	}
}
