package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Tree maps slash-separated relative paths to file contents.
type Tree map[string]string

// WriteTree creates a fresh temp directory holding files and returns its
// symlink-resolved path.
func WriteTree(t *testing.T, files Tree) string {
	t.Helper()

	root := t.TempDir()
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	AddFiles(t, root, files)
	return root
}

// AddFiles writes files beneath root, creating parent directories.
func AddFiles(t *testing.T, root string, files Tree) {
	t.Helper()

	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", rel, err)
		}
	}
}

// Symlink creates root/link pointing at target, skipping the test when the
// platform refuses.
func Symlink(t *testing.T, root, target, link string) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(link))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("Failed to create dir for %s: %v", link, err)
	}
	if err := os.Symlink(filepath.FromSlash(target), p); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
}

// Abs joins slash-separated rel onto root.
func Abs(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}
