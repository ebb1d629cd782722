// Package testutil provides fixture projects and temp-tree builders for tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
)

// FixtureContext holds information about a loaded fixture project.
type FixtureContext struct {
	// Name is the fixture directory name (e.g., "nested", "require")
	Name string

	// Root is the absolute, symlink-resolved path to the fixture directory
	Root string
}

// LoadFixture locates testdata/fixtures/<name>, failing the test if it is missing.
func LoadFixture(t *testing.T, name string) *FixtureContext {
	t.Helper()

	fixtureDir := filepath.Join(getFixturesRoot(t), name)
	if _, err := os.Stat(fixtureDir); os.IsNotExist(err) {
		t.Fatalf("Fixture directory not found: %s", fixtureDir)
	}
	if real, err := filepath.EvalSymlinks(fixtureDir); err == nil {
		fixtureDir = real
	}

	return &FixtureContext{
		Name: name,
		Root: fixtureDir,
	}
}

// Path joins slash-separated rel onto the fixture root.
func (f *FixtureContext) Path(rel string) string {
	return filepath.Join(f.Root, filepath.FromSlash(rel))
}

// Paths joins every element of rels onto the fixture root.
func (f *FixtureContext) Paths(rels ...string) []string {
	out := make([]string, len(rels))
	for i, rel := range rels {
		out[i] = f.Path(rel)
	}
	return out
}

// getFixturesRoot returns the absolute path to testdata/fixtures/.
func getFixturesRoot(t *testing.T) string {
	t.Helper()

	// Get the directory of this source file
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get caller information")
	}

	// Navigate from internal/testutil to project root
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	fixturesRoot := filepath.Join(projectRoot, "testdata", "fixtures")

	if _, err := os.Stat(fixturesRoot); os.IsNotExist(err) {
		t.Fatalf("Fixtures root not found: %s", fixturesRoot)
	}

	return fixturesRoot
}

// AvailableFixtures returns the names of all fixture projects.
func AvailableFixtures(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(getFixturesRoot(t))
	if err != nil {
		t.Fatalf("Failed to read fixtures directory: %v", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !isHiddenDir(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

func isHiddenDir(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
