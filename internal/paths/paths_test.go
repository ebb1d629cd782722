package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(CaseSensitive, "/work/project")

	tests := []struct {
		name string
		in   string
		want ModuleID
	}{
		{"absolute", "/work/project/src/a.js", "/work/project/src/a.js"},
		{"relative", "src/a.js", "/work/project/src/a.js"},
		{"dot segments", "/work/project/src/./lib/../a.js", "/work/project/src/a.js"},
		{"double separators", "/work//project///src/a.js", "/work/project/src/a.js"},
		{"parent of cwd", "../other/b.ts", "/work/other/b.ts"},
		{"case kept", "/Work/Project/A.js", "/Work/Project/A.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeCaseInsensitive(t *testing.T) {
	n := NewNormalizer(CaseInsensitive, "/work")
	a := n.Normalize("/Work/Src/Module.JS")
	b := n.Normalize("/work/src/module.js")
	if a != b {
		t.Errorf("expected case-folded ids to match, got %q and %q", a, b)
	}
}

func TestCanonicalCollapsesSymlinks(t *testing.T) {
	tempDir := t.TempDir()
	real := filepath.Join(tempDir, "real", "mod.js")
	if err := os.MkdirAll(filepath.Dir(real), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(real, []byte("export {}"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	link := filepath.Join(tempDir, "link")
	if err := os.Symlink(filepath.Join(tempDir, "real"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	n := NewNormalizer(CaseSensitive, tempDir)
	viaLink := n.Canonical(filepath.Join(link, "mod.js"))
	direct := n.Canonical(real)
	if viaLink != direct {
		t.Errorf("expected symlinked route to collapse: %q != %q", viaLink, direct)
	}
}

func TestCanonicalMissingFile(t *testing.T) {
	tempDir := t.TempDir()
	n := NewNormalizer(CaseSensitive, tempDir)
	got := n.Canonical("gone/deleted.js")
	want := n.Normalize(filepath.Join(RealPath(tempDir), "gone", "deleted.js"))
	if got != want {
		t.Errorf("Canonical of missing file = %q, want %q", got, want)
	}
}

func TestCanonicalMissingFileUnderSymlink(t *testing.T) {
	tempDir := t.TempDir()
	realDir := filepath.Join(tempDir, "real")
	if err := os.MkdirAll(realDir, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	link := filepath.Join(tempDir, "link")
	if err := os.Symlink(realDir, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	n := NewNormalizer(CaseSensitive, tempDir)
	viaLink := n.Canonical(filepath.Join(link, "sub", "deleted.js"))
	direct := n.Canonical(filepath.Join(realDir, "sub", "deleted.js"))
	if viaLink != direct {
		t.Errorf("expected missing file to resolve through its existing ancestors: %q != %q", viaLink, direct)
	}
	want := n.Normalize(filepath.Join(RealPath(realDir), "sub", "deleted.js"))
	if direct != want {
		t.Errorf("Canonical = %q, want %q", direct, want)
	}
}

func TestParseCaseMode(t *testing.T) {
	if ParseCaseMode("sensitive", "") != CaseSensitive {
		t.Error("expected sensitive")
	}
	if ParseCaseMode("INSENSITIVE", "") != CaseInsensitive {
		t.Error("expected insensitive")
	}
	if CaseInsensitive.String() != "insensitive" || CaseSensitive.String() != "sensitive" {
		t.Error("unexpected CaseMode.String")
	}
}

func TestDetectCaseModeStable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Probe")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	first := DetectCaseMode(dir)
	if second := DetectCaseMode(dir); first != second {
		t.Errorf("DetectCaseMode not stable: %v then %v", first, second)
	}
}

func TestModuleIDPath(t *testing.T) {
	id := ModuleID("/a/b/c.js")
	if id.Dir() != filepath.FromSlash("/a/b") {
		t.Errorf("Dir() = %q", id.Dir())
	}
	if id.String() != "/a/b/c.js" {
		t.Errorf("String() = %q", id.String())
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		child, dir string
		want       bool
	}{
		{"/repo", "/repo", true},
		{"/repo/src/a.js", "/repo", true},
		{"/repository/a.js", "/repo", false},
		{"/other", "/repo", false},
	}
	for _, tt := range tests {
		if got := IsWithin(filepath.FromSlash(tt.child), filepath.FromSlash(tt.dir)); got != tt.want {
			t.Errorf("IsWithin(%q, %q) = %v, want %v", tt.child, tt.dir, got, tt.want)
		}
	}
}

func TestHasSegment(t *testing.T) {
	if !HasSegment("/repo/node_modules/lib/index.js", []string{"node_modules"}) {
		t.Error("expected node_modules segment")
	}
	if HasSegment("/repo/my_node_modules/index.js", []string{"node_modules"}) {
		t.Error("partial segment must not match")
	}
	if HasSegment("/repo/a.js", nil) {
		t.Error("no names never matches")
	}
}

func TestCanonicalizePath(t *testing.T) {
	tempDir := t.TempDir()

	testFile := filepath.Join(tempDir, "subdir", "test.js")
	if err := os.MkdirAll(filepath.Dir(testFile), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(testFile, []byte("export {}"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	canonical, err := CanonicalizePath(testFile, tempDir)
	if err != nil {
		t.Fatalf("CanonicalizePath failed: %v", err)
	}

	expected := "subdir/test.js"
	if canonical != expected {
		t.Errorf("Expected %s, got %s", expected, canonical)
	}
}

func TestJoinRepoPath(t *testing.T) {
	result := JoinRepoPath("/repo/root", "path/to/file.js")
	expected := filepath.Join("/repo/root", "path", "to", "file.js")
	if result != expected {
		t.Errorf("JoinRepoPath: expected %s, got %s", expected, result)
	}
}

func TestIsWithinRepo(t *testing.T) {
	tempDir := t.TempDir()

	testFile := filepath.Join(tempDir, "subdir", "test.js")
	if err := os.MkdirAll(filepath.Dir(testFile), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(testFile, []byte("export {}"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !IsWithinRepo(testFile, tempDir) {
		t.Error("Expected file to be within repo")
	}

	outsideFile := filepath.Join(filepath.Dir(tempDir), "outside.js")
	if IsWithinRepo(outsideFile, tempDir) {
		t.Error("Expected file outside repo to return false")
	}
}
