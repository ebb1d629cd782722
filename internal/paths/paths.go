// Package paths canonicalizes file paths into module identifiers.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ModuleID is the canonical absolute path of a module, with forward slashes.
// Two spellings of the same file always produce the same ModuleID.
type ModuleID string

// Path returns the ModuleID as an OS-specific path.
func (id ModuleID) Path() string {
	return filepath.FromSlash(string(id))
}

// Dir returns the directory containing the module, as an OS-specific path.
func (id ModuleID) Dir() string {
	return filepath.Dir(id.Path())
}

// String implements fmt.Stringer.
func (id ModuleID) String() string {
	return string(id)
}

// CaseMode controls whether Normalize folds case.
type CaseMode int

const (
	// CaseSensitive keeps paths as written.
	CaseSensitive CaseMode = iota
	// CaseInsensitive lower-cases paths so that differently cased spellings collapse.
	CaseInsensitive
)

// String returns the config spelling of the mode.
func (m CaseMode) String() string {
	if m == CaseInsensitive {
		return "insensitive"
	}
	return "sensitive"
}

// ParseCaseMode converts a config value into a CaseMode.
// "auto" (or empty) probes dir with DetectCaseMode.
func ParseCaseMode(s string, dir string) CaseMode {
	switch strings.ToLower(s) {
	case "sensitive":
		return CaseSensitive
	case "insensitive":
		return CaseInsensitive
	default:
		return DetectCaseMode(dir)
	}
}

// DetectCaseMode probes whether the file system holding dir is case-insensitive.
// It stats the directory with its last path element case-swapped; if both spellings
// name the same file the file system folds case.
func DetectCaseMode(dir string) CaseMode {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return CaseSensitive
	}
	base := filepath.Base(abs)
	swapped := swapCase(base)
	if swapped == base {
		// Nothing to flip (e.g. "/" or digits only); walk up until we find letters.
		parent := filepath.Dir(abs)
		if parent == abs {
			return CaseSensitive
		}
		return DetectCaseMode(parent)
	}

	orig, err := os.Stat(abs)
	if err != nil {
		return CaseSensitive
	}
	other, err := os.Stat(filepath.Join(filepath.Dir(abs), swapped))
	if err != nil {
		return CaseSensitive
	}
	if os.SameFile(orig, other) {
		return CaseInsensitive
	}
	return CaseSensitive
}

func swapCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalizer turns user-supplied and resolver-produced paths into ModuleIDs.
type Normalizer struct {
	mode CaseMode
	cwd  string
}

// NewNormalizer creates a normalizer. Relative paths are joined onto cwd;
// an empty cwd means the process working directory.
func NewNormalizer(mode CaseMode, cwd string) *Normalizer {
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}
	return &Normalizer{mode: mode, cwd: filepath.Clean(cwd)}
}

// Mode returns the case mode in effect.
func (n *Normalizer) Mode() CaseMode {
	return n.mode
}

// Normalize makes p absolute, collapses separators and dot segments, and folds
// case when the normalizer is case-insensitive. It performs no I/O.
func (n *Normalizer) Normalize(p string) ModuleID {
	if !filepath.IsAbs(p) {
		p = filepath.Join(n.cwd, p)
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if n.mode == CaseInsensitive {
		p = strings.ToLower(p)
	}
	return ModuleID(p)
}

// Canonical resolves symlinks in p before normalizing it, so that two routes to
// one physical file share a ModuleID. For paths that do not exist (deleted
// files) only the existing ancestors are resolved.
func (n *Normalizer) Canonical(p string) ModuleID {
	return n.Normalize(RealPath(n.abs(p)))
}

func (n *Normalizer) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(n.cwd, p)
}

// RealPath resolves symlinks. When p does not exist, the deepest existing
// ancestor is resolved and the missing tail is appended as written, so a
// deleted file keeps the ID it had while it existed.
func RealPath(p string) string {
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	var tail []string
	dir := p
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return p
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved
		}
	}
}

// CanonicalizePath converts an absolute path to a repo-relative canonical path
// - Resolves symlinks to real paths
// - Makes path relative to repo root
// - Converts backslashes to forward slashes
func CanonicalizePath(absolutePath string, repoRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = absolutePath
		} else {
			return "", err
		}
	}

	repoRootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if os.IsNotExist(err) {
			repoRootResolved = repoRoot
		} else {
			return "", err
		}
	}

	relativePath, err := filepath.Rel(repoRootResolved, resolved)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(relativePath), nil
}

// IsWithinRepo checks if a path is within the repository root
func IsWithinRepo(path string, repoRoot string) bool {
	canonical, err := CanonicalizePath(path, repoRoot)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// IsWithin reports whether child equals dir or lies beneath it. Both arguments
// must already be clean absolute paths; no symlinks are resolved.
func IsWithin(child, dir string) bool {
	if child == dir {
		return true
	}
	rel, err := filepath.Rel(dir, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// HasSegment reports whether any directory element of p equals one of names.
func HasSegment(p string, names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		for _, name := range names {
			if part == name {
				return true
			}
		}
	}
	return false
}

// JoinRepoPath joins a repo root with a canonical path
func JoinRepoPath(repoRoot string, canonicalPath string) string {
	normalizedPath := strings.ReplaceAll(canonicalPath, "\\", "/")
	parts := strings.Split(normalizedPath, "/")
	return filepath.Join(append([]string{repoRoot}, parts...)...)
}
