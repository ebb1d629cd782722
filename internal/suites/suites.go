// Package suites discovers test entry files by glob pattern.
package suites

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"affected/internal/errors"
)

// DefaultPatterns match the usual JavaScript and TypeScript test file names.
var DefaultPatterns = []string{
	"**/*.{spec,test}.{js,jsx,ts,tsx,mjs,cjs}",
	"**/__tests__/**/*.{js,jsx,ts,tsx,mjs,cjs}",
}

// DefaultIgnore excludes dependency, VCS and build output directories.
var DefaultIgnore = []string{
	"**/node_modules",
	"**/.git",
	"**/dist",
	"**/coverage",
}

// Validate checks that every pattern is a well-formed glob.
func Validate(patterns []string) error {
	for _, p := range patterns {
		if p == "" || !doublestar.ValidatePattern(p) {
			return errors.Newf(errors.InvalidInput, "invalid glob pattern %q", p)
		}
	}
	return nil
}

// Expand walks root and returns the absolute paths of regular files whose
// root-relative slash path matches any of patterns and none of ignore.
// Ignored directories are not descended into. The result is sorted.
func Expand(root string, patterns, ignore []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if err := Validate(patterns); err != nil {
		return nil, err
	}
	if err := Validate(ignore); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.New(errors.InvalidInput, "invalid root", err)
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtrees are skipped.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if Ignored(ignore, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() && d.Type()&os.ModeSymlink == 0 {
			return nil
		}
		if Match(patterns, rel) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.InvalidInput, "cannot walk test root", err)
	}
	sort.Strings(out)
	return out, nil
}

// Match reports whether rel matches any pattern.
func Match(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Ignored reports whether rel, or a directory containing it, matches an
// ignore pattern. A pattern naming a directory also covers its contents.
func Ignored(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.HasSuffix(p, "/**") {
			if ok, _ := doublestar.Match(p+"/**", rel); ok {
				return true
			}
		}
	}
	return false
}
