// Package changes collects the set of changed files from git, a unified diff
// or a plain list.
package changes

import (
	"bufio"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"affected/internal/errors"
)

// FromList reads one path per line. Blank lines and lines starting with '#'
// are skipped; relative paths are joined onto root.
func FromList(r io.Reader, root string) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.New(errors.ChangesUnavailable, "failed to read changed file list", err)
	}
	return absolute(root, out), nil
}

// absolute joins relative paths onto root and returns them sorted without
// duplicates.
func absolute(root string, files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		p := filepath.FromSlash(f)
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		p = filepath.Clean(p)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func unavailable(format string, args ...interface{}) error {
	return errors.Newf(errors.ChangesUnavailable, format, args...)
}

func wrap(msg string, err error) error {
	return errors.New(errors.ChangesUnavailable, msg, err)
}
