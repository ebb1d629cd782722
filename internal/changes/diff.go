package changes

import (
	"io"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// FromDiff reads a unified diff and returns every path it touches. Both
// sides of a rename are reported; deleted files are reported by their old
// path.
func FromDiff(r io.Reader, root string) ([]string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, wrap("failed to read diff", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return []string{}, nil
	}

	fileDiffs, err := godiff.ParseMultiFileDiff(content)
	if err != nil {
		return nil, wrap("failed to parse diff", err)
	}

	var files []string
	for _, fd := range fileDiffs {
		for _, name := range []string{fd.OrigName, fd.NewName} {
			if p := cleanPath(name); p != "" {
				files = append(files, p)
			}
		}
	}
	return absolute(root, files), nil
}

// cleanPath removes the a/ or b/ prefix from git diff paths and drops /dev/null.
func cleanPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}
