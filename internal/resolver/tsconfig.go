package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxExtendsDepth = 8

// tsPaths is the flattened compilerOptions.baseUrl/paths of a tsconfig.json.
type tsPaths struct {
	baseURL  string // absolute, "" when unset
	patterns []tsPattern
}

type tsPattern struct {
	prefix   string
	suffix   string
	wildcard bool
	targets  []string // absolute, may contain one '*'
}

type tsconfigFile struct {
	Extends         string `json:"extends"`
	CompilerOptions struct {
		BaseURL *string             `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
	} `json:"compilerOptions"`
}

// loadTSConfig reads path and the relative chain of files it extends.
func loadTSConfig(path string) (*tsPaths, error) {
	var (
		baseURL  string
		paths    map[string][]string
		pathsDir string
	)
	seen := make(map[string]bool)
	for depth := 0; path != "" && depth < maxExtendsDepth; depth++ {
		if seen[path] {
			return nil, fmt.Errorf("tsconfig extends cycle at %s", path)
		}
		seen[path] = true

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var f tsconfigFile
		if err := json.Unmarshal(stripJSONC(data), &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		dir := filepath.Dir(path)

		// Settings from the extending file win over the extended one.
		if f.CompilerOptions.BaseURL != nil && baseURL == "" {
			baseURL = filepath.Join(dir, *f.CompilerOptions.BaseURL)
		}
		if f.CompilerOptions.Paths != nil && paths == nil {
			paths = f.CompilerOptions.Paths
			pathsDir = dir
		}

		path = ""
		if strings.HasPrefix(f.Extends, ".") {
			next := filepath.Join(dir, f.Extends)
			if filepath.Ext(next) == "" {
				next += ".json"
			}
			path = next
		}
	}

	ts := &tsPaths{baseURL: baseURL}
	targetBase := baseURL
	if targetBase == "" {
		targetBase = pathsDir
	}
	for pattern, targets := range paths {
		p := tsPattern{}
		if i := strings.IndexByte(pattern, '*'); i >= 0 {
			p.wildcard = true
			p.prefix = pattern[:i]
			p.suffix = pattern[i+1:]
		} else {
			p.prefix = pattern
		}
		for _, t := range targets {
			p.targets = append(p.targets, filepath.Join(targetBase, t))
		}
		ts.patterns = append(ts.patterns, p)
	}
	// Exact patterns first, then longest prefix.
	sort.Slice(ts.patterns, func(i, j int) bool {
		a, b := ts.patterns[i], ts.patterns[j]
		if a.wildcard != b.wildcard {
			return !a.wildcard
		}
		if len(a.prefix) != len(b.prefix) {
			return len(a.prefix) > len(b.prefix)
		}
		return a.prefix < b.prefix
	})
	return ts, nil
}

// candidates returns the substituted targets of the first pattern matching spec.
func (ts *tsPaths) candidates(spec string) []string {
	if ts == nil {
		return nil
	}
	for _, p := range ts.patterns {
		if !p.wildcard {
			if spec == p.prefix {
				return p.targets
			}
			continue
		}
		if len(spec) < len(p.prefix)+len(p.suffix) ||
			!strings.HasPrefix(spec, p.prefix) || !strings.HasSuffix(spec, p.suffix) {
			continue
		}
		star := spec[len(p.prefix) : len(spec)-len(p.suffix)]
		out := make([]string, 0, len(p.targets))
		for _, t := range p.targets {
			out = append(out, strings.Replace(t, "*", star, 1))
		}
		return out
	}
	return nil
}

// stripJSONC removes // and /* */ comments and trailing commas so that
// tsconfig files can be decoded with encoding/json.
func stripJSONC(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			if c == '\\' && i+1 < len(data) {
				i++
				out = append(out, data[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out = append(out, c)
		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}
		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++
		case c == ']' || c == '}':
			// Drop a trailing comma before the closing bracket.
			j := len(out) - 1
			for j >= 0 && (out[j] == ' ' || out[j] == '\t' || out[j] == '\n' || out[j] == '\r') {
				j--
			}
			if j >= 0 && out[j] == ',' {
				out = append(out[:j], out[j+1:]...)
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}
