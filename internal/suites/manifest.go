package suites

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"affected/internal/errors"
)

// ManifestName is the suite manifest file looked up in the project root.
const ManifestName = "affected.toml"

// Suite is a named group of test files.
type Suite struct {
	Name     string   `toml:"name" json:"name" yaml:"name"`
	Patterns []string `toml:"patterns" json:"patterns" yaml:"patterns"`
	Ignore   []string `toml:"ignore,omitempty" json:"ignore,omitempty" yaml:"ignore,omitempty"`
}

// Manifest lists the suites of a project.
//
//	ignore = ["**/fixtures"]
//
//	[[suite]]
//	name = "unit"
//	patterns = ["src/**/*.spec.ts"]
type Manifest struct {
	// Ignore applies to every suite.
	Ignore []string `toml:"ignore,omitempty" json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Suites []Suite  `toml:"suite" json:"suites" yaml:"suites"`
}

// LoadManifest reads and validates a suite manifest.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, errors.New(errors.ConfigInvalid, fmt.Sprintf("failed to parse %s", filepath.Base(path)), err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindManifest returns root/affected.toml if it exists.
func FindManifest(root string) (string, bool) {
	p := filepath.Join(root, ManifestName)
	info, err := os.Stat(p)
	return p, err == nil && !info.IsDir()
}

// Validate checks suite names and patterns.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Suites))
	for i, s := range m.Suites {
		if s.Name == "" {
			return errors.Newf(errors.ConfigInvalid, "suite[%d] has no name", i)
		}
		if seen[s.Name] {
			return errors.Newf(errors.ConfigInvalid, "duplicate suite %q", s.Name)
		}
		seen[s.Name] = true
		if len(s.Patterns) == 0 {
			return errors.Newf(errors.ConfigInvalid, "suite %q has no patterns", s.Name)
		}
		if err := Validate(s.Patterns); err != nil {
			return errors.New(errors.ConfigInvalid, fmt.Sprintf("suite %q", s.Name), err)
		}
		if err := Validate(s.Ignore); err != nil {
			return errors.New(errors.ConfigInvalid, fmt.Sprintf("suite %q", s.Name), err)
		}
	}
	if err := Validate(m.Ignore); err != nil {
		return errors.New(errors.ConfigInvalid, "manifest ignore", err)
	}
	return nil
}

// Suite returns the named suite.
func (m *Manifest) Suite(name string) (Suite, bool) {
	for _, s := range m.Suites {
		if s.Name == name {
			return s, true
		}
	}
	return Suite{}, false
}

// Names returns the suite names in manifest order.
func (m *Manifest) Names() []string {
	out := make([]string, len(m.Suites))
	for i, s := range m.Suites {
		out[i] = s.Name
	}
	return out
}

// Expand returns the test files of the named suites, or of every suite when
// names is empty, without duplicates and sorted.
func (m *Manifest) Expand(root string, extraIgnore []string, names ...string) ([]string, error) {
	selected := m.Suites
	if len(names) > 0 {
		selected = nil
		for _, n := range names {
			s, ok := m.Suite(n)
			if !ok {
				return nil, errors.Newf(errors.InvalidInput, "unknown suite %q", n)
			}
			selected = append(selected, s)
		}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, s := range selected {
		ignore := append(append(append([]string(nil), extraIgnore...), m.Ignore...), s.Ignore...)
		files, err := Expand(root, s.Patterns, ignore)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// SuitesOf returns the names of the suites whose patterns match rel.
func (m *Manifest) SuitesOf(rel string) []string {
	var out []string
	for _, s := range m.Suites {
		if Match(s.Patterns, rel) && !Ignored(s.Ignore, rel) && !Ignored(m.Ignore, rel) {
			out = append(out, s.Name)
		}
	}
	return out
}
