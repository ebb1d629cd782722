package resolver

import (
	"os"
	"path/filepath"
	"strings"

	"affected/internal/errors"
)

// Config is the immutable resolver configuration.
type Config struct {
	// Extensions are probed in order after the literal path. Empty disables probing.
	Extensions []string `json:"extensions" yaml:"extensions" toml:"extensions"`
	// ModuleDirectories are searched for bare specifiers, e.g. ["node_modules"].
	ModuleDirectories []string `json:"moduleDirectories" yaml:"moduleDirectories" toml:"moduleDirectories"`
	// RootDir bounds the upward search for module directories.
	RootDir string `json:"rootDir" yaml:"rootDir" toml:"rootDir"`

	// MainFields are the package.json fields consulted for a directory. Nil means ["main"].
	MainFields []string `json:"mainFields,omitempty" yaml:"mainFields,omitempty" toml:"mainFields,omitempty"`
	// Alias maps a specifier (or specifier prefix followed by "/") to replacements.
	// An empty replacement marks the specifier as ignored.
	Alias map[string][]string `json:"alias,omitempty" yaml:"alias,omitempty" toml:"alias,omitempty"`
	// BuiltinModules treats bare Node.js core module names as builtins.
	// "node:" prefixed specifiers are always builtins.
	BuiltinModules bool `json:"builtinModules" yaml:"builtinModules" toml:"builtinModules"`
	// PreserveSymlinks keeps symlinked paths as written instead of resolving them.
	PreserveSymlinks bool `json:"preserveSymlinks,omitempty" yaml:"preserveSymlinks,omitempty" toml:"preserveSymlinks,omitempty"`
	// TSConfig is an optional tsconfig.json whose baseUrl and paths are honored.
	TSConfig string `json:"tsconfig,omitempty" yaml:"tsconfig,omitempty" toml:"tsconfig,omitempty"`
}

// DefaultExtensions are the extensions used by the CLI when none are configured.
var DefaultExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}

// DefaultConfig returns the configuration the CLI starts from.
func DefaultConfig(rootDir string) Config {
	return Config{
		Extensions:        append([]string(nil), DefaultExtensions...),
		ModuleDirectories: []string{"node_modules"},
		RootDir:           rootDir,
		MainFields:        []string{"main"},
		BuiltinModules:    true,
	}
}

func (c Config) mainFields() []string {
	if c.MainFields == nil {
		return []string{"main"}
	}
	return c.MainFields
}

// Validate checks the configuration before any traversal happens.
// Every failure is an INVALID_INPUT error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RootDir) == "" {
		return errors.Newf(errors.InvalidInput, "rootDir is required")
	}
	info, err := os.Stat(c.RootDir)
	if err != nil {
		return errors.New(errors.InvalidInput, "rootDir does not exist", err).
			WithDetails(map[string]string{"rootDir": c.RootDir})
	}
	if !info.IsDir() {
		return errors.Newf(errors.InvalidInput, "rootDir %s is not a directory", c.RootDir)
	}

	for i, ext := range c.Extensions {
		if ext == "" || !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`) {
			return errors.Newf(errors.InvalidInput, "extensions[%d] %q must start with '.' and contain no separators", i, ext)
		}
	}
	for i, dir := range c.ModuleDirectories {
		d := strings.TrimSpace(dir)
		if d == "" || d == "." || d == ".." {
			return errors.Newf(errors.InvalidInput, "moduleDirectories[%d] %q is not a valid directory name", i, dir)
		}
	}
	for i, field := range c.MainFields {
		if field == "" {
			return errors.Newf(errors.InvalidInput, "mainFields[%d] is empty", i)
		}
	}
	for key := range c.Alias {
		if key == "" {
			return errors.Newf(errors.InvalidInput, "alias keys must not be empty")
		}
	}
	if c.TSConfig != "" {
		p := c.TSConfig
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.RootDir, p)
		}
		if _, err := os.Stat(p); err != nil {
			return errors.New(errors.InvalidInput, "tsconfig not found", err).
				WithDetails(map[string]string{"tsconfig": c.TSConfig})
		}
	}
	return nil
}
