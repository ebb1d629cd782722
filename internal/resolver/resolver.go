// Package resolver maps import specifiers to files the way JavaScript bundlers
// and Node.js do: extension probing, directory modules, index fallback and
// module directory lookup bounded by a root directory.
package resolver

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"affected/internal/errors"
	"affected/internal/paths"
)

// Kind classifies a successful resolution.
type Kind uint8

const (
	// KindFile is a regular file that becomes a graph node.
	KindFile Kind = iota
	// KindBuiltin is a runtime builtin such as "node:fs". It has no file.
	KindBuiltin
	// KindIgnored is a specifier aliased away. It has no file.
	KindIgnored
)

func (k Kind) String() string {
	switch k {
	case KindBuiltin:
		return "builtin"
	case KindIgnored:
		return "ignored"
	default:
		return "file"
	}
}

// Resolution is the outcome of resolving one specifier.
type Resolution struct {
	ID   paths.ModuleID
	Kind Kind
	// InModuleDir is set when the file lives under one of the module directories.
	InModuleDir bool
}

// UnresolvedError reports a specifier for which no candidate file exists.
type UnresolvedError struct {
	Specifier   string
	ImporterDir string
	Tried       []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("cannot resolve %q from %s", e.Specifier, e.ImporterDir)
}

// Resolver resolves specifiers against the file system. It is safe for
// concurrent use when its Cache is.
type Resolver struct {
	cfg         Config
	norm        *paths.Normalizer
	cache       *Cache
	fingerprint string
	rootDir     string
	rootID      paths.ModuleID
	modDirs     []string
	ts          *tsPaths
	rules       []rule
}

// rule is one row of the candidate-generation table. The first rule whose
// match accepts the specifier and whose apply finds a file wins; terminal
// rules end the search even when they find nothing.
type rule struct {
	name     string
	match    func(r *Resolver, spec string) bool
	apply    func(r *Resolver, dir, spec string, t *trace) (Resolution, bool)
	terminal bool
}

var rules = []rule{
	{name: "builtin", match: (*Resolver).matchBuiltin, apply: (*Resolver).applyBuiltin, terminal: true},
	{name: "alias", match: (*Resolver).matchAlias, apply: (*Resolver).applyAlias},
	{name: "tsconfig-paths", match: (*Resolver).matchTSPaths, apply: (*Resolver).applyTSPaths},
	{name: "relative", match: matchRelative, apply: (*Resolver).applyRelative, terminal: true},
	{name: "absolute", match: matchAbsolute, apply: (*Resolver).applyAbsolute, terminal: true},
	{name: "bare", match: func(*Resolver, string) bool { return true }, apply: (*Resolver).applyBare, terminal: true},
}

// New validates cfg and creates a resolver. A nil norm probes the case mode
// of cfg.RootDir; a nil cache allocates a private one.
func New(cfg Config, norm *paths.Normalizer, cache *Cache) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, errors.New(errors.InvalidInput, "rootDir", err)
	}
	root = paths.RealPath(root)
	if norm == nil {
		norm = paths.NewNormalizer(paths.DetectCaseMode(root), root)
	}
	if cache == nil {
		cache = NewCache(0)
	}

	r := &Resolver{
		cfg:         cfg,
		norm:        norm,
		cache:       cache,
		fingerprint: fingerprint(cfg, root, norm.Mode()),
		rootDir:     root,
		rootID:      norm.Normalize(root),
		rules:       rules,
	}
	for _, d := range cfg.ModuleDirectories {
		if !filepath.IsAbs(d) {
			r.modDirs = append(r.modDirs, filepath.Base(d))
		}
	}
	if cfg.TSConfig != "" {
		p := cfg.TSConfig
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		ts, err := loadTSConfig(p)
		if err != nil {
			return nil, errors.New(errors.InvalidInput, "cannot load tsconfig", err)
		}
		r.ts = ts
	}
	return r, nil
}

// Config returns the resolver's configuration.
func (r *Resolver) Config() Config {
	return r.cfg
}

// RootDir returns the absolute, symlink-resolved root directory.
func (r *Resolver) RootDir() string {
	return r.rootDir
}

// fingerprint renders every setting that changes a resolution outcome.
func fingerprint(cfg Config, root string, mode paths.CaseMode) string {
	keys := make([]string, 0, len(cfg.Alias))
	for k := range cfg.Alias {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "root=%s|case=%s|ext=%q|dirs=%q|main=%q|builtins=%t|preserve=%t|tsconfig=%s|alias=",
		root, mode, cfg.Extensions, cfg.ModuleDirectories, cfg.mainFields(),
		cfg.BuiltinModules, cfg.PreserveSymlinks, cfg.TSConfig)
	for _, k := range keys {
		fmt.Fprintf(&b, "%q:%q;", k, cfg.Alias[k])
	}
	return b.String()
}

// ModuleID maps a user-supplied path to the ID resolved files get, honoring
// PreserveSymlinks.
func (r *Resolver) ModuleID(p string) paths.ModuleID {
	if r.cfg.PreserveSymlinks {
		return r.norm.Normalize(p)
	}
	return r.norm.Canonical(p)
}

// Resolve maps specifier, imported from a file in importerDir, to a module.
// It returns *UnresolvedError when no candidate exists.
func (r *Resolver) Resolve(importerDir, specifier string) (Resolution, error) {
	key := resolveKey{config: r.fingerprint, dir: importerDir, spec: specifier}
	if cached, ok := r.cache.resolutions.Get(key); ok {
		return cached.res, cached.err
	}
	res, err := r.resolve(importerDir, specifier, nil)
	r.cache.resolutions.Add(key, cachedResolution{res: res, err: err})
	return res, err
}

// Explain resolves like Resolve without touching the resolution cache and
// returns every candidate path it probed, in order.
func (r *Resolver) Explain(importerDir, specifier string) (Resolution, []string, error) {
	t := &trace{}
	res, err := r.resolve(importerDir, specifier, t)
	return res, t.tried, err
}

type trace struct {
	tried []string
}

func (t *trace) add(p string) {
	if t != nil {
		t.tried = append(t.tried, p)
	}
}

func (r *Resolver) resolve(dir, spec string, t *trace) (Resolution, error) {
	if spec == "" {
		return Resolution{}, &UnresolvedError{Specifier: spec, ImporterDir: dir}
	}
	for _, rl := range r.rules {
		if !rl.match(r, spec) {
			continue
		}
		if res, ok := rl.apply(r, dir, spec, t); ok {
			return res, nil
		}
		if rl.terminal {
			break
		}
	}
	uerr := &UnresolvedError{Specifier: spec, ImporterDir: dir}
	if t != nil {
		uerr.Tried = t.tried
	}
	return Resolution{}, uerr
}

func (r *Resolver) matchBuiltin(spec string) bool {
	return IsBuiltin(spec, r.cfg.BuiltinModules)
}

func (r *Resolver) applyBuiltin(_, _ string, _ *trace) (Resolution, bool) {
	return Resolution{Kind: KindBuiltin}, true
}

func (r *Resolver) aliasFor(spec string) (string, []string, bool) {
	best := ""
	for key := range r.cfg.Alias {
		if (spec == key || strings.HasPrefix(spec, key+"/")) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return "", nil, false
	}
	return best, r.cfg.Alias[best], true
}

func (r *Resolver) matchAlias(spec string) bool {
	_, _, ok := r.aliasFor(spec)
	return ok
}

func (r *Resolver) applyAlias(dir, spec string, t *trace) (Resolution, bool) {
	key, targets, _ := r.aliasFor(spec)
	rest := strings.TrimPrefix(spec, key)
	for _, target := range targets {
		if target == "" {
			return Resolution{Kind: KindIgnored}, true
		}
		replaced := target + rest
		switch {
		case matchRelative(r, replaced):
			if p, ok := r.tryBase(filepath.Join(r.rootDir, replaced), t); ok {
				return r.found(p), true
			}
		case filepath.IsAbs(replaced):
			if p, ok := r.tryBase(replaced, t); ok {
				return r.found(p), true
			}
		default:
			if res, ok := r.applyBare(dir, replaced, t); ok {
				return res, true
			}
		}
	}
	return Resolution{}, false
}

func (r *Resolver) matchTSPaths(spec string) bool {
	return r.ts != nil && !matchRelative(r, spec) && !filepath.IsAbs(spec)
}

func (r *Resolver) applyTSPaths(_, spec string, t *trace) (Resolution, bool) {
	for _, c := range r.ts.candidates(spec) {
		if p, ok := r.tryBase(c, t); ok {
			return r.found(p), true
		}
	}
	return Resolution{}, false
}

func matchRelative(_ *Resolver, spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

func (r *Resolver) applyRelative(dir, spec string, t *trace) (Resolution, bool) {
	if p, ok := r.tryBase(filepath.Join(dir, spec), t); ok {
		return r.found(p), true
	}
	return Resolution{}, false
}

func matchAbsolute(_ *Resolver, spec string) bool {
	return filepath.IsAbs(spec) || strings.HasPrefix(spec, "/")
}

// applyAbsolute tries the path as written, then relative to rootDir.
func (r *Resolver) applyAbsolute(_, spec string, t *trace) (Resolution, bool) {
	if p, ok := r.tryBase(filepath.Clean(spec), t); ok {
		return r.found(p), true
	}
	if p, ok := r.tryBase(filepath.Join(r.rootDir, strings.TrimLeft(spec, `/\`)), t); ok {
		return r.found(p), true
	}
	return Resolution{}, false
}

// applyBare searches each module directory in order, walking upward from dir
// to rootDir. An importer outside rootDir searches no relative module
// directories.
func (r *Resolver) applyBare(dir, spec string, t *trace) (Resolution, bool) {
	ancestors := r.ancestors(dir)
	for _, md := range r.cfg.ModuleDirectories {
		if filepath.IsAbs(md) {
			if p, ok := r.tryBase(filepath.Join(md, spec), t); ok {
				return r.found(p), true
			}
			continue
		}
		for _, a := range ancestors {
			if filepath.Base(a) == md {
				continue
			}
			if p, ok := r.tryBase(filepath.Join(a, md, spec), t); ok {
				return r.found(p), true
			}
		}
	}
	if r.ts != nil && r.ts.baseURL != "" {
		if p, ok := r.tryBase(filepath.Join(r.ts.baseURL, spec), t); ok {
			return r.found(p), true
		}
	}
	return Resolution{}, false
}

func (r *Resolver) ancestors(dir string) []string {
	dir = filepath.Clean(dir)
	if !paths.IsWithin(filepath.FromSlash(string(r.norm.Normalize(dir))), filepath.FromSlash(string(r.rootID))) {
		return nil
	}
	var out []string
	for {
		out = append(out, dir)
		if r.norm.Normalize(dir) == r.rootID {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return out
}

// tryBase applies the per-candidate steps: literal file, literal plus each
// extension, then the directory module (package main fields, index files).
func (r *Resolver) tryBase(base string, t *trace) (string, bool) {
	if p, ok := r.tryFile(base, t); ok {
		return p, true
	}
	t.add(base + "/")
	if r.cache.kind(base) != kindDir {
		return "", false
	}
	pkg := r.cache.readPackage(base)
	for _, field := range r.cfg.mainFields() {
		main := pkg.field(field)
		if main == "" {
			continue
		}
		m := filepath.Join(base, main)
		if p, ok := r.tryFile(m, t); ok {
			return p, true
		}
		if p, ok := r.tryIndex(m, t); ok {
			return p, true
		}
	}
	return r.tryIndex(base, t)
}

func (r *Resolver) tryFile(base string, t *trace) (string, bool) {
	t.add(base)
	if r.cache.kind(base) == kindFile {
		return base, true
	}
	for _, ext := range r.cfg.Extensions {
		p := base + ext
		t.add(p)
		if r.cache.kind(p) == kindFile {
			return p, true
		}
	}
	return "", false
}

func (r *Resolver) tryIndex(dir string, t *trace) (string, bool) {
	for _, ext := range r.cfg.Extensions {
		p := filepath.Join(dir, "index"+ext)
		t.add(p)
		if r.cache.kind(p) == kindFile {
			return p, true
		}
	}
	return "", false
}

func (r *Resolver) found(p string) Resolution {
	id := r.ModuleID(p)
	return Resolution{
		ID:          id,
		Kind:        KindFile,
		InModuleDir: r.IsModuleDirPath(id),
	}
}

// IsModuleDirPath reports whether id lies under one of the configured module
// directories.
func (r *Resolver) IsModuleDirPath(id paths.ModuleID) bool {
	if paths.HasSegment(string(id), r.modDirs) {
		return true
	}
	for _, md := range r.cfg.ModuleDirectories {
		if filepath.IsAbs(md) && paths.IsWithin(id.Path(), filepath.Clean(md)) {
			return true
		}
	}
	return false
}
