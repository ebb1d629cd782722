package resolver

import (
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affected/internal/errors"
	"affected/internal/paths"
	"affected/internal/testutil"
)

func newResolver(t *testing.T, cfg Config) *Resolver {
	t.Helper()
	r, err := New(cfg, paths.NewNormalizer(paths.CaseSensitive, cfg.RootDir), NewCache(64))
	require.NoError(t, err)
	return r
}

func id(root, rel string) paths.ModuleID {
	return paths.ModuleID(filepath.ToSlash(testutil.Abs(root, rel)))
}

func TestResolveRelative(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{
		"src/a.js":            "",
		"src/b.ts":            "",
		"src/lib/index.tsx":   "",
		"src/data.json":       "{}",
		"src/deep/x/y.js":     "",
		"src/with.dots.js":    "",
		"src/dir.js":          "",
		"src/dir/index.js":    "",
		"src/literal.js.ts":   "",
		"src/literal.js":      "",
		"src/noext/index.mjs": "",
	})
	r := newResolver(t, Config{
		Extensions: []string{".js", ".ts", ".tsx"},
		RootDir:    root,
	})
	dir := testutil.Abs(root, "src")

	tests := []struct {
		spec string
		want string
	}{
		{"./a", "src/a.js"},
		{"./a.js", "src/a.js"},
		{"./b", "src/b.ts"},
		{"./lib", "src/lib/index.tsx"},
		{"./data.json", "src/data.json"},
		{"./deep/x/../x/y", "src/deep/x/y.js"},
		{"../src/a", "src/a.js"},
		{"./with.dots", "src/with.dots.js"},
		{"./dir", "src/dir.js"},
		{"./literal.js", "src/literal.js"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			res, err := r.Resolve(dir, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, KindFile, res.Kind)
			assert.Equal(t, id(root, tt.want), res.ID)
			assert.False(t, res.InModuleDir)
		})
	}

	_, err := r.Resolve(dir, "./noext")
	assert.Error(t, err, ".mjs is not a configured extension")
}

func TestExtensionOrderTieBreak(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{
		"foo.js": "",
		"foo.ts": "",
	})

	r := newResolver(t, Config{Extensions: []string{".js", ".ts"}, RootDir: root})
	res, err := r.Resolve(root, "./foo")
	require.NoError(t, err)
	assert.Equal(t, id(root, "foo.js"), res.ID)

	r = newResolver(t, Config{Extensions: []string{".ts", ".js"}, RootDir: root})
	res, err = r.Resolve(root, "./foo")
	require.NoError(t, err)
	assert.Equal(t, id(root, "foo.ts"), res.ID)
}

func TestEmptyExtensionsDisableProbing(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"foo.js": ""})
	r := newResolver(t, Config{RootDir: root})

	_, err := r.Resolve(root, "./foo")
	var uerr *UnresolvedError
	require.True(t, stderrors.As(err, &uerr))
	assert.Equal(t, "./foo", uerr.Specifier)
	assert.Equal(t, root, uerr.ImporterDir)

	res, err := r.Resolve(root, "./foo.js")
	require.NoError(t, err)
	assert.Equal(t, id(root, "foo.js"), res.ID)
}

func TestResolveDeterministic(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"a/b.js": "", "a/index.js": ""})
	r1 := newResolver(t, Config{Extensions: []string{".js"}, RootDir: root})
	r2 := newResolver(t, Config{Extensions: []string{".js"}, RootDir: root})

	for _, spec := range []string{"./a", "./a/b", "./nope"} {
		a, errA := r1.Resolve(root, spec)
		b, errB := r2.Resolve(root, spec)
		again, errAgain := r1.Resolve(root, spec)
		assert.Equal(t, a, b, spec)
		assert.Equal(t, a, again, spec)
		assert.Equal(t, errA == nil, errB == nil, spec)
		assert.Equal(t, errA == nil, errAgain == nil, spec)
	}
}

func TestBareSpecifiers(t *testing.T) {
	fx := testutil.LoadFixture(t, "packages")
	r := newResolver(t, Config{
		Extensions:        []string{".js"},
		ModuleDirectories: []string{"node_modules"},
		RootDir:           fx.Root,
		BuiltinModules:    true,
	})
	dir := fx.Path("src")

	res, err := r.Resolve(dir, "left-pad")
	require.NoError(t, err)
	assert.Equal(t, id(fx.Root, "node_modules/left-pad/lib/pad.js"), res.ID, "main field without extension")
	assert.True(t, res.InModuleDir)

	res, err = r.Resolve(dir, "@scope/util")
	require.NoError(t, err)
	assert.Equal(t, id(fx.Root, "node_modules/@scope/util/index.js"), res.ID, "object-valued browser field is ignored")

	res, err = r.Resolve(dir, "@scope/util/lib/strings")
	require.NoError(t, err)
	assert.Equal(t, id(fx.Root, "node_modules/@scope/util/lib/strings.js"), res.ID)

	_, err = r.Resolve(dir, "not-installed")
	assert.Error(t, err)
}

func TestBareSpecifierBoundedByRootDir(t *testing.T) {
	outer := testutil.WriteTree(t, testutil.Tree{
		"node_modules/outside/index.js":        "",
		"project/src/a.js":                     "",
		"project/node_modules/inside/index.js": "",
	})
	r := newResolver(t, Config{
		Extensions:        []string{".js"},
		ModuleDirectories: []string{"node_modules"},
		RootDir:           testutil.Abs(outer, "project"),
	})
	dir := testutil.Abs(outer, "project/src")

	_, err := r.Resolve(dir, "inside")
	require.NoError(t, err, "rootDir itself is searched")

	_, err = r.Resolve(dir, "outside")
	assert.Error(t, err, "lookup must not climb above rootDir")
}

func TestBareSpecifierFromImporterOutsideRootDir(t *testing.T) {
	base := testutil.WriteTree(t, testutil.Tree{
		"node_modules/pkg.js":     "",
		"proj/src/a.js":           "",
		"other/b.js":              "",
		"other/node_modules/x.js": "",
	})
	r := newResolver(t, Config{
		Extensions:        []string{".js"},
		ModuleDirectories: []string{"node_modules"},
		RootDir:           testutil.Abs(base, "proj"),
	})

	for _, dir := range []string{testutil.Abs(base, "proj/src"), testutil.Abs(base, "other")} {
		_, err := r.Resolve(dir, "pkg")
		var uerr *UnresolvedError
		assert.True(t, stderrors.As(err, &uerr), "pkg from %s", dir)
	}
	_, err := r.Resolve(testutil.Abs(base, "other"), "x")
	assert.Error(t, err, "module directories next to an outside importer are not searched")
}

func TestModuleDirectoriesOrder(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{
		"node_modules/pkg/index.js": "",
		"web_modules/pkg/index.js":  "",
	})

	r := newResolver(t, Config{
		Extensions:        []string{".js"},
		ModuleDirectories: []string{"web_modules", "node_modules"},
		RootDir:           root,
	})
	res, err := r.Resolve(root, "pkg")
	require.NoError(t, err)
	assert.Equal(t, id(root, "web_modules/pkg/index.js"), res.ID)
}

func TestBuiltins(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{})

	r := newResolver(t, Config{RootDir: root, BuiltinModules: true})
	for _, spec := range []string{"node:fs", "fs", "path", "fs/promises", "node:test"} {
		res, err := r.Resolve(root, spec)
		require.NoError(t, err, spec)
		assert.Equal(t, KindBuiltin, res.Kind, spec)
	}

	r = newResolver(t, Config{RootDir: root})
	res, err := r.Resolve(root, "node:fs")
	require.NoError(t, err)
	assert.Equal(t, KindBuiltin, res.Kind)
	_, err = r.Resolve(root, "fs")
	assert.Error(t, err, "bare core names need BuiltinModules")
}

func TestAlias(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{
		"src/components/button.js":     "",
		"node_modules/preact/index.js": "",
	})
	r := newResolver(t, Config{
		Extensions:        []string{".js"},
		ModuleDirectories: []string{"node_modules"},
		RootDir:           root,
		Alias: map[string][]string{
			"@components": {"./missing", "./src/components"},
			"react":       {"preact"},
			"fsevents":    {""},
		},
	})

	res, err := r.Resolve(root, "@components/button")
	require.NoError(t, err)
	assert.Equal(t, id(root, "src/components/button.js"), res.ID)

	res, err = r.Resolve(root, "react")
	require.NoError(t, err)
	assert.Equal(t, id(root, "node_modules/preact/index.js"), res.ID)

	res, err = r.Resolve(root, "fsevents")
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, res.Kind)
}

func TestTSConfigPaths(t *testing.T) {
	fx := testutil.LoadFixture(t, "ts-alias")
	r := newResolver(t, Config{
		Extensions: []string{".ts"},
		RootDir:    fx.Root,
		TSConfig:   "tsconfig.json",
	})

	res, err := r.Resolve(fx.Root, "@lib/aliased")
	require.NoError(t, err)
	assert.Equal(t, id(fx.Root, "src/lib/aliased.ts"), res.ID)

	res, err = r.Resolve(fx.Root, "src/lib/aliased")
	require.NoError(t, err, "baseUrl lookup for bare specifiers")
	assert.Equal(t, id(fx.Root, "src/lib/aliased.ts"), res.ID)
}

func TestRootRelativeSpecifier(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"src/util.js": ""})
	r := newResolver(t, Config{Extensions: []string{".js"}, RootDir: root})

	res, err := r.Resolve(testutil.Abs(root, "src"), "/src/util")
	require.NoError(t, err)
	assert.Equal(t, id(root, "src/util.js"), res.ID)

	res, err = r.Resolve(root, testutil.Abs(root, "src/util.js"))
	require.NoError(t, err)
	assert.Equal(t, id(root, "src/util.js"), res.ID)
}

func TestSymlinksCollapse(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"packages/shared/index.js": ""})
	testutil.Symlink(t, root, testutil.Abs(root, "packages/shared"), "node_modules/shared")

	r := newResolver(t, Config{
		Extensions:        []string{".js"},
		ModuleDirectories: []string{"node_modules"},
		RootDir:           root,
	})
	viaLink, err := r.Resolve(root, "shared")
	require.NoError(t, err)
	direct, err := r.Resolve(root, "./packages/shared")
	require.NoError(t, err)
	assert.Equal(t, direct.ID, viaLink.ID)
	assert.False(t, viaLink.InModuleDir, "real path is outside node_modules")

	preserving := newResolver(t, Config{
		Extensions:        []string{".js"},
		ModuleDirectories: []string{"node_modules"},
		RootDir:           root,
		PreserveSymlinks:  true,
	})
	kept, err := preserving.Resolve(root, "shared")
	require.NoError(t, err)
	assert.Equal(t, id(root, "node_modules/shared/index.js"), kept.ID)
}

func TestExplainListsCandidates(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{})
	r := newResolver(t, Config{Extensions: []string{".js", ".ts"}, RootDir: root})

	_, tried, err := r.Explain(root, "./gone")
	require.Error(t, err)
	assert.Contains(t, tried, testutil.Abs(root, "gone"))
	assert.Contains(t, tried, testutil.Abs(root, "gone.js"))
	assert.Contains(t, tried, testutil.Abs(root, "gone.ts"))
}

func TestConfigValidate(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{Extensions: []string{".js"}, ModuleDirectories: []string{"node_modules"}, RootDir: root}, true},
		{"defaults", DefaultConfig(root), true},
		{"missing root", Config{}, false},
		{"nonexistent root", Config{RootDir: filepath.Join(root, "nope")}, false},
		{"extension without dot", Config{Extensions: []string{"js"}, RootDir: root}, false},
		{"empty module dir", Config{ModuleDirectories: []string{""}, RootDir: root}, false},
		{"empty alias key", Config{Alias: map[string][]string{"": {"x"}}, RootDir: root}, false},
		{"missing tsconfig", Config{TSConfig: "nope.json", RootDir: root}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.InvalidInput))
		})
	}
}

func TestCachePurge(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{})
	cache := NewCache(16)
	r, err := New(Config{Extensions: []string{".js"}, RootDir: root}, nil, cache)
	require.NoError(t, err)

	_, err = r.Resolve(root, "./late")
	require.Error(t, err)
	assert.Equal(t, 1, cache.Len())

	testutil.AddFiles(t, root, testutil.Tree{"late.js": ""})
	_, err = r.Resolve(root, "./late")
	assert.Error(t, err, "stale cache still answers")

	cache.Purge()
	_, err = r.Resolve(root, "./late")
	assert.NoError(t, err)
}

func TestCacheSharedAcrossConfigs(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"foo.js": "", "foo.ts": ""})
	cache := NewCache(16)
	norm := paths.NewNormalizer(paths.CaseSensitive, root)

	jsFirst, err := New(Config{Extensions: []string{".js", ".ts"}, RootDir: root}, norm, cache)
	require.NoError(t, err)
	tsFirst, err := New(Config{Extensions: []string{".ts", ".js"}, RootDir: root}, norm, cache)
	require.NoError(t, err)

	res, err := jsFirst.Resolve(root, "./foo")
	require.NoError(t, err)
	assert.Equal(t, id(root, "foo.js"), res.ID)

	res, err = tsFirst.Resolve(root, "./foo")
	require.NoError(t, err)
	assert.Equal(t, id(root, "foo.ts"), res.ID)
	assert.Equal(t, 2, cache.Len())
}

func TestModuleIDHonorsPreserveSymlinks(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"real/a.js": ""})
	testutil.Symlink(t, root, testutil.Abs(root, "real"), "link")

	collapsing := newResolver(t, Config{RootDir: root})
	assert.Equal(t, id(root, "real/a.js"), collapsing.ModuleID(testutil.Abs(root, "link/a.js")))

	preserving := newResolver(t, Config{RootDir: root, PreserveSymlinks: true})
	assert.Equal(t, id(root, "link/a.js"), preserving.ModuleID(testutil.Abs(root, "link/a.js")))
}

func TestStripJSONC(t *testing.T) {
	in := []byte(`{
  // comment
  "a": "http://x", /* block */
  "b": [1, 2,],
}`)
	assert.JSONEq(t, `{"a":"http://x","b":[1,2]}`, string(stripJSONC(in)))
}
