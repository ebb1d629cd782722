package scanner

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affected/internal/testutil"
)

func specifiers(res *Result) []string {
	out := make([]string, 0, len(res.Imports))
	for _, imp := range res.Imports {
		out = append(out, imp.Specifier)
	}
	return out
}

func TestScanSourceForms(t *testing.T) {
	s := New(Config{})

	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"default", "import snel from 'hest';", []string{"hest"}},
		{"side effect", "import 'hest';", []string{"hest"}},
		{"named", "import { snel } from 'hest';", []string{"hest"}},
		{"namespace", "import * as snel from 'hest';", []string{"hest"}},
		{"multi-line named", "import {\n  a,\n  b,\n} from \"./multi\";", []string{"./multi"}},
		{"dynamic", "import 'snel'; import('hest');", []string{"snel", "hest"}},
		{"dynamic template", "import(`hest`);", []string{"hest"}},
		{"require", "require('hest');", []string{"hest"}},
		{"require template", "const x = require(`./x`);", []string{"./x"}},
		{"export named", "export { snel } from 'hest';", []string{"hest"}},
		{"export namespace", "export * as snel from 'hest';", []string{"hest"}},
		{"export star", "export * from './all';", []string{"./all"}},
		{"duplicates kept", "import 'snel'; import 'hest'; import 'hest';", []string{"snel", "hest", "hest"}},
		{"nested require", "function f() { if (x) { return require('./lazy'); } }", []string{"./lazy"}},
		{"commented out", "// import 'no';\n/* require('no') */\nimport 'yes';", []string{"yes"}},
		{"member require ignored", "obj.require('no'); require.resolve('no');", []string{}},
		{"mixed order", "const a = require('./a');\nimport b from './b';\nexport * from './c';", []string{"./a", "./b", "./c"}},
		{"call inside string", "const s = \"require('nope')\";\nimport 'yes';", []string{"yes"}},
		{"import inside template", "const s = `import x from 'nope'`;", []string{}},
		{"require inside substitution", "const s = `a ${require('./inner')} b`;", []string{"./inner"}},
		{"unicode escape", "require('./h\\u0041');", []string{"./hA"}},
		{"escaped quote", `import "./it\"s";`, []string{`./it"s`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.ScanSource("file.mjs", []byte(tt.src))
			assert.Equal(t, tt.want, specifiers(res))
			assert.Empty(t, res.Computed)
		})
	}
}

func TestScanTypeScriptForms(t *testing.T) {
	s := New(Config{})
	src := `import type { Props } from "./types";
import fs = require("fs");
import { value } from "./value";
export type { Other } from "./other";
`
	res := s.ScanSource("mod.ts", []byte(src))
	assert.Equal(t, []string{"./types", "fs", "./value", "./other"}, specifiers(res))
	assert.Equal(t, KindImportEquals, res.Imports[1].Kind)
	assert.Equal(t, LangTypeScript, res.Language)
}

func TestScanComputedSpecifiers(t *testing.T) {
	s := New(Config{})

	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"empty require", "require('snel'); require();", []string{"snel"}},
		{"variable require", "require('snel'); const path = 'hest'; require(path);", []string{"snel"}},
		{"variable import", "import 'snel'; const path = 'hest'; import(path);", []string{"snel"}},
		{"template import", "import 'snel'; const path = 'hest'; import(`${path}`);", []string{"snel"}},
		{"template require", "const path = 'hest'; require(`${path}`);", []string{}},
		{"concatenation", "import 'snel'; import('he' + 'st');", []string{"snel"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.ScanSource("file.js", []byte(tt.src))
			assert.Equal(t, tt.want, specifiers(res))
			require.Len(t, res.Computed, 1)
			assert.Equal(t, 1, res.Computed[0].Line)
			assert.NotEmpty(t, res.Computed[0].Expr)
		})
	}
}

func TestScanLineNumbers(t *testing.T) {
	s := New(Config{})
	res := s.ScanSource("a.js", []byte("\n\nimport './three';\n\nconst x = require('./five');\n"))
	require.Len(t, res.Imports, 2)
	assert.Equal(t, 3, res.Imports[0].Line)
	assert.Equal(t, 5, res.Imports[1].Line)
}

func TestSpecifiersDeduplicates(t *testing.T) {
	res := &Result{Imports: []Import{{Specifier: "b"}, {Specifier: "a"}, {Specifier: "b"}}}
	assert.Equal(t, []string{"b", "a"}, res.Specifiers())
}

func TestScanSyntaxError(t *testing.T) {
	if !ParserAvailable() {
		t.Skip("syntax errors are only detected by the tree-sitter backend")
	}
	s := New(Config{})
	res := s.ScanSource("bad.js", []byte("import snel from 'hest';\nconst;"))
	assert.True(t, res.SyntaxError)
	assert.Equal(t, 2, res.SyntaxLine)
	assert.Equal(t, []string{"hest"}, specifiers(res), "recovered imports are kept")
}

func TestScanFile(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{
		"a.js":      "import './b';",
		"data.json": `{"import": "x"}`,
		"style.css": "@import 'other.css';",
	})
	s := New(Config{})
	ctx := context.Background()

	res, err := s.ScanFile(ctx, filepath.Join(root, "a.js"))
	require.NoError(t, err)
	assert.Equal(t, []string{"./b"}, specifiers(res))
	assert.Equal(t, ContentHash([]byte("import './b';")), res.Hash)

	for _, leaf := range []string{"data.json", "style.css"} {
		res, err = s.ScanFile(ctx, filepath.Join(root, leaf))
		require.NoError(t, err, leaf)
		assert.Empty(t, res.Imports, leaf)
	}
}

func TestScanFileUnreadable(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{
		"big.js": "import './x';\n" + string(make([]byte, 128)),
	})
	if err := os.WriteFile(filepath.Join(root, "bin.js"), []byte{'a', 0, 'b'}, 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(Config{MaxFileSize: 64})
	ctx := context.Background()

	tests := []struct {
		file   string
		reason Reason
	}{
		{"missing.js", ReasonMissing},
		{"big.js", ReasonTooLarge},
		{"bin.js", ReasonBinary},
		{".", ReasonDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			_, err := s.ScanFile(ctx, filepath.Join(root, tt.file))
			var uerr *UnreadableError
			require.True(t, stderrors.As(err, &uerr), "got %v", err)
			assert.Equal(t, tt.reason, uerr.Reason)
		})
	}
}

func TestScanFileCancelled(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"a.js": "import './b';"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Config{ReadTimeout: time.Minute})
	_, err := s.ScanFile(ctx, filepath.Join(root, "a.js"))
	// The read may win the race against the cancelled context.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

type countingMemo struct {
	*MemoryMemo
	hits, hashHits int
}

func (m *countingMemo) Get(path string, size, mtime int64) (*Result, bool) {
	res, ok := m.MemoryMemo.Get(path, size, mtime)
	if ok {
		m.hits++
	}
	return res, ok
}

func (m *countingMemo) GetByHash(hash string, lang Language) (*Result, bool) {
	res, ok := m.MemoryMemo.GetByHash(hash, lang)
	if ok {
		m.hashHits++
	}
	return res, ok
}

func TestScanFileMemo(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{
		"a.js": "import './shared';",
		"b.js": "import './shared';",
	})
	memo := &countingMemo{MemoryMemo: NewMemoryMemo(16)}
	s := New(Config{Memo: memo})
	ctx := context.Background()

	first, err := s.ScanFile(ctx, filepath.Join(root, "a.js"))
	require.NoError(t, err)
	second, err := s.ScanFile(ctx, filepath.Join(root, "a.js"))
	require.NoError(t, err)
	assert.Equal(t, 1, memo.hits)
	assert.Equal(t, first.Imports, second.Imports)

	other, err := s.ScanFile(ctx, filepath.Join(root, "b.js"))
	require.NoError(t, err)
	assert.Equal(t, 1, memo.hashHits, "identical content is found by hash")
	assert.Equal(t, filepath.Join(root, "b.js"), other.Path)
	assert.Equal(t, 2, memo.Len())
}

func TestScanFileMemoKeepsLanguagesApart(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{
		"a.js": "import './shared';",
		"a.ts": "import './shared';",
	})
	memo := &countingMemo{MemoryMemo: NewMemoryMemo(16)}
	s := New(Config{Memo: memo})
	ctx := context.Background()

	_, err := s.ScanFile(ctx, filepath.Join(root, "a.js"))
	require.NoError(t, err)
	ts, err := s.ScanFile(ctx, filepath.Join(root, "a.ts"))
	require.NoError(t, err)
	assert.Zero(t, memo.hashHits, "identical bytes in another language are scanned again")
	assert.Equal(t, LangTypeScript, ts.Language)
}

func TestBlankComments(t *testing.T) {
	src := "a // x\nb /* y\nz */ c 'http://s' \"/*\" `//`"
	got := string(blankComments([]byte(src)))
	assert.Equal(t, "a     \nb     \n     c 'http://s' \"/*\" `//`", got)
}

func TestExtractLexicalSkipsLiterals(t *testing.T) {
	src := "const s = \"require('nope')\";\n" +
		"const t = 'import(\"nope\")';\n" +
		"const u = `${x} require('nope') ${require('./real')}`;\n" +
		"const v = { a: `${ {b: 1}.b }` }; require('./after');\n"
	ex := extractLexical([]byte(src))
	var got []string
	for _, imp := range ex.imports {
		got = append(got, imp.Specifier)
	}
	assert.Equal(t, []string{"./real", "./after"}, got)
	assert.Equal(t, 3, ex.imports[0].Line)
	assert.Empty(t, ex.computed)
}

func TestExtractLexicalMalformedEscapeIsComputed(t *testing.T) {
	ex := extractLexical([]byte("require('./\\u00zz');"))
	assert.Empty(t, ex.imports)
	require.Len(t, ex.computed, 1)
	assert.Equal(t, 1, ex.computed[0].Line)
}

func TestUnescapeJS(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`./plain`, "./plain", true},
		{`./h\u0041`, "./hA", true},
		{`./\u{1F600}`, "./\U0001F600", true},
		{`./\x41b`, "./Ab", true},
		{`./a\'b`, "./a'b", true},
		{`./a\\b`, `./a\b`, true},
		{`./\u00zz`, "", false},
		{`./\x4`, "", false},
		{`./\7`, "", false},
		{`./trailing\`, "", false},
	}
	for _, tt := range tests {
		got, ok := unescapeJS(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, LangJavaScript, DetectLanguage("a.jsx"))
	assert.Equal(t, LangJavaScript, DetectLanguage("a.CJS"))
	assert.Equal(t, LangTypeScript, DetectLanguage("a.mts"))
	assert.Equal(t, LangTSX, DetectLanguage("a.tsx"))
	assert.Equal(t, LangNone, DetectLanguage("a.json"))
}
