package scanner

import (
	"bytes"
	"regexp"
	"sort"
)

// quoted matches a single or double quoted string, capturing its raw body.
const quoted = `(?:"((?:[^"\\\n]|\\.)*)"|'((?:[^'\\\n]|\\.)*)')`

// The lexical backend works on source with comments blanked out. String and
// template literal contents are preserved so that specifiers survive; matches
// that begin inside a literal are discarded.
var (
	staticImportRe = regexp.MustCompile(`(?s)\bimport\s+(?:type\s+)?(?:[\w$*{}\s,]+?\s+from\s*)?` + quoted)
	exportFromRe   = regexp.MustCompile(`(?s)\bexport\s+(?:type\s+)?(?:\*(?:\s+as\s+[\w$]+)?|\{[^}]*\})\s*from\s*` + quoted)
	importEqualsRe = regexp.MustCompile(`\bimport\s+[\w$]+\s*=\s*require\s*\(\s*` + quoted + `\s*\)`)
	callRe         = regexp.MustCompile(`\b(import|require)\s*\(`)
	staticArgRe    = regexp.MustCompile(`^\s*(?:` + quoted + "|`((?:[^`$\\\\]|\\\\.)*)`" + `)\s*[,)]`)
)

// literalGroup returns the first participating capture group of m, which
// holds the body of the matched string literal.
func literalGroup(m []int, code []byte) []byte {
	for g := 2; g+1 < len(m); g += 2 {
		if m[g] >= 0 {
			return code[m[g]:m[g+1]]
		}
	}
	return nil
}

type hit struct {
	offset int
	imp    *Import
	comp   *Computed
}

// extractLexical is the regex backend. It needs no cgo and serves as the
// fallback when no parser is available for a file.
func extractLexical(src []byte) extraction {
	code, literals := maskComments(src)
	lines := newLineIndex(code)
	var hits []hit

	// add records a static specifier. Specifiers with malformed escapes cannot
	// be decoded and are reported as computed.
	add := func(offset int, raw []byte, kind ImportKind) {
		if literals.contains(offset) {
			return
		}
		line := lines.line(offset)
		spec, ok := unescapeJS(string(raw))
		if !ok {
			hits = append(hits, hit{offset: offset, comp: &Computed{Line: line, Expr: callText(code[offset:])}})
			return
		}
		hits = append(hits, hit{offset: offset, imp: &Import{Specifier: spec, Line: line, Kind: kind}})
	}

	equalsAt := make(map[int]bool)
	for _, m := range importEqualsRe.FindAllSubmatchIndex(code, -1) {
		if literals.contains(m[0]) {
			continue
		}
		equalsAt[m[0]] = true
		add(m[0], literalGroup(m, code), KindImportEquals)
	}

	for _, m := range staticImportRe.FindAllSubmatchIndex(code, -1) {
		if equalsAt[m[0]] {
			continue
		}
		add(m[0], literalGroup(m, code), KindImport)
	}
	for _, m := range exportFromRe.FindAllSubmatchIndex(code, -1) {
		add(m[0], literalGroup(m, code), KindExportFrom)
	}

	for _, m := range callRe.FindAllSubmatchIndex(code, -1) {
		start := m[0]
		if literals.contains(start) {
			continue
		}
		if start > 0 && (code[start-1] == '.' || code[start-1] == '$') {
			continue // obj.require(...), $import(...)
		}
		// Skip the require( inside import x = require(...), already recorded.
		if isImportEqualsRequire(code, start, equalsAt) {
			continue
		}
		kind := KindRequire
		if string(code[m[2]:m[3]]) == "import" {
			kind = KindDynamicImport
		}
		rest := code[m[1]:]
		if a := staticArgRe.FindSubmatchIndex(rest); a != nil {
			add(start, literalGroup(a, rest), kind)
			continue
		}
		hits = append(hits, hit{offset: start, comp: &Computed{Line: lines.line(start), Expr: callText(code[start:])}})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].offset < hits[j].offset })

	var ex extraction
	for _, h := range hits {
		if h.imp != nil {
			ex.imports = append(ex.imports, *h.imp)
		} else {
			ex.computed = append(ex.computed, *h.comp)
		}
	}
	return ex
}

func isImportEqualsRequire(code []byte, at int, equalsAt map[int]bool) bool {
	for start := range equalsAt {
		if start < at && at-start < 256 && !bytes.ContainsAny(code[start:at], ";\n") {
			return true
		}
	}
	return false
}

// callText returns the call expression up to its closing parenthesis,
// truncated for display.
func callText(code []byte) string {
	depth := 0
	for i, c := range code {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return truncate(string(code[:i+1]))
			}
		case '\n':
			if i > 120 {
				return truncate(string(code[:i]))
			}
		}
	}
	return truncate(string(code))
}

func truncate(s string) string {
	const max = 80
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// span is the content of one string or template literal: the bytes after the
// opening delimiter up to the closing one. A template with substitutions is
// split into one span per text chunk.
type span struct {
	start, end int
}

type spans []span

// contains reports whether offset lies inside a literal. Spans are sorted.
func (s spans) contains(offset int) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i].end > offset })
	return i < len(s) && s[i].start <= offset
}

// blankComments replaces comment bytes with spaces (newlines are kept so line
// numbers stay valid).
func blankComments(src []byte) []byte {
	out, _ := maskComments(src)
	return out
}

// maskComments blanks comments and returns the literal spans of the source.
// Code inside ${...} substitutions of a template is treated as code.
func maskComments(src []byte) ([]byte, spans) {
	out := make([]byte, len(src))
	copy(out, src)

	const (
		code = iota
		lineComment
		blockComment
		single
		double
		template
	)
	var (
		lits  spans
		open  int
		depth int
		// subst holds the brace depth at which each open ${ substitution closes.
		subst []int
	)
	state := code
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch state {
		case code:
			switch {
			case c == '/' && i+1 < len(out) && out[i+1] == '/':
				state = lineComment
				out[i] = ' '
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				state = blockComment
				out[i] = ' '
				i++
				out[i] = ' '
			case c == '\'':
				state, open = single, i+1
			case c == '"':
				state, open = double, i+1
			case c == '`':
				state, open = template, i+1
			case c == '{':
				depth++
			case c == '}':
				if n := len(subst); n > 0 && subst[n-1] == depth {
					subst = subst[:n-1]
					state, open = template, i+1
				} else if depth > 0 {
					depth--
				}
			}
		case lineComment:
			if c == '\n' {
				state = code
			} else {
				out[i] = ' '
			}
		case blockComment:
			if c == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i] = ' '
				i++
				out[i] = ' '
				state = code
			} else if c != '\n' {
				out[i] = ' '
			}
		case single, double, template:
			if c == '\\' {
				i++
				continue
			}
			if state == template && c == '$' && i+1 < len(out) && out[i+1] == '{' {
				lits = append(lits, span{start: open, end: i})
				subst = append(subst, depth)
				state = code
				i++
				continue
			}
			if (state == single && (c == '\'' || c == '\n')) ||
				(state == double && (c == '"' || c == '\n')) ||
				(state == template && c == '`') {
				lits = append(lits, span{start: open, end: i})
				state = code
			}
		}
	}
	if state == single || state == double || state == template {
		lits = append(lits, span{start: open, end: len(out)})
	}
	return out, lits
}

type lineIndex []int

func newLineIndex(src []byte) lineIndex {
	idx := lineIndex{0}
	for i, c := range src {
		if c == '\n' {
			idx = append(idx, i+1)
		}
	}
	return idx
}

// line returns the 1-based line holding offset.
func (l lineIndex) line(offset int) int {
	return sort.Search(len(l), func(i int) bool { return l[i] > offset })
}
