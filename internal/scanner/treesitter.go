//go:build cgo

package scanner

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Parsers are not safe for concurrent use; scans borrow one from the pool.
var parserPool = sync.Pool{
	New: func() any { return sitter.NewParser() },
}

// ParserAvailable reports whether the tree-sitter backend is compiled in.
func ParserAvailable() bool {
	return true
}

// getLanguage returns the tree-sitter Language for a given language identifier.
func getLanguage(lang Language) (*sitter.Language, error) {
	switch lang {
	case LangJavaScript:
		return javascript.GetLanguage(), nil
	case LangTypeScript:
		return typescript.GetLanguage(), nil
	case LangTSX:
		return tsx.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
}

func extract(ctx context.Context, lang Language, src []byte) (extraction, error) {
	tsLang, err := getLanguage(lang)
	if err != nil {
		return extraction{}, err
	}

	parser := parserPool.Get().(*sitter.Parser)
	defer parserPool.Put(parser)
	parser.SetLanguage(tsLang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return extraction{}, fmt.Errorf("parse error: %w", err)
	}

	root := tree.RootNode()
	w := &walker{src: src}
	w.walk(root)

	if root.HasError() {
		w.ex.syntaxError = true
		if n := firstError(root); n != nil {
			w.ex.syntaxLine = int(n.StartPoint().Row) + 1
		}
	}
	return w.ex, nil
}

type walker struct {
	src []byte
	ex  extraction
}

func (w *walker) walk(n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		if source := n.ChildByFieldName("source"); source != nil {
			w.static(source, KindImport)
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "import_require_clause" {
				if source := c.ChildByFieldName("source"); source != nil {
					w.static(source, KindImportEquals)
				}
				return
			}
		}
		return
	case "export_statement":
		if source := n.ChildByFieldName("source"); source != nil {
			w.static(source, KindExportFrom)
			return
		}
	case "call_expression":
		w.call(n)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		w.walk(n.Child(i))
	}
}

func (w *walker) call(n *sitter.Node) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	var kind ImportKind
	switch {
	case fn.Type() == "import":
		kind = KindDynamicImport
	case fn.Type() == "identifier" && fn.Content(w.src) == "require":
		kind = KindRequire
	default:
		return
	}

	line := int(n.StartPoint().Row) + 1
	args := n.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		w.ex.computed = append(w.ex.computed, Computed{Line: line, Expr: truncate(n.Content(w.src))})
		return
	}
	if spec, ok := w.literal(args.NamedChild(0)); ok {
		w.ex.imports = append(w.ex.imports, Import{Specifier: spec, Line: line, Kind: kind})
		return
	}
	w.ex.computed = append(w.ex.computed, Computed{Line: line, Expr: truncate(n.Content(w.src))})
}

func (w *walker) static(source *sitter.Node, kind ImportKind) {
	line := int(source.StartPoint().Row) + 1
	if spec, ok := w.literal(source); ok {
		w.ex.imports = append(w.ex.imports, Import{Specifier: spec, Line: line, Kind: kind})
		return
	}
	w.ex.computed = append(w.ex.computed, Computed{Line: line, Expr: truncate(source.Content(w.src))})
}

// literal returns the decoded value of a string or substitution-free template
// node. Malformed escapes make the literal unusable.
func (w *walker) literal(n *sitter.Node) (string, bool) {
	switch n.Type() {
	case "string":
	case "template_string":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if n.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
	default:
		return "", false
	}
	text := n.Content(w.src)
	if len(text) < 2 {
		return "", false
	}
	return unescapeJS(text[1 : len(text)-1])
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.HasError() || c.IsMissing() {
			if found := firstError(c); found != nil {
				return found
			}
		}
	}
	return nil
}
