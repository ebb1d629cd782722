//go:build !cgo

package scanner

import (
	"context"
	"errors"
)

// ErrNoCGO is returned when the tree-sitter backend is unavailable due to missing CGO.
var ErrNoCGO = errors.New("syntactic import scanning requires CGO (tree-sitter)")

// ParserAvailable reports whether the tree-sitter backend is compiled in.
// Returns false when CGO is disabled; scans use the lexical backend.
func ParserAvailable() bool {
	return false
}

func extract(context.Context, Language, []byte) (extraction, error) {
	return extraction{}, ErrNoCGO
}
