// Package scanner extracts static import and require specifiers from
// JavaScript and TypeScript sources.
package scanner

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"affected/internal/slogutil"
)

// Language identifies the grammar used for a file.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	// LangNone marks files without imports (JSON, CSS, images...). They are leaves.
	LangNone Language = ""
)

// DetectLanguage maps a file extension to a grammar.
func DetectLanguage(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".jsx", ".mjs", ".cjs":
		return LangJavaScript
	case ".ts", ".mts", ".cts":
		return LangTypeScript
	case ".tsx":
		return LangTSX
	default:
		return LangNone
	}
}

// ImportKind records the syntactic form an import was written in.
type ImportKind uint8

const (
	KindImport ImportKind = iota
	KindExportFrom
	KindDynamicImport
	KindRequire
	KindImportEquals
)

func (k ImportKind) String() string {
	switch k {
	case KindExportFrom:
		return "export-from"
	case KindDynamicImport:
		return "dynamic-import"
	case KindRequire:
		return "require"
	case KindImportEquals:
		return "import-equals"
	default:
		return "import"
	}
}

// Import is one static specifier occurrence.
type Import struct {
	Specifier string     `json:"specifier"`
	Line      int        `json:"line"`
	Kind      ImportKind `json:"kind"`
}

// Computed is an import or require call whose argument is not a static string.
type Computed struct {
	Line int    `json:"line"`
	Expr string `json:"expr"`
}

// Result is the scan of one file. Imports keep first-appearance order and
// include duplicates.
type Result struct {
	Path        string     `json:"path"`
	Language    Language   `json:"language"`
	Hash        string     `json:"hash"`
	Imports     []Import   `json:"imports"`
	Computed    []Computed `json:"computed,omitempty"`
	SyntaxError bool       `json:"syntaxError,omitempty"`
	// SyntaxLine is the first line holding a parse error, when known.
	SyntaxLine int `json:"syntaxLine,omitempty"`
}

// Specifiers returns the distinct specifiers in first-appearance order.
func (r *Result) Specifiers() []string {
	seen := make(map[string]struct{}, len(r.Imports))
	out := make([]string, 0, len(r.Imports))
	for _, imp := range r.Imports {
		if _, ok := seen[imp.Specifier]; ok {
			continue
		}
		seen[imp.Specifier] = struct{}{}
		out = append(out, imp.Specifier)
	}
	return out
}

// withPath returns a copy of r attributed to path.
func (r *Result) withPath(path string) *Result {
	cp := *r
	cp.Path = path
	return &cp
}

// Reason classifies why a file could not be scanned.
type Reason string

const (
	ReasonMissing    Reason = "missing"
	ReasonPermission Reason = "permission"
	ReasonDirectory  Reason = "directory"
	ReasonTooLarge   Reason = "too-large"
	ReasonBinary     Reason = "binary"
	ReasonTimeout    Reason = "timeout"
	ReasonIO         Reason = "io"
)

// UnreadableError is returned when a file cannot be scanned. The file is
// still a valid graph node; it just has no outgoing imports.
type UnreadableError struct {
	Path   string
	Reason Reason
	Err    error
}

func (e *UnreadableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot read %s (%s): %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot read %s (%s)", e.Path, e.Reason)
}

func (e *UnreadableError) Unwrap() error {
	return e.Err
}

// Config controls scanning limits.
type Config struct {
	// MaxFileSize skips larger files as unreadable. Zero means DefaultMaxFileSize.
	MaxFileSize int64
	// ReadTimeout bounds a single file read. Zero means DefaultReadTimeout.
	ReadTimeout time.Duration
	// Memo, when set, short-circuits scans of unchanged files.
	Memo Memo
	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

const (
	DefaultMaxFileSize = 4 << 20
	DefaultReadTimeout = 10 * time.Second
	binarySniffLen     = 8000
)

// Scanner scans files. It is safe for concurrent use.
type Scanner struct {
	maxSize int64
	timeout time.Duration
	memo    Memo
	logger  *slog.Logger
}

// New creates a scanner.
func New(cfg Config) *Scanner {
	s := &Scanner{
		maxSize: cfg.MaxFileSize,
		timeout: cfg.ReadTimeout,
		memo:    cfg.Memo,
		logger:  cfg.Logger,
	}
	if s.maxSize <= 0 {
		s.maxSize = DefaultMaxFileSize
	}
	if s.timeout <= 0 {
		s.timeout = DefaultReadTimeout
	}
	if s.logger == nil {
		s.logger = slogutil.NewDiscardLogger()
	}
	return s
}

// ScanFile reads and scans path. Failures to read are reported as
// *UnreadableError; cancellation returns ctx.Err().
func (s *Scanner) ScanFile(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	if info.IsDir() {
		return nil, &UnreadableError{Path: path, Reason: ReasonDirectory}
	}

	lang := DetectLanguage(path)
	if lang == LangNone {
		return &Result{Path: path}, nil
	}
	if info.Size() > s.maxSize {
		s.logger.Debug("Skipping file: too large", "file", path, "size", info.Size())
		return nil, &UnreadableError{Path: path, Reason: ReasonTooLarge,
			Err: fmt.Errorf("%d bytes exceeds limit of %d", info.Size(), s.maxSize)}
	}

	size, mtime := info.Size(), info.ModTime().UnixNano()
	if s.memo != nil {
		if res, ok := s.memo.Get(path, size, mtime); ok {
			return res.withPath(path), nil
		}
	}

	src, err := s.read(ctx, path)
	if err != nil {
		return nil, err
	}
	if isBinary(src) {
		return nil, &UnreadableError{Path: path, Reason: ReasonBinary}
	}

	hash := ContentHash(src)
	if s.memo != nil {
		if res, ok := s.memo.GetByHash(hash, lang); ok {
			res = res.withPath(path)
			s.memo.Put(path, size, mtime, res)
			return res, nil
		}
	}

	res := s.scan(ctx, path, lang, src)
	res.Hash = hash
	if s.memo != nil {
		s.memo.Put(path, size, mtime, res)
	}
	return res, nil
}

// ScanSource scans in-memory source. The language comes from path's extension.
func (s *Scanner) ScanSource(path string, src []byte) *Result {
	res := s.scan(context.Background(), path, DetectLanguage(path), src)
	res.Hash = ContentHash(src)
	return res
}

func (s *Scanner) scan(ctx context.Context, path string, lang Language, src []byte) *Result {
	res := &Result{Path: path, Language: lang}
	if lang == LangNone {
		return res
	}
	ex, err := extract(ctx, lang, src)
	if err != nil {
		s.logger.Debug("Parser unavailable, using lexical scan", "file", path, "error", err)
		ex = extractLexical(src)
	}
	res.Imports = ex.imports
	res.Computed = ex.computed
	res.SyntaxError = ex.syntaxError
	res.SyntaxLine = ex.syntaxLine
	return res
}

// read loads the file, giving up after the configured timeout. A read stuck
// on a dead network mount keeps its goroutine, but the caller moves on.
func (s *Scanner) read(ctx context.Context, path string) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		f, err := os.Open(path)
		if err != nil {
			done <- readResult{err: err}
			return
		}
		defer func() { _ = f.Close() }()
		data, err := io.ReadAll(io.LimitReader(f, s.maxSize+1))
		done <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, unreadable(path, r.err)
		}
		if int64(len(r.data)) > s.maxSize {
			return nil, &UnreadableError{Path: path, Reason: ReasonTooLarge}
		}
		return r.data, nil
	case <-timer.C:
		return nil, &UnreadableError{Path: path, Reason: ReasonTimeout,
			Err: fmt.Errorf("read did not finish within %s", s.timeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func unreadable(path string, err error) *UnreadableError {
	reason := ReasonIO
	switch {
	case os.IsNotExist(err):
		reason = ReasonMissing
	case os.IsPermission(err):
		reason = ReasonPermission
	}
	return &UnreadableError{Path: path, Reason: reason, Err: err}
}

// isBinary applies the NUL-byte heuristic to the head of the file.
func isBinary(src []byte) bool {
	head := src
	if len(head) > binarySniffLen {
		head = head[:binarySniffLen]
	}
	return bytes.IndexByte(head, 0) >= 0
}

// ContentHash returns the hex blake2b-256 digest of src.
func ContentHash(src []byte) string {
	sum := blake2b.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// extraction is the language-independent output of a parser backend.
type extraction struct {
	imports     []Import
	computed    []Computed
	syntaxError bool
	syntaxLine  int
}
