package affected

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"affected/internal/depgraph"
	"affected/internal/errors"
	"affected/internal/paths"
	"affected/internal/resolver"
	"affected/internal/scanner"
	"affected/internal/slogutil"
)

// Result is the outcome of one affected-test computation.
type Result struct {
	// Files are the canonical paths of the affected entries, sorted.
	Files []string `json:"files" yaml:"files" toml:"files"`
	// Errors are the resolution problems in traversal order.
	Errors []depgraph.ResolutionError `json:"errors" yaml:"errors" toml:"errors"`
	Stats  Stats                      `json:"stats" yaml:"stats" toml:"stats"`
}

// Stats summarizes the work done.
type Stats struct {
	Entries  int           `json:"entries" yaml:"entries" toml:"entries"`
	Changed  int           `json:"changed" yaml:"changed" toml:"changed"`
	Modules  int           `json:"modules" yaml:"modules" toml:"modules"`
	Edges    int           `json:"edges" yaml:"edges" toml:"edges"`
	Strategy string        `json:"strategy" yaml:"strategy" toml:"strategy"`
	Duration time.Duration `json:"durationNs" yaml:"durationNs" toml:"durationNs"`
}

// Request describes one computation.
type Request struct {
	// Tests are the candidate entry files.
	Tests []string
	// Changed are the changed files. They need not exist.
	Changed []string
	Resolve resolver.Config
	// WorkDir anchors relative paths in Tests and Changed. Empty means the
	// process working directory.
	WorkDir string
}

// Engine runs affected-test computations. Each call builds its graph against a
// fresh resolver cache unless one was shared through WithCache. The scan memo
// is reused across calls; its entries are keyed by file size and mtime.
type Engine struct {
	logger   *slog.Logger
	cache    *resolver.Cache
	memo     scanner.Memo
	scanCfg  scanner.Config
	caseMode string
	strategy Strategy
	graph    depgraph.Options
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCache shares a resolver cache with the caller. The cache then outlives
// single calls; the caller must Invalidate (or Purge it) after files change.
// Without it every call resolves against a fresh cache.
func WithCache(c *resolver.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMemo sets the scan memo. The default is an in-memory memo.
func WithMemo(m scanner.Memo) Option {
	return func(e *Engine) { e.memo = m }
}

// WithScanLimits sets the per-file size limit and read timeout. Zero keeps the default.
func WithScanLimits(maxFileSize int64, readTimeout time.Duration) Option {
	return func(e *Engine) {
		e.scanCfg.MaxFileSize = maxFileSize
		e.scanCfg.ReadTimeout = readTimeout
	}
}

// WithWorkers bounds concurrent file scans.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.graph.Workers = n }
}

// WithStrategy selects the reachability strategy.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) { e.strategy = s }
}

// WithCaseSensitivity sets "sensitive", "insensitive" or "auto".
func WithCaseSensitivity(mode string) Option {
	return func(e *Engine) { e.caseMode = mode }
}

// WithTraverseModuleDirectories follows imports inside module directories.
func WithTraverseModuleDirectories(on bool) Option {
	return func(e *Engine) { e.graph.TraverseModuleDirectories = on }
}

// WithReportCycles adds one CyclicButHandled record per import cycle.
func WithReportCycles(on bool) Option {
	return func(e *Engine) { e.graph.ReportCycles = on }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{caseMode: "auto"}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slogutil.NewDiscardLogger()
	}
	if e.memo == nil {
		e.memo = scanner.NewMemoryMemo(0)
	}
	e.scanCfg.Memo = e.memo
	e.scanCfg.Logger = e.logger
	e.graph.Logger = e.logger
	return e
}

// Invalidate drops the resolutions of a cache shared through WithCache so the
// next call sees file system changes.
func (e *Engine) Invalidate() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// GetAffected builds the graph reachable from req.Tests and returns the tests
// whose closure contains a changed file. Invalid input fails with
// INVALID_INPUT before any file is read; cancellation fails with CANCELLED
// and no partial result.
func (e *Engine) GetAffected(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	g, res, err := e.BuildGraph(ctx, req.Tests, req.Resolve, req.WorkDir)
	if err != nil {
		return nil, err
	}

	changed := make([]paths.ModuleID, 0, len(req.Changed))
	for _, c := range req.Changed {
		if c == "" {
			continue
		}
		changed = append(changed, res.ModuleID(c))
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.Cancelled, "affected computation cancelled", err)
	}
	hits := Compute(g, g.Entries(), changed, e.strategy)

	files := make([]string, 0, len(hits))
	for _, n := range hits {
		files = append(files, g.ID(n).String())
	}
	sort.Strings(files)

	errs := g.Errors()
	if errs == nil {
		errs = []depgraph.ResolutionError{}
	}
	result := &Result{
		Files:  files,
		Errors: errs,
		Stats: Stats{
			Entries:  len(g.Entries()),
			Changed:  len(changed),
			Modules:  g.Len(),
			Edges:    len(g.Edges()),
			Strategy: e.strategy.String(),
			Duration: time.Since(start),
		},
	}
	e.logger.Info("Computed affected tests",
		"affected", len(files),
		"entries", result.Stats.Entries,
		"changed", result.Stats.Changed,
		"errors", len(errs),
		"duration", result.Stats.Duration,
	)
	return result, nil
}

// BuildGraph validates the input and builds the dependency graph of tests.
// It also returns the resolver so callers can inspect individual specifiers.
func (e *Engine) BuildGraph(ctx context.Context, tests []string, cfg resolver.Config, dir string) (*depgraph.Graph, *resolver.Resolver, error) {
	if len(tests) == 0 {
		return nil, nil, errors.New(errors.InvalidInput, "no test entry files given", nil)
	}
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, nil, errors.New(errors.InvalidInput, "rootDir", err)
	}
	norm := paths.NewNormalizer(paths.ParseCaseMode(e.caseMode, root), workDir(dir))
	cache := e.cache
	if cache == nil {
		cache = resolver.NewCache(resolver.DefaultCacheSize)
	}
	res, err := resolver.New(cfg, norm, cache)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]string, 0, len(tests))
	for _, t := range tests {
		if t == "" {
			return nil, nil, errors.New(errors.InvalidInput, "empty test entry path", nil)
		}
		entries = append(entries, t)
	}

	b := depgraph.NewBuilder(res, scanner.New(e.scanCfg), e.graph)
	g, err := b.Build(ctx, entries)
	if err != nil {
		return nil, nil, err
	}
	return g, res, nil
}

// GetAffected runs a one-off computation with a fresh engine.
func GetAffected(ctx context.Context, tests, changed []string, cfg resolver.Config) (*Result, error) {
	return New().GetAffected(ctx, Request{Tests: tests, Changed: changed, Resolve: cfg})
}

func workDir(dir string) string {
	if dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return string(os.PathSeparator)
	}
	return wd
}
