package depgraph

import (
	"context"
	stderrors "errors"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"affected/internal/errors"
	"affected/internal/paths"
	"affected/internal/resolver"
	"affected/internal/scanner"
	"affected/internal/slogutil"
)

// Resolver resolves a specifier written in a file inside importerDir and maps
// entry paths to the IDs its resolutions use.
type Resolver interface {
	Resolve(importerDir, specifier string) (resolver.Resolution, error)
	ModuleID(path string) paths.ModuleID
}

// Scanner extracts the imports of one file.
type Scanner interface {
	ScanFile(ctx context.Context, path string) (*scanner.Result, error)
}

// Options tune a build.
type Options struct {
	// Workers bounds concurrent scans. Zero means GOMAXPROCS.
	Workers int
	// TraverseModuleDirectories follows imports inside module directories.
	// Otherwise files there are leaves.
	TraverseModuleDirectories bool
	// ReportCycles appends one CyclicButHandled record per import cycle.
	ReportCycles bool
	// Logger receives progress output. Nil discards.
	Logger *slog.Logger
}

// Builder walks outward from entry files, scanning each reachable module once.
type Builder struct {
	res    Resolver
	scn    Scanner
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(res Resolver, scn Scanner, opts Options) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Builder{res: res, scn: scn, opts: opts, logger: logger}
}

// visit is the outcome of scanning one module and resolving its specifiers.
type visit struct {
	imports []Import
	targets []resolver.Resolution
	errs    []ResolutionError
}

// Build constructs the graph reachable from entries. The traversal runs level
// by level: every module of the current frontier is scanned in parallel and
// results are merged in frontier order, so node numbering and error order do
// not depend on the worker count. Per-module problems are recorded in the
// graph; the only error returned is CANCELLED.
func (b *Builder) Build(ctx context.Context, entries []string) (*Graph, error) {
	start := time.Now()
	g := newGraph()

	var frontier []NodeID
	for _, e := range entries {
		n, created := g.add(b.res.ModuleID(e))
		if created {
			g.entries = append(g.entries, n)
			frontier = append(frontier, n)
		}
	}

	level := 0
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		b.logger.Debug("Scanning graph level", "level", level, "frontier", len(frontier))

		scan := make([]NodeID, 0, len(frontier))
		for _, n := range frontier {
			if g.InModuleDir(n) && !b.opts.TraverseModuleDirectories {
				continue
			}
			scan = append(scan, n)
		}

		visits, err := b.scanLevel(ctx, g, scan)
		if err != nil {
			return nil, err
		}

		var next []NodeID
		for i, n := range scan {
			v := visits[i]
			g.scanned.Set(uint(n))
			g.errors = append(g.errors, v.errs...)
			for j := range v.imports {
				t := v.targets[j]
				if v.imports[j].Outcome != outcomeFile {
					continue
				}
				to, created := g.add(t.ID)
				if created {
					if t.InModuleDir {
						g.modDir.Set(uint(to))
					}
					next = append(next, to)
				}
				v.imports[j].Target = to
				g.addEdge(n, to)
			}
			g.imports[n] = v.imports
		}
		frontier = next
		level++
	}

	if b.opts.ReportCycles {
		g.errors = append(g.errors, cycleErrors(g)...)
	}

	b.logger.Info("Built dependency graph",
		"modules", g.Len(),
		"edges", len(g.edges),
		"levels", level,
		"errors", len(g.errors),
		"duration", time.Since(start),
	)
	return g, nil
}

func (b *Builder) scanLevel(ctx context.Context, g *Graph, nodes []NodeID) ([]visit, error) {
	visits := make([]visit, len(nodes))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.opts.Workers)

	for i, n := range nodes {
		path := g.ID(n).Path()
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := b.visit(gctx, path)
			if err != nil {
				return err
			}
			visits[i] = v
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, cancelled(err)
		}
		return nil, errors.New(errors.InternalError, "graph level scan failed", err)
	}
	return visits, nil
}

const (
	outcomeFile       = "file"
	outcomeBuiltin    = "builtin"
	outcomeIgnored    = "ignored"
	outcomeUnresolved = "unresolved"
)

// visit scans one module. It only fails on cancellation; everything else
// becomes a ResolutionError.
func (b *Builder) visit(ctx context.Context, path string) (visit, error) {
	var v visit
	res, err := b.scn.ScanFile(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return v, ctx.Err()
		}
		var uerr *scanner.UnreadableError
		cause := err.Error()
		if stderrors.As(err, &uerr) {
			cause = string(uerr.Reason)
			if uerr.Err != nil {
				cause += ": " + uerr.Err.Error()
			}
		}
		b.logger.Debug("Unreadable module", "file", path, "error", err)
		v.errs = append(v.errs, ResolutionError{Kind: UnreadableFile, Path: path, Cause: cause})
		return v, nil
	}

	if res.SyntaxError {
		v.errs = append(v.errs, ResolutionError{Kind: SyntaxError, Path: path, Line: res.SyntaxLine})
	}

	dir := paths.ModuleID(path).Dir()
	seen := make(map[string]struct{}, len(res.Imports))
	for _, imp := range res.Imports {
		if _, ok := seen[imp.Specifier]; ok {
			continue
		}
		seen[imp.Specifier] = struct{}{}

		entry := Import{Specifier: imp.Specifier, Line: imp.Line, Kind: imp.Kind}
		r, err := b.res.Resolve(dir, imp.Specifier)
		switch {
		case err != nil:
			entry.Outcome = outcomeUnresolved
			v.errs = append(v.errs, ResolutionError{
				Kind:      UnresolvedSpecifier,
				Specifier: imp.Specifier,
				Importer:  path,
				Line:      imp.Line,
			})
		case r.Kind == resolver.KindBuiltin:
			entry.Outcome = outcomeBuiltin
		case r.Kind == resolver.KindIgnored:
			entry.Outcome = outcomeIgnored
		default:
			entry.Outcome = outcomeFile
			entry.Resolved = r.ID
		}
		v.imports = append(v.imports, entry)
		v.targets = append(v.targets, r)
	}

	for _, c := range res.Computed {
		v.errs = append(v.errs, ResolutionError{
			Kind:      ComputedSpecifier,
			Specifier: c.Expr,
			Importer:  path,
			Line:      c.Line,
		})
	}
	return v, nil
}

func cancelled(cause error) error {
	return errors.New(errors.Cancelled, "dependency graph build cancelled", cause)
}
