package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"affected/internal/affected"
	"affected/internal/changes"
	"affected/internal/depgraph"
	"affected/internal/errors"
	"affected/internal/scancache"
	"affected/internal/suites"
)

var (
	testsChanged     []string
	testsChangedFrom string
	testsDiff        string
	testsBase        string
	testsStaged      bool
	testsUntracked   bool
	testsSuites      []string
	testsPatterns    []string
	testsStrategy    string
	testsNoCache     bool
	testsStrict      bool
)

var testsCmd = &cobra.Command{
	Use:   "tests [test files...]",
	Short: "List the tests affected by changed files",
	Long: `Build the import graph of the test files and print those that can reach a
changed file.

Test files are taken from the arguments, from the suites in affected.toml,
or from the configured glob patterns, in that order. Changed files come from
--changed, --changed-from and --diff; without any of them the git working
tree is used.

Examples:
  affected tests                              # Uncommitted changes, all tests
  affected tests --staged                     # Only staged changes
  affected tests --base=main --format=json    # Changes since main, as JSON
  affected tests --suite=unit                 # Only the unit suite
  affected tests --changed src/util.ts test/util.spec.ts
  git diff --name-only main | affected tests --changed-from -`,
	Args: cobra.ArbitraryArgs,
	RunE: runTests,
}

func init() {
	f := testsCmd.Flags()
	f.StringSliceVar(&testsChanged, "changed", nil, "Changed file (repeatable, relative to the project root)")
	f.StringVar(&testsChangedFrom, "changed-from", "", "Read changed files from a newline separated list (- for stdin)")
	f.StringVar(&testsDiff, "diff", "", "Read changed files from a unified diff (- for stdin)")
	f.StringVar(&testsBase, "base", "", "Also count files changed since this git revision")
	f.BoolVar(&testsStaged, "staged", false, "Only count staged git changes")
	f.BoolVar(&testsUntracked, "untracked", true, "Count untracked files")
	f.StringSliceVar(&testsSuites, "suite", nil, "Only tests of this suite from affected.toml (repeatable)")
	f.StringSliceVar(&testsPatterns, "pattern", nil, "Glob pattern selecting test files (repeatable)")
	f.StringVar(&testsStrategy, "strategy", "", "Reachability strategy: reverse or forward")
	f.BoolVar(&testsNoCache, "no-cache", false, "Do not use the persistent scan cache")
	f.BoolVar(&testsStrict, "strict", false, "Exit with status 1 when an import could not be followed")

	rootCmd.AddCommand(testsCmd)
}

// TestsResponse is the output of the tests command.
type TestsResponse struct {
	RunID   string                     `json:"runId" yaml:"runId" toml:"runId"`
	Root    string                     `json:"root" yaml:"root" toml:"root"`
	Tests   []string                   `json:"tests" yaml:"tests" toml:"tests"`
	Changed []string                   `json:"changed" yaml:"changed" toml:"changed"`
	Errors  []depgraph.ResolutionError `json:"errors" yaml:"errors" toml:"errors"`
	Stats   affected.Stats             `json:"stats" yaml:"stats" toml:"stats"`
}

func runTests(cmd *cobra.Command, args []string) error {
	a := current
	format, err := outputFormat(FormatList)
	if err != nil {
		return err
	}

	tests, err := discoverTests(a, args)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		return errors.New(errors.InvalidInput, "no test files found; pass them as arguments or set tests.patterns", nil)
	}

	changed, err := collectChanges(a, cmd)
	if err != nil {
		return err
	}

	cache := a.openCache(testsNoCache)
	engine, err := a.newEngine(cache, testsStrategy, false)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	result, err := engine.GetAffected(ctx, affected.Request{
		Tests:   tests,
		Changed: changed,
		Resolve: a.cfg.ResolverConfig(a.root),
		WorkDir: a.root,
	})
	if err != nil {
		return err
	}
	recordRun(a, cache, start, result)

	resp := newTestsResponse(a, changed, result)
	switch format {
	case FormatList:
		for _, t := range resp.Tests {
			fmt.Println(t)
		}
	case FormatHuman:
		writeTestsHuman(os.Stdout, resp)
	default:
		if err := writeResponse(os.Stdout, resp, format); err != nil {
			return err
		}
	}

	if testsStrict {
		if n := failures(result.Errors); n > 0 {
			return fmt.Errorf("%d imports could not be followed", n)
		}
	}
	return nil
}

// discoverTests returns the absolute paths of the candidate test files.
func discoverTests(a *app, args []string) ([]string, error) {
	if len(args) > 0 {
		out := make([]string, 0, len(args))
		for _, arg := range args {
			out = append(out, a.absPath(arg))
		}
		return out, nil
	}

	ignore := a.cfg.Tests.Ignore
	if len(testsPatterns) > 0 {
		return suites.Expand(a.root, testsPatterns, ignore)
	}

	manifest, ok := manifestPath(a)
	if ok {
		m, err := suites.LoadManifest(manifest)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("Using suite manifest", "path", manifest, "suites", strings.Join(m.Names(), ","))
		return m.Expand(a.root, ignore, testsSuites...)
	}
	if len(testsSuites) > 0 {
		return nil, errors.Newf(errors.InvalidInput, "--suite needs a suite manifest, none found at %s", manifest)
	}
	return suites.Expand(a.root, a.cfg.Tests.Patterns, ignore)
}

func manifestPath(a *app) (string, bool) {
	if a.cfg.Tests.Manifest == "" {
		return suites.FindManifest(a.root)
	}
	p := a.absPath(a.cfg.Tests.Manifest)
	info, err := os.Stat(p)
	return p, err == nil && !info.IsDir()
}

// collectChanges merges the changed files of every requested source. Git is
// consulted when no explicit source is given or a git flag is set.
func collectChanges(a *app, cmd *cobra.Command) ([]string, error) {
	var files []string
	explicit := false

	for _, c := range testsChanged {
		files = append(files, a.absPath(c))
		explicit = true
	}
	if testsChangedFrom != "" {
		list, err := readInput(testsChangedFrom, func(r io.Reader) ([]string, error) {
			return changes.FromList(r, a.root)
		})
		if err != nil {
			return nil, err
		}
		files = append(files, list...)
		explicit = true
	}
	if testsDiff != "" {
		list, err := readInput(testsDiff, func(r io.Reader) ([]string, error) {
			return changes.FromDiff(r, a.root)
		})
		if err != nil {
			return nil, err
		}
		files = append(files, list...)
		explicit = true
	}

	flags := cmd.Flags()
	if !explicit || flags.Changed("base") || flags.Changed("staged") || flags.Changed("untracked") {
		opts := changes.GitOptions{
			Base:      a.cfg.Changes.Base,
			Staged:    a.cfg.Changes.Staged,
			Untracked: a.cfg.Changes.Untracked,
		}
		if flags.Changed("base") {
			opts.Base = testsBase
		}
		if flags.Changed("staged") {
			opts.Staged = testsStaged
		}
		if flags.Changed("untracked") {
			opts.Untracked = testsUntracked
		}
		list, err := changes.FromGit(a.root, opts)
		if err != nil {
			return nil, err
		}
		files = append(files, list...)
	}

	a.logger.Info("Collected changed files", "count", len(files))
	return files, nil
}

// readInput runs parse on the named file, or on stdin for "-".
func readInput(name string, parse func(io.Reader) ([]string, error)) ([]string, error) {
	if name == "-" {
		return parse(os.Stdin)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.New(errors.ChangesUnavailable, "cannot open "+name, err)
	}
	defer func() { _ = f.Close() }()
	return parse(f)
}

func recordRun(a *app, cache *scancache.Cache, start time.Time, r *affected.Result) {
	if cache == nil {
		return
	}
	_, err := cache.RecordRun(scancache.Run{
		ID:        a.runID,
		StartedAt: start,
		Duration:  r.Stats.Duration,
		Entries:   r.Stats.Entries,
		Changed:   r.Stats.Changed,
		Affected:  len(r.Files),
		Modules:   r.Stats.Modules,
		Errors:    len(r.Errors),
	})
	if err != nil {
		a.logger.Warn("Failed to record run", "error", err)
	}
}

func newTestsResponse(a *app, changed []string, r *affected.Result) *TestsResponse {
	resp := &TestsResponse{
		RunID:   a.runID,
		Root:    a.root,
		Tests:   make([]string, 0, len(r.Files)),
		Changed: make([]string, 0, len(changed)),
		Errors:  r.Errors,
		Stats:   r.Stats,
	}
	for _, f := range r.Files {
		resp.Tests = append(resp.Tests, a.display(f))
	}
	for _, c := range changed {
		resp.Changed = append(resp.Changed, a.display(c))
	}
	sort.Strings(resp.Changed)
	return resp
}

// failures counts the errors that mean an import was not followed.
func failures(errs []depgraph.ResolutionError) int {
	n := 0
	for _, e := range errs {
		if !e.Informational() {
			n++
		}
	}
	return n
}

func writeTestsHuman(w io.Writer, resp *TestsResponse) {
	var b strings.Builder

	b.WriteString("Affected Tests\n")
	b.WriteString(rule + "\n\n")

	fmt.Fprintf(&b, "%s of %s tests affected by %s changed files\n\n",
		humanize.Comma(int64(len(resp.Tests))),
		humanize.Comma(int64(resp.Stats.Entries)),
		humanize.Comma(int64(len(resp.Changed))))

	for _, t := range resp.Tests {
		fmt.Fprintf(&b, "  ● %s\n", t)
	}
	if len(resp.Tests) > 0 {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Graph: %s modules, %s edges (%s, %s)\n",
		humanize.Comma(int64(resp.Stats.Modules)),
		humanize.Comma(int64(resp.Stats.Edges)),
		resp.Stats.Strategy,
		resp.Stats.Duration.Round(time.Millisecond))

	writeProblemsHuman(&b, resp.Errors)
	_, _ = io.WriteString(w, b.String())
}

// writeProblemsHuman lists resolution errors, at most 20, after a per-kind
// summary line.
func writeProblemsHuman(b *strings.Builder, errs []depgraph.ResolutionError) {
	if len(errs) == 0 {
		return
	}
	counts := depgraph.Count(errs)
	kinds := make([]string, 0, len(counts))
	for k, n := range counts {
		kinds = append(kinds, fmt.Sprintf("%s %d", k, n))
	}
	sort.Strings(kinds)
	fmt.Fprintf(b, "\nProblems: %d (%s)\n", len(errs), strings.Join(kinds, ", "))
	for i, e := range errs {
		if i >= 20 {
			fmt.Fprintf(b, "  ... and %d more\n", len(errs)-20)
			break
		}
		icon := "!"
		if e.Informational() {
			icon = "·"
		}
		fmt.Fprintf(b, "  %s %s\n", icon, e.String())
	}
}
