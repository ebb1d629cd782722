package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"affected/internal/affected"
	"affected/internal/errors"
	"affected/internal/watcher"
)

var (
	watchStrategy string
	watchNoCache  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [test files...]",
	Short: "Print the affected tests whenever files change",
	Long: `Watch the project root and, after each burst of changes, print the tests
affected by the files that changed in that burst.

Examples:
  affected watch
  affected watch --suite=unit
  affected watch --format=json`,
	Args: cobra.ArbitraryArgs,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringSliceVar(&testsSuites, "suite", nil, "Only tests of this suite from affected.toml (repeatable)")
	f.StringSliceVar(&testsPatterns, "pattern", nil, "Glob pattern selecting test files (repeatable)")
	f.StringVar(&watchStrategy, "strategy", "", "Reachability strategy: reverse or forward")
	f.BoolVar(&watchNoCache, "no-cache", false, "Do not use the persistent scan cache")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a := current
	format, err := outputFormat(FormatList)
	if err != nil {
		return err
	}

	cache := a.openCache(watchNoCache)
	engine, err := a.newEngine(cache, watchStrategy, false)
	if err != nil {
		return err
	}

	handler := func(ctx context.Context, events []watcher.Event) {
		engine.Invalidate()

		tests, err := discoverTests(a, args)
		if err != nil {
			a.logger.Error("Test discovery failed", "error", err)
			return
		}
		if len(tests) == 0 {
			a.logger.Warn("No test files found")
			return
		}
		changed := make([]string, 0, len(events))
		for _, e := range events {
			changed = append(changed, e.Path)
		}

		start := time.Now()
		result, err := engine.GetAffected(ctx, affected.Request{
			Tests:   tests,
			Changed: changed,
			Resolve: a.cfg.ResolverConfig(a.root),
			WorkDir: a.root,
		})
		if err != nil {
			if !errors.IsCode(err, errors.Cancelled) {
				a.logger.Error("Affected computation failed", "error", err)
			}
			return
		}
		recordRun(a, cache, start, result)

		resp := newTestsResponse(a, changed, result)
		switch format {
		case FormatList:
			for _, t := range resp.Tests {
				fmt.Println(t)
			}
		case FormatHuman:
			fmt.Printf("\n[%s] %d files changed\n", start.Format("15:04:05"), len(resp.Changed))
			writeTestsHuman(os.Stdout, resp)
		default:
			if err := writeResponse(os.Stdout, resp, format); err != nil {
				a.logger.Error("Failed to write output", "error", err)
			}
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	w := watcher.New(watcher.Config{
		DebounceMs:     a.cfg.Watch.DebounceMs,
		IgnorePatterns: a.cfg.Watch.IgnorePatterns,
	}, a.logger, handler)
	return w.Run(ctx, a.root)
}
