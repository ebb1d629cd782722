package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"affected/internal/errors"
	"affected/internal/scancache"
)

var (
	cachePruneAge time.Duration
	cacheRunsN    int
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the scan cache",
	Long:  "Inspect and maintain the persistent scan cache stored in .affected/scan-cache.db",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and entry counts",
	RunE:  runCacheStats,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove entries of deleted files and entries unused for --older-than",
	Long: `Remove cache entries whose file no longer exists and, with --older-than,
entries that have not been used for that long.

Examples:
  affected cache prune
  affected cache prune --older-than=168h`,
	RunE: runCachePrune,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry and the run history",
	RunE:  runCacheClear,
}

var cacheRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent affected-test runs",
	RunE:  runCacheRuns,
}

func init() {
	cachePruneCmd.Flags().DurationVar(&cachePruneAge, "older-than", 0, "Also remove entries unused for this long")
	cacheRunsCmd.Flags().IntVarP(&cacheRunsN, "lines", "n", 20, "Number of runs to show")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheRunsCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openCacheStrict opens the cache for the maintenance commands, which have
// nothing to do without it.
func openCacheStrict() (*scancache.Cache, error) {
	a := current
	c, err := scancache.Open(a.cfg.CachePath(a.root), a.logger)
	if err != nil {
		return nil, err
	}
	a.cache = c
	return c, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(FormatJSON)
	if err != nil {
		return err
	}
	c, err := openCacheStrict()
	if err != nil {
		return err
	}
	stats, err := c.Stats()
	if err != nil {
		return errors.New(errors.CacheUnavailable, "failed to read cache stats", err)
	}

	switch format {
	case FormatHuman, FormatList:
		fmt.Println("Scan Cache")
		fmt.Println(rule)
		fmt.Printf("Path:     %s\n", stats.Path)
		fmt.Printf("File:     %s\n", humanize.Bytes(uint64(stats.FileBytes)))
		fmt.Printf("Entries:  %s (%s compressed)\n", humanize.Comma(stats.Entries), humanize.Bytes(uint64(stats.PayloadBytes)))
		fmt.Printf("Runs:     %s\n", humanize.Comma(stats.Runs))
		return nil
	default:
		return writeResponse(os.Stdout, stats, format)
	}
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	c, err := openCacheStrict()
	if err != nil {
		return err
	}
	n, err := c.Prune(cachePruneAge)
	if err != nil {
		return errors.New(errors.CacheUnavailable, "failed to prune cache", err)
	}
	fmt.Printf("Removed %s entries\n", humanize.Comma(n))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, err := openCacheStrict()
	if err != nil {
		return err
	}
	if err := c.Clear(); err != nil {
		return errors.New(errors.CacheUnavailable, "failed to clear cache", err)
	}
	fmt.Println("Cache cleared")
	return nil
}

// RunsResponse is the output of cache runs.
type RunsResponse struct {
	Runs []scancache.Run `json:"runs" yaml:"runs" toml:"runs"`
}

func runCacheRuns(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(FormatJSON)
	if err != nil {
		return err
	}
	c, err := openCacheStrict()
	if err != nil {
		return err
	}
	runs, err := c.Runs(cacheRunsN)
	if err != nil {
		return errors.New(errors.CacheUnavailable, "failed to list runs", err)
	}

	switch format {
	case FormatHuman, FormatList:
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		var b strings.Builder
		for _, r := range runs {
			fmt.Fprintf(&b, "%s  %-14s  %4d/%-5d tests  %5d changed  %6s modules  %d errors  %s\n",
				shortID(r.ID),
				humanize.Time(r.StartedAt),
				r.Affected, r.Entries,
				r.Changed,
				humanize.Comma(int64(r.Modules)),
				r.Errors,
				r.Duration.Round(time.Millisecond))
		}
		fmt.Print(b.String())
		return nil
	default:
		return writeResponse(os.Stdout, RunsResponse{Runs: runs}, format)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
