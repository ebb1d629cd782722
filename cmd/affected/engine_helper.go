package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"affected/internal/affected"
	"affected/internal/config"
	"affected/internal/errors"
	"affected/internal/paths"
	"affected/internal/scancache"
	"affected/internal/slogutil"
)

// app is the per-invocation state shared by all commands.
type app struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	factory *slogutil.LoggerFactory
	runID   string
	cache   *scancache.Cache
}

var current *app

// setupApp loads the configuration of the project root and builds the
// logger. It runs before every command.
func setupApp(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		return err
	}

	cliSet := quietFlag || verbosity > 0
	factory := slogutil.NewLoggerFactory(cfg.Logging, slogutil.LevelFromVerbosity(verbosity, quietFlag), cliSet)
	logger, err := factory.CLILogger(os.Stderr, logFileFlag)
	if err != nil {
		logger.Warn("Failed to open log file, logging to stderr only", "error", err)
	}

	runID := uuid.New().String()
	current = &app{
		root:    root,
		cfg:     cfg,
		logger:  logger.With("run", shortID(runID)),
		factory: factory,
		runID:   runID,
	}
	current.logger.Debug("Starting command", "command", cmd.CommandPath(), "root", root)
	return nil
}

// closeApp releases the cache and log files of the current invocation.
func closeApp() {
	if current == nil {
		return
	}
	if current.cache != nil {
		if err := current.cache.Close(); err != nil {
			current.logger.Warn("Failed to close scan cache", "error", err)
		}
	}
	_ = current.factory.Close()
}

// projectRoot returns the absolute, symlink-free project root.
func projectRoot() (string, error) {
	root := rootFlag
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.New(errors.InvalidInput, "cannot determine working directory", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.New(errors.InvalidInput, "invalid --root", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", errors.Newf(errors.InvalidInput, "project root %s is not a directory", abs)
	}
	return paths.RealPath(abs), nil
}

// openCache opens the persistent scan cache. A cache that cannot be opened
// is logged and skipped; the computation then runs with an in-memory memo.
func (a *app) openCache(disabled bool) *scancache.Cache {
	if disabled || !a.cfg.Cache.Enabled {
		return nil
	}
	if a.cache != nil {
		return a.cache
	}
	c, err := scancache.Open(a.cfg.CachePath(a.root), a.logger)
	if err != nil {
		a.logger.Warn("Scan cache unavailable, continuing without it", "error", err)
		return nil
	}
	if a.cfg.Cache.MaxAgeDays > 0 {
		if n, err := c.Prune(time.Duration(a.cfg.Cache.MaxAgeDays) * 24 * time.Hour); err != nil {
			a.logger.Warn("Failed to prune scan cache", "error", err)
		} else if n > 0 {
			a.logger.Debug("Pruned scan cache", "removed", n)
		}
	}
	a.cache = c
	return c
}

// newEngine builds an engine from the configuration. strategy and
// reportCycles override the configured values when set.
func (a *app) newEngine(cache *scancache.Cache, strategy string, reportCycles bool) (*affected.Engine, error) {
	if strategy == "" {
		strategy = a.cfg.Resolve.Strategy
	}
	s, err := affected.ParseStrategy(strategy)
	if err != nil {
		return nil, errors.New(errors.InvalidInput, err.Error(), err)
	}

	opts := []affected.Option{
		affected.WithLogger(a.logger),
		affected.WithStrategy(s),
		affected.WithScanLimits(a.cfg.Scan.MaxFileSizeBytes, a.cfg.ReadTimeout()),
		affected.WithWorkers(a.cfg.Scan.Workers),
		affected.WithCaseSensitivity(a.cfg.Resolve.CaseSensitivity),
		affected.WithTraverseModuleDirectories(a.cfg.Resolve.TraverseModuleDirectories),
		affected.WithReportCycles(reportCycles || a.cfg.Resolve.ReportCycles),
	}
	if cache != nil {
		opts = append(opts, affected.WithMemo(cache))
	}
	return affected.New(opts...), nil
}

// absPath resolves p against the project root.
func (a *app) absPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return paths.JoinRepoPath(a.root, filepath.ToSlash(p))
}

// display returns p relative to the project root when it lies inside it.
func (a *app) display(p string) string {
	if !paths.IsWithinRepo(p, a.root) {
		return p
	}
	rel, err := paths.CanonicalizePath(p, a.root)
	if err != nil {
		return p
	}
	return rel
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
