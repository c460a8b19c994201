// Package main implements the rsplug CLI: a declarative, out-of-editor
// package builder that turns one or more plugin-manifest documents into
// a generated pack tree plus the glue script that loads it lazily.
//
// Usage:
//
//	rsplug -i config.yaml                 Install missing plugins
//	rsplug -u config.yaml                 Fetch and update existing plugins
//	rsplug --locked config.yaml           Rebuild strictly from the lockfile
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
	"github.com/gw31415/rsplug.nvim/internal/metrics"
	"github.com/gw31415/rsplug.nvim/internal/orchestrator"
	"github.com/gw31415/rsplug.nvim/internal/progressbus"
	"github.com/gw31415/rsplug.nvim/internal/repocache"
	"github.com/gw31415/rsplug.nvim/internal/ui"
	"github.com/gw31415/rsplug.nvim/internal/watch"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		install     = flag.BoolP("install", "i", false, "install missing plugins")
		update      = flag.BoolP("update", "u", false, "fetch and update existing plugins")
		locked      = flag.Bool("locked", false, "use exact revisions from lockfile (mutually exclusive with --update)")
		lockfile    = flag.String("lockfile", "", "override lockfile path (default: <cache_root>/rsplug.lock.json)")
		jsonOutput  = flag.Bool("json", false, "output a machine-readable summary")
		noColor     = flag.Bool("no-color", false, "disable color output")
		quiet       = flag.BoolP("quiet", "q", false, "suppress progress output")
		watchMode   = flag.Bool("watch", false, "resync automatically when a config document changes")
		metricsAddr = flag.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
		gitBaseURL  = flag.String("git-base-url", "", "override the Git hosting base URL (default: https://github.com)")
		showVersion = flag.BoolP("version", "V", false, "show version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `rsplug - declarative, out-of-editor pack builder

Usage:
  rsplug [OPTIONS] <config_patterns>...

config_patterns is one or more path glob patterns, colon-separable
(a:b:c). If omitted, RSPLUG_CONFIG_FILES supplies them.

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment:
  RSPLUG_CONFIG_FILES   colon-separated glob list, used when no patterns are given
  RSPLUG_CACHE_DIR      cache root (default: ~/.cache/rsplug)

Exit codes:
  0 success, 2 usage, 3 config invalid, 4 dependency cycle or missing lock
  entry under --locked, 5 one or more repo/build failures, 6 concurrent run,
  7 I/O error during output assembly, 1 uncategorized.
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("rsplug version %s (%s)\n", version, commit)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *jsonOutput {
		*quiet = true
	}
	ui.InitColors(*noColor)

	if *update && *locked {
		rerrors.FatalError(rerrors.NewUsageError(
			"Conflicting flags", "--update and --locked are mutually exclusive", "Choose one", nil), *jsonOutput)
	}

	patterns := resolveConfigPatterns(flag.Args())
	if len(patterns) == 0 {
		flag.Usage()
		rerrors.FatalError(rerrors.NewUsageError(
			"No configuration patterns given",
			"no config_patterns argument and RSPLUG_CONFIG_FILES is unset",
			"Pass at least one glob pattern, or set RSPLUG_CONFIG_FILES",
			nil), *jsonOutput)
	}

	paths, err := expandPatterns(patterns)
	if err != nil {
		rerrors.FatalError(err, *jsonOutput)
	}

	cacheRoot := os.Getenv("RSPLUG_CACHE_DIR")
	if cacheRoot == "" {
		home, hErr := os.UserHomeDir()
		if hErr != nil {
			rerrors.FatalError(rerrors.NewInternalError(
				"Cannot determine home directory", hErr.Error(), "Set RSPLUG_CACHE_DIR explicitly", hErr), *jsonOutput)
		}
		cacheRoot = filepath.Join(home, ".cache", "rsplug")
	}

	lockPath := *lockfile
	if lockPath == "" {
		lockPath = filepath.Join(cacheRoot, "rsplug.lock.json")
	}

	mode := repocache.ModeNeither
	switch {
	case *locked:
		mode = repocache.ModeLocked
	case *update:
		mode = repocache.ModeUpdate
	case *install:
		mode = repocache.ModeInstall
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var metricsReg *metrics.Registry
	var metricsSrv *http.Server
	if *metricsAddr != "" {
		metricsReg = metrics.New()
		metricsSrv = metricsReg.Serve(*metricsAddr, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	interruptExitCode := rerrors.NewInterruptedError("", "", "", nil).ExitCode()
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
		// soft deadline: give in-flight subprocesses 5s to react to ctx
		// cancellation before forcing the process down (spec §5).
		select {
		case <-sigChan:
			os.Exit(interruptExitCode)
		case <-time.After(5 * time.Second):
			os.Exit(interruptExitCode)
		}
	}()
	defer cancel()

	bus := progressbus.New()
	defer bus.Close()

	progCfg := ui.NewProgressConfig(*quiet, *jsonOutput)
	consoleDone := make(chan struct{})
	consoleCh := bus.Subscribe()
	go func() {
		ui.NewConsoleSubscriber(progCfg).Run(consoleCh)
		close(consoleDone)
	}()

	opts := orchestrator.Options{
		CacheRoot:    cacheRoot,
		LockfilePath: lockPath,
		Mode:         mode,
		GitBaseURL:   *gitBaseURL,
		Bus:          bus,
		Metrics:      metricsReg,
	}

	runOnce := func() *orchestrator.Summary {
		summary, rErr := orchestrator.Run(ctx, paths, opts)
		if rErr != nil {
			rerrors.FatalError(rErr, *jsonOutput)
		}
		return summary
	}

	if *watchMode {
		reportSummary(runOnce(), *jsonOutput)
		w := watch.New()
		w.Logger = logger
		if err := w.Run(ctx, paths, func(ctx context.Context) error {
			summary, rErr := orchestrator.Run(ctx, paths, opts)
			if rErr != nil {
				logger.Error("resync.failed", "err", rErr)
				return rErr
			}
			reportSummary(summary, *jsonOutput)
			return nil
		}); err != nil && ctx.Err() == nil {
			rerrors.FatalError(err, *jsonOutput)
		}
		bus.Unsubscribe(consoleCh)
		<-consoleDone
		if metricsSrv != nil {
			shutdownMetrics(metricsReg, metricsSrv)
		}
		return
	}

	summary := runOnce()
	bus.Unsubscribe(consoleCh)
	<-consoleDone
	if metricsSrv != nil {
		shutdownMetrics(metricsReg, metricsSrv)
	}

	reportSummary(summary, *jsonOutput)
	if summary.Failed {
		os.Exit(rerrors.NewBuildFailedError("", "", "", nil).ExitCode())
	}
}

// resolveConfigPatterns returns positional args if given, else splits
// RSPLUG_CONFIG_FILES on ':' (spec §6).
func resolveConfigPatterns(args []string) []string {
	var patterns []string
	for _, a := range args {
		patterns = append(patterns, strings.Split(a, ":")...)
	}
	if len(patterns) > 0 {
		return patterns
	}
	if env := os.Getenv("RSPLUG_CONFIG_FILES"); env != "" {
		return strings.Split(env, ":")
	}
	return nil
}

func expandPatterns(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var paths []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, rerrors.NewUsageError("Invalid glob pattern", fmt.Sprintf("%q: %v", pattern, err), "", err)
		}
		if len(matches) == 0 {
			return nil, rerrors.NewUsageError("No files match pattern", pattern, "Check the path or glob syntax", nil)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	return paths, nil
}

func reportSummary(summary *orchestrator.Summary, jsonOutput bool) {
	if summary == nil {
		return
	}
	failed := make([]orchestrator.PluginOutcome, 0)
	for _, o := range summary.Outcomes {
		if o.State == orchestrator.StateFailed {
			failed = append(failed, o)
		}
	}
	if len(failed) == 0 {
		if !jsonOutput {
			ui.Header(fmt.Sprintf("synced %d plugin(s) into %d group(s)", len(summary.Outcomes), len(summary.Plan.Groups)))
		}
		return
	}
	for _, o := range failed {
		kind := "unknown"
		if rerr := rerrors.AsRsplugError(o.Err); rerr != nil {
			kind = string(rerr.Kind)
		}
		ui.Failuref(o.ID, kind, "%v", o.Err)
	}
}

func shutdownMetrics(reg *metrics.Registry, srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = reg.Shutdown(ctx, srv)
}
