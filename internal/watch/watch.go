// Package watch implements the `--watch` supplement to the
// synchronization pipeline (SPEC_FULL.md, "Supplemented features"): once
// a run finishes successfully, re-run it whenever a configuration
// document changes on disk. Debounce and single-flight shape are
// grounded on cmd/cie/watch.go's runWatchAndReindex/tryStartReindex.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce matches SPEC_FULL.md's "debounced 500ms".
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-runs a callback whenever one of a fixed set of
// configuration document paths changes, with single-flight protection
// so overlapping changes never start a second run concurrently.
type Watcher struct {
	Debounce time.Duration
	Logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New returns a Watcher with the default debounce and a discard logger.
func New() *Watcher {
	return &Watcher{Debounce: DefaultDebounce, Logger: slog.New(slog.NewTextHandler(discard{}, nil))}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Run watches the directories containing paths and invokes onChange
// (debounced) whenever one of paths itself is created, written, or
// renamed into place — the rename case covers editors that save via
// write-to-tmp-then-rename, which a plain filename watch would miss.
// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, paths []string, onChange func(context.Context) error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	watched := map[string]bool{}
	targets := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if !watched[dir] {
			if err := fsw.Add(dir); err != nil {
				return err
			}
			watched[dir] = true
		}
	}

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !targets[abs] {
				continue
			}
			w.Logger.Debug("watch.event", "path", abs, "op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.Debounce)
			timerCh = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("watch.error", "err", err)

		case <-timerCh:
			timerCh = nil
			w.tryRun(ctx, onChange)
		}
	}
}

// tryRun starts onChange in the background unless a previous run is
// still in flight, mirroring tryStartReindex's single-flight guard.
func (w *Watcher) tryRun(ctx context.Context, onChange func(context.Context) error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.Logger.Info("watch.skip", "reason", "run already in progress")
		return
	}
	w.running = true
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}()
		if err := onChange(ctx); err != nil {
			w.Logger.Warn("watch.resync_failed", "err", err)
		}
	}()
}
