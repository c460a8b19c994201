// Package orchestrator implements C9: driving the full synchronization
// pipeline end to end — DAG build, per-plugin repo and build work over a
// bounded worker pool, the merge/assemble/script phases, and the final
// lockfile write — fanning progress out over the bus and honoring the
// phase barriers and failure-isolation rules of spec §4.9 and §5.
// Grounded on cmd/cie/index.go's ctx/signal.Notify shutdown shape and
// worker-pool-driven pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gw31415/rsplug.nvim/internal/assemble"
	"github.com/gw31415/rsplug.nvim/internal/buildcache"
	"github.com/gw31415/rsplug.nvim/internal/config"
	"github.com/gw31415/rsplug.nvim/internal/dag"
	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
	"github.com/gw31415/rsplug.nvim/internal/lock"
	"github.com/gw31415/rsplug.nvim/internal/merge"
	"github.com/gw31415/rsplug.nvim/internal/metrics"
	"github.com/gw31415/rsplug.nvim/internal/progressbus"
	"github.com/gw31415/rsplug.nvim/internal/repocache"
	"github.com/gw31415/rsplug.nvim/internal/script"
)

// Options configures one orchestrator run.
type Options struct {
	CacheRoot    string
	LockfilePath string
	Mode         repocache.Mode
	GitBaseURL   string
	// WorkerCount overrides the default pool size (logical CPU count,
	// clamped to [4, 32] per spec §4.4); zero uses the default.
	WorkerCount int
	Bus         *progressbus.Bus
	Metrics     *metrics.Registry
	// Runner overrides the git executor; nil uses repocache.ExecRunner{}.
	Runner repocache.Runner
}

// PluginState is one plugin's terminal state at the end of a run (spec
// §5: "Done, Failed, or Skipped").
type PluginState string

const (
	StateDone    PluginState = "done"
	StateFailed  PluginState = "failed"
	StateSkipped PluginState = "skipped"
)

// PluginOutcome records one plugin's terminal state and, for a skip, the
// failed predecessor that caused it (spec §5: "Skipped(cause=<id>)").
type PluginOutcome struct {
	ID           string
	State        PluginState
	Err          error
	SkippedCause string
}

// Summary is the complete result of one run.
type Summary struct {
	Outcomes []PluginOutcome
	Plan     *merge.Plan
	// Failed is true when at least one plugin terminated in StateFailed,
	// the signal the CLI maps to exit code 5.
	Failed bool
}

func workerCount(requested int) int {
	if requested > 0 {
		return requested
	}
	n := runtime.NumCPU()
	if n < 4 {
		n = 4
	}
	if n > 32 {
		n = 32
	}
	return n
}

// Run executes the full pipeline against paths (already-expanded
// configuration document paths, per spec §1's "glob expansion... is an
// external collaborator"). A non-nil error means the run aborted:
// schema/cycle/lock errors, a held advisory lock, or an I/O failure during
// the final phases. Every such abort except a failed lockfile write happens
// before the new output tree is swapped in. Per-plugin failures never
// surface as a returned error; they appear in Summary.Outcomes and set
// Summary.Failed so unrelated plugins are unaffected (spec §7).
func Run(ctx context.Context, paths []string, opts Options) (*Summary, error) {
	specs, err := config.Load(paths)
	if err != nil {
		return nil, err
	}

	graph, err := dag.Build(specs)
	if err != nil {
		return nil, err
	}

	release, err := acquireLock(opts.CacheRoot)
	if err != nil {
		return nil, err
	}
	defer release()

	lockStore, err := lock.Load(opts.LockfilePath)
	if err != nil {
		return nil, err
	}

	// --locked converts unresolvable globs/branches into LockMissing at
	// plan time, before any network or filesystem work starts (spec §7).
	if opts.Mode == repocache.ModeLocked {
		if err := checkLockedFaithfulness(specs, lockStore); err != nil {
			return nil, err
		}
	}

	runner := opts.Runner
	if runner == nil {
		runner = repocache.ExecRunner{}
	}
	repoCache := repocache.New(opts.CacheRoot, opts.GitBaseURL, runner, opts.Bus)
	buildCache := buildcache.New(filepath.Join(opts.CacheRoot, "builds"), opts.Bus)

	specsByID := make(map[string]*config.PluginSpec, len(specs))
	for _, s := range specs {
		specsByID[s.ID] = s
	}

	tracker := newResultTracker(graph)

	sem := make(chan struct{}, workerCount(opts.WorkerCount))
	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := make([]PluginOutcome, 0, len(graph.Order))
	checkoutDirs := map[string]string{}
	checkoutInfo := map[string]assemble.CheckoutInfo{}

	for _, node := range graph.Order {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(tracker.done[node.Spec.ID])

			// Wait for `with` dependencies before touching the worker
			// pool: a slot held while blocked on a not-yet-scheduled
			// dependency could starve that dependency of a slot on a
			// deep chain against a small pool.
			if skip, cause := waitForDeps(ctx, node, tracker); skip {
				tracker.record(node.Spec.ID, StateSkipped)
				mu.Lock()
				outcomes = append(outcomes, PluginOutcome{ID: node.Spec.ID, State: StateSkipped, Err: ctx.Err(), SkippedCause: cause})
				mu.Unlock()
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				tracker.record(node.Spec.ID, StateSkipped)
				mu.Lock()
				outcomes = append(outcomes, PluginOutcome{ID: node.Spec.ID, State: StateSkipped, Err: ctx.Err()})
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			outcome, info := runPlugin(ctx, node, repoCache, buildCache, opts, lockStore)
			tracker.record(node.Spec.ID, outcome.State)

			mu.Lock()
			outcomes = append(outcomes, outcome)
			if info != nil {
				checkoutDirs[node.Spec.ID] = info.Dir
				checkoutInfo[node.Spec.ID] = *info
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		_ = os.RemoveAll(filepath.Join(opts.CacheRoot, "pack.next"))
		return nil, rerrors.NewInterruptedError(
			"Run interrupted",
			"the pipeline was canceled before output assembly",
			"",
			ctx.Err(),
		)
	}

	anyFailed := false
	for _, o := range outcomes {
		if o.State == StateFailed {
			anyFailed = true
		}
	}

	plan, err := merge.Build(graph, merge.DefaultFileLister(checkoutDirs))
	if err != nil {
		return nil, rerrors.NewAssemblyIOError("Failed to list pack-visible files", err.Error(), "", err)
	}

	manifest := script.Build(graph, plan)
	rendered, err := script.Render(manifest)
	if err != nil {
		return nil, rerrors.NewInternalError("Failed to render glue script", err.Error(), "This is a bug; please report it", err)
	}
	extraFiles := map[string]string{
		"pack/_gen/start/_rsplug/lua/_rsplug/init.lua": rendered,
	}

	outRoot := filepath.Join(opts.CacheRoot, "pack")
	fileCount, err := assemble.Assemble(outRoot, plan, specsByID, checkoutInfo, extraFiles, opts.Bus)
	if err != nil {
		return nil, err
	}

	if err := lockStore.Save(); err != nil {
		return nil, err
	}

	if opts.Metrics != nil {
		opts.Metrics.MergeGroupCount.Set(float64(len(plan.Groups)))
		opts.Metrics.OutputFileCount.Set(float64(fileCount))
		opts.Metrics.PluginsByState.Reset()
		for _, o := range outcomes {
			opts.Metrics.PluginsByState.WithLabelValues(string(o.State)).Inc()
		}
	}

	return &Summary{Outcomes: outcomes, Plan: plan, Failed: anyFailed}, nil
}

// waitForDeps blocks until every one of node's `with` dependencies has
// reached a terminal state (spec §5: a task is released only once all
// predecessors succeed). It reports skip=true with the failed/skipped
// dependency's id the moment one doesn't finish Done, or when ctx is
// canceled first.
func waitForDeps(ctx context.Context, node *dag.Node, tracker *resultTracker) (skip bool, cause string) {
	for _, dep := range node.DependsOn {
		select {
		case <-tracker.done[dep]:
		case <-ctx.Done():
			return true, dep
		}
		if tracker.state(dep) != StateDone {
			return true, dep
		}
	}
	return false, ""
}

// runPlugin executes one plugin's repo-sync-then-build task. Callers
// must have already confirmed every `with` dependency succeeded (see
// waitForDeps) and hold a worker-pool slot for the duration of the call.
func runPlugin(
	ctx context.Context,
	node *dag.Node,
	repoCache *repocache.Cache,
	buildCache *buildcache.Cache,
	opts Options,
	lockStore *lock.Store,
) (PluginOutcome, *assemble.CheckoutInfo) {
	id := node.Spec.ID

	if node.Spec.ConfigOnly {
		return PluginOutcome{ID: id, State: StateDone}, nil
	}

	var lockedEntry *lock.Entry
	if e, ok := lockStore.Get(id); ok {
		entry := e
		lockedEntry = &entry
	}

	start := time.Now()
	result, err := repoCache.Sync(ctx, node.Spec, opts.Mode, lockedEntry)
	if opts.Metrics != nil {
		opts.Metrics.ObserveRepoDuration("sync", time.Since(start))
	}
	if err != nil {
		return PluginOutcome{ID: id, State: StateFailed, Err: err}, nil
	}

	node.Spec.Triggers.RequireModules = deriveRequireModules(result.Dir)

	// An existing clone accepted without resolution reports no commit; its
	// lock entry from the previous run still names the revision it holds.
	commit := result.Commit
	if !result.Synced && lockedEntry != nil {
		commit = lockedEntry.Rev
	}

	if len(node.Spec.Build) > 0 {
		workdirHash, hashErr := buildcache.HashTree(result.Dir)
		if hashErr != nil {
			return PluginOutcome{ID: id, State: StateFailed, Err: rerrors.NewBuildFailedError(
				"Cannot hash working tree", hashErr.Error(), "", hashErr)}, nil
		}
		key := buildcache.Key(commit, workdirHash, node.Spec.Build)
		cacheHit := buildCache.HasOk(key)
		if _, buildErr := buildCache.Run(ctx, id, key, result.Dir, node.Spec.Build); buildErr != nil {
			return PluginOutcome{ID: id, State: StateFailed, Err: buildErr}, nil
		}
		if opts.Metrics != nil {
			if cacheHit {
				opts.Metrics.BuildCacheHits.Inc()
			} else {
				opts.Metrics.BuildCacheMisses.Inc()
			}
		}
	}

	if result.Synced {
		lockStore.Put(id, lock.Entry{
			Repo: node.Spec.Repo(),
			Type: refKindToRevType(result.Type),
			Rev:  result.Commit,
			Ref:  result.Ref,
		})
	}

	commitTime, _ := commitTimestamp(ctx, repoCache.Runner, result.Dir)
	return PluginOutcome{ID: id, State: StateDone}, &assemble.CheckoutInfo{Dir: result.Dir, CommitTime: commitTime}
}

// deriveRequireModules lists the top-level names under dir/lua (spec
// §4.1: "the set of top-level names under the would-be plugin's lua/
// directory"). A missing lua/ directory yields no required modules.
func deriveRequireModules(dir string) []string {
	entries, err := os.ReadDir(filepath.Join(dir, "lua"))
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		names = append(names, name)
	}
	return names
}

// commitTimestamp reads the checked-out HEAD's committer time, used to
// stamp copied files for reproducibility (spec §4.7).
func commitTimestamp(ctx context.Context, runner repocache.Runner, dir string) (time.Time, error) {
	out, err := runner.Run(ctx, dir, "log", "-1", "--format=%ct")
	if err != nil {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func refKindToRevType(k config.RefKind) lock.RevType {
	switch k {
	case config.RefTag:
		return lock.RevTag
	case config.RefBranch:
		return lock.RevBranch
	default:
		return lock.RevCommit
	}
}

// resultTracker lets a plugin's goroutine wait on its `with` dependencies
// without a shared barrier, tracking each plugin's terminal state once
// its own task finishes.
type resultTracker struct {
	mu     sync.Mutex
	states map[string]PluginState
	done   map[string]chan struct{}
}

func newResultTracker(g *dag.Graph) *resultTracker {
	t := &resultTracker{states: map[string]PluginState{}, done: map[string]chan struct{}{}}
	for _, node := range g.Order {
		t.done[node.Spec.ID] = make(chan struct{})
	}
	return t
}

func (t *resultTracker) record(id string, s PluginState) {
	t.mu.Lock()
	t.states[id] = s
	t.mu.Unlock()
}

func (t *resultTracker) state(id string) PluginState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[id]
}

// checkLockedFaithfulness verifies every non-config-only plugin has a
// lockfile entry before any sync work starts (spec §4.3, §7).
func checkLockedFaithfulness(specs []*config.PluginSpec, lockStore *lock.Store) error {
	for _, s := range specs {
		if s.ConfigOnly {
			continue
		}
		if _, ok := lockStore.Get(s.ID); !ok {
			return rerrors.NewLockMissingError(
				"Missing lock entry",
				fmt.Sprintf("plugin %q has no lockfile entry but --locked was given", s.ID),
				"Run without --locked once to populate the lockfile, or add an entry manually",
				nil,
			)
		}
	}
	return nil
}

// acquireLock creates the advisory lock file at <cache_root>/.lock,
// failing with ConcurrentRun if it already exists (spec §5: "the engine
// is explicitly single-instance per cache root").
func acquireLock(cacheRoot string) (release func(), err error) {
	if err := os.MkdirAll(cacheRoot, 0o750); err != nil {
		return nil, rerrors.NewAssemblyIOError("Cannot create cache root", err.Error(), "Check permissions on "+cacheRoot, err)
	}
	lockPath := filepath.Join(cacheRoot, ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, rerrors.NewConcurrentRunError(
				"Another rsplug run holds this cache",
				lockPath+" already exists",
				"Wait for the other run to finish, or remove the lock file if it's stale from a crash",
				err,
			)
		}
		return nil, rerrors.NewAssemblyIOError("Cannot create advisory lock", err.Error(), "Check permissions on "+cacheRoot, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { _ = os.Remove(lockPath) }, nil
}
