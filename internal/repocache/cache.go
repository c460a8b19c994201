package repocache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gw31415/rsplug.nvim/internal/config"
	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
	"github.com/gw31415/rsplug.nvim/internal/lock"
	"github.com/gw31415/rsplug.nvim/internal/progressbus"
)

// Mode selects which of the flag-table behaviors from spec §4.4 applies
// to this run.
type Mode int

const (
	// ModeNeither accepts an existing clone as-is, even if the lockfile or
	// ref has moved on, and fails with NotInstalled when the clone is
	// missing.
	ModeNeither Mode = iota
	// ModeInstall clones plugins whose clone is missing and leaves an
	// existing clone untouched.
	ModeInstall
	// ModeUpdate re-resolves and fast-forwards every plugin's ref,
	// including ones that already have a clone.
	ModeUpdate
	// ModeLocked pins every plugin to its lockfile entry verbatim and
	// fails closed if an entry is missing.
	ModeLocked
)

const defaultBaseURL = "https://github.com"

// Result is the outcome of syncing one plugin's clone.
type Result struct {
	Commit string
	Type   config.RefKind // RefTag, RefBranch, or RefCommit (never Default/TagGlob: those resolve to one of these)
	Ref    string         // tag or branch short name; empty for a bare commit pin and for the remote's default branch
	Dir    string         // checkout directory on disk
	Synced bool           // false when an existing clone was accepted without resolution (ModeNeither, or ModeInstall with a clone present)
}

// Cache drives shallow clone/fetch/checkout for every plugin against a
// single cache root, one directory per owner/slug repo.
type Cache struct {
	Root    string
	BaseURL string
	Runner  Runner
	Bus     *progressbus.Bus

	retryDelays []time.Duration
}

// New builds a Cache rooted at root. baseURL defaults to
// "https://github.com" when empty; spec §1 leaves the hosting service
// pluggable, so the --git-base-url flag (wired in cmd/rsplug) can override
// it for self-hosted forges.
func New(root, baseURL string, runner Runner, bus *progressbus.Bus) *Cache {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Cache{
		Root:        root,
		BaseURL:     baseURL,
		Runner:      runner,
		Bus:         bus,
		retryDelays: []time.Duration{500 * time.Millisecond, 2 * time.Second},
	}
}

// Dir returns the checkout directory for a plugin's repo, keyed by
// owner/slug rather than plugin id: two plugin ids that point at the same
// repo share one clone, matching the persisted state layout.
func (c *Cache) Dir(owner, slug string) string {
	return filepath.Join(c.Root, "repos", owner+"__"+slug)
}

func (c *Cache) url(owner, slug string) string {
	return fmt.Sprintf("%s/%s/%s.git", c.BaseURL, owner, slug)
}

func (c *Cache) emit(id string, stage progressbus.Stage, msg string) {
	if c.Bus == nil {
		return
	}
	c.Bus.Emit(progressbus.Event{ID: id, Stage: stage, Message: msg})
}

// Sync brings spec's clone up to date per mode, returning the commit it
// now points at. When an existing clone is accepted without resolution
// (Result.Synced false), no git command runs and Commit, Type and Ref are
// empty. locked, when mode is ModeLocked, supplies the pinned entry that
// must be honored exactly (spec §4.4's locked flag table row).
func (c *Cache) Sync(ctx context.Context, spec *config.PluginSpec, mode Mode, locked *lock.Entry) (Result, error) {
	dir := c.Dir(spec.RepoOwner, spec.RepoSlug)
	_, statErr := os.Stat(dir)
	exists := statErr == nil

	if mode == ModeLocked {
		if locked == nil {
			return Result{}, rerrors.NewLockMissingError(
				"Missing lock entry",
				fmt.Sprintf("plugin %q has no lockfile entry but --locked was given", spec.ID),
				"Run without --locked once to populate the lockfile, or add an entry manually",
				nil,
			)
		}
		return c.syncToCommit(ctx, spec, dir, exists, *locked)
	}

	if mode == ModeNeither {
		if !exists {
			return Result{}, rerrors.NewNotInstalledError(
				"Plugin not installed",
				fmt.Sprintf("plugin %q has no clone under the cache root", spec.ID),
				"Run with -i/--install to fetch missing plugins",
				nil,
			)
		}
		c.emit(spec.ID, progressbus.StageSkipped, "clone already present")
		return Result{Dir: dir, Synced: false}, nil
	}

	// ModeInstall with an existing clone behaves like ModeNeither: install
	// only fills in what's missing (spec §4.4).
	if mode == ModeInstall && exists {
		c.emit(spec.ID, progressbus.StageSkipped, "clone already present")
		return Result{Dir: dir, Synced: false}, nil
	}

	return c.syncFresh(ctx, spec, dir, exists)
}

// syncFresh resolves spec's RefSpec against the remote and clones or
// fetches+checks out accordingly (covers ModeInstall/ModeUpdate with a
// missing clone, and ModeUpdate with an existing one).
func (c *Cache) syncFresh(ctx context.Context, spec *config.PluginSpec, dir string, exists bool) (Result, error) {
	url := c.url(spec.RepoOwner, spec.RepoSlug)

	var resolved resolvedRef
	err := c.withRetry(ctx, spec.ID, progressbus.StageResolve, func() error {
		r, rErr := resolveRef(ctx, c.Runner, url, spec.RefSpec)
		if rErr != nil {
			return rErr
		}
		resolved = r
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if resolved.Type == config.RefCommit {
		return c.syncToCommit(ctx, spec, dir, exists, lock.Entry{Type: lock.RevCommit, Rev: resolved.SHA})
	}

	if exists {
		if err := c.fetchAndCheckout(ctx, spec.ID, dir, resolved); err != nil {
			return Result{}, err
		}
	} else {
		if err := c.shallowClone(ctx, spec.ID, dir, url, resolved); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Commit: resolved.SHA,
		Type:   effectiveRevType(resolved),
		Ref:    resolved.Name,
		Dir:    dir,
		Synced: true,
	}, nil
}

// syncToCommit pins dir to an exact commit SHA, either because the
// plugin's ref_spec is a literal commit or because --locked demands it.
// A commit-pinned checkout can't use `--depth 1` at clone time (the
// remote won't necessarily advertise the SHA as a ref), so it makes a
// blobless clone (--filter=blob:none) of the default branch, then fetches
// the specific commit at depth 1 and checks it out (spec §4.4).
func (c *Cache) syncToCommit(ctx context.Context, spec *config.PluginSpec, dir string, exists bool, entry lock.Entry) (Result, error) {
	url := c.url(spec.RepoOwner, spec.RepoSlug)
	sha := entry.Rev

	if !exists {
		err := c.withRetry(ctx, spec.ID, progressbus.StageFetch, func() error {
			if _, err := c.Runner.Run(ctx, "", "clone", "--filter=blob:none", url, dir); err != nil {
				return classify(err)
			}
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	err := c.withRetry(ctx, spec.ID, progressbus.StageFetch, func() error {
		if _, err := c.Runner.Run(ctx, dir, "fetch", "--depth", "1", "origin", sha); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	c.emit(spec.ID, progressbus.StageCheckout, "checking out "+sha)
	if _, err := c.Runner.Run(ctx, dir, "checkout", "--detach", sha); err != nil {
		return Result{}, classify(err)
	}

	c.emit(spec.ID, progressbus.StageDone, "")
	return Result{Commit: sha, Type: lockRevToRefKind(entry.Type), Ref: entry.Ref, Dir: dir, Synced: true}, nil
}

func lockRevToRefKind(t lock.RevType) config.RefKind {
	switch t {
	case lock.RevTag:
		return config.RefTag
	case lock.RevBranch:
		return config.RefBranch
	default:
		return config.RefCommit
	}
}

func (c *Cache) shallowClone(ctx context.Context, id, dir, url string, resolved resolvedRef) error {
	return c.withRetry(ctx, id, progressbus.StageFetch, func() error {
		if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
			return rerrors.NewAssemblyIOError("Cannot create cache directory", err.Error(), "Check permissions on the cache root", err)
		}
		args := []string{"clone", "--depth", "1"}
		if resolved.Name != "" {
			args = append(args, "--branch", resolved.Name)
		}
		args = append(args, url, dir)
		c.emit(id, progressbus.StageFetch, "cloning "+url)
		if _, err := c.Runner.Run(ctx, "", args...); err != nil {
			return classify(err)
		}
		return nil
	})
}

func (c *Cache) fetchAndCheckout(ctx context.Context, id, dir string, resolved resolvedRef) error {
	err := c.withRetry(ctx, id, progressbus.StageFetch, func() error {
		c.emit(id, progressbus.StageFetch, "fetching")
		ref := resolved.Name
		if ref == "" {
			ref = resolved.SHA
		}
		if _, err := c.Runner.Run(ctx, dir, "fetch", "--depth", "1", "origin", ref); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.emit(id, progressbus.StageCheckout, "checking out "+resolved.SHA)
	if _, err := c.Runner.Run(ctx, dir, "checkout", "--detach", "FETCH_HEAD"); err != nil {
		return classify(err)
	}
	c.emit(id, progressbus.StageDone, "")
	return nil
}

// withRetry runs fn, retrying up to len(retryDelays) additional times on
// a RepoTransient classification with exponential backoff, per spec
// §4.4. Any other error kind is terminal immediately.
func (c *Cache) withRetry(ctx context.Context, id string, stage progressbus.Stage, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		if attempt > 0 {
			c.emit(id, stage, fmt.Sprintf("retrying (attempt %d)", attempt+1))
			select {
			case <-time.After(c.retryDelays[attempt-1]):
			case <-ctx.Done():
				return rerrors.NewInterruptedError("Interrupted", "sync canceled during retry backoff", "", ctx.Err())
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		rerr, ok := err.(*rerrors.Error)
		if !ok || rerr.Kind != rerrors.KindRepoTransient {
			c.emit(id, progressbus.StageFailed, err.Error())
			return err
		}
	}
	c.emit(id, progressbus.StageFailed, lastErr.Error())
	return lastErr
}

func effectiveRevType(r resolvedRef) config.RefKind {
	switch r.Type {
	case config.RefTag, config.RefTagGlob:
		return config.RefTag
	case config.RefBranch, config.RefDefault:
		return config.RefBranch
	default:
		return config.RefCommit
	}
}
