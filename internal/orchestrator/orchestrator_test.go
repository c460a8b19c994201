package orchestrator_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gw31415/rsplug.nvim/internal/orchestrator"
	"github.com/gw31415/rsplug.nvim/internal/progressbus"
	"github.com/gw31415/rsplug.nvim/internal/repocache"
)

// fakeRunner stands in for git: clone/fetch create a fixed tree under dir,
// ls-remote advertises one branch, log reports a fixed commit time, and
// fetch/checkout are no-ops that succeed, so Sync resolves
// deterministically without touching a network.
type fakeRunner struct {
	fail map[string]bool // repo url substrings that should fail clone
}

func (f fakeRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	joined := strings.Join(args, " ")
	switch {
	case strings.HasPrefix(joined, "ls-remote --symref"):
		return "ref: refs/heads/main\tHEAD\ndeadbeefdeadbeefdeadbeefdeadbeefdeadbeef\tHEAD\n", nil
	case strings.HasPrefix(joined, "ls-remote"):
		return "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef\trefs/heads/main\n", nil
	case strings.HasPrefix(joined, "clone"):
		url := args[len(args)-2]
		for bad := range f.fail {
			if strings.Contains(url, bad) {
				return "", fmt.Errorf("fatal: repository not found: %s", url)
			}
		}
		if err := os.MkdirAll(filepath.Join(dir, "lua"), 0o750); err != nil {
			return "", err
		}
		return "", os.WriteFile(filepath.Join(dir, "lua", "thing.lua"), []byte("return {}"), 0o600)
	case strings.HasPrefix(joined, "fetch"):
		return "", nil
	case strings.HasPrefix(joined, "checkout"):
		return "", nil
	case strings.HasPrefix(joined, "log"):
		return "1700000000", nil
	default:
		return "", nil
	}
}

func writeConfig(t *testing.T, dir, name, yaml string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(yaml), 0o600))
	return p
}

func TestRunProducesOutputTreeAndLockfileForIndependentPlugins(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "plugins.yaml", `
plugins:
  - repo: owner/one
    start: true
`)

	cacheRoot := filepath.Join(dir, "cache")
	bus := progressbus.New()
	defer bus.Close()

	summary, err := orchestrator.Run(context.Background(), []string{cfg}, orchestrator.Options{
		CacheRoot:    cacheRoot,
		LockfilePath: filepath.Join(cacheRoot, "rsplug.lock.json"),
		Mode:         repocache.ModeInstall,
		Runner:       fakeRunner{},
		Bus:          bus,
	})
	require.NoError(t, err)
	require.False(t, summary.Failed)
	require.Len(t, summary.Outcomes, 1)
	require.Equal(t, orchestrator.StateDone, summary.Outcomes[0].State)

	_, err = os.Stat(filepath.Join(cacheRoot, "pack", "pack", "_gen", "start"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cacheRoot, "rsplug.lock.json"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cacheRoot, ".lock"))
	require.True(t, os.IsNotExist(err), "advisory lock should be released after Run returns")
}

func TestRunSkipsDescendantsOfAFailedDependency(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "plugins.yaml", `
plugins:
  - repo: owner/base
    start: true
  - repo: owner/dependent
    start: true
    with: [base]
`)

	cacheRoot := filepath.Join(dir, "cache")
	summary, err := orchestrator.Run(context.Background(), []string{cfg}, orchestrator.Options{
		CacheRoot:    cacheRoot,
		LockfilePath: filepath.Join(cacheRoot, "rsplug.lock.json"),
		Mode:         repocache.ModeInstall,
		Runner:       fakeRunner{fail: map[string]bool{"owner/base": true}},
	})
	require.NoError(t, err)
	require.True(t, summary.Failed)

	var baseState, depState orchestrator.PluginState
	for _, o := range summary.Outcomes {
		switch o.ID {
		case "base":
			baseState = o.State
		case "dependent":
			depState = o.State
		}
	}
	require.Equal(t, orchestrator.StateFailed, baseState)
	require.Equal(t, orchestrator.StateSkipped, depState)
}

func TestRunWithLockedModeRequiresExistingLockEntries(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "plugins.yaml", `
plugins:
  - repo: owner/one
    start: true
`)

	cacheRoot := filepath.Join(dir, "cache")
	_, err := orchestrator.Run(context.Background(), []string{cfg}, orchestrator.Options{
		CacheRoot:    cacheRoot,
		LockfilePath: filepath.Join(cacheRoot, "rsplug.lock.json"),
		Mode:         repocache.ModeLocked,
		Runner:       fakeRunner{},
	})
	require.Error(t, err)
}

func TestRunRejectsConcurrentInvocationAgainstSameCacheRoot(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "plugins.yaml", `
plugins:
  - repo: owner/one
    start: true
`)
	cacheRoot := filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(cacheRoot, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cacheRoot, ".lock"), []byte("1\n"), 0o600))

	_, err := orchestrator.Run(context.Background(), []string{cfg}, orchestrator.Options{
		CacheRoot:    cacheRoot,
		LockfilePath: filepath.Join(cacheRoot, "rsplug.lock.json"),
		Mode:         repocache.ModeInstall,
		Runner:       fakeRunner{},
	})
	require.Error(t, err)
}
