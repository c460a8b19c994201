package buildcache_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gw31415/rsplug.nvim/internal/buildcache"
)

func TestKeyIsStableForSameInputs(t *testing.T) {
	k1 := buildcache.Key("deadbeef", "treehash", []string{"make", "all"})
	k2 := buildcache.Key("deadbeef", "treehash", []string{"make", "all"})
	require.Equal(t, k1, k2)
}

func TestKeyDiffersOnArgvChange(t *testing.T) {
	k1 := buildcache.Key("deadbeef", "treehash", []string{"make", "all"})
	k2 := buildcache.Key("deadbeef", "treehash", []string{"make", "clean"})
	require.NotEqual(t, k1, k2)
}

func TestHashTreeIgnoresGitDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o600))

	h1, err := buildcache.HashTree(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/other"), 0o600))
	h2, err := buildcache.HashTree(dir)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestHashTreeChangesOnContentChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o600))
	h1, err := buildcache.HashTree(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("world"), 0o600))
	h2, err := buildcache.HashTree(dir)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestRunSkipsOnCacheHit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	root := t.TempDir()
	checkout := t.TempDir()
	c := buildcache.New(root, nil)
	key := buildcache.Key("c1", "t1", []string{"true"})

	_, err := c.Run(context.Background(), "plug", key, checkout, []string{"true"})
	require.NoError(t, err)
	require.True(t, c.HasOk(key))

	// second run must not need to execute a real command to succeed;
	// point argv at something nonexistent and confirm the cache hit
	// still short-circuits before exec.
	_, err = c.Run(context.Background(), "plug", key, checkout, []string{"/nonexistent-binary-xyz"})
	require.NoError(t, err)
}

func TestRunReportsFailureWithoutWritingOk(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	root := t.TempDir()
	checkout := t.TempDir()
	c := buildcache.New(root, nil)
	key := buildcache.Key("c2", "t2", []string{"false"})

	_, err := c.Run(context.Background(), "plug", key, checkout, []string{"false"})
	require.Error(t, err)
	require.False(t, c.HasOk(key))
}

func TestRunBuildsFromAWorktreeCopyNotTheCheckout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	root := t.TempDir()
	checkout := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(checkout, "src.txt"), []byte("source"), 0o600))

	beforeHash, err := buildcache.HashTree(checkout)
	require.NoError(t, err)

	c := buildcache.New(root, nil)
	key := buildcache.Key("c3", beforeHash, []string{"sh", "-c", "echo built > artifact.out"})

	out, err := c.Run(context.Background(), "plug", key, checkout, []string{"sh", "-c", "echo built > artifact.out"})
	require.NoError(t, err)
	require.Empty(t, out)

	// the build hook wrote an artifact, but it must land in the sandbox's
	// own worktree copy, never back in the shared checkout: a second run
	// keyed on the same pre-build hash must still be a cache hit.
	_, err = os.Stat(filepath.Join(checkout, "artifact.out"))
	require.True(t, os.IsNotExist(err), "build hook must not write into the shared checkout")

	afterHash, err := buildcache.HashTree(checkout)
	require.NoError(t, err)
	require.Equal(t, beforeHash, afterHash)
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	root := t.TempDir()
	checkout := t.TempDir()
	c := buildcache.New(root, nil)
	_, err := c.Run(context.Background(), "plug", "somekey", checkout, nil)
	require.Error(t, err)
}
