package packfiles_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gw31415/rsplug.nvim/internal/packfiles"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func TestListExcludesGitDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "plugin/init.lua", "x")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")

	got, err := packfiles.List(root, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"plugin/init.lua"}, got)
}

func TestListHonorsIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "x")
	writeFile(t, root, "lua/foo.lua", "x")
	writeFile(t, root, "tests/spec.lua", "x")

	got, err := packfiles.List(root, []string{"*.md", "tests/"})
	require.NoError(t, err)
	require.Equal(t, []string{"lua/foo.lua"}, got)
}

func TestListKeepsAfterPathsDistinctFromTopLevel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "foo.lua", "x")
	writeFile(t, root, "after/ftplugin/foo.lua", "x")

	got, err := packfiles.List(root, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"foo.lua", "after/ftplugin/foo.lua"}, got)
}
