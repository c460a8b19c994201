package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gw31415/rsplug.nvim/internal/config"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSinglePluginDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.yaml", `
plugins:
  - repo: nvim-telescope/telescope.nvim
`)
	specs, err := config.Load([]string{path})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "telescope.nvim", specs[0].ID)
	require.Equal(t, config.RefDefault, specs[0].RefSpec.Kind)
	require.True(t, specs[0].IsEager())
}

func TestLoadRefSpecVariants(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.yaml", `
plugins:
  - repo: a/b@v1.0.0
  - repo: a/c@v*
  - repo: a/d@deadbeefdeadbeefdeadbeefdeadbeefdeadbeef
  - repo: a/e@my-branch
`)
	specs, err := config.Load([]string{path})
	require.NoError(t, err)
	require.Equal(t, config.RefTag, specs[0].RefSpec.Kind)
	require.Equal(t, config.RefTagGlob, specs[1].RefSpec.Kind)
	require.Equal(t, config.RefCommit, specs[2].RefSpec.Kind)
	require.Equal(t, config.RefTag, specs[3].RefSpec.Kind) // corrected later by repocache
}

func TestLoadOnMapShapes(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.yaml", `
plugins:
  - repo: a/bare
    on_map: "<leader>ff"
  - repo: a/list
    on_map: ["<leader>a", "<leader>b"]
  - repo: a/mode
    on_map:
      n: "<leader>x"
      v: ["<leader>y", "<leader>z"]
      nv: "<leader>both"
`)
	specs, err := config.Load([]string{path})
	require.NoError(t, err)

	require.Equal(t, []config.ModeKey{{Mode: 'n', Pattern: "<leader>ff"}}, specs[0].Triggers.OnMap)
	require.Equal(t, []config.ModeKey{
		{Mode: 'n', Pattern: "<leader>a"},
		{Mode: 'n', Pattern: "<leader>b"},
	}, specs[1].Triggers.OnMap)

	modeSpec := specs[2].Triggers.OnMap
	require.Contains(t, modeSpec, config.ModeKey{Mode: 'n', Pattern: "<leader>x"})
	require.Contains(t, modeSpec, config.ModeKey{Mode: 'v', Pattern: "<leader>y"})
	require.Contains(t, modeSpec, config.ModeKey{Mode: 'v', Pattern: "<leader>z"})
	require.Contains(t, modeSpec, config.ModeKey{Mode: 'n', Pattern: "<leader>both"})
	require.Contains(t, modeSpec, config.ModeKey{Mode: 'v', Pattern: "<leader>both"})
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.yaml", `
plugins:
  - repo: a/b
    bogus_field: true
`)
	_, err := config.Load([]string{path})
	require.Error(t, err)
}

func TestLoadRejectsDuplicateID(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.yaml", `
plugins:
  - repo: a/b
  - repo: other/b
`)
	_, err := config.Load([]string{path})
	require.Error(t, err)
}

func TestLoadConfigOnlyPlugin(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.yaml", `
plugins:
  - name: my-settings
    lua_start: "vim.g.mapleader = ' '"
`)
	specs, err := config.Load([]string{path})
	require.NoError(t, err)
	require.True(t, specs[0].ConfigOnly)
	require.Equal(t, "", specs[0].Repo())
}

func TestLoadRejectsMissingRepoAndScripts(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.yaml", `
plugins:
  - name: nothing-here
`)
	_, err := config.Load([]string{path})
	require.Error(t, err)
}

func TestLoadRejectsBadLuaSnippet(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.yaml", `
plugins:
  - repo: a/b
    lua_start: "local x = (("
`)
	_, err := config.Load([]string{path})
	require.Error(t, err)
}
