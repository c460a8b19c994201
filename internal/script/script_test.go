package script_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gw31415/rsplug.nvim/internal/config"
	"github.com/gw31415/rsplug.nvim/internal/dag"
	"github.com/gw31415/rsplug.nvim/internal/merge"
	"github.com/gw31415/rsplug.nvim/internal/script"
)

func eager(id string) *config.PluginSpec {
	return &config.PluginSpec{ID: id, RepoSlug: id, Start: true}
}

func lazy(id string, onCmd string, with ...string) *config.PluginSpec {
	return &config.PluginSpec{
		ID: id, RepoSlug: id,
		Triggers: config.Triggers{OnCmd: []string{onCmd}},
		With:     with,
	}
}

func singleGroupPlan(g *dag.Graph) *merge.Plan {
	plan, err := merge.Build(g, func(*config.PluginSpec) ([]string, error) { return nil, nil })
	if err != nil {
		panic(err)
	}
	return plan
}

func TestBuildUnionsLuaHooksAcrossGroupMembers(t *testing.T) {
	a := eager("a")
	a.LuaBefore = "print('a before')"
	b := eager("b")
	b.LuaBefore = "print('b before')"

	g, err := dag.Build([]*config.PluginSpec{a, b})
	require.NoError(t, err)
	plan := singleGroupPlan(g)

	m := script.Build(g, plan)
	name := plan.GroupOf["a"]
	require.Equal(t, name, plan.GroupOf["b"])
	require.Contains(t, m.Packs[name].LuaBefore, "a before")
	require.Contains(t, m.Packs[name].LuaBefore, "b before")
}

func TestBuildIncludesTransitiveWithDependencyInTriggerTable(t *testing.T) {
	q := eager("q")
	p := lazy("p", "P", "q")

	g, err := dag.Build([]*config.PluginSpec{q, p})
	require.NoError(t, err)
	plan := singleGroupPlan(g)

	m := script.Build(g, plan)
	names := m.OnCmd["P"]
	require.Len(t, names, 2)
	require.Equal(t, plan.GroupOf["q"], names[0], "dependency group must load before the dependent's own group")
	require.Equal(t, plan.GroupOf["p"], names[1])
}

func TestBuildDeduplicatesGroupInTriggerTable(t *testing.T) {
	a := lazy("a", "X")
	b := lazy("b", "X")

	g, err := dag.Build([]*config.PluginSpec{a, b})
	require.NoError(t, err)
	plan := singleGroupPlan(g)

	m := script.Build(g, plan)
	require.Equal(t, []string{plan.GroupOf["a"]}, m.OnCmd["X"])
}

func TestRenderProducesValidLuaTableLiterals(t *testing.T) {
	a := eager("a")
	g, err := dag.Build([]*config.PluginSpec{a})
	require.NoError(t, err)
	plan := singleGroupPlan(g)
	m := script.Build(g, plan)

	out, err := script.Render(m)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "-- Code generated by rsplug."))
	require.Contains(t, out, "M.packs = {")
	require.Contains(t, out, "M.on_cmd = {}")
	require.Contains(t, out, "install_placeholder")
}

func TestRenderQuotesTriggerKeysAndPackNames(t *testing.T) {
	a := lazy("a", "MyCmd")
	g, err := dag.Build([]*config.PluginSpec{a})
	require.NoError(t, err)
	plan := singleGroupPlan(g)
	m := script.Build(g, plan)

	out, err := script.Render(m)
	require.NoError(t, err)
	require.Contains(t, out, `["MyCmd"]`)
	require.Contains(t, out, `"`+plan.GroupOf["a"]+`"`)
}
