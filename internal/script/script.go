// Package script implements C8: turning a merge plan into the runtime
// glue data (manifest plus per-trigger-kind tables) and rendering it
// into the Lua source the host editor loads at `pack/_gen/start/_rsplug/
// lua/_rsplug/init.lua` (spec §4.8).
package script

import (
	"sort"

	"github.com/gw31415/rsplug.nvim/internal/dag"
	"github.com/gw31415/rsplug.nvim/internal/merge"
)

// PackSetup is one emitted pack entry's setup hooks, unioned across every
// group member that declared one (spec §4.8 manifest).
type PackSetup struct {
	LuaBefore string
	LuaAfter  string
	LuaStart  string
}

// Manifest is the complete ScriptBundle (spec §3): the per-pack setup
// table plus one lookup table per lazy trigger kind, each mapping a
// trigger key to the ordered list of pack names that must be loaded,
// including transitive `with` dependencies (spec §4.6 "Open policy").
type Manifest struct {
	Packs   map[string]*PackSetup
	OnEvent map[string][]string
	OnCmd   map[string][]string
	OnFt    map[string][]string
	OnMap   map[byte]map[string][]string
	Require map[string][]string
}

// Build derives a Manifest from the dependency graph and merge plan. g
// supplies both the PluginSpec for each id (lua snippets, triggers) and
// the `with` closure needed to co-load dependencies (spec §4.6's "Open
// policy": the planner doesn't force with-linked plugins together, the
// emitter does by listing every dependency's group alongside the
// trigger's own group).
func Build(g *dag.Graph, plan *merge.Plan) *Manifest {
	m := &Manifest{
		Packs:   map[string]*PackSetup{},
		OnEvent: map[string][]string{},
		OnCmd:   map[string][]string{},
		OnFt:    map[string][]string{},
		OnMap:   map[byte]map[string][]string{},
		Require: map[string][]string{},
	}

	for _, grp := range plan.Groups {
		setup := &PackSetup{}
		for _, id := range grp.Members {
			node := g.Node(id)
			if node == nil {
				continue
			}
			spec := node.Spec
			setup.LuaBefore = unionSnippet(setup.LuaBefore, spec.LuaBefore)
			setup.LuaAfter = unionSnippet(setup.LuaAfter, spec.LuaAfter)
			setup.LuaStart = unionSnippet(setup.LuaStart, spec.LuaStart)
		}
		m.Packs[grp.Name] = setup
	}

	for _, node := range g.Order {
		spec := node.Spec
		packs := coLoadGroups(g, plan, spec.ID)
		if len(packs) == 0 {
			continue
		}
		for _, ev := range spec.Triggers.OnEvent {
			m.OnEvent[ev] = appendUnique(m.OnEvent[ev], packs...)
		}
		for _, cmd := range spec.Triggers.OnCmd {
			m.OnCmd[cmd] = appendUnique(m.OnCmd[cmd], packs...)
		}
		for _, ft := range spec.Triggers.OnFt {
			m.OnFt[ft] = appendUnique(m.OnFt[ft], packs...)
		}
		for _, mk := range spec.Triggers.OnMap {
			byPattern := m.OnMap[mk.Mode]
			if byPattern == nil {
				byPattern = map[string][]string{}
				m.OnMap[mk.Mode] = byPattern
			}
			byPattern[mk.Pattern] = appendUnique(byPattern[mk.Pattern], packs...)
		}
		for _, mod := range spec.Triggers.RequireModules {
			m.Require[mod] = appendUnique(m.Require[mod], packs...)
		}
	}

	return m
}

// coLoadGroups returns the group names for id and every transitive
// `with` dependency of id, in dependency-first order (so a dependency's
// before/after/start hooks run ahead of the plugin that needed it),
// deduplicated by group (spec §8 scenario 7).
func coLoadGroups(g *dag.Graph, plan *merge.Plan, id string) []string {
	visited := map[string]bool{}
	var order []string
	var visit func(string)
	visit = func(cur string) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		node := g.Node(cur)
		if node == nil {
			return
		}
		for _, dep := range node.DependsOn {
			visit(dep)
		}
		order = append(order, cur)
	}
	visit(id)

	var packs []string
	seen := map[string]bool{}
	for _, memberID := range order {
		name := plan.GroupOf[memberID]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		packs = append(packs, name)
	}
	return packs
}

func unionSnippet(existing, add string) string {
	if add == "" {
		return existing
	}
	if existing == "" {
		return add
	}
	return existing + "\n" + add
}

func appendUnique(list []string, items ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, l := range list {
		seen[l] = true
	}
	for _, it := range items {
		if !seen[it] {
			list = append(list, it)
			seen[it] = true
		}
	}
	return list
}

// sortedKeys returns m's string keys in lexicographic order, used
// everywhere a table is rendered so output is deterministic (spec §4.7
// determinism invariant extends to C8's output).
func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// sortedModes returns m's mode-letter keys in ascending byte order.
func sortedModes(m map[byte]map[string][]string) []byte {
	out := make([]byte, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
