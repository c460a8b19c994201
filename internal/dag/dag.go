// Package dag implements C2: resolving each PluginSpec's `with`
// dependencies into a directed acyclic graph, detecting cycles, and
// producing a deterministic topological order (spec §4.2).
package dag

import (
	"fmt"
	"sort"
	"strings"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
	"github.com/gw31415/rsplug.nvim/internal/config"
)

// Node is one PluginSpec plus its resolved outgoing dependency edges
// (spec §3 Resolved DAG node).
type Node struct {
	Spec *config.PluginSpec
	// DependsOn holds the ids this node's `with` list resolves to, in
	// PluginSpec.With order.
	DependsOn []string
}

// Graph is the resolved, acyclic dependency graph plus its deterministic
// topological order.
type Graph struct {
	nodes map[string]*Node
	// Order is dependency-first, ties broken lexicographically by id
	// (spec §3).
	Order []*Node
}

// Node looks up a graph node by plugin id.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// Build resolves `with` references (by id, falling back to repo basename
// per spec §4.2) into edges, detects cycles, and returns a deterministic
// topological order.
func Build(specs []*config.PluginSpec) (*Graph, error) {
	byID := make(map[string]*config.PluginSpec, len(specs))
	byBasename := make(map[string][]*config.PluginSpec)
	for _, s := range specs {
		byID[s.ID] = s
		if !s.ConfigOnly {
			byBasename[s.RepoSlug] = append(byBasename[s.RepoSlug], s)
		}
	}

	nodes := make(map[string]*Node, len(specs))
	for _, s := range specs {
		node := &Node{Spec: s}
		for _, ref := range s.With {
			resolved, err := resolveDep(ref, s.ID, byID, byBasename)
			if err != nil {
				return nil, err
			}
			node.DependsOn = append(node.DependsOn, resolved)
		}
		nodes[s.ID] = node
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}

	return &Graph{nodes: nodes, Order: order}, nil
}

func resolveDep(ref, fromID string, byID map[string]*config.PluginSpec, byBasename map[string][]*config.PluginSpec) (string, error) {
	if _, ok := byID[ref]; ok {
		return ref, nil
	}
	if matches := byBasename[ref]; len(matches) == 1 {
		return matches[0].ID, nil
	}
	return "", rerrors.NewConfigUnknownDepError(
		"Unresolved dependency",
		fmt.Sprintf("plugin %q declares with=%q, which does not match any plugin id or unique repo basename", fromID, ref),
		"Fix the with= reference to match a declared plugin's id or repo slug",
		nil,
	)
}

// topoSort performs a DFS-based topological sort with cycle detection
// (Tarjan-style color marking: white/grey/black), visiting nodes in
// lexicographic id order so that independent subgraphs and tie-breaks are
// deterministic (spec §3: "ties broken by id lexicographically").
func topoSort(nodes map[string]*Node) ([]*Node, error) {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var order []*Node
	var stack []string

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Each node's dependency list is also sorted before traversal so that
	// DFS visitation order, and therefore the resulting topo order, is a
	// pure function of plugin ids.
	depsOf := make(map[string][]string, len(nodes))
	for id, n := range nodes {
		deps := append([]string(nil), n.DependsOn...)
		sort.Strings(deps)
		depsOf[id] = deps
	}

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case grey:
			cycle := append(append([]string(nil), stack...), id)
			return rerrors.NewConfigCycleError(
				"Dependency cycle detected",
				fmt.Sprintf("cycle: %s", strings.Join(cycle, " -> ")),
				"Break the cycle by removing one of these with= references",
				nil,
			)
		}
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range depsOf[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		order = append(order, nodes[id])
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Position returns the index of id within g.Order, or -1 if absent.
func (g *Graph) Position(id string) int {
	for i, n := range g.Order {
		if n.Spec.ID == id {
			return i
		}
	}
	return -1
}
