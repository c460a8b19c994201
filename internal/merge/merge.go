// Package merge implements C6: bucketing plugins by identical effective
// trigger set and greedily packing each bucket into path-disjoint groups,
// minimizing the number of emitted pack entries (spec §4.6).
package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/gw31415/rsplug.nvim/internal/config"
	"github.com/gw31415/rsplug.nvim/internal/dag"
	"github.com/gw31415/rsplug.nvim/internal/packfiles"
)

// Class is a group's load-time classification, which also decides its
// placement under pack/_gen/{start,opt}/ (spec §4.7).
type Class string

const (
	ClassEager Class = "start"
	ClassLazy  Class = "opt"
)

// Group is a MergeGroup: plugins sharing one pack entry (spec GLOSSARY).
type Group struct {
	Name    string
	Class   Class
	Members []string // plugin ids, in the order they were admitted (DAG topo order)
	paths   map[string]bool
}

// Plan is the merge planner's complete output.
type Plan struct {
	Groups  []*Group
	GroupOf map[string]string // plugin id -> group name
}

// FileLister returns a plugin's pack-visible relative file paths, used to
// decide path-disjointness (spec §4.6 rule 2). Checkout is the plugin's
// on-disk working tree; a config-only plugin has no checkout and yields
// no files.
type FileLister func(spec *config.PluginSpec) ([]string, error)

// DefaultFileLister builds a FileLister backed by packfiles.List, given a
// lookup from plugin id to checkout directory.
func DefaultFileLister(checkoutDirs map[string]string) FileLister {
	return func(spec *config.PluginSpec) ([]string, error) {
		dir, ok := checkoutDirs[spec.ID]
		if !ok || dir == "" {
			return nil, nil
		}
		return packfiles.List(dir, spec.Ignore)
	}
}

// Build runs the planner: bucket by effective trigger set, then within
// each bucket greedily pack members (visited in DAG topo order) into the
// first group whose path set stays disjoint, opening a new group
// otherwise (spec §4.6).
func Build(g *dag.Graph, lister FileLister) (*Plan, error) {
	type bucketed struct {
		key       string
		firstPos  int
		specs     []*config.PluginSpec
		fileCache map[string][]string
	}
	buckets := map[string]*bucketed{}

	for pos, node := range g.Order {
		spec := node.Spec
		key := triggerKey(spec)
		b, ok := buckets[key]
		if !ok {
			b = &bucketed{key: key, firstPos: pos, fileCache: map[string][]string{}}
			buckets[key] = b
		}
		b.specs = append(b.specs, spec)
		files, err := lister(spec)
		if err != nil {
			return nil, err
		}
		b.fileCache[spec.ID] = files
	}

	bucketList := make([]*bucketed, 0, len(buckets))
	for _, b := range buckets {
		bucketList = append(bucketList, b)
	}
	sort.Slice(bucketList, func(i, j int) bool { return bucketList[i].firstPos < bucketList[j].firstPos })

	var groups []*Group
	groupOf := map[string]string{}
	counter := 0

	for _, b := range bucketList {
		var bucketGroups []*Group
		for _, spec := range b.specs {
			files := b.fileCache[spec.ID]
			placed := false
			for _, grp := range bucketGroups {
				if disjoint(grp.paths, files) {
					grp.Members = append(grp.Members, spec.ID)
					for _, f := range files {
						grp.paths[f] = true
					}
					groupOf[spec.ID] = grp.Name
					placed = true
					break
				}
			}
			if !placed {
				grp := &Group{
					Name:    "_gen_" + strconv.Itoa(counter),
					Class:   classOf(spec),
					Members: []string{spec.ID},
					paths:   map[string]bool{},
				}
				counter++
				for _, f := range files {
					grp.paths[f] = true
				}
				groupOf[spec.ID] = grp.Name
				bucketGroups = append(bucketGroups, grp)
			}
		}
		groups = append(groups, bucketGroups...)
	}

	return &Plan{Groups: groups, GroupOf: groupOf}, nil
}

func classOf(spec *config.PluginSpec) Class {
	if spec.IsEager() {
		return ClassEager
	}
	return ClassLazy
}

func disjoint(existing map[string]bool, candidate []string) bool {
	for _, f := range candidate {
		if existing[f] {
			return false
		}
	}
	return true
}

// triggerKey renders a plugin's effective trigger set (spec §4.6 rule 1)
// as a stable string for bucket hashing: eager plugins all collapse to
// one "eager" bucket key regardless of any triggers they also declare,
// since spec §4.6 rule 1 treats "start=true or no triggers" as its own
// class.
func triggerKey(spec *config.PluginSpec) string {
	if spec.IsEager() {
		return "eager"
	}
	t := spec.Triggers
	events := sortedCopy(t.OnEvent)
	cmds := sortedCopy(t.OnCmd)
	fts := sortedCopy(t.OnFt)
	reqs := sortedCopy(t.RequireModules)

	maps := make([]string, len(t.OnMap))
	for i, mk := range t.OnMap {
		maps[i] = fmt.Sprintf("%c:%s", mk.Mode, mk.Pattern)
	}
	sort.Strings(maps)

	h := sha256.New()
	for _, group := range [][]string{events, cmds, fts, maps, reqs} {
		for _, v := range group {
			h.Write([]byte(v))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
