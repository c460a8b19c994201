// Package config implements C1: parsing and validating one or more
// declarative configuration documents into the PluginSpec list that
// drives the rest of the synchronization engine (spec §4.1, §3).
package config

// RefKind identifies which of the five ways a plugin pins its source
// revision (spec §3 PluginSpec.ref_spec).
type RefKind string

const (
	RefDefault RefKind = "default"
	RefTag     RefKind = "tag"
	RefTagGlob RefKind = "tag_glob"
	RefBranch  RefKind = "branch"
	RefCommit  RefKind = "commit"
)

// RefSpec is the parsed form of a plugin's `repo = "owner/slug[@ref]"`
// suffix (spec §4.1).
type RefSpec struct {
	Kind  RefKind
	Value string // tag name, glob pattern, branch name, or 40-hex commit; empty for RefDefault
}

// ModeKey is one normalized (mode-letter, key-pattern) pair from an
// `on_map` field (spec §4.1).
type ModeKey struct {
	Mode    byte
	Pattern string
}

// Triggers is the normalized, canonical set of lazy-load conditions under
// which a plugin must be loaded (spec §3).
type Triggers struct {
	OnEvent []string
	OnCmd   []string
	OnFt    []string
	OnMap   []ModeKey
	// RequireModules is derived after checkout (spec §4.1) and is empty
	// immediately after Load.
	RequireModules []string
}

// HasAny reports whether t declares at least one lazy-load trigger.
func (t Triggers) HasAny() bool {
	return len(t.OnEvent) > 0 || len(t.OnCmd) > 0 || len(t.OnFt) > 0 ||
		len(t.OnMap) > 0 || len(t.RequireModules) > 0
}

// PluginSpec is the immutable, fully normalized description of one
// declared plugin (spec §3).
type PluginSpec struct {
	ID         string
	Name       string
	RepoOwner  string
	RepoSlug   string
	RefSpec    RefSpec
	Start      bool
	Triggers   Triggers
	With       []string
	LuaBefore  string
	LuaAfter   string
	LuaStart   string
	Build      []string
	Sym        bool
	Ignore     []string
	ConfigOnly bool

	// SourcePath is the configuration document this plugin was declared
	// in, kept for error messages only.
	SourcePath string
}

// Repo returns the "owner/slug" identifier, or "" for config-only plugins.
func (p *PluginSpec) Repo() string {
	if p.ConfigOnly {
		return ""
	}
	return p.RepoOwner + "/" + p.RepoSlug
}

// IsEager reports whether p loads unconditionally at start, per spec §4.6
// rule 1: start=true or no triggers at all classifies a plugin as eager.
func (p *PluginSpec) IsEager() bool {
	return p.Start || !p.Triggers.HasAny()
}
