package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
)

// rawDocument is the top-level shape of one configuration document.
type rawDocument struct {
	Plugins []rawPlugin `yaml:"plugins"`
}

// rawPlugin mirrors the field set enumerated in spec §3/§4.1 exactly;
// decoding with KnownFields(true) makes any other field a ConfigSchema
// error.
type rawPlugin struct {
	Repo      string      `yaml:"repo"`
	Name      string      `yaml:"name"`
	Start     bool        `yaml:"start"`
	OnEvent   []string    `yaml:"on_event"`
	OnCmd     []string    `yaml:"on_cmd"`
	OnFt      []string    `yaml:"on_ft"`
	OnMap     interface{} `yaml:"on_map"`
	With      []string    `yaml:"with"`
	LuaBefore string      `yaml:"lua_before"`
	LuaAfter  string      `yaml:"lua_after"`
	LuaStart  string      `yaml:"lua_start"`
	Build     []string    `yaml:"build"`
	Sym       bool        `yaml:"sym"`
	Ignore    []string    `yaml:"ignore"`
}

// Load parses each document in paths (already expanded from globs by an
// external collaborator, per spec §1), concatenates the resulting plugin
// lists preserving document order, and validates the merged set (spec
// §4.1). It returns the ordered, normalized PluginSpec list.
func Load(paths []string) ([]*PluginSpec, error) {
	var specs []*PluginSpec
	for _, path := range paths {
		docSpecs, err := loadDocument(path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, docSpecs...)
	}
	if err := validateUnique(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func loadDocument(path string) ([]*PluginSpec, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the caller's already-expanded glob list
	if err != nil {
		return nil, rerrors.NewConfigSchemaError(
			"Cannot read configuration document",
			fmt.Sprintf("failed to read %s", path),
			"Check that the file exists and is readable",
			err,
		)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc rawDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, rerrors.NewConfigSchemaError(
			"Invalid configuration document",
			fmt.Sprintf("%s: %v", path, err),
			"Fix the YAML syntax or remove unrecognized fields",
			err,
		)
	}

	specs := make([]*PluginSpec, 0, len(doc.Plugins))
	for i := range doc.Plugins {
		spec, err := normalizePlugin(&doc.Plugins[i], path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func normalizePlugin(raw *rawPlugin, sourcePath string) (*PluginSpec, error) {
	configOnly := raw.Repo == "" && (raw.LuaBefore != "" || raw.LuaAfter != "" || raw.LuaStart != "")
	if raw.Repo == "" && !configOnly {
		return nil, rerrors.NewConfigSchemaError(
			"Missing repo field",
			fmt.Sprintf("plugin in %s has no repo and no script fields to qualify as config_only", sourcePath),
			`Add a "repo" field, or a lua_before/lua_after/lua_start field to declare it config_only`,
			nil,
		)
	}

	spec := &PluginSpec{
		Name:       raw.Name,
		Start:      raw.Start,
		With:       raw.With,
		LuaBefore:  raw.LuaBefore,
		LuaAfter:   raw.LuaAfter,
		LuaStart:   raw.LuaStart,
		Build:      raw.Build,
		Sym:        raw.Sym,
		Ignore:     raw.Ignore,
		ConfigOnly: configOnly,
		SourcePath: sourcePath,
		Triggers: Triggers{
			OnEvent: raw.OnEvent,
			OnCmd:   raw.OnCmd,
			OnFt:    raw.OnFt,
		},
	}

	if !configOnly {
		owner, slug, ref, err := parseRepo(raw.Repo, sourcePath)
		if err != nil {
			return nil, err
		}
		spec.RepoOwner, spec.RepoSlug, spec.RefSpec = owner, slug, ref
	}

	if spec.Name != "" {
		spec.ID = spec.Name
	} else {
		spec.ID = spec.RepoSlug
	}
	if spec.ID == "" {
		return nil, rerrors.NewConfigSchemaError(
			"Cannot derive plugin id",
			fmt.Sprintf("plugin in %s has neither a name nor a repo slug to derive an id from", sourcePath),
			`Add a "name" field`,
			nil,
		)
	}

	onMap, err := normalizeOnMap(raw.OnMap, spec.ID, sourcePath)
	if err != nil {
		return nil, err
	}
	spec.Triggers.OnMap = onMap

	for field, src := range map[string]string{
		"lua_before": raw.LuaBefore,
		"lua_after":  raw.LuaAfter,
		"lua_start":  raw.LuaStart,
	} {
		if err := validateLuaSnippet(src, spec.ID, field); err != nil {
			return nil, err
		}
	}

	return spec, nil
}

// validateUnique enforces the PluginSpec.id uniqueness invariant (spec
// §3), failing deterministically by listing the offending ids in sorted
// order.
func validateUnique(specs []*PluginSpec) error {
	seen := map[string]bool{}
	var dupes []string
	for _, s := range specs {
		if seen[s.ID] {
			dupes = append(dupes, s.ID)
			continue
		}
		seen[s.ID] = true
	}
	if len(dupes) == 0 {
		return nil
	}
	sort.Strings(dupes)
	return rerrors.NewConfigSchemaError(
		"Duplicate plugin id",
		fmt.Sprintf("the following ids are declared more than once: %v", dupes),
		`Give each plugin a distinct "name", or ensure repo basenames don't collide`,
		nil,
	)
}
