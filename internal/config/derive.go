package config

import "os"

// DeriveRequireModules computes PluginSpec.Triggers.RequireModules: the
// set of top-level names under the plugin's checked-out lua/ directory
// (spec §4.1, "Derived"), skipping dot-entries. checkoutDir is the
// plugin's repo cache working tree root. The orchestrator does not call
// this function; it derives the set with its own deriveRequireModules.
func DeriveRequireModules(checkoutDir string) ([]string, error) {
	entries, err := os.ReadDir(checkoutDir + "/lua")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "" || name[0] == '.' {
			continue
		}
		// Module names are the directory/file basename with any
		// extension stripped (e.g. "foo.lua" -> "foo").
		for i := len(name) - 1; i >= 0; i-- {
			if name[i] == '.' {
				name = name[:i]
				break
			}
		}
		names = append(names, name)
	}
	return names, nil
}
