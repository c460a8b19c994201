package config

import (
	"fmt"
	"sort"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
)

const defaultMapMode = 'n'

// normalizeOnMap converts any of `on_map`'s three surface shapes (spec
// §4.1) into the canonical set of (mode-letter, key-pattern) pairs:
//
//   - a bare string: a single normal-mode mapping
//   - a list of strings: one normal-mode mapping per item
//   - a mapping from mode-letters to a string or a list of strings, where
//     a mode key may itself be several letters (e.g. "nv"), each
//     expanded into its own entry
//
// raw is the result of decoding the YAML value into `interface{}`.
func normalizeOnMap(raw interface{}, pluginID, sourcePath string) ([]ModeKey, error) {
	if raw == nil {
		return nil, nil
	}

	var out []ModeKey
	schemaErr := func(detail string) error {
		return rerrors.NewConfigSchemaError(
			"Invalid on_map value",
			fmt.Sprintf("plugin %q (%s): %s", pluginID, sourcePath, detail),
			"on_map must be a string, a list of strings, or a mapping from mode letters to a string or list of strings",
			nil,
		)
	}

	switch v := raw.(type) {
	case string:
		out = append(out, ModeKey{Mode: defaultMapMode, Pattern: v})
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, schemaErr("list items must be strings")
			}
			out = append(out, ModeKey{Mode: defaultMapMode, Pattern: s})
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys) // deterministic iteration regardless of map order
		for _, modeLetters := range keys {
			if modeLetters == "" {
				return nil, schemaErr("mode key must not be empty")
			}
			patterns, err := onMapPatterns(v[modeLetters], schemaErr)
			if err != nil {
				return nil, err
			}
			for _, letter := range []byte(modeLetters) {
				for _, p := range patterns {
					out = append(out, ModeKey{Mode: letter, Pattern: p})
				}
			}
		}
	default:
		return nil, schemaErr(fmt.Sprintf("unsupported shape %T", raw))
	}
	return out, nil
}

func onMapPatterns(raw interface{}, schemaErr func(string) error) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, schemaErr("list items must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, schemaErr(fmt.Sprintf("mode value must be a string or list of strings, got %T", raw))
	}
}
