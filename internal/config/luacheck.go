package config

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/lua"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
)

// validateLuaSnippet parses src with tree-sitter's Lua grammar and fails
// with ConfigSchema if the parse tree contains any ERROR or MISSING node,
// naming the plugin, field, and byte offset of the first such node. This
// is a load-time enrichment (spec §5 Domain stack): it catches a broken
// lua_before/lua_after/lua_start snippet before any clone or build work
// happens, rather than only at editor runtime.
func validateLuaSnippet(src, pluginID, field string) error {
	if src == "" {
		return nil
	}
	parser := sitter.NewParser()
	parser.SetLanguage(lua.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(src))
	if err != nil {
		return rerrors.NewConfigSchemaError(
			"Lua snippet failed to parse",
			fmt.Sprintf("plugin %q field %s: %v", pluginID, field, err),
			"Check the Lua syntax of this snippet",
			err,
		)
	}
	defer tree.Close()

	root := tree.RootNode()
	if bad := firstErrorNode(root); bad != nil {
		return rerrors.NewConfigSchemaError(
			"Lua snippet has a syntax error",
			fmt.Sprintf("plugin %q field %s: invalid Lua near byte offset %d", pluginID, field, bad.StartByte()),
			"Check the Lua syntax of this snippet",
			nil,
		)
	}
	return nil
}

// firstErrorNode walks n's subtree in pre-order and returns the first
// ERROR or MISSING node found, or nil if the tree is clean.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := firstErrorNode(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}
