package script

import (
	"strings"
	"text/template"
)

// Render turns a Manifest into the Lua source for
// pack/_gen/start/_rsplug/lua/_rsplug/init.lua (spec §4.8). Rendering is
// a pure function of m: every table below is pre-rendered to Lua text
// before the template runs, so the template itself never branches on
// plan data.
func Render(m *Manifest) (string, error) {
	data := struct {
		Packs   string
		OnEvent string
		OnCmd   string
		OnFt    string
		OnMap   string
		Require string
	}{
		Packs:   renderPacks(m.Packs),
		OnEvent: renderStringListTable(m.OnEvent),
		OnCmd:   renderStringListTable(m.OnCmd),
		OnFt:    renderStringListTable(m.OnFt),
		OnMap:   renderOnMap(m.OnMap),
		Require: renderStringListTable(m.Require),
	}

	var buf strings.Builder
	if err := bundleTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderPacks(packs map[string]*PackSetup) string {
	if len(packs) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{\n")
	for _, name := range sortedKeys(packs) {
		setup := packs[name]
		b.WriteString("  [" + luaQuote(name) + "] = {\n")
		b.WriteString("    before = function()\n" + indent(setup.LuaBefore) + "\n    end,\n")
		b.WriteString("    after = function()\n" + indent(setup.LuaAfter) + "\n    end,\n")
		b.WriteString("    start = function()\n" + indent(setup.LuaStart) + "\n    end,\n")
		b.WriteString("  },\n")
	}
	b.WriteString("}")
	return b.String()
}

func renderStringListTable(m map[string][]string) string {
	if len(m) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{\n")
	for _, key := range sortedKeys(m) {
		b.WriteString("  [" + luaQuote(key) + "] = " + renderStringList(m[key]) + ",\n")
	}
	b.WriteString("}")
	return b.String()
}

func renderOnMap(m map[byte]map[string][]string) string {
	if len(m) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{\n")
	for _, mode := range sortedModes(m) {
		b.WriteString("  [" + luaQuote(string(mode)) + "] = " + renderStringListTableIndented(m[mode], "  ") + ",\n")
	}
	b.WriteString("}")
	return b.String()
}

func renderStringListTableIndented(m map[string][]string, prefix string) string {
	inner := renderStringListTable(m)
	return strings.ReplaceAll(inner, "\n", "\n"+prefix)
}

func renderStringList(items []string) string {
	if len(items) == 0 {
		return "{}"
	}
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = luaQuote(it)
	}
	return "{ " + strings.Join(quoted, ", ") + " }"
}

// luaQuote renders s as a double-quoted Lua string literal.
func luaQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// indent prefixes every non-empty line of s with six spaces so snippets
// read as the body of a `function() ... end` block.
func indent(s string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			continue
		}
		lines[i] = "      " + l
	}
	return strings.Join(lines, "\n")
}

var bundleTemplate = template.Must(template.New("rsplug-bundle").Parse(bundleTemplateSource))

const bundleTemplateSource = `-- Code generated by rsplug. DO NOT EDIT.
local M = {}

M.packs = {{ .Packs }}

M.on_event = {{ .OnEvent }}
M.on_cmd = {{ .OnCmd }}
M.on_ft = {{ .OnFt }}
M.on_map = {{ .OnMap }}
M.require = {{ .Require }}

local function run_hooks(names)
  for _, name in ipairs(names) do
    local entry = M.packs[name]
    if entry then
      entry.before()
      vim.cmd("packadd " .. name)
      entry.after()
    end
  end
end

local placeholders = {}

local function clear_placeholder(mode, pattern)
  local key = mode .. "\0" .. pattern
  if placeholders[key] then
    pcall(vim.keymap.del, mode, pattern)
    placeholders[key] = nil
  end
end

local function install_placeholder(mode, pattern, names)
  local key = mode .. "\0" .. pattern
  if placeholders[key] then
    return
  end
  placeholders[key] = true
  vim.keymap.set(mode, pattern, function()
    for k in pairs(placeholders) do
      local m = k:sub(1, 1)
      local p = k:sub(3)
      if p == pattern then
        clear_placeholder(m, p)
      end
    end

    run_hooks(names)

    if mode == "n" then
      vim.api.nvim_feedkeys(vim.api.nvim_replace_termcodes("<Ignore>", true, false, true), "n", false)
    end
    local replay_mode = (mode == "n") and "m" or mode
    vim.api.nvim_feedkeys(vim.api.nvim_replace_termcodes(pattern, true, false, true), replay_mode, false)
  end, { silent = true })
end

local installed_modes = {}

local function install_for_mode(mode)
  if installed_modes[mode] then
    return
  end
  installed_modes[mode] = true
  for pattern, names in pairs(M.on_map[mode] or {}) do
    install_placeholder(mode, pattern, names)
  end
end

vim.api.nvim_create_autocmd("ModeChanged", {
  group = vim.api.nvim_create_augroup("rsplug_on_map", { clear = true }),
  callback = function()
    install_for_mode(vim.fn.mode())
  end,
})

local event_names = {}
for event in pairs(M.on_event) do
  table.insert(event_names, event)
end
if #event_names > 0 then
  vim.api.nvim_create_autocmd(event_names, {
    group = vim.api.nvim_create_augroup("rsplug_on_event", { clear = true }),
    callback = function(args)
      local names = M.on_event[args.match] or M.on_event[args.event]
      if names then
        run_hooks(names)
      end
    end,
  })
end

for cmd, names in pairs(M.on_cmd) do
  vim.api.nvim_create_user_command(cmd, function(opts)
    run_hooks(names)
    vim.cmd(("%s %s"):format(cmd, opts.args or ""))
  end, { nargs = "*", bang = true })
end

if next(M.on_ft) ~= nil then
  vim.api.nvim_create_autocmd("FileType", {
    group = vim.api.nvim_create_augroup("rsplug_on_ft", { clear = true }),
    callback = function(args)
      local names = M.on_ft[args.match]
      if names then
        run_hooks(names)
      end
    end,
  })
end

for mod, names in pairs(M.require) do
  local original = package.preload[mod]
  package.preload[mod] = function(...)
    run_hooks(names)
    if original then
      return original(...)
    end
    return require(mod)
  end
end

for _, entry in pairs(M.packs) do
  entry.start()
end

return M
`
