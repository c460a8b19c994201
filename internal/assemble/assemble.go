// Package assemble implements C7: rendering the merge plan into the
// deterministic pack/_gen output tree, copying or symlinking each
// member's pack-visible files, and generating per-group helptags (spec
// §4.7).
package assemble

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/gw31415/rsplug.nvim/internal/config"
	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
	"github.com/gw31415/rsplug.nvim/internal/merge"
	"github.com/gw31415/rsplug.nvim/internal/packfiles"
	"github.com/gw31415/rsplug.nvim/internal/progressbus"
)

// CheckoutInfo locates a plugin's working tree on disk and the commit
// timestamp copies should be stamped with, so two runs against the same
// repo cache contents produce byte-identical (and mtime-identical)
// trees (spec §4.7 invariant).
type CheckoutInfo struct {
	Dir        string
	CommitTime time.Time
}

// Assemble builds the output tree for plan at <outRoot>.next and
// atomically swaps it into outRoot. specs maps plugin id to its
// PluginSpec; checkouts maps plugin id to where its files live
// (config-only plugins and plugins missing from checkouts contribute no
// files). extraFiles (relative path under outRoot -> content) is written
// into the staging tree before the swap, so C8's script bundle lands in
// the same atomic rename as C7's pack tree (spec §4.7's swap invariant
// and §4.9's Output assembly -> Script emission ordering both hold: the
// files exist together the instant the tree becomes visible).
func Assemble(outRoot string, plan *merge.Plan, specs map[string]*config.PluginSpec, checkouts map[string]CheckoutInfo, extraFiles map[string]string, bus *progressbus.Bus) (int, error) {
	next := outRoot + ".next"
	if err := os.RemoveAll(next); err != nil {
		return 0, ioErr("Failed to clear staging tree", next, err)
	}

	fileCount := 0

	for _, grp := range plan.Groups {
		groupDir := filepath.Join(next, "pack", "_gen", string(grp.Class), grp.Name)
		if err := os.MkdirAll(groupDir, 0o750); err != nil {
			return 0, ioErr("Failed to create pack entry directory", groupDir, err)
		}

		useSym := groupAgreesOnSym(grp, specs, checkouts)
		for _, id := range grp.Members {
			spec := specs[id]
			if spec == nil || spec.ConfigOnly {
				continue
			}
			info, ok := checkouts[id]
			if !ok {
				continue
			}
			if bus != nil {
				bus.Emit(progressbus.Event{ID: grp.Name, Stage: progressbus.StageAssemble, Message: "copying " + id})
			}
			files, err := packfiles.List(info.Dir, spec.Ignore)
			if err != nil {
				return 0, ioErr("Failed to list pack-visible files", info.Dir, err)
			}
			for _, f := range files {
				src := filepath.Join(info.Dir, filepath.FromSlash(f))
				dst := filepath.Join(groupDir, filepath.FromSlash(f))
				if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
					return 0, ioErr("Failed to create destination directory", filepath.Dir(dst), err)
				}
				if useSym {
					if err := symlinkRelative(src, dst); err != nil {
						return 0, ioErr("Failed to symlink pack file", dst, err)
					}
					fileCount++
					continue
				}
				if err := copyFile(src, dst, info.CommitTime); err != nil {
					return 0, ioErr("Failed to copy pack file", dst, err)
				}
				fileCount++
			}
		}

		if err := writeHelptags(groupDir); err != nil {
			return 0, err
		}
	}

	for rel, content := range extraFiles {
		dst := filepath.Join(next, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return 0, ioErr("Failed to create directory for generated script", filepath.Dir(dst), err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o640); err != nil {
			return 0, ioErr("Failed to write generated script", dst, err)
		}
		fileCount++
	}

	if err := os.RemoveAll(outRoot); err != nil {
		return 0, ioErr("Failed to remove previous output tree", outRoot, err)
	}
	if err := os.Rename(next, outRoot); err != nil {
		return 0, ioErr("Failed to swap output tree into place", outRoot, err)
	}
	if bus != nil {
		bus.Emit(progressbus.Event{ID: "assemble", Stage: progressbus.StageDone, Message: "output tree ready"})
	}
	return fileCount, nil
}

// groupAgreesOnSym reports whether every file-contributing member of grp
// has sym=true, the precondition for symlinking the whole group (spec
// §4.7: "when sym=true and all members agree").
func groupAgreesOnSym(grp *merge.Group, specs map[string]*config.PluginSpec, checkouts map[string]CheckoutInfo) bool {
	any := false
	for _, id := range grp.Members {
		spec := specs[id]
		if spec == nil || spec.ConfigOnly {
			continue
		}
		if _, ok := checkouts[id]; !ok {
			continue
		}
		any = true
		if !spec.Sym {
			return false
		}
	}
	return any
}

func symlinkRelative(src, dst string) error {
	rel, err := filepath.Rel(filepath.Dir(dst), src)
	if err != nil {
		return err
	}
	_ = os.Remove(dst)
	return os.Symlink(rel, dst)
}

func copyFile(src, dst string, commitTime time.Time) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if !commitTime.IsZero() {
		return os.Chtimes(dst, commitTime, commitTime)
	}
	return nil
}

// tagPattern matches a help tag marker, e.g. *my-plugin-setup*, the way
// the editor's own helptags generator scans doc/*.txt.
var tagPattern = regexp.MustCompile(`\*([^*" \t]+)\*`)

type tagEntry struct {
	tag  string
	file string
}

// writeHelptags scans groupDir/doc/*.txt for tag markers and writes
// doc/tags in canonical (sorted) order, the editor's `doc/tags` index
// format: one "tag\tfilename\t/*tag*" line per entry (spec §4.7).
func writeHelptags(groupDir string) error {
	docDir := filepath.Join(groupDir, "doc")
	matches, err := filepath.Glob(filepath.Join(docDir, "*.txt"))
	if err != nil {
		return rerrors.NewHelptagsError("Failed to scan doc directory", docDir, "Check the group's doc/*.txt files", err)
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)

	var entries []tagEntry
	for _, path := range matches {
		contents, err := os.ReadFile(path)
		if err != nil {
			return rerrors.NewHelptagsError("Failed to read help file", path, "", err)
		}
		base := filepath.Base(path)
		for _, m := range tagPattern.FindAllSubmatch(contents, -1) {
			entries = append(entries, tagEntry{tag: string(m[1]), file: base})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].tag != entries[j].tag {
			return entries[i].tag < entries[j].tag
		}
		return entries[i].file < entries[j].file
	})

	out := make([]byte, 0, 64*len(entries))
	for _, e := range entries {
		out = append(out, e.tag...)
		out = append(out, '\t')
		out = append(out, e.file...)
		out = append(out, '\t')
		out = append(out, '/')
		out = append(out, '*')
		out = append(out, e.tag...)
		out = append(out, '*')
		out = append(out, '\n')
	}

	tagsPath := filepath.Join(docDir, "tags")
	if err := os.WriteFile(tagsPath, out, 0o640); err != nil {
		return rerrors.NewHelptagsError("Failed to write doc/tags", tagsPath, "", err)
	}
	return nil
}

func ioErr(title, detail string, cause error) error {
	return rerrors.NewAssemblyIOError(title, detail, "", cause)
}
