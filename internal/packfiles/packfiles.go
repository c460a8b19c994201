// Package packfiles lists a plugin checkout's pack-visible files: every
// regular file or symlink under the checkout root except `.git` and anything
// matched by the plugin's `ignore` patterns (spec §4.6, §4.7). Both the
// merge planner (C6, for path-disjointness) and the output assembler
// (C7, for copying) need the identical listing, so it lives in one
// place rather than being derived twice.
package packfiles

import (
	"io/fs"
	"path/filepath"
	"sort"

	gitignore "github.com/sabhiram/go-gitignore"
)

// List returns the sorted, slash-separated relative paths of every
// pack-visible regular file or symlink under root.
func List(root string, ignore []string) ([]string, error) {
	var matcher *gitignore.GitIgnore
	if len(ignore) > 0 {
		matcher = gitignore.CompileIgnoreLines(ignore...)
	}

	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(relSlash+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if matcher != nil && matcher.MatchesPath(relSlash) {
			return nil
		}
		if d.Type().IsRegular() || d.Type()&fs.ModeSymlink != 0 {
			paths = append(paths, relSlash)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
