// Package buildcache implements C5: the content-addressed cache of
// plugin build-hook artifacts (spec §4.5, GLOSSARY "Content-addressed
// build cache"). A build is skipped entirely once a directory named by
// the hash of its commit, working tree, and argv carries a `.ok` marker,
// mirroring the cheap existence check `checkLocalData` performs before
// the teacher's indexing pipeline runs (cmd/cie/index.go).
package buildcache

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
	"github.com/gw31415/rsplug.nvim/internal/progressbus"
)

// Cache drives build-hook execution against a content-addressed sandbox
// tree rooted at Root.
type Cache struct {
	Root string
	Bus  *progressbus.Bus
}

// New builds a Cache rooted at root (typically <cache_root>/builds).
func New(root string, bus *progressbus.Bus) *Cache {
	return &Cache{Root: root, Bus: bus}
}

// Key is the content address of one build invocation: H(commit ‖
// H(workdir_tree) ‖ H(argv)), per spec §4.5.
func Key(commit string, workdirHash string, argv []string) string {
	h := sha256.New()
	io.WriteString(h, commit)
	io.WriteString(h, "\x00")
	io.WriteString(h, workdirHash)
	io.WriteString(h, "\x00")
	io.WriteString(h, hashArgv(argv))
	return hex.EncodeToString(h.Sum(nil))
}

func hashArgv(argv []string) string {
	h := sha256.New()
	for _, a := range argv {
		io.WriteString(h, a)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashTree hashes every regular file under dir (excluding .git) by path
// and content, in sorted pre-order, so the result only depends on the
// tree's actual contents and not on directory-read ordering (spec §4.5).
func HashTree(dir string) (string, error) {
	h := sha256.New()
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	for _, rel := range paths {
		io.WriteString(h, rel)
		h.Write([]byte{0})
		f, openErr := os.Open(filepath.Join(dir, rel)) //nolint:gosec // dir is a plugin's own cache checkout
		if openErr != nil {
			return "", openErr
		}
		_, copyErr := io.Copy(h, bufio.NewReader(f))
		f.Close()
		if copyErr != nil {
			return "", copyErr
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyTree materializes a worktree copy of src at dst, skipping .git and
// preserving symlinks verbatim, so a build hook running against dst can
// freely write without disturbing src.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o750)
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			link, linkErr := os.Readlink(p)
			if linkErr != nil {
				return linkErr
			}
			return os.Symlink(link, target)
		}
		return copyRegularFile(p, target)
	})
}

func copyRegularFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Dir returns the sandbox directory for a build key.
func (c *Cache) Dir(key string) string {
	return filepath.Join(c.Root, key)
}

func (c *Cache) okPath(key string) string {
	return filepath.Join(c.Dir(key), ".ok")
}

// HasOk reports whether key's build already completed successfully.
func (c *Cache) HasOk(key string) bool {
	_, err := os.Stat(c.okPath(key))
	return err == nil
}

func (c *Cache) emit(id string, stage progressbus.Stage, msg string) {
	if c.Bus == nil {
		return
	}
	c.Bus.Emit(progressbus.Event{ID: id, Stage: stage, Message: msg})
}

// Run executes argv in a worktree copy of checkoutDir, materialized fresh
// under key's sandbox, skipping the subprocess entirely on a cache hit.
// The copy (not the shared repo-cache checkout) absorbs whatever the build
// hook writes, so the checkout that HashTree keyed this run on stays
// untouched for the next run's hash to reproduce (spec §4.5 idempotence
// invariant). Output is streamed line-by-line onto the progress bus
// tagged with id and also buffered, so a failing build's full output can
// be printed at the end of the run (spec §4.5, §7 "retained in a
// per-plugin buffer").
func (c *Cache) Run(ctx context.Context, id, key, checkoutDir string, argv []string) (output string, err error) {
	if c.HasOk(key) {
		c.emit(id, progressbus.StageBuild, "build cache hit")
		return "", nil
	}

	sandbox := c.Dir(key)
	if err := os.RemoveAll(sandbox); err != nil {
		return "", rerrors.NewAssemblyIOError("Cannot clear build sandbox", err.Error(), "Check permissions under the cache root", err)
	}

	workDir := filepath.Join(sandbox, "work")
	if err := copyTree(checkoutDir, workDir); err != nil {
		return "", rerrors.NewAssemblyIOError("Cannot materialize build worktree", err.Error(), "Check permissions under the cache root", err)
	}

	if len(argv) == 0 {
		return "", rerrors.NewBuildFailedError("Empty build command", fmt.Sprintf("plugin %q declares an empty build argv", id), "Remove the build field or supply a command", nil)
	}

	c.emit(id, progressbus.StageBuild, "running "+strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // argv is operator-authored plugin config
	cmd.Dir = workDir

	var buf strings.Builder
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			c.emit(id, progressbus.StageBuild, line)
		}
	}()

	runErr := cmd.Run()
	pw.Close()
	<-done

	if runErr != nil {
		if ctx.Err() != nil {
			return buf.String(), rerrors.NewInterruptedError("Build interrupted", fmt.Sprintf("build for %q canceled", id), "", ctx.Err())
		}
		return buf.String(), rerrors.NewBuildFailedError(
			"Build command failed",
			fmt.Sprintf("%s exited with an error", strings.Join(argv, " ")),
			"See the captured build output above",
			runErr,
		)
	}

	if err := os.WriteFile(c.okPath(key), []byte{}, 0o600); err != nil {
		return buf.String(), rerrors.NewAssemblyIOError("Cannot write build marker", err.Error(), "Check permissions under the cache root", err)
	}
	c.emit(id, progressbus.StageDone, "")
	return buf.String(), nil
}
