// Package repocache implements C4: the on-disk clone cache, driving
// shallow clone/fetch/checkout operations and ref resolution against a
// single Git hosting service, with retry and progress reporting (spec
// §3 RepoCacheEntry, §4.4).
package repocache

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
)

// Runner executes a git subcommand with a given working directory.
// Grounded on pkg/tools/git.go's GitExecutor: exec.CommandContext,
// captured stdout/stderr, stderr surfaced in the returned error. Unlike
// GitExecutor, Runner isn't bound to a pre-existing repository, since
// clone and ls-remote both run before a working tree exists.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner shells out to the system `git` binary.
type ExecRunner struct{}

// Run executes `git <args...>` with cmd.Dir = dir (dir may not yet exist
// for clone invocations run from the repo's parent).
func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s timed out or canceled: %w", strings.Join(args, " "), ctx.Err())
		}
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), stderrStr)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// classify turns a raw git error into the taxonomy kind from spec §7:
// auth and not-found errors are terminal, everything else recognized as
// a network/remote hiccup is transient and eligible for retry (spec
// §4.4).
func classify(err error) *rerrors.Error {
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "could not read username", "authentication failed", "permission denied (publickey)", "403", "invalid credentials"):
		return rerrors.NewRepoAuthError("Git authentication failed", err.Error(), "Check your Git credentials for this host", err)
	case containsAny(msg, "repository not found", "does not exist", "404"):
		return rerrors.NewRepoNotFoundError("Repository not found", err.Error(), "Check the owner/slug in the plugin's repo field", err)
	case containsAny(msg, "could not resolve host", "connection refused", "connection reset", "timed out", "temporary failure", "tls handshake", "network is unreachable", "eof"):
		return rerrors.NewRepoTransientError("Transient network error", err.Error(), "This will be retried automatically", err)
	default:
		return rerrors.NewCheckoutFailedError("Git command failed", err.Error(), "Inspect the error above", err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
