package repocache

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/gw31415/rsplug.nvim/internal/config"
	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
)

// remoteRef is one line of `git ls-remote` output.
type remoteRef struct {
	SHA string
	Ref string // full ref, e.g. refs/tags/v1.0 or refs/heads/main
}

func lsRemote(ctx context.Context, r Runner, url string, flags []string, refs ...string) ([]remoteRef, error) {
	args := append([]string{"ls-remote"}, flags...)
	args = append(args, url)
	args = append(args, refs...)
	out, err := r.Run(ctx, "", args...)
	if err != nil {
		return nil, classify(err)
	}
	var refs []remoteRef
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		// Skip peeled annotated-tag entries; the non-peeled entry
		// (without "^{}") is what `git clone --branch` expects.
		if strings.HasSuffix(fields[1], "^{}") {
			continue
		}
		refs = append(refs, remoteRef{SHA: fields[0], Ref: fields[1]})
	}
	return refs, nil
}

// resolvedRef is the outcome of resolving a PluginSpec's RefSpec against
// the remote.
type resolvedRef struct {
	Type config.RefKind // corrected to RefBranch when RefTag turns out to be a branch
	Name string         // tag or branch short name; empty for commit/default
	SHA  string
}

// resolveRef implements spec §4.4's resolution rules for every RefKind.
func resolveRef(ctx context.Context, r Runner, url string, ref config.RefSpec) (resolvedRef, error) {
	switch ref.Kind {
	case config.RefCommit:
		return resolvedRef{Type: config.RefCommit, SHA: ref.Value}, nil

	case config.RefDefault:
		refs, err := lsRemote(ctx, r, url, []string{"--symref"}, "HEAD")
		if err != nil {
			return resolvedRef{}, err
		}
		for _, rr := range refs {
			if rr.Ref == "HEAD" {
				return resolvedRef{Type: config.RefDefault, SHA: rr.SHA}, nil
			}
		}
		return resolvedRef{}, rerrors.NewRefUnresolvedError(
			"Cannot resolve default branch",
			fmt.Sprintf("remote HEAD not found for %s", url),
			"Check that the repository is reachable and non-empty",
			nil,
		)

	case config.RefTagGlob:
		refs, err := lsRemote(ctx, r, url, []string{"--tags"})
		if err != nil {
			return resolvedRef{}, err
		}
		best, ok := bestMatchingTag(refs, ref.Value)
		if !ok {
			return resolvedRef{}, rerrors.NewRefUnresolvedError(
				"No tag matches glob",
				fmt.Sprintf("no tag in %s matches pattern %q", url, ref.Value),
				"Check the tag glob pattern or the repository's tags",
				nil,
			)
		}
		return resolvedRef{Type: config.RefTagGlob, Name: best.name, SHA: best.sha}, nil

	case config.RefTag, config.RefBranch:
		// §4.1: a bare "@name" is provisionally a Tag; here we check the
		// remote's actual namespaces and correct to Branch if it only
		// exists under refs/heads.
		tagRefs, err := lsRemote(ctx, r, url, []string{"--tags"}, "refs/tags/"+ref.Value)
		if err != nil {
			return resolvedRef{}, err
		}
		if len(tagRefs) > 0 {
			return resolvedRef{Type: config.RefTag, Name: ref.Value, SHA: tagRefs[0].SHA}, nil
		}
		headRefs, err := lsRemote(ctx, r, url, []string{"--heads"}, "refs/heads/"+ref.Value)
		if err != nil {
			return resolvedRef{}, err
		}
		if len(headRefs) > 0 {
			return resolvedRef{Type: config.RefBranch, Name: ref.Value, SHA: headRefs[0].SHA}, nil
		}
		return resolvedRef{}, rerrors.NewRefUnresolvedError(
			"Ref not found",
			fmt.Sprintf("%q is neither a tag nor a branch on %s", ref.Value, url),
			"Check the ref name",
			nil,
		)

	default:
		return resolvedRef{}, rerrors.NewInternalError("Unknown ref kind", string(ref.Kind), "This is a bug", nil)
	}
}

type tagMatch struct {
	name string
	sha  string
}

// bestMatchingTag selects the highest tag matching glob by semver-aware
// version sort, falling back to lexicographic order for tags that don't
// parse as semver (spec §4.4: "latest matching tag is chosen by
// version-sort with fallback to lexicographic").
func bestMatchingTag(refs []remoteRef, glob string) (tagMatch, bool) {
	var candidates []tagMatch
	for _, rr := range refs {
		name := strings.TrimPrefix(rr.Ref, "refs/tags/")
		ok, err := path.Match(glob, name)
		if err != nil || !ok {
			continue
		}
		candidates = append(candidates, tagMatch{name: name, sha: rr.SHA})
	}
	if len(candidates) == 0 {
		return tagMatch{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return tagLess(candidates[i].name, candidates[j].name)
	})
	return candidates[len(candidates)-1], true
}

// tagLess reports whether a sorts before b: numerically component-wise
// when both parse as a (optionally "v"-prefixed) dotted-numeric version,
// lexicographically otherwise.
func tagLess(a, b string) bool {
	av, aok := parseSemverish(a)
	bv, bok := parseSemverish(b)
	if aok && bok {
		for i := 0; i < len(av) || i < len(bv); i++ {
			var x, y int
			if i < len(av) {
				x = av[i]
			}
			if i < len(bv) {
				y = bv[i]
			}
			if x != y {
				return x < y
			}
		}
		return false
	}
	return a < b
}

func parseSemverish(s string) ([]int, bool) {
	s = strings.TrimPrefix(s, "v")
	parts := strings.Split(s, ".")
	if len(parts) == 0 {
		return nil, false
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		// Trim any non-numeric suffix on each component (e.g. "0-rc1");
		// only the numeric prefix participates in the comparison.
		end := len(p)
		for i, c := range p {
			if c < '0' || c > '9' {
				end = i
				break
			}
		}
		if end == 0 {
			return nil, false
		}
		n, err := strconv.Atoi(p[:end])
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
