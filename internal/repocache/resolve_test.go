package repocache

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gw31415/rsplug.nvim/internal/config"
)

func TestBestMatchingTagPrefersHighestSemver(t *testing.T) {
	refs := []remoteRef{
		{SHA: "s1", Ref: "refs/tags/v1.0.0"},
		{SHA: "s2", Ref: "refs/tags/v2.0.0"},
		{SHA: "s3", Ref: "refs/tags/v1.10.0"},
		{SHA: "s4", Ref: "refs/tags/other"},
	}
	best, ok := bestMatchingTag(refs, "v*")
	require.True(t, ok)
	require.Equal(t, "v2.0.0", best.name)
}

func TestBestMatchingTagFallsBackLexicographic(t *testing.T) {
	refs := []remoteRef{
		{SHA: "s1", Ref: "refs/tags/release-a"},
		{SHA: "s2", Ref: "refs/tags/release-z"},
		{SHA: "s3", Ref: "refs/tags/release-m"},
	}
	best, ok := bestMatchingTag(refs, "release-*")
	require.True(t, ok)
	require.Equal(t, "release-z", best.name)
}

func TestBestMatchingTagNoMatch(t *testing.T) {
	refs := []remoteRef{{SHA: "s1", Ref: "refs/tags/v1.0.0"}}
	_, ok := bestMatchingTag(refs, "release-*")
	require.False(t, ok)
}

func TestResolveRefTagGlobQueriesTagsOnly(t *testing.T) {
	r := newFakeRunner()
	r.on("ls-remote --tags", func(int) (string, error) {
		return strings.Join([]string{
			"s1\trefs/tags/v1.0.0",
			"s2\trefs/tags/v1.0.0^{}",
			"s3\trefs/tags/v1.2.0",
		}, "\n") + "\n", nil
	})

	out, err := resolveRef(context.Background(), r, "https://example.test/a/b.git", config.RefSpec{Kind: config.RefTagGlob, Value: "v*"})
	require.NoError(t, err)
	require.Equal(t, "v1.2.0", out.Name)
	require.Equal(t, "s3", out.SHA)
}

func TestResolveRefTagCorrectsToBranchWhenOnlyHeadMatches(t *testing.T) {
	r := newFakeRunner()
	r.on("ls-remote --tags", func(int) (string, error) { return "", nil })
	r.on("ls-remote --heads", func(int) (string, error) {
		return "deadbeef\trefs/heads/feature-x\n", nil
	})

	out, err := resolveRef(context.Background(), r, "https://example.test/a/b.git", config.RefSpec{Kind: config.RefTag, Value: "feature-x"})
	require.NoError(t, err)
	require.Equal(t, config.RefBranch, out.Type)
	require.Equal(t, "deadbeef", out.SHA)
}

func TestResolveRefTagStaysTagWhenTagMatches(t *testing.T) {
	r := newFakeRunner()
	r.on("ls-remote --tags", func(int) (string, error) {
		return "cafef00d\trefs/tags/v1.0.0\n", nil
	})

	out, err := resolveRef(context.Background(), r, "https://example.test/a/b.git", config.RefSpec{Kind: config.RefTag, Value: "v1.0.0"})
	require.NoError(t, err)
	require.Equal(t, config.RefTag, out.Type)
	require.Equal(t, "cafef00d", out.SHA)
}

func TestResolveRefUnresolvedReportsError(t *testing.T) {
	r := newFakeRunner()
	r.on("ls-remote --tags", func(int) (string, error) { return "", nil })
	r.on("ls-remote --heads", func(int) (string, error) { return "", nil })

	_, err := resolveRef(context.Background(), r, "https://example.test/a/b.git", config.RefSpec{Kind: config.RefTag, Value: "ghost"})
	require.Error(t, err)
}

func TestResolveRefCommitPassesThrough(t *testing.T) {
	sha := strings.Repeat("d", 40)
	r := newFakeRunner()
	out, err := resolveRef(context.Background(), r, "https://example.test/a/b.git", config.RefSpec{Kind: config.RefCommit, Value: sha})
	require.NoError(t, err)
	require.Equal(t, sha, out.SHA)
	require.Equal(t, config.RefCommit, out.Type)
}

func TestLsRemoteWrapsTransientError(t *testing.T) {
	r := newFakeRunner()
	r.on("ls-remote", func(int) (string, error) {
		return "", fmt.Errorf("ssh: connect to host example.test port 22: Connection refused")
	})
	_, err := lsRemote(context.Background(), r, "https://example.test/a/b.git", []string{"--tags"})
	require.Error(t, err)
}
