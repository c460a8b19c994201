package config

import (
	"fmt"
	"strings"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
)

func isHex40(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// parseRepo parses the `repo = "owner/slug[@refspec]"` surface syntax from
// spec §4.1 into an (owner, slug, RefSpec) triple.
func parseRepo(raw, sourcePath string) (owner, slug string, ref RefSpec, err error) {
	ownerSlugRef := raw
	refPart := ""
	if idx := strings.Index(raw, "@"); idx >= 0 {
		ownerSlugRef = raw[:idx]
		refPart = raw[idx+1:]
	}

	parts := strings.SplitN(ownerSlugRef, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", RefSpec{}, rerrors.NewConfigSchemaError(
			"Invalid repo field",
			fmt.Sprintf("%q is not of the form owner/slug[@refspec] (in %s)", raw, sourcePath),
			"Use a repo value like \"owner/slug\" or \"owner/slug@v1.0\"",
			nil,
		)
	}
	owner, slug = parts[0], parts[1]

	switch {
	case refPart == "":
		ref = RefSpec{Kind: RefDefault}
	case strings.HasSuffix(refPart, "*"):
		ref = RefSpec{Kind: RefTagGlob, Value: refPart}
	case isHex40(refPart):
		ref = RefSpec{Kind: RefCommit, Value: refPart}
	default:
		// Anything else is provisionally a tag; repocache (C4) corrects
		// this to RefBranch if the remote advertises it as a branch and
		// not a tag, per spec §4.1 ("decided later by C4").
		ref = RefSpec{Kind: RefTag, Value: refPart}
	}
	return owner, slug, ref, nil
}
