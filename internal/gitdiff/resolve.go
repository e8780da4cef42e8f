package gitdiff

import (
	"context"
	"strings"

	rerrors "github.com/thiagokokada/refdiff/internal/errors"
)

const (
	defaultRemote       = "origin"
	remoteTrackingRefNS = "refs/remotes/" + defaultRemote + "/"
	tagRefNS            = "refs/tags/"
)

// refCandidates lists the spellings tried for a user supplied ref, in
// order of preference.
func refCandidates(ref string) []string {
	ref = strings.TrimSpace(ref)
	return []string{
		ref,
		defaultRemote + "/" + ref,
		remoteTrackingRefNS + ref,
		tagRefNS + ref,
	}
}

// resolver turns one candidate spelling into a commit id.
type resolver interface {
	resolveCandidate(ctx context.Context, candidate string) (string, error)
}

// resolveRef returns the commit of the first candidate that names an
// existing commit object, or an UnknownRef error carrying the last cause.
func resolveRef(ctx context.Context, r resolver, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", rerrors.ErrUnknownRef(ref, nil)
	}
	var lastErr error
	for _, candidate := range refCandidates(ref) {
		commit, err := r.resolveCandidate(ctx, candidate)
		if err == nil && commit != "" {
			return commit, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err
	}
	return "", rerrors.ErrUnknownRef(ref, lastErr)
}
