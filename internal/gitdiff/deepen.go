package gitdiff

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/thiagokokada/refdiff/internal/retry"
)

// DefaultDeepenTiers are the fetch depths tried, in order, when a shallow
// clone lacks the history needed for a merge-base.
var DefaultDeepenTiers = []int{50, 200, 1000}

var errNoMergeBase = errors.New("no merge-base")

// history is the repository access the deepener needs.
type history interface {
	mergeBase(ctx context.Context, a, b string) (string, error)
	// upstream returns the configured upstream of a local branch as
	// "<remote>/<branch>".
	upstream(ctx context.Context, ref string) (string, bool)
	fetchDepth(ctx context.Context, remote string, branches []string, depth int) error
}

type deepener struct {
	history history
	// resolver, when set, lets a plain head ref that only exists as a
	// remote-tracking branch be deepened too.
	resolver resolver
	tiers    []int
	log      *slog.Logger
}

// findComparisonBase returns the merge-base of baseCommit and headCommit,
// deepening a shallow clone tier by tier when needed. When every tier fails
// the base commit itself is returned, flagged as approximate. Fetch errors
// never fail the comparison.
//
// headRef, when it names a branch, is deepened alongside the base branch so
// both sides of the merge-base walk have history.
func (d deepener) findComparisonBase(ctx context.Context, baseRef, baseCommit, headRef, headCommit string) CompareBase {
	mb, err := d.history.mergeBase(ctx, baseCommit, headCommit)
	if err == nil {
		return CompareBase{Commit: mb}
	}
	d.log.Debug("merge-base unavailable, deepening",
		slog.String("base", baseRef),
		slog.Any("error", err),
	)
	if len(d.tiers) == 0 {
		return CompareBase{Commit: baseCommit, Approximate: true}
	}

	baseBranch, _ := d.remoteBranch(ctx, baseRef)
	branches := []string{baseBranch}
	if headBranch, ok := d.headBranch(ctx, headRef); ok && headBranch != baseBranch {
		branches = append(branches, headBranch)
	}
	fetches := 0
	mb, err = retry.Do(ctx, len(d.tiers), retry.NoDelay, func(ctx context.Context, attempt int) (string, error) {
		depth := d.tiers[attempt]
		fetches++
		if err := d.history.fetchDepth(ctx, defaultRemote, branches, depth); err != nil {
			d.log.Warn("deepen fetch failed",
				slog.Int("depth", depth),
				slog.Any("branches", branches),
				slog.Any("error", err),
			)
		}
		mb, err := d.history.mergeBase(ctx, baseCommit, headCommit)
		if err != nil {
			return "", errors.Join(errNoMergeBase, err)
		}
		return mb, nil
	})
	if err == nil {
		d.log.Debug("merge-base found after deepening", slog.Int("fetches", fetches))
		return CompareBase{Commit: mb, FetchAttempts: fetches}
	}
	d.log.Warn("no merge-base after deepening, comparing against base ref directly",
		slog.String("base", baseRef),
		slog.Int("fetches", fetches),
	)
	return CompareBase{Commit: baseCommit, Approximate: true, FetchAttempts: fetches}
}

// remoteBranch derives the remote branch to fetch for ref: the ref without
// its remote-tracking prefix, else the configured upstream. ok is false when
// neither applies and ref is returned unchanged.
func (d deepener) remoteBranch(ctx context.Context, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	for _, prefix := range []string{remoteTrackingRefNS, defaultRemote + "/"} {
		if b, found := strings.CutPrefix(ref, prefix); found && b != "" {
			return b, true
		}
	}
	if up, found := d.history.upstream(ctx, strings.TrimPrefix(ref, "refs/heads/")); found {
		if b, isOrigin := strings.CutPrefix(up, defaultRemote+"/"); isOrigin && b != "" {
			return b, true
		}
	}
	return ref, false
}

func (d deepener) headBranch(ctx context.Context, ref string) (string, bool) {
	b, ok := d.remoteBranch(ctx, ref)
	if ok || d.resolver == nil || b == "" || b == "HEAD" {
		return b, ok
	}
	if _, err := d.resolver.resolveCandidate(ctx, remoteTrackingRefNS+b); err != nil {
		return b, false
	}
	return b, true
}
