package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Oldest git accepted by the CLI engine. diff --name-status -z with rename
// detection, ls-files --exclude-standard and fetch --depth on an existing
// shallow clone all behave as expected from here on.
var minGitVersion = gitVersion{major: 2, minor: 23, patch: 0}

type gitVersion struct {
	major int
	minor int
	patch int
}

func MinGitVersion() string {
	return minGitVersion.String()
}

func (v gitVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

func (v gitVersion) less(other gitVersion) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	if v.minor != other.minor {
		return v.minor < other.minor
	}
	return v.patch < other.patch
}

func parseGitVersionOutput(out string) (gitVersion, bool) {
	s := strings.TrimSpace(out)
	if s == "" {
		return gitVersion{}, false
	}
	// "git version 2.44.0", "git version 2.39.3 (Apple Git-146)",
	// "git version 2.39.3.windows.1"
	if idx := strings.Index(s, "git version"); idx >= 0 {
		s = strings.TrimSpace(s[idx+len("git version"):])
	}
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return gitVersion{}, false
	}
	s = s[start:]
	end := strings.IndexFunc(s, func(r rune) bool { return !isDigit(r) && r != '.' })
	if end >= 0 {
		s = s[:end]
	}
	s = strings.Trim(s, ".")
	if s == "" {
		return gitVersion{}, false
	}

	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return gitVersion{}, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return gitVersion{}, false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return gitVersion{}, false
	}
	patch := 0
	if len(parts) >= 3 {
		if p, err := strconv.Atoi(parts[2]); err == nil {
			patch = p
		}
	}
	return gitVersion{major: major, minor: minor, patch: patch}, true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func validateGitVersionOutput(out string) (gitVersion, error) {
	got, ok := parseGitVersionOutput(out)
	if !ok {
		return gitVersion{}, fmt.Errorf("unable to parse git version output: %q", strings.TrimSpace(out))
	}
	if got.less(minGitVersion) {
		return got, fmt.Errorf("git %s is too old; refdiff requires git >= %s", got, minGitVersion)
	}
	return got, nil
}

// VersionGate runs `git --version` once per runner and remembers whether
// the installed git is recent enough.
type VersionGate struct {
	once    sync.Once
	version string
	err     error
}

// Check returns the raw `git --version` output, or an error when git is
// missing, unparsable or older than MinGitVersion.
func (g *VersionGate) Check(ctx context.Context, r Runner) (string, error) {
	g.once.Do(func() {
		out, err := r.Run(ctx, Command{Args: []string{"--version"}})
		g.version = strings.TrimSpace(out)
		if err != nil {
			g.err = fmt.Errorf("git --version: %w", err)
			return
		}
		_, g.err = validateGitVersionOutput(out)
	})
	return g.version, g.err
}
