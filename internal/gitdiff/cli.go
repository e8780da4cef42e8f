package gitdiff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thiagokokada/refdiff/internal/git"
)

// CLIEngine drives the git binary through a git.Runner. It is the portable
// engine and works with every repository layout git itself supports.
type CLIEngine struct {
	pipeline
	runner git.Runner
	gate   *git.VersionGate
}

func NewCLIEngine(runner git.Runner, opts Options) *CLIEngine {
	if runner == nil {
		runner = git.NewExecRunner("")
	}
	e := &CLIEngine{runner: runner, gate: &git.VersionGate{}}
	e.pipeline = pipeline{name: EngineCLI, opts: opts.withDefaults(), open: e.openSession}
	return e
}

func (e *CLIEngine) openSession(ctx context.Context, repoPath string) (session, error) {
	if _, err := e.gate.Check(ctx, e.runner); err != nil {
		return nil, err
	}
	root, err := git.Toplevel(ctx, e.runner, repoPath)
	if err != nil {
		return nil, err
	}
	return &cliSession{
		runner:    e.runner,
		root:      root,
		maxOutput: e.opts.MaxOutputBytes,
		log:       e.opts.Logger,
	}, nil
}

type cliSession struct {
	runner    git.Runner
	root      string
	maxOutput int
	log       *slog.Logger
}

func (s *cliSession) run(ctx context.Context, args ...string) (string, error) {
	return s.runner.Run(ctx, git.Command{Dir: s.root, Args: args, MaxOutput: s.maxOutput})
}

func (s *cliSession) resolveCandidate(ctx context.Context, candidate string) (string, error) {
	if strings.HasPrefix(candidate, "-") {
		return "", fmt.Errorf("invalid ref %q", candidate)
	}
	out, err := s.run(ctx, "rev-parse", "--verify", "--quiet", candidate+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *cliSession) headCommit(ctx context.Context) (string, error) {
	return s.resolveCandidate(ctx, "HEAD")
}

func (s *cliSession) mergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := s.run(ctx, "merge-base", a, b)
	if err != nil {
		return "", err
	}
	mb := strings.TrimSpace(out)
	if mb == "" {
		return "", errNoMergeBase
	}
	return mb, nil
}

func (s *cliSession) upstream(ctx context.Context, ref string) (string, bool) {
	if ref == "" || strings.HasPrefix(ref, "-") {
		return "", false
	}
	out, err := s.run(ctx, "rev-parse", "--abbrev-ref", "--symbolic-full-name", ref+"@{upstream}")
	if err != nil {
		return "", false
	}
	up := strings.TrimSpace(out)
	return up, up != ""
}

func (s *cliSession) fetchDepth(ctx context.Context, remote string, branches []string, depth int) error {
	args := []string{"fetch", "--no-tags", "--quiet", fmt.Sprintf("--depth=%d", depth), remote}
	for _, b := range branches {
		args = append(args, fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", b, remote, b))
	}
	_, err := s.run(ctx, args...)
	return err
}

func (s *cliSession) enumerate(ctx context.Context, base string, head revision) ([]TrackedChange, []string, error) {
	args := append([]string{"diff", "--name-status", "-z", "-M", "--no-color"}, diffRange(base, head)...)
	out, err := s.run(ctx, append(args, "--")...)
	if err != nil {
		return nil, nil, err
	}
	tracked, err := parseNameStatus(out, s.log)
	if err != nil {
		return nil, nil, err
	}
	if !head.worktree {
		return tracked, nil, nil
	}
	out, err = s.run(ctx, "ls-files", "--others", "--exclude-standard", "-z")
	if err != nil {
		s.log.Warn("list untracked files", slog.Any("error", err))
		return tracked, nil, nil
	}
	return tracked, splitNUL(out), nil
}

func (s *cliSession) remoteBranches(ctx context.Context, remote string) ([]Branch, error) {
	refs, err := git.ListRefs(ctx, s.runner, s.root)
	if err != nil {
		return nil, err
	}
	var out []Branch
	for _, ref := range git.RemoteBranches(refs, remote) {
		out = append(out, Branch{Name: ref.Name, Hash: ref.Hash})
	}
	return out, nil
}

func diffRange(base string, head revision) []string {
	if head.worktree {
		return []string{base}
	}
	return []string{base, head.commit}
}

func splitNUL(out string) []string {
	var items []string
	for item := range strings.SplitSeq(out, "\x00") {
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// parseNameStatus reads the NUL separated token stream of
// `git diff --name-status -z`: a status code followed by one path, or by
// the old and new path for renames and copies.
func parseNameStatus(out string, log *slog.Logger) ([]TrackedChange, error) {
	tokens := strings.Split(out, "\x00")
	if n := len(tokens); n > 0 && tokens[n-1] == "" {
		tokens = tokens[:n-1]
	}
	next := func(i *int) (string, error) {
		if *i >= len(tokens) {
			return "", fmt.Errorf("name-status: truncated record at token %d", *i)
		}
		tok := tokens[*i]
		*i++
		return tok, nil
	}

	var changes []TrackedChange
	for i := 0; i < len(tokens); {
		code, _ := next(&i)
		if code == "" {
			return nil, fmt.Errorf("name-status: empty status code at token %d", i-1)
		}
		switch code[0] {
		case 'R', 'C':
			oldPath, err := next(&i)
			if err != nil {
				return nil, err
			}
			newPath, err := next(&i)
			if err != nil {
				return nil, err
			}
			switch {
			case code[0] == 'C':
				changes = append(changes, TrackedChange{Status: StatusAdded, Path: newPath})
			case oldPath == newPath:
				changes = append(changes, TrackedChange{Status: StatusModified, Path: newPath})
			default:
				changes = append(changes, TrackedChange{Status: StatusRenamed, Path: newPath, OldPath: oldPath})
			}
		default:
			path, err := next(&i)
			if err != nil {
				return nil, err
			}
			status, ok := statusForCode(code[0])
			if !ok {
				log.Warn("skipping unknown name-status code", slog.String("code", code), slog.String("path", path))
				continue
			}
			changes = append(changes, TrackedChange{Status: status, Path: path})
		}
	}
	return changes, nil
}

func statusForCode(c byte) (Status, bool) {
	switch c {
	case 'A':
		return StatusAdded, true
	case 'D':
		return StatusDeleted, true
	case 'M', 'T', 'U':
		return StatusModified, true
	}
	return "", false
}

// isOutputLimit reports whether err came from a capped tool output.
func isOutputLimit(err error) bool {
	return errors.Is(err, git.ErrOutputLimit)
}
