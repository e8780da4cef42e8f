package gitdiff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	rerrors "github.com/thiagokokada/refdiff/internal/errors"
	"github.com/thiagokokada/refdiff/internal/git"
)

const (
	EngineCLI    = "cli"
	EngineNative = "native"
)

// Options configure an engine for the life of the process.
type Options struct {
	Logger *slog.Logger
	// DeepenTiers defaults to DefaultDeepenTiers.
	DeepenTiers []int
	// MaxOutputBytes caps every captured tool output and file read.
	MaxOutputBytes int
	// Exclude drops changed paths matching any of these doublestar globs.
	Exclude          []string
	NormalizePatches bool
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DeepenTiers == nil {
		o.DeepenTiers = DefaultDeepenTiers
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = 10 << 20
	}
	return o
}

// session is one opened repository. CLI and native engines differ only in
// how they implement it.
type session interface {
	resolver
	history
	// headCommit is the commit checked out in the working tree.
	headCommit(ctx context.Context) (string, error)
	enumerate(ctx context.Context, base string, head revision) (tracked []TrackedChange, untracked []string, err error)
	hydrate(ctx context.Context, base string, head revision, ch TrackedChange, include bool) hydrated
	hydrateUntracked(ctx context.Context, path string, include bool) hydrated
	// readFile returns nil without error when path does not exist at rev
	// or is larger than limit.
	readFile(ctx context.Context, rev revision, path string, limit int) ([]byte, error)
	remoteBranches(ctx context.Context, remote string) ([]Branch, error)
}

type opener func(ctx context.Context, repoPath string) (session, error)

// pipeline runs resolve → deepen → enumerate → hydrate → assemble on top of
// a session implementation.
type pipeline struct {
	name string
	open opener
	opts Options
}

// New returns the engine registered under name. runner is only used by the
// CLI engine; nil selects the git binary on PATH.
func New(name string, runner git.Runner, opts Options) (Engine, error) {
	switch name {
	case EngineCLI, "":
		return NewCLIEngine(runner, opts), nil
	case EngineNative:
		return NewNativeEngine(opts), nil
	default:
		return nil, rerrors.ErrInvalidArgument(fmt.Sprintf("unknown engine %q", name))
	}
}

func (p *pipeline) Name() string { return p.name }

func (p *pipeline) logger() *slog.Logger { return p.opts.Logger }

func (p *pipeline) Compare(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.RepoPath) == "" {
		return nil, rerrors.ErrInvalidArgument("repository path is required")
	}
	if strings.TrimSpace(req.Base) == "" {
		return nil, rerrors.ErrInvalidArgument("base ref is required")
	}
	log := p.logger().With(
		slog.String("request_id", uuid.NewString()),
		slog.String("engine", p.name),
	)
	s, err := p.open(ctx, req.RepoPath)
	if err != nil {
		return nil, rerrors.ErrRepositoryUnavailable(req.RepoPath, err)
	}

	if req.Base == WorkingTree {
		if isWorkingTree(req.Head) {
			return nil, rerrors.ErrInvalidArgument("at most one side may be the working tree")
		}
		forward := req
		forward.Base, forward.Head = req.Head, WorkingTree
		res, err := p.compare(ctx, s, forward, log)
		if err != nil {
			return nil, err
		}
		res.Entries = invertEntries(res.Entries)
		res.BaseRef, res.HeadRef = req.Base, req.Head
		return res, nil
	}
	return p.compare(ctx, s, req, log)
}

func (p *pipeline) compare(ctx context.Context, s session, req Request, log *slog.Logger) (*Result, error) {
	log.Debug("compare", slog.String("base", req.Base), slog.String("head", req.Head))

	baseCommit, err := resolveRef(ctx, s, req.Base)
	if err != nil {
		return nil, err
	}
	head := revision{worktree: true}
	headRef := "HEAD"
	var headCommit string
	if isWorkingTree(req.Head) {
		headCommit, err = s.headCommit(ctx)
		if err != nil {
			return nil, rerrors.ErrUnknownRef("HEAD", err)
		}
	} else {
		headRef = req.Head
		headCommit, err = resolveRef(ctx, s, req.Head)
		if err != nil {
			return nil, err
		}
		head = revision{commit: headCommit}
	}

	d := deepener{history: s, resolver: s, tiers: p.opts.DeepenTiers, log: log}
	base := d.findComparisonBase(ctx, req.Base, baseCommit, headRef, headCommit)

	tracked, untracked, err := s.enumerate(ctx, base.Commit, head)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ToolInvocationFailure, "enumerate changes", err)
	}

	a := assembler{
		exclude:   p.opts.Exclude,
		normalize: p.opts.NormalizePatches,
		include:   req.IncludeContents,
		budget:    req.budget(),
		log:       log,
	}
	entries := a.assemble(tracked, untracked,
		func(ch TrackedChange) hydrated { return s.hydrate(ctx, base.Commit, head, ch, req.IncludeContents) },
		func(path string) hydrated { return s.hydrateUntracked(ctx, path, req.IncludeContents) },
	)
	log.Debug("compare done",
		slog.Int("entries", len(entries)),
		slog.Bool("approximate", base.Approximate),
	)

	res := &Result{
		Entries:     entries,
		Base:        base,
		BaseRef:     req.Base,
		HeadRef:     req.Head,
		WorkingTree: head.worktree,
		Engine:      p.name,
	}
	if !head.worktree {
		res.HeadCommit = headCommit
	}
	return res, nil
}

// Contents reads full file contents for a finished comparison. Missing
// files and files over MaxFileBytes come back without that side.
func (p *pipeline) Contents(ctx context.Context, q ContentQuery) ([]FileContent, error) {
	if !q.Which.Valid() {
		return nil, rerrors.ErrInvalidArgument(fmt.Sprintf("which must be base, head or both, got %q", q.Which))
	}
	s, err := p.open(ctx, q.RepoPath)
	if err != nil {
		return nil, rerrors.ErrRepositoryUnavailable(q.RepoPath, err)
	}
	limit := q.MaxFileBytes
	if limit <= 0 || limit > p.opts.MaxOutputBytes {
		limit = p.opts.MaxOutputBytes
	}

	var base, head revision
	if q.Which.base() {
		commit, err := resolveRef(ctx, s, q.Base)
		if err != nil {
			return nil, err
		}
		base = revision{commit: commit}
	}
	if q.Which.head() {
		head = revision{worktree: true}
		if !isWorkingTree(q.Head) {
			commit, err := resolveRef(ctx, s, q.Head)
			if err != nil {
				return nil, err
			}
			head = revision{commit: commit}
		}
	}

	out := make([]FileContent, 0, len(q.Files))
	for _, f := range q.Files {
		fc := FileContent{Path: f.Path}
		if q.Which.base() {
			basePath := f.Path
			if f.PreviousPath != "" {
				basePath = f.PreviousPath
			}
			fc.Base, err = s.readFile(ctx, base, basePath, limit)
			if err != nil {
				p.logger().Warn("read base content", slog.String("path", basePath), slog.Any("error", err))
			}
		}
		if q.Which.head() {
			fc.Head, err = s.readFile(ctx, head, f.Path, limit)
			if err != nil {
				p.logger().Warn("read head content", slog.String("path", f.Path), slog.Any("error", err))
			}
		}
		out = append(out, fc)
	}
	return out, nil
}

func (p *pipeline) Branches(ctx context.Context, repoPath string) ([]Branch, error) {
	s, err := p.open(ctx, repoPath)
	if err != nil {
		return nil, rerrors.ErrRepositoryUnavailable(repoPath, err)
	}
	branches, err := s.remoteBranches(ctx, defaultRemote)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ToolInvocationFailure, "list branches", err)
	}
	return branches, nil
}
