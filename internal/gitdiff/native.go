package gitdiff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// NativeEngine reads the object database in process with go-git. It needs
// no git binary but supports fewer repository layouts than CLIEngine.
type NativeEngine struct {
	pipeline
}

func NewNativeEngine(opts Options) *NativeEngine {
	e := &NativeEngine{}
	e.pipeline = pipeline{name: EngineNative, opts: opts.withDefaults(), open: e.openSession}
	return e
}

func (e *NativeEngine) openSession(_ context.Context, repoPath string) (session, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	s := &nativeSession{
		repo:      repo,
		maxOutput: e.opts.MaxOutputBytes,
		log:       e.opts.Logger,
		changes:   make(map[string]*object.Change),
		worktree:  make(map[string]worktreeChange),
	}
	if wt, err := repo.Worktree(); err == nil {
		s.root = wt.Filesystem.Root()
	}
	return s, nil
}

type nativeSession struct {
	repo      *gitlib.Repository
	root      string
	maxOutput int
	log       *slog.Logger

	// Filled by enumerate, keyed by new path.
	changes  map[string]*object.Change
	worktree map[string]worktreeChange
}

func (s *nativeSession) resolveCandidate(_ context.Context, candidate string) (string, error) {
	hash, err := s.repo.ResolveRevision(plumbing.Revision(candidate))
	if err != nil {
		return "", err
	}
	commit, err := s.repo.CommitObject(*hash)
	if err != nil {
		return "", err
	}
	return commit.Hash.String(), nil
}

func (s *nativeSession) headCommit(_ context.Context) (string, error) {
	ref, err := s.repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func (s *nativeSession) commit(hash string) (*object.Commit, error) {
	return s.repo.CommitObject(plumbing.NewHash(hash))
}

func (s *nativeSession) mergeBase(_ context.Context, a, b string) (string, error) {
	ca, err := s.commit(a)
	if err != nil {
		return "", err
	}
	cb, err := s.commit(b)
	if err != nil {
		return "", err
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return "", err
	}
	if len(bases) == 0 {
		return "", errNoMergeBase
	}
	return bases[0].Hash.String(), nil
}

func (s *nativeSession) upstream(_ context.Context, ref string) (string, bool) {
	cfg, err := s.repo.Config()
	if err != nil {
		return "", false
	}
	b, ok := cfg.Branches[strings.TrimPrefix(ref, "refs/heads/")]
	if !ok || b.Remote == "" || b.Merge == "" {
		return "", false
	}
	return b.Remote + "/" + b.Merge.Short(), true
}

func (s *nativeSession) fetchDepth(ctx context.Context, remote string, branches []string, depth int) error {
	specs := make([]config.RefSpec, 0, len(branches))
	for _, b := range branches {
		specs = append(specs, config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", b, remote, b)))
	}
	err := s.repo.FetchContext(ctx, &gitlib.FetchOptions{
		RemoteName: remote,
		RefSpecs:   specs,
		Depth:      depth,
		Tags:       gitlib.NoTags,
	})
	if errors.Is(err, gitlib.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

func (s *nativeSession) enumerate(ctx context.Context, base string, head revision) ([]TrackedChange, []string, error) {
	if head.worktree {
		return s.enumerateWorktree(ctx, base)
	}
	baseTree, err := s.tree(base)
	if err != nil {
		return nil, nil, err
	}
	headTree, err := s.tree(head.commit)
	if err != nil {
		return nil, nil, err
	}
	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, nil, err
	}

	tracked := make([]TrackedChange, 0, len(changes))
	for _, change := range changes {
		ch, err := trackedFromChange(change)
		if err != nil {
			return nil, nil, err
		}
		s.changes[ch.Path] = change
		tracked = append(tracked, ch)
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].Path < tracked[j].Path })
	return tracked, nil, nil
}

func (s *nativeSession) tree(hash string) (*object.Tree, error) {
	c, err := s.commit(hash)
	if err != nil {
		return nil, err
	}
	return c.Tree()
}

func trackedFromChange(change *object.Change) (TrackedChange, error) {
	action, err := change.Action()
	if err != nil {
		return TrackedChange{}, err
	}
	switch action {
	case merkletrie.Insert:
		return TrackedChange{Status: StatusAdded, Path: change.To.Name}, nil
	case merkletrie.Delete:
		return TrackedChange{Status: StatusDeleted, Path: change.From.Name}, nil
	default:
		if change.From.Name != change.To.Name {
			return TrackedChange{Status: StatusRenamed, Path: change.To.Name, OldPath: change.From.Name}, nil
		}
		return TrackedChange{Status: StatusModified, Path: change.To.Name}, nil
	}
}

func (s *nativeSession) hydrate(ctx context.Context, _ string, head revision, ch TrackedChange, include bool) hydrated {
	if head.worktree {
		wc, ok := s.worktree[ch.Path]
		if !ok {
			s.log.Warn("no enumerated worktree change", slog.String("path", ch.Path))
			return hydrated{degraded: true}
		}
		return s.hydrateWorktree(wc, include)
	}

	var h hydrated
	log := s.log.With(slog.String("path", ch.Path))
	change, ok := s.changes[ch.Path]
	if !ok {
		log.Warn("no enumerated change")
		return hydrated{degraded: true}
	}
	from, to, err := change.Files()
	if err != nil {
		log.Warn("load blobs", slog.Any("error", err))
		return hydrated{degraded: true}
	}
	for _, f := range []*object.File{from, to} {
		if f == nil {
			continue
		}
		if bin, err := f.IsBinary(); err == nil && bin {
			h.binary = true
			return h
		}
	}

	oldSide, newSide := fileSide(from), fileSide(to)
	if s.overCap(oldSide, newSide) {
		return s.hydrateLarge(oldSide, newSide, include, log)
	}
	if include {
		h.oldContent, h.oldOver = s.sideContent(oldSide, &h, log)
		h.newContent, h.newOver = s.sideContent(newSide, &h, log)
	}

	patch, err := change.PatchContext(ctx)
	if err != nil {
		log.Warn("patch", slog.Any("error", err))
		h.degraded = true
		return h
	}
	for _, stat := range patch.Stats() {
		h.additions += stat.Addition
		h.deletions += stat.Deletion
	}
	text, err := encodeUnifiedPatch(patch.FilePatches())
	switch {
	case err != nil:
		log.Warn("encode patch", slog.Any("error", err))
		h.degraded = true
	case len(text) > s.maxOutput:
		h.patchOver = len(text)
	default:
		h.patch = &text
	}
	return h
}

func (s *nativeSession) readFile(_ context.Context, rev revision, path string, limit int) ([]byte, error) {
	if rev.worktree {
		if s.root == "" {
			return nil, errors.New("repository has no working tree")
		}
		data, err := readWorktreeFile(s.root, path, limit)
		if isOutputLimit(err) || isNotExist(err) {
			return nil, nil
		}
		return data, err
	}
	tree, err := s.tree(rev.commit)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(path)
	if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && f.Size > int64(limit) {
		return nil, nil
	}
	content, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

func (s *nativeSession) remoteBranches(_ context.Context, remote string) ([]Branch, error) {
	refs, err := s.repo.References()
	if err != nil {
		return nil, err
	}
	defer refs.Close()

	prefix := "refs/remotes/" + remote + "/"
	var out []Branch
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if ref.Type() != plumbing.HashReference || !strings.HasPrefix(name, prefix) {
			return nil
		}
		short := strings.TrimPrefix(name, prefix)
		if short == "HEAD" {
			return nil
		}
		out = append(out, Branch{Name: short, Hash: ref.Hash().String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func encodeUnifiedPatch(filePatches []diff.FilePatch) (string, error) {
	var buf bytes.Buffer
	enc := diff.NewUnifiedEncoder(&buf, diff.DefaultContextLines)
	if err := enc.Encode(filePatchSet{patches: filePatches}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type filePatchSet struct {
	patches []diff.FilePatch
}

func (f filePatchSet) FilePatches() []diff.FilePatch { return f.patches }
func (filePatchSet) Message() string                 { return "" }
