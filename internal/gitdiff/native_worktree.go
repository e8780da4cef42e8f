package gitdiff

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/go-enry/go-enry/v2"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/hashicorp/go-set/v2"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/thiagokokada/refdiff/internal/linediff"
)

var emptyBlob = plumbing.ComputeHash(plumbing.BlobObject, nil)

type blobEntry struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

// worktreeChange is one file that differs between a commit and the working
// tree. base is zero for additions and cur for deletions.
type worktreeChange struct {
	status     Status
	path       string
	oldPath    string
	base       blobEntry
	cur        blobEntry
	similarity int
}

func (c worktreeChange) basePath() string {
	if c.oldPath != "" {
		return c.oldPath
	}
	return c.path
}

// enumerateWorktree compares the base tree against the files git tracks in
// the working tree.
func (s *nativeSession) enumerateWorktree(ctx context.Context, base string) ([]TrackedChange, []string, error) {
	if s.root == "" {
		return nil, nil, errors.New("repository has no working tree")
	}
	wt, err := s.repo.Worktree()
	if err != nil {
		return nil, nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, nil, fmt.Errorf("worktree status: %w", err)
	}
	idx, err := s.repo.Storer.Index()
	if err != nil {
		return nil, nil, fmt.Errorf("read index: %w", err)
	}
	baseTree, err := s.tree(base)
	if err != nil {
		return nil, nil, err
	}
	baseFiles := make(map[string]blobEntry)
	err = baseTree.Files().ForEach(func(f *object.File) error {
		baseFiles[f.Name] = blobEntry{hash: f.Hash, mode: f.Mode}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var changes []worktreeChange
	indexed := set.New[string](len(idx.Entries))
	for _, e := range idx.Entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if e.Mode == filemode.Submodule || indexed.Contains(e.Name) {
			continue
		}
		indexed.Insert(e.Name)
		cur, present, err := s.worktreeEntry(e, status)
		if err != nil {
			s.log.Warn("stat worktree file", slog.String("path", e.Name), slog.Any("error", err))
			continue
		}
		b, inBase := baseFiles[e.Name]
		switch {
		case !present && inBase:
			changes = append(changes, worktreeChange{status: StatusDeleted, path: e.Name, base: b})
		case !present:
		case !inBase:
			changes = append(changes, worktreeChange{status: StatusAdded, path: e.Name, cur: cur})
		case b != cur:
			changes = append(changes, worktreeChange{status: StatusModified, path: e.Name, base: b, cur: cur})
		}
	}
	for name, b := range baseFiles {
		if !indexed.Contains(name) {
			changes = append(changes, worktreeChange{status: StatusDeleted, path: name, base: b})
		}
	}
	changes = s.pairSimilarRenames(pairExactRenames(changes))
	sort.Slice(changes, func(i, j int) bool { return changes[i].path < changes[j].path })

	tracked := make([]TrackedChange, 0, len(changes))
	for _, c := range changes {
		s.worktree[c.path] = c
		tracked = append(tracked, TrackedChange{Status: c.status, Path: c.path, OldPath: c.oldPath})
	}

	var untracked []string
	for path, st := range status {
		if st.Worktree == gitlib.Untracked {
			untracked = append(untracked, path)
		}
	}
	sort.Strings(untracked)
	return tracked, untracked, nil
}

// worktreeEntry returns the blob the working tree holds for an index entry.
// Files status reports as clean reuse the index hash.
func (s *nativeSession) worktreeEntry(e *index.Entry, status gitlib.Status) (blobEntry, bool, error) {
	st, ok := status[e.Name]
	if !ok || st.Worktree == gitlib.Unmodified {
		return blobEntry{hash: e.Hash, mode: e.Mode}, true, nil
	}
	if st.Worktree == gitlib.Deleted {
		return blobEntry{}, false, nil
	}
	entry, err := s.hashWorktree(e.Name)
	if isNotExist(err) {
		return blobEntry{}, false, nil
	}
	return entry, err == nil, err
}

func (s *nativeSession) hashWorktree(path string) (blobEntry, error) {
	full, err := worktreePath(s.root, path)
	if err != nil {
		return blobEntry{}, err
	}
	fi, err := os.Lstat(full)
	if err != nil {
		return blobEntry{}, err
	}
	mode, err := filemode.NewFromOSFileMode(fi.Mode())
	if err != nil {
		return blobEntry{}, err
	}
	sd, err := worktreeSide(s.root, path)
	if err != nil {
		return blobEntry{}, err
	}
	hash, err := sd.hash()
	if err != nil {
		return blobEntry{}, err
	}
	return blobEntry{hash: hash, mode: mode}, nil
}

// pairExactRenames turns a deletion and an addition of the same non-empty
// blob into one rename.
func pairExactRenames(changes []worktreeChange) []worktreeChange {
	sort.Slice(changes, func(i, j int) bool { return changes[i].path < changes[j].path })
	added := make(map[plumbing.Hash][]int)
	for i, c := range changes {
		if c.status == StatusAdded && c.cur.hash != emptyBlob {
			added[c.cur.hash] = append(added[c.cur.hash], i)
		}
	}
	paired := set.New[int](0)
	for i, c := range changes {
		if c.status != StatusDeleted {
			continue
		}
		candidates := added[c.base.hash]
		if len(candidates) == 0 {
			continue
		}
		j := candidates[0]
		added[c.base.hash] = candidates[1:]
		changes[j].status = StatusRenamed
		changes[j].oldPath = c.path
		changes[j].base = c.base
		changes[j].similarity = 100
		paired.Insert(i)
	}
	return dropPaired(changes, paired)
}

func dropPaired(changes []worktreeChange, paired *set.Set[int]) []worktreeChange {
	out := changes[:0]
	for i, c := range changes {
		if !paired.Contains(i) {
			out = append(out, c)
		}
	}
	return out
}

const (
	// minSimilarity is git's default rename threshold, in percent.
	minSimilarity = 50
	// renameLimit matches git's diff.renameLimit default.
	renameLimit = 1000
)

// pairSimilarRenames pairs the deletions and additions left after exact
// matching whose text is at least minSimilarity percent alike. The best
// scoring pairs win.
func (s *nativeSession) pairSimilarRenames(changes []worktreeChange) []worktreeChange {
	var deleted, added []int
	for i, c := range changes {
		switch c.status {
		case StatusDeleted:
			deleted = append(deleted, i)
		case StatusAdded:
			added = append(added, i)
		}
	}
	if len(deleted) == 0 || len(added) == 0 || len(deleted)*len(added) > renameLimit*renameLimit {
		return changes
	}

	texts := make(map[int]*string)
	load := func(i int) *string {
		if t, ok := texts[i]; ok {
			return t
		}
		t := s.renameText(changes[i])
		texts[i] = t
		return t
	}
	type candidate struct{ del, add, score int }
	var candidates []candidate
	for _, d := range deleted {
		oldText := load(d)
		if oldText == nil {
			continue
		}
		for _, a := range added {
			newText := load(a)
			if newText == nil {
				continue
			}
			if score := similarity(*oldText, *newText); score >= minSimilarity {
				candidates = append(candidates, candidate{del: d, add: a, score: score})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	used := set.New[int](len(candidates))
	for _, c := range candidates {
		if used.Contains(c.del) || used.Contains(c.add) {
			continue
		}
		used.Insert(c.del)
		used.Insert(c.add)
		changes[c.add].status = StatusRenamed
		changes[c.add].oldPath = changes[c.del].path
		changes[c.add].base = changes[c.del].base
		changes[c.add].similarity = c.score
	}
	paired := set.New[int](len(deleted))
	for _, d := range deleted {
		if used.Contains(d) {
			paired.Insert(d)
		}
	}
	return dropPaired(changes, paired)
}

// renameText loads the side a rename candidate contributes. Empty, binary
// and over-cap files never take part.
func (s *nativeSession) renameText(c worktreeChange) *string {
	var (
		sd  side
		err error
	)
	if c.status == StatusDeleted {
		sd, err = s.blobSide(c.base.hash)
	} else {
		sd, err = worktreeSide(s.root, c.path)
	}
	if err != nil || sd.size == 0 || s.overCap(sd) {
		return nil
	}
	data, err := sd.read()
	if err != nil || enry.IsBinary(data) {
		return nil
	}
	text := string(data)
	return &text
}

// similarity scores how much of the larger text survives unchanged.
func similarity(oldText, newText string) int {
	oldLines, newLines := linediff.Lines(oldText), linediff.Lines(newText)
	_, dels := linediff.Count(oldText, newText)
	return (oldLines - dels) * 100 / max(oldLines, newLines)
}

func (s *nativeSession) hydrateWorktree(c worktreeChange, include bool) hydrated {
	var h hydrated
	log := s.log.With(slog.String("path", c.path))
	var oldSide, newSide side
	if c.status != StatusAdded {
		sd, err := s.blobSide(c.base.hash)
		if err != nil {
			log.Warn("open base blob", slog.Any("error", err))
			return hydrated{degraded: true}
		}
		oldSide = sd
	}
	if c.status != StatusDeleted {
		sd, err := worktreeSide(s.root, c.path)
		if err != nil {
			log.Warn("open worktree file", slog.Any("error", err))
			return hydrated{degraded: true}
		}
		newSide = sd
	}
	if s.overCap(oldSide, newSide) {
		return s.hydrateLarge(oldSide, newSide, include, log)
	}

	oldData, err := oldSide.read()
	if err != nil {
		log.Warn("read base blob", slog.Any("error", err))
		return hydrated{degraded: true}
	}
	newData, err := newSide.read()
	if err != nil {
		log.Warn("read worktree file", slog.Any("error", err))
		return hydrated{degraded: true}
	}
	if enry.IsBinary(oldData) || enry.IsBinary(newData) {
		h.binary = true
		return h
	}

	oldText, newText := string(oldData), string(newData)
	h.additions, h.deletions = linediff.Count(oldText, newText)
	if include {
		h.oldContent, h.oldOver = s.capped(oldText, oldSide.present)
		h.newContent, h.newOver = s.capped(newText, newSide.present)
	}
	if len(oldData) > s.maxOutput || len(newData) > s.maxOutput {
		h.patchOver = s.maxOutput + 1
		return h
	}
	patch, err := worktreePatch(c, oldText, newText)
	switch {
	case err != nil:
		log.Warn("patch", slog.Any("error", err))
		h.degraded = true
	case len(patch) > s.maxOutput:
		h.patchOver = len(patch)
	default:
		h.patch = &patch
	}
	return h
}

func (s *nativeSession) capped(text string, present bool) (*string, int) {
	if !present {
		return nil, 0
	}
	if len(text) > s.maxOutput {
		return nil, len(text)
	}
	return &text, 0
}

func (s *nativeSession) hydrateUntracked(_ context.Context, path string, include bool) hydrated {
	cur, err := s.hashWorktree(path)
	if err != nil {
		s.log.Warn("read untracked file", slog.String("path", path), slog.Any("error", err))
		return hydrated{degraded: true}
	}
	return s.hydrateWorktree(worktreeChange{status: StatusAdded, path: path, cur: cur}, include)
}

// worktreePatch renders a git style patch for a working tree change.
func worktreePatch(c worktreeChange, oldText, newText string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git %s %s\n", quoteDiffPath("a/"+c.basePath()), quoteDiffPath("b/"+c.path))
	switch c.status {
	case StatusAdded:
		fmt.Fprintf(&b, "new file mode %s\n", modeString(c.cur.mode))
	case StatusDeleted:
		fmt.Fprintf(&b, "deleted file mode %s\n", modeString(c.base.mode))
	default:
		if c.base.mode != c.cur.mode {
			fmt.Fprintf(&b, "old mode %s\nnew mode %s\n", modeString(c.base.mode), modeString(c.cur.mode))
		}
		if c.status == StatusRenamed {
			fmt.Fprintf(&b, "similarity index %d%%\nrename from %s\nrename to %s\n", c.similarity, quoteDiffPath(c.oldPath), quoteDiffPath(c.path))
		}
	}
	if c.base.hash == c.cur.hash {
		return b.String(), nil
	}
	fmt.Fprintf(&b, "index %s..%s", shortHash(c.base.hash), shortHash(c.cur.hash))
	if c.status == StatusModified && c.base.mode == c.cur.mode {
		fmt.Fprintf(&b, " %s", modeString(c.cur.mode))
	}
	b.WriteByte('\n')
	if oldText == newText {
		return b.String(), nil
	}

	from, to := quoteDiffPath("a/"+c.basePath()), quoteDiffPath("b/"+c.path)
	if c.status == StatusAdded {
		from = "/dev/null"
	}
	if c.status == StatusDeleted {
		to = "/dev/null"
	}
	body, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        patchLines(oldText),
		B:        patchLines(newText),
		FromFile: from,
		ToFile:   to,
		Context:  3,
	})
	if err != nil {
		return "", err
	}
	b.WriteString(body)
	return b.String(), nil
}

// patchLines splits text into newline terminated lines. A missing final
// newline is carried as git's marker line so it takes part in the diff.
func patchLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if last := len(lines) - 1; lines[last] == "" {
		lines = lines[:last]
	} else {
		lines[last] += "\n\\ No newline at end of file\n"
	}
	return lines
}

func modeString(m filemode.FileMode) string {
	return fmt.Sprintf("%06o", uint32(m))
}

func shortHash(h plumbing.Hash) string {
	if h.IsZero() {
		return "0000000"
	}
	return h.String()[:7]
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
