package gitdiff

import (
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-set/v2"
	"github.com/samber/lo"
)

// hydrated is what a session learned about one file before the byte budget
// is applied.
type hydrated struct {
	additions int
	deletions int
	binary    bool
	// nil when not produced: failed, not requested or over the output cap.
	patch      *string
	oldContent *string
	newContent *string
	// Lower bounds for artifacts that exceeded the tool output cap.
	patchOver, oldOver, newOver int
	// degraded is set when a per-file step failed.
	degraded bool
}

func (h hydrated) oversized() bool {
	return h.patchOver > 0 || h.oldOver > 0 || h.newOver > 0
}

type assembler struct {
	exclude   []string
	normalize bool
	include   bool
	budget    int
	log       *slog.Logger
}

func (a assembler) excluded(path string) bool {
	for _, pattern := range a.exclude {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// assemble hydrates every change in enumerator order, then untracked files,
// dropping excluded paths and no-op modifications.
func (a assembler) assemble(
	tracked []TrackedChange,
	untracked []string,
	hydrateTracked func(TrackedChange) hydrated,
	hydrateUntracked func(path string) hydrated,
) []DiffEntry {
	entries := make([]DiffEntry, 0, len(tracked)+len(untracked))
	seen := set.New[string](len(tracked))
	for _, ch := range tracked {
		seen.Insert(ch.Path)
		if a.excluded(ch.Path) {
			continue
		}
		h := hydrateTracked(ch)
		if isNoise(ch, h) {
			a.log.Debug("dropping no-op change", slog.String("path", ch.Path))
			continue
		}
		entries = append(entries, a.build(ch, h))
	}
	for _, path := range untracked {
		if seen.Contains(path) {
			a.log.Debug("untracked path already reported", slog.String("path", path))
			continue
		}
		seen.Insert(path)
		if a.excluded(path) {
			continue
		}
		ch := TrackedChange{Status: StatusAdded, Path: path}
		entries = append(entries, a.build(ch, hydrateUntracked(path)))
	}
	return entries
}

// isNoise reports a modification that changes no lines and yields no patch
// text, such as a stat-only index refresh. Mode changes carry "old mode" /
// "new mode" patch headers and are kept.
func isNoise(ch TrackedChange, h hydrated) bool {
	if ch.Status != StatusModified || h.binary || h.additions != 0 || h.deletions != 0 {
		return false
	}
	if h.oversized() || h.degraded {
		return false
	}
	return h.patch == nil || *h.patch == ""
}

// build turns hydrated data into a DiffEntry, embedding as much as fits the
// byte budget.
func (a assembler) build(ch TrackedChange, h hydrated) DiffEntry {
	e := DiffEntry{
		FilePath: ch.Path,
		Status:   ch.Status,
		Language: languageFor(ch.Path),
	}
	if ch.Status == StatusRenamed {
		e.OldPath = ch.OldPath
	}
	if h.binary {
		e.IsBinary = true
		fillEmptySides(&e)
		return e
	}
	e.Additions, e.Deletions = h.additions, h.deletions

	patch := h.patch
	if patch != nil && a.normalize {
		patch = lo.ToPtr(NormalizePatch(*patch))
	}
	oldContent, newContent := h.oldContent, h.newContent
	if !a.include {
		oldContent, newContent = nil, nil
	}
	switch ch.Status {
	case StatusAdded:
		oldContent = lo.ToPtr("")
	case StatusDeleted:
		newContent = lo.ToPtr("")
	}

	total := 0
	size := func(content *string, over int) *int {
		switch {
		case content != nil:
			total += len(*content)
			return lo.ToPtr(len(*content))
		case over > 0:
			total += over
			return lo.ToPtr(over)
		}
		return nil
	}
	e.PatchSize = size(patch, h.patchOver)
	if a.include {
		e.OldSize = size(oldContent, h.oldOver)
		e.NewSize = size(newContent, h.newOver)
	} else {
		e.OldSize = size(oldContent, 0)
		e.NewSize = size(newContent, 0)
	}

	if !h.oversized() && !h.degraded && total <= a.budget {
		e.Patch = patch
		if a.include {
			e.OldContent, e.NewContent = oldContent, newContent
		}
		fillEmptySides(&e)
		return e
	}

	e.ContentOmitted = true
	if patch != nil && len(*patch) <= a.budget {
		e.Patch = patch
	}
	fillEmptySides(&e)
	return e
}

// fillEmptySides pins the missing side of added and deleted files to an
// empty content of size zero.
func fillEmptySides(e *DiffEntry) {
	switch e.Status {
	case StatusAdded:
		e.OldContent, e.OldSize = lo.ToPtr(""), lo.ToPtr(0)
	case StatusDeleted:
		e.NewContent, e.NewSize = lo.ToPtr(""), lo.ToPtr(0)
	}
}

// invertEntries turns head→working-tree entries into working-tree→head
// entries.
func invertEntries(entries []DiffEntry) []DiffEntry {
	return lo.Map(entries, func(e DiffEntry, _ int) DiffEntry {
		out := e
		out.Additions, out.Deletions = e.Deletions, e.Additions
		out.OldContent, out.NewContent = e.NewContent, e.OldContent
		out.OldSize, out.NewSize = e.NewSize, e.OldSize
		switch e.Status {
		case StatusAdded:
			out.Status = StatusDeleted
		case StatusDeleted:
			out.Status = StatusAdded
		case StatusRenamed:
			out.FilePath, out.OldPath = e.OldPath, e.FilePath
			out.Language = languageFor(out.FilePath)
		}
		if e.Patch != nil {
			out.Patch = lo.ToPtr(ReversePatch(*e.Patch))
			out.PatchSize = lo.ToPtr(len(*out.Patch))
		}
		return out
	})
}
