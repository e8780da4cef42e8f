// Package prefetch backfills file contents that a comparison omitted for
// size.
package prefetch

import (
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

// Collection is a caller-held set of entries, updated in place by filePath.
type Collection struct {
	mu      sync.RWMutex
	entries []gitdiff.DiffEntry
	index   map[string]int
}

func NewCollection(entries []gitdiff.DiffEntry) *Collection {
	c := &Collection{
		entries: slices.Clone(entries),
		index:   make(map[string]int, len(entries)),
	}
	for i, e := range c.entries {
		c.index[e.FilePath] = i
	}
	return c
}

// Entries returns a snapshot in the original order.
func (c *Collection) Entries() []gitdiff.DiffEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries)
}

func (c *Collection) Get(path string) (gitdiff.DiffEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[path]
	if !ok {
		return gitdiff.DiffEntry{}, false
	}
	return c.entries[i], true
}

// Omitted returns the entries still waiting for content.
func (c *Collection) Omitted() []gitdiff.DiffEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Filter(c.entries, func(e gitdiff.DiffEntry, _ int) bool { return e.ContentOmitted })
}

// Merge applies fetched contents and returns how many entries were
// completed. An entry only changes when every side it needs arrived.
func (c *Collection) Merge(contents []gitdiff.FileContent) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := 0
	for _, fc := range contents {
		i, ok := c.index[fc.Path]
		if !ok || !c.entries[i].ContentOmitted {
			continue
		}
		if fill(&c.entries[i], fc) {
			merged++
		}
	}
	return merged
}

func fill(e *gitdiff.DiffEntry, fc gitdiff.FileContent) bool {
	needBase := e.Status != gitdiff.StatusAdded
	needHead := e.Status != gitdiff.StatusDeleted
	if (needBase && fc.Base == nil) || (needHead && fc.Head == nil) {
		return false
	}
	oldContent, newContent := "", ""
	if needBase {
		oldContent = string(fc.Base)
	}
	if needHead {
		newContent = string(fc.Head)
	}
	e.OldContent = lo.ToPtr(oldContent)
	e.NewContent = lo.ToPtr(newContent)
	e.OldSize = lo.ToPtr(len(oldContent))
	e.NewSize = lo.ToPtr(len(newContent))
	e.ContentOmitted = false
	return true
}
