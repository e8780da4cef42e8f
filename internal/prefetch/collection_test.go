package prefetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

func TestCollectionMerge(t *testing.T) {
	t.Parallel()
	coll := NewCollection([]gitdiff.DiffEntry{
		{FilePath: "added.txt", Status: gitdiff.StatusAdded, ContentOmitted: true},
		{FilePath: "deleted.txt", Status: gitdiff.StatusDeleted, ContentOmitted: true},
		{FilePath: "mod.txt", Status: gitdiff.StatusModified, ContentOmitted: true},
		{FilePath: "done.txt", Status: gitdiff.StatusModified},
	})

	merged := coll.Merge([]gitdiff.FileContent{
		{Path: "added.txt", Head: []byte("a\n")},
		{Path: "deleted.txt", Base: []byte("d\n")},
		{Path: "mod.txt", Head: []byte("only head\n")},
		{Path: "done.txt", Base: []byte("x"), Head: []byte("y")},
		{Path: "unknown.txt", Base: []byte("x"), Head: []byte("y")},
	})
	assert.Equal(t, 2, merged)

	added, _ := coll.Get("added.txt")
	assert.False(t, added.ContentOmitted)
	assert.Equal(t, "", *added.OldContent)
	assert.Equal(t, 0, *added.OldSize)
	assert.Equal(t, "a\n", *added.NewContent)

	deleted, _ := coll.Get("deleted.txt")
	assert.False(t, deleted.ContentOmitted)
	assert.Equal(t, "", *deleted.NewContent)
	assert.Equal(t, 0, *deleted.NewSize)

	mod, _ := coll.Get("mod.txt")
	assert.True(t, mod.ContentOmitted, "a missing side keeps the entry omitted")
	assert.Nil(t, mod.NewContent)

	done, _ := coll.Get("done.txt")
	assert.Nil(t, done.OldContent)
}

type fakeReader struct {
	queries []gitdiff.ContentQuery
	result  func(q gitdiff.ContentQuery) []gitdiff.FileContent
}

func (f *fakeReader) Contents(ctx context.Context, q gitdiff.ContentQuery) ([]gitdiff.FileContent, error) {
	f.queries = append(f.queries, q)
	return f.result(q), nil
}

func TestLocalFetcher(t *testing.T) {
	t.Parallel()
	reader := &fakeReader{result: func(q gitdiff.ContentQuery) []gitdiff.FileContent {
		out := make([]gitdiff.FileContent, 0, len(q.Files))
		for _, f := range q.Files {
			out = append(out, gitdiff.FileContent{Path: f.Path, Base: []byte("base"), Head: []byte("head")})
		}
		return out
	}}

	res := &gitdiff.Result{Base: gitdiff.CompareBase{Commit: "abc"}, BaseRef: "main", HeadRef: "feature", HeadCommit: "def"}
	got, err := NewLocalFetcher(reader, "/repo", res).Fetch(context.Background(), []gitdiff.FileRef{{Path: "a"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("base"), got[0].Base)
	q := reader.queries[0]
	assert.Equal(t, "/repo", q.RepoPath)
	assert.Equal(t, "abc", q.Base)
	assert.Equal(t, "def", q.Head)
	assert.Equal(t, gitdiff.WhichBoth, q.Which)

	wt := &gitdiff.Result{Base: gitdiff.CompareBase{Commit: "abc"}, BaseRef: "main", WorkingTree: true}
	_, err = NewLocalFetcher(reader, "/repo", wt).Fetch(context.Background(), []gitdiff.FileRef{{Path: "a"}})
	require.NoError(t, err)
	assert.Equal(t, gitdiff.WorkingTree, reader.queries[1].Head)

	inverted := &gitdiff.Result{Base: gitdiff.CompareBase{Commit: "abc"}, BaseRef: gitdiff.WorkingTree, HeadRef: "main", WorkingTree: true}
	got, err = NewLocalFetcher(reader, "/repo", inverted).Fetch(context.Background(), []gitdiff.FileRef{
		{Path: "old-name.txt", PreviousPath: "new-name.txt"},
	})
	require.NoError(t, err)
	q = reader.queries[2]
	assert.Equal(t, gitdiff.WorkingTree, q.Head)
	assert.Equal(t, []gitdiff.FileRef{{Path: "new-name.txt", PreviousPath: "old-name.txt"}}, q.Files)
	assert.Equal(t, gitdiff.FileContent{Path: "old-name.txt", Base: []byte("head"), Head: []byte("base")}, got[0])
}
