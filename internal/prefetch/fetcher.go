package prefetch

import (
	"context"

	"github.com/samber/lo"

	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

// Fetcher retrieves full contents for one batch of files.
// contentapi.Batch satisfies it over HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error)
}

type FetcherFunc func(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error)

func (f FetcherFunc) Fetch(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
	return f(ctx, files)
}

// ContentReader is the part of gitdiff.Engine a LocalFetcher needs.
type ContentReader interface {
	Contents(ctx context.Context, q gitdiff.ContentQuery) ([]gitdiff.FileContent, error)
}

// LocalFetcher reads contents in-process through the active engine.
type LocalFetcher struct {
	reader   ContentReader
	query    gitdiff.ContentQuery
	inverted bool
}

// NewLocalFetcher reads the sides that res was computed from.
func NewLocalFetcher(reader ContentReader, repoPath string, res *gitdiff.Result) *LocalFetcher {
	q := gitdiff.ContentQuery{
		RepoPath: repoPath,
		Base:     res.Base.Commit,
		Head:     gitdiff.WorkingTree,
		Which:    gitdiff.WhichBoth,
	}
	if !res.WorkingTree && !res.Inverted() {
		q.Head = res.HeadCommit
	}
	return &LocalFetcher{reader: reader, query: q, inverted: res.Inverted()}
}

func (f *LocalFetcher) Fetch(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
	q := f.query
	q.Files = files
	if !f.inverted {
		return f.reader.Contents(ctx, q)
	}
	// The query runs forward (head ref against the working tree), so the
	// sides and rename paths are swapped on the way in and out.
	q.Files = lo.Map(files, func(ref gitdiff.FileRef, _ int) gitdiff.FileRef {
		if ref.PreviousPath == "" {
			return ref
		}
		return gitdiff.FileRef{Path: ref.PreviousPath, PreviousPath: ref.Path}
	})
	contents, err := f.reader.Contents(ctx, q)
	if err != nil {
		return nil, err
	}
	return lo.Map(contents, func(fc gitdiff.FileContent, i int) gitdiff.FileContent {
		return gitdiff.FileContent{Path: files[i].Path, Base: fc.Head, Head: fc.Base}
	}), nil
}
