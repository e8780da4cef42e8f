package gitdiff

import (
	"context"
	"errors"
	"testing"

	rerrors "github.com/thiagokokada/refdiff/internal/errors"
)

type fakeProvider struct {
	ensureFunc func(src Source) (string, error)
	last       Source
	leased     int
	released   int
}

func (f *fakeProvider) Ensure(_ context.Context, src Source) (string, func(), error) {
	f.last = src
	if f.ensureFunc == nil {
		return "", nil, errors.New("unexpected Ensure call")
	}
	path, err := f.ensureFunc(src)
	if err != nil {
		return "", nil, err
	}
	f.leased++
	return path, func() { f.released++ }, nil
}

type fakeEngine struct {
	compareFunc func(req Request) (*Result, error)
	lastRequest Request
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Compare(_ context.Context, req Request) (*Result, error) {
	f.lastRequest = req
	if f.compareFunc != nil {
		return f.compareFunc(req)
	}
	return &Result{}, nil
}

func (f *fakeEngine) Contents(_ context.Context, q ContentQuery) ([]FileContent, error) {
	return []FileContent{{Path: q.RepoPath}}, nil
}

func (f *fakeEngine) Branches(_ context.Context, repoPath string) ([]Branch, error) {
	return []Branch{{Name: repoPath}}, nil
}

func TestDifferCompare(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{ensureFunc: func(Source) (string, error) { return "/cache/octo-repo", nil }}
	e := &fakeEngine{}
	d := NewDiffer(p, e, discardLogger())

	_, err := d.Compare(context.Background(), CompareArgs{
		Ref1:            "main",
		Ref2:            "feature",
		RepoFullName:    "octo/repo",
		CallerIdentity:  "token",
		IncludeContents: true,
		MaxTotalBytes:   10,
	})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if p.last.FullName != "octo/repo" || p.last.CallerIdentity != "token" {
		t.Fatalf("provider got %+v", p.last)
	}
	want := Request{RepoPath: "/cache/octo-repo", Base: "main", Head: "feature", IncludeContents: true, MaxTotalBytes: 10}
	if e.lastRequest != want {
		t.Fatalf("engine got %+v, want %+v", e.lastRequest, want)
	}
}

func TestDifferMapsProviderFailures(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{ensureFunc: func(Source) (string, error) { return "", errors.New("clone: authentication required") }}
	d := NewDiffer(p, &fakeEngine{}, discardLogger())

	_, err := d.Compare(context.Background(), CompareArgs{Ref1: "main", RepoURL: "https://example.com/x.git"})
	if !rerrors.HasCode(err, rerrors.RepositoryUnavailable) {
		t.Fatalf("Compare() error = %v, want repository_unavailable", err)
	}
	if !errors.Is(err, rerrors.New(rerrors.RepositoryUnavailable, "")) {
		t.Fatalf("errors.Is should match by code: %v", err)
	}
}

func TestDifferPropagatesEngineErrors(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{ensureFunc: func(Source) (string, error) { return "/repo", nil }}
	e := &fakeEngine{compareFunc: func(req Request) (*Result, error) {
		return nil, rerrors.ErrUnknownRef(req.Base, nil)
	}}
	d := NewDiffer(p, e, discardLogger())

	_, err := d.Compare(context.Background(), CompareArgs{Ref1: "nope", LocalPathOverride: "/repo"})
	if !rerrors.HasCode(err, rerrors.UnknownRef) {
		t.Fatalf("Compare() error = %v, want unknown_ref", err)
	}
}

func TestDifferValidatesInput(t *testing.T) {
	t.Parallel()
	d := NewDiffer(&fakeProvider{}, &fakeEngine{}, discardLogger())
	tests := []CompareArgs{
		{RepoFullName: "octo/repo"},
		{Ref1: "main"},
	}
	for _, args := range tests {
		if _, err := d.Compare(context.Background(), args); !rerrors.HasCode(err, rerrors.InvalidArgument) {
			t.Fatalf("Compare(%+v) error = %v, want invalid_argument", args, err)
		}
	}
}

func TestDifferContentsAndBranches(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{ensureFunc: func(Source) (string, error) { return "/repo", nil }}
	d := NewDiffer(p, &fakeEngine{}, discardLogger())
	src := Source{LocalPath: "/work/repo"}

	contents, err := d.Contents(context.Background(), src, ContentQuery{RepoPath: "ignored"})
	if err != nil || len(contents) != 1 || contents[0].Path != "/repo" {
		t.Fatalf("Contents() = %+v, %v", contents, err)
	}
	branches, err := d.Branches(context.Background(), src)
	if err != nil || len(branches) != 1 || branches[0].Name != "/repo" {
		t.Fatalf("Branches() = %+v, %v", branches, err)
	}
}

func TestDifferHoldsLeaseWhileEngineRuns(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{ensureFunc: func(Source) (string, error) { return "/cache/octo-repo", nil }}
	e := &fakeEngine{compareFunc: func(Request) (*Result, error) {
		if p.released != 0 {
			t.Errorf("lease released before the engine finished")
		}
		return nil, rerrors.ErrUnknownRef("nope", nil)
	}}
	d := NewDiffer(p, e, discardLogger())
	src := Source{FullName: "octo/repo"}

	if _, err := d.Compare(context.Background(), CompareArgs{Ref1: "nope", RepoFullName: "octo/repo"}); err == nil {
		t.Fatalf("Compare() should fail")
	}
	if _, err := d.Contents(context.Background(), src, ContentQuery{}); err != nil {
		t.Fatalf("Contents() error = %v", err)
	}
	if _, err := d.Branches(context.Background(), src); err != nil {
		t.Fatalf("Branches() error = %v", err)
	}
	if p.leased != 3 || p.released != 3 {
		t.Fatalf("leased %d, released %d; want 3 each", p.leased, p.released)
	}
}
