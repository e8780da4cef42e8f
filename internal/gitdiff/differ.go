package gitdiff

import (
	"cmp"
	"context"
	"log/slog"

	rerrors "github.com/thiagokokada/refdiff/internal/errors"
)

// Source identifies a repository to materialize locally.
type Source struct {
	FullName       string `json:"fullName,omitempty"`
	URL            string `json:"url,omitempty"`
	CallerIdentity string `json:"-"`
	LocalPath      string `json:"localPath,omitempty"`
}

// Location is the best human readable name of the source.
func (s Source) Location() string {
	return cmp.Or(s.LocalPath, s.URL, s.FullName)
}

// Provider makes a repository available on local disk and returns its path.
// The path stays valid until release is called.
type Provider interface {
	Ensure(ctx context.Context, src Source) (path string, release func(), err error)
}

// CompareArgs is the input of one comparison. Ref2 empty or WORKTREE means
// the working tree.
type CompareArgs struct {
	Ref1              string `json:"ref1"`
	Ref2              string `json:"ref2"`
	RepoFullName      string `json:"repoFullName,omitempty"`
	RepoURL           string `json:"repoUrl,omitempty"`
	CallerIdentity    string `json:"callerIdentity,omitempty"`
	LocalPathOverride string `json:"localPathOverride,omitempty"`
	IncludeContents   bool   `json:"includeContents,omitempty"`
	MaxTotalBytes     int    `json:"maxTotalBytes,omitempty"`
}

func (a CompareArgs) Source() Source {
	return Source{
		FullName:       a.RepoFullName,
		URL:            a.RepoURL,
		CallerIdentity: a.CallerIdentity,
		LocalPath:      a.LocalPathOverride,
	}
}

// Differ resolves a repository through a Provider and runs the active
// engine against it.
type Differ struct {
	provider Provider
	engine   Engine
	log      *slog.Logger
}

func NewDiffer(provider Provider, engine Engine, log *slog.Logger) *Differ {
	if log == nil {
		log = slog.Default()
	}
	return &Differ{provider: provider, engine: engine, log: log}
}

func (d *Differ) Engine() Engine { return d.engine }

func (d *Differ) ensure(ctx context.Context, src Source) (string, func(), error) {
	if src.Location() == "" {
		return "", nil, rerrors.ErrInvalidArgument("one of repoFullName, repoUrl or localPathOverride is required")
	}
	path, release, err := d.provider.Ensure(ctx, src)
	if err != nil {
		if rerrors.HasCode(err, rerrors.RepositoryUnavailable) || rerrors.HasCode(err, rerrors.InvalidArgument) {
			return "", nil, err
		}
		return "", nil, rerrors.ErrRepositoryUnavailable(src.Location(), err)
	}
	if release == nil {
		release = func() {}
	}
	return path, release, nil
}

func (d *Differ) Compare(ctx context.Context, args CompareArgs) (*Result, error) {
	if args.Ref1 == "" {
		return nil, rerrors.ErrInvalidArgument("ref1 is required")
	}
	path, release, err := d.ensure(ctx, args.Source())
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := d.engine.Compare(ctx, Request{
		RepoPath:        path,
		Base:            args.Ref1,
		Head:            args.Ref2,
		IncludeContents: args.IncludeContents,
		MaxTotalBytes:   args.MaxTotalBytes,
	})
	if err != nil {
		d.log.Debug("compare failed",
			slog.String("repository", args.Source().Location()),
			slog.String("code", string(rerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		return nil, err
	}
	return res, nil
}

// Contents serves the batch content endpoint. q.RepoPath is filled in from
// src.
func (d *Differ) Contents(ctx context.Context, src Source, q ContentQuery) ([]FileContent, error) {
	path, release, err := d.ensure(ctx, src)
	if err != nil {
		return nil, err
	}
	defer release()
	q.RepoPath = path
	return d.engine.Contents(ctx, q)
}

func (d *Differ) Branches(ctx context.Context, src Source) ([]Branch, error) {
	path, release, err := d.ensure(ctx, src)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.engine.Branches(ctx, path)
}
