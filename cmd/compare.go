package cmd

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/thiagokokada/refdiff/internal/config"
	"github.com/thiagokokada/refdiff/internal/contentapi"
	"github.com/thiagokokada/refdiff/internal/gitdiff"
	"github.com/thiagokokada/refdiff/internal/prefetch"
	"github.com/thiagokokada/refdiff/internal/retry"
)

type CompareCmd struct {
	Base string `arg:"" help:"Base ref."`
	Head string `arg:"" optional:"" help:"Head ref. The working tree when omitted."`
	SourceFlags

	JSON          bool `help:"Print the result as JSON."`
	Patch         bool `short:"p" help:"Print patches."`
	NoContents    bool `help:"Do not embed full file contents."`
	Prefetch      bool `help:"Fetch contents that were omitted for size before printing."`
	MaxTotalBytes int  `help:"Per-file budget for patch and contents in bytes."`
}

func (c *CompareCmd) Run(g *Globals) error {
	a, err := g.app()
	if err != nil {
		return err
	}
	defer a.Close()

	src := c.source()
	res, err := a.differ.Compare(g.ctx, gitdiff.CompareArgs{
		Ref1:              c.Base,
		Ref2:              c.Head,
		RepoFullName:      src.FullName,
		RepoURL:           src.URL,
		CallerIdentity:    src.CallerIdentity,
		LocalPathOverride: src.LocalPath,
		IncludeContents:   a.cfg.Diff.IncludeContents && !c.NoContents,
		MaxTotalBytes:     cmp.Or(c.MaxTotalBytes, a.cfg.Diff.MaxTotalBytes),
	})
	if err != nil {
		return err
	}
	if c.Prefetch {
		res.Entries = backfill(g.ctx, g.stderr, a, src, res)
	}
	if c.JSON {
		return writeJSON(g.stdout, res)
	}
	printResult(g.stdout, res, c.Patch)
	return nil
}

// fetcherFor picks the remote content endpoint when one is configured and
// reads through the local engine otherwise.
func fetcherFor(cfg *config.Config, d *gitdiff.Differ, src gitdiff.Source, res *gitdiff.Result) prefetch.Fetcher {
	if cfg.Prefetch.Endpoint != "" && !res.Inverted() {
		head := res.HeadCommit
		if res.WorkingTree {
			head = gitdiff.WorkingTree
		}
		return contentapi.Batch{
			Client: contentapi.NewClient(cfg.Prefetch.Endpoint,
				contentapi.WithRateLimit(cfg.Prefetch.RequestsPerSecond, cfg.Prefetch.Concurrency),
				contentapi.WithToken(src.CallerIdentity),
			),
			Repo: contentapi.Repo{
				FullName:  src.FullName,
				URL:       src.URL,
				LocalPath: src.LocalPath,
				BaseRef:   res.Base.Commit,
				HeadRef:   head,
			},
			Which:        gitdiff.WhichBoth,
			MaxFileBytes: cfg.Prefetch.MaxFileBytes,
		}
	}
	return prefetch.NewLocalFetcher(differReader{differ: d, src: src, maxFileBytes: cfg.Prefetch.MaxFileBytes}, "", res)
}

// differReader resolves the repository through the Differ for every query.
type differReader struct {
	differ       *gitdiff.Differ
	src          gitdiff.Source
	maxFileBytes int
}

func (r differReader) Contents(ctx context.Context, q gitdiff.ContentQuery) ([]gitdiff.FileContent, error) {
	q.MaxFileBytes = r.maxFileBytes
	return r.differ.Contents(ctx, r.src, q)
}

// backfill runs the prefetch scheduler to completion with a progress bar.
func backfill(ctx context.Context, stderr io.Writer, a *app, src gitdiff.Source, res *gitdiff.Result) []gitdiff.DiffEntry {
	coll := prefetch.NewCollection(res.Entries)
	batches := len(prefetch.Batches(res.Entries, a.cfg.Prefetch.BatchSize))
	if batches == 0 {
		return res.Entries
	}
	bar := progressbar.NewOptions(batches,
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionSetDescription("prefetch"),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{Saucer: "#", SaucerPadding: " ", BarStart: "|", BarEnd: "|"}),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
	s := prefetch.NewScheduler(coll, fetcherFor(a.cfg, a.differ, src, res), prefetch.Options{
		BatchSize:   a.cfg.Prefetch.BatchSize,
		Concurrency: a.cfg.Prefetch.Concurrency,
		Attempts:    a.cfg.Prefetch.Attempts,
		RetryDelay:  retry.Linear(time.Duration(a.cfg.Prefetch.RetryDelayMillis) * time.Millisecond),
		Logger:      slog.Default(),
		OnProgress: func(p prefetch.Progress) {
			_ = bar.Set(p.Finished)
		},
	})
	s.Start(ctx)
	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Cancel()
		<-s.Done()
	}
	_ = bar.Finish()
	p := s.Progress()
	slog.Debug("prefetch finished",
		slog.Int("batches", p.Batches),
		slog.Int("merged", p.Merged),
		slog.Int("failed", p.Failed),
	)
	return coll.Entries()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
