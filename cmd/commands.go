package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/thiagokokada/refdiff/internal/buildinfo"
	"github.com/thiagokokada/refdiff/internal/contentapi"
	"github.com/thiagokokada/refdiff/internal/gitdiff"
	"github.com/thiagokokada/refdiff/internal/server"
	"github.com/thiagokokada/refdiff/internal/watch"
)

type ContentsCmd struct {
	Base  string   `arg:"" help:"Base commit, normally the compare base."`
	Head  string   `arg:"" help:"Head ref, or WORKTREE."`
	Paths []string `arg:"" help:"Files to read. Use old=new for renamed files."`
	SourceFlags

	Which        string `enum:"base,head,both" default:"both" help:"Sides to read: base, head or both."`
	MaxFileBytes int    `help:"Skip sides larger than this many bytes."`
}

func (c *ContentsCmd) Run(g *Globals) error {
	a, err := g.app()
	if err != nil {
		return err
	}
	defer a.Close()

	files := make([]gitdiff.FileRef, 0, len(c.Paths))
	for _, p := range c.Paths {
		ref := gitdiff.FileRef{Path: p}
		if oldPath, newPath, ok := cutRename(p); ok {
			ref = gitdiff.FileRef{Path: newPath, PreviousPath: oldPath}
		}
		files = append(files, ref)
	}
	contents, err := a.differ.Contents(g.ctx, c.source(), gitdiff.ContentQuery{
		Base:         c.Base,
		Head:         c.Head,
		Files:        files,
		Which:        gitdiff.Which(c.Which),
		MaxFileBytes: c.MaxFileBytes,
	})
	if err != nil {
		return err
	}
	return writeJSON(g.stdout, contentapi.NewResponse(contents))
}

func cutRename(p string) (oldPath, newPath string, ok bool) {
	oldPath, newPath, ok = strings.Cut(p, "=")
	return oldPath, newPath, ok && oldPath != "" && newPath != ""
}

type BranchesCmd struct {
	SourceFlags

	JSON bool `help:"Print branches as JSON."`
}

func (c *BranchesCmd) Run(g *Globals) error {
	a, err := g.app()
	if err != nil {
		return err
	}
	defer a.Close()

	branches, err := a.differ.Branches(g.ctx, c.source())
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(g.stdout, branches)
	}
	for _, b := range branches {
		fmt.Fprintf(g.stdout, "%s %s\n", shortCommit(b.Hash), b.Name)
	}
	return nil
}

type WatchCmd struct {
	Base string `arg:"" help:"Base ref compared against the working tree."`
	Repo string `short:"C" type:"existingdir" default:"." help:"Local repository path."`

	Delay time.Duration `default:"350ms" help:"Quiet period before recomparing."`
	Patch bool          `short:"p" help:"Print patches."`
}

func (c *WatchCmd) Run(g *Globals) error {
	a, err := g.app()
	if err != nil {
		return err
	}
	defer a.Close()

	root, err := filepath.Abs(c.Repo)
	if err != nil {
		return err
	}
	var mu sync.Mutex
	compare := func() {
		mu.Lock()
		defer mu.Unlock()
		start := time.Now()
		res, err := a.differ.Compare(g.ctx, gitdiff.CompareArgs{
			Ref1:              c.Base,
			LocalPathOverride: root,
			IncludeContents:   false,
			MaxTotalBytes:     a.cfg.Diff.MaxTotalBytes,
		})
		if err != nil {
			slog.Error("compare", slog.Any("error", err))
			return
		}
		fmt.Fprintf(g.stdout, "--- %s (took %s)\n", start.Format(time.TimeOnly), time.Since(start).Round(time.Millisecond))
		printResult(g.stdout, res, c.Patch)
	}
	compare()
	return watch.Run(g.ctx, root, c.Delay, compare)
}

type ServeCmd struct {
	Addr           string        `help:"Listen address. Overrides the configuration."`
	RequestTimeout time.Duration `default:"2m" help:"Per-request time limit."`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := g.app()
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}
	return server.Run(g.ctx, a.differ, server.Options{
		Addr:           addr,
		RequestTimeout: c.RequestTimeout,
		EngineName:     a.engine.Name(),
		Logger:         slog.Default(),
	})
}

type VersionCmd struct {
	JSON bool `help:"Print build information as JSON."`
}

func (c *VersionCmd) Run(g *Globals) error {
	info := buildinfo.Read()
	if c.JSON {
		return writeJSON(g.stdout, info)
	}
	fmt.Fprintf(g.stdout, "refdiff %s\n", info)
	return nil
}
