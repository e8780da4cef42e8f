// Package cmd implements the refdiff command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/thiagokokada/refdiff/internal/config"
	"github.com/thiagokokada/refdiff/internal/git"
	"github.com/thiagokokada/refdiff/internal/gitdiff"
	"github.com/thiagokokada/refdiff/internal/logging"
	"github.com/thiagokokada/refdiff/internal/repos"
)

// Globals are flags shared by every command.
type Globals struct {
	Config    string `short:"c" type:"path" help:"TOML configuration file. Defaults to $$REFDIFF_CONFIG."`
	Engine    string `help:"Comparison engine: cli or native. Overrides the configuration."`
	LogLevel  string `help:"Log level: debug, info, warn or error."`
	LogFormat string `help:"Log format: text or json."`
	Verbose   bool   `short:"v" help:"Shorthand for --log-level=debug."`

	ctx    context.Context `kong:"-"`
	stdout io.Writer       `kong:"-"`
	stderr io.Writer       `kong:"-"`
}

type cli struct {
	Globals

	Compare  CompareCmd  `cmd:"" help:"Compare two refs, or a ref and the working tree."`
	Contents ContentsCmd `cmd:"" help:"Print full file contents of a comparison as base64 JSON."`
	Branches BranchesCmd `cmd:"" help:"List remote branches of origin."`
	Watch    WatchCmd    `cmd:"" help:"Recompare against the working tree whenever it changes."`
	Serve    ServeCmd    `cmd:"" help:"Serve the HTTP API."`
	Version  VersionCmd  `cmd:"" help:"Print version information."`
}

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("refdiff"),
		kong.Description("Ref-to-ref git diffs that stay correct for shallow clones."),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	c.Globals.ctx = ctx
	c.Globals.stdout = stdout
	c.Globals.stderr = stderr
	return kctx.Run(&c.Globals)
}

// app is the wired process for one command.
type app struct {
	cfg    *config.Config
	engine gitdiff.Engine
	differ *gitdiff.Differ
	closer io.Closer
}

func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Engine != "" {
		cfg.Engine = g.Engine
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if g.Verbose {
		cfg.Logging.Level = "debug"
	}
	if g.LogFormat != "" {
		cfg.Logging.Format = g.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *Globals) app() (*app, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	log := slog.Default()
	engine, err := gitdiff.New(cfg.Engine, git.NewExecRunner(cfg.Git.Binary), gitdiff.Options{
		Logger:           log,
		DeepenTiers:      cfg.Diff.DeepenTiers,
		MaxOutputBytes:   cfg.Git.MaxOutputBytes,
		Exclude:          cfg.Diff.Exclude,
		NormalizePatches: cfg.Diff.NormalizePatches,
	})
	if err != nil {
		closer.Close()
		return nil, err
	}
	throttle := repos.NewFetchThrottle(time.Duration(cfg.Repos.FetchWindowSeconds) * time.Second)
	cache, err := repos.NewCache(repos.Options{
		CacheDir:  cfg.Repos.CacheDir,
		MaxCached: cfg.Repos.MaxCached,
		Logger:    log,
	}, throttle)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &app{
		cfg:    cfg,
		engine: engine,
		differ: gitdiff.NewDiffer(cache, engine, log),
		closer: closer,
	}, nil
}

func (a *app) Close() error { return a.closer.Close() }

// SourceFlags select the repository a command works on. Without a remote
// the current directory is used.
type SourceFlags struct {
	Repo     string `short:"C" type:"path" help:"Local repository path."`
	URL      string `help:"Remote URL, cloned into the cache."`
	FullName string `help:"GitHub repository as owner/name, cloned into the cache."`
	Token    string `env:"REFDIFF_TOKEN" help:"Access token used when cloning over HTTPS."`
}

func (s SourceFlags) source() gitdiff.Source {
	src := gitdiff.Source{
		FullName:       s.FullName,
		URL:            s.URL,
		CallerIdentity: s.Token,
		LocalPath:      s.Repo,
	}
	if src.Location() == "" {
		src.LocalPath = "."
	}
	return src
}
