// Package config loads refdiff settings from defaults, a TOML file and the
// environment.
package config

import (
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/thiagokokada/refdiff/internal/logging"
)

const (
	EngineCLI    = "cli"
	EngineNative = "native"
)

type Config struct {
	// Engine selects the comparison implementation: "cli" runs git plumbing
	// commands, "native" reads the object database in process.
	Engine   string         `toml:"engine"`
	Git      GitConfig      `toml:"git"`
	Diff     DiffConfig     `toml:"diff"`
	Prefetch PrefetchConfig `toml:"prefetch"`
	Repos    ReposConfig    `toml:"repos"`
	Server   ServerConfig   `toml:"server"`
	Logging  logging.Config `toml:"logging"`
}

type GitConfig struct {
	Binary         string `toml:"binary"`
	MaxOutputBytes int    `toml:"max_output_bytes"`
}

type DiffConfig struct {
	MaxTotalBytes    int      `toml:"max_total_bytes"`
	IncludeContents  bool     `toml:"include_contents"`
	DeepenTiers      []int    `toml:"deepen_tiers"`
	Exclude          []string `toml:"exclude"`
	NormalizePatches bool     `toml:"normalize_patches"`
}

type PrefetchConfig struct {
	BatchSize         int     `toml:"batch_size"`
	Concurrency       int     `toml:"concurrency"`
	Attempts          int     `toml:"attempts"`
	RetryDelayMillis  int     `toml:"retry_delay_ms"`
	MaxFileBytes      int     `toml:"max_file_bytes"`
	Endpoint          string  `toml:"endpoint"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

type ReposConfig struct {
	CacheDir           string `toml:"cache_dir"`
	MaxCached          int    `toml:"max_cached"`
	FetchWindowSeconds int    `toml:"fetch_window_seconds"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

func Default() *Config {
	return &Config{
		Engine: EngineCLI,
		Git: GitConfig{
			Binary:         "git",
			MaxOutputBytes: 10 << 20,
		},
		Diff: DiffConfig{
			MaxTotalBytes:   950_000,
			IncludeContents: true,
			DeepenTiers:     []int{50, 200, 1000},
		},
		Prefetch: PrefetchConfig{
			BatchSize:        12,
			Concurrency:      2,
			Attempts:         2,
			RetryDelayMillis: 250,
			MaxFileBytes:     5 << 20,
		},
		Repos: ReposConfig{
			MaxCached:          20,
			FetchWindowSeconds: 5,
		},
		Server:  ServerConfig{Addr: "127.0.0.1:8787"},
		Logging: logging.DefaultConfig(),
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Engine != EngineCLI && c.Engine != EngineNative {
		return fmt.Errorf("engine must be %q or %q, got %q", EngineCLI, EngineNative, c.Engine)
	}
	if c.Git.MaxOutputBytes <= 0 {
		return fmt.Errorf("git.max_output_bytes must be > 0")
	}
	if c.Diff.MaxTotalBytes <= 0 {
		return fmt.Errorf("diff.max_total_bytes must be > 0")
	}
	if len(c.Diff.DeepenTiers) == 0 {
		return fmt.Errorf("diff.deepen_tiers must not be empty")
	}
	if slices.ContainsFunc(c.Diff.DeepenTiers, func(d int) bool { return d <= 0 }) || !slices.IsSorted(c.Diff.DeepenTiers) {
		return fmt.Errorf("diff.deepen_tiers must be positive and ascending, got %v", c.Diff.DeepenTiers)
	}
	for _, pattern := range c.Diff.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("diff.exclude: invalid glob %q", pattern)
		}
	}
	if c.Prefetch.BatchSize <= 0 || c.Prefetch.Concurrency <= 0 || c.Prefetch.Attempts <= 0 {
		return fmt.Errorf("prefetch.batch_size, prefetch.concurrency and prefetch.attempts must be > 0")
	}
	if c.Prefetch.RetryDelayMillis < 0 || c.Prefetch.MaxFileBytes < 0 || c.Prefetch.RequestsPerSecond < 0 {
		return fmt.Errorf("prefetch limits must not be negative")
	}
	if c.Repos.MaxCached <= 0 {
		return fmt.Errorf("repos.max_cached must be > 0")
	}
	if c.Repos.FetchWindowSeconds < 0 {
		return fmt.Errorf("repos.fetch_window_seconds must not be negative")
	}
	return c.Logging.Validate()
}
