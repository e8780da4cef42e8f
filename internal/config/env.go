package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	envEngine        = "REFDIFF_ENGINE"
	envGitBinary     = "REFDIFF_GIT_BINARY"
	envMaxOutput     = "REFDIFF_MAX_OUTPUT_BYTES"
	envMaxTotalBytes = "REFDIFF_MAX_TOTAL_BYTES"
	envContents      = "REFDIFF_INCLUDE_CONTENTS"
	envDeepenTiers   = "REFDIFF_DEEPEN_TIERS"
	envExclude       = "REFDIFF_EXCLUDE"
	envNormalize     = "REFDIFF_NORMALIZE_PATCHES"

	envBatchSize   = "REFDIFF_PREFETCH_BATCH_SIZE"
	envConcurrency = "REFDIFF_PREFETCH_CONCURRENCY"
	envEndpoint    = "REFDIFF_CONTENT_ENDPOINT"
	envRate        = "REFDIFF_CONTENT_RPS"

	envCacheDir    = "REFDIFF_CACHE_DIR"
	envMaxCached   = "REFDIFF_MAX_CACHED_REPOS"
	envFetchWindow = "REFDIFF_FETCH_WINDOW_SECONDS"
	envServerAddr  = "REFDIFF_SERVER_ADDR"

	envLogLevel  = "REFDIFF_LOG_LEVEL"
	envLogFormat = "REFDIFF_LOG_FORMAT"
	envLogOutput = "REFDIFF_LOG_OUTPUT"
	envLogFile   = "REFDIFF_LOG_FILE"
)

// LoadFromEnv overrides fields whose REFDIFF_* variable is set. Malformed
// numeric values are ignored.
func (c *Config) LoadFromEnv() {
	if c == nil {
		return
	}
	readString(envEngine, &c.Engine)
	readString(envGitBinary, &c.Git.Binary)
	readInt(envMaxOutput, &c.Git.MaxOutputBytes)

	readInt(envMaxTotalBytes, &c.Diff.MaxTotalBytes)
	readBool(envContents, &c.Diff.IncludeContents)
	if v, ok := readCSV(envDeepenTiers); ok {
		tiers := make([]int, 0, len(v))
		for _, s := range v {
			n, err := strconv.Atoi(s)
			if err != nil {
				tiers = nil
				break
			}
			tiers = append(tiers, n)
		}
		if tiers != nil {
			c.Diff.DeepenTiers = tiers
		}
	}
	if v, ok := readCSV(envExclude); ok {
		c.Diff.Exclude = v
	}
	readBool(envNormalize, &c.Diff.NormalizePatches)

	readInt(envBatchSize, &c.Prefetch.BatchSize)
	readInt(envConcurrency, &c.Prefetch.Concurrency)
	readString(envEndpoint, &c.Prefetch.Endpoint)
	if v := strings.TrimSpace(os.Getenv(envRate)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Prefetch.RequestsPerSecond = f
		}
	}

	readString(envCacheDir, &c.Repos.CacheDir)
	readInt(envMaxCached, &c.Repos.MaxCached)
	readInt(envFetchWindow, &c.Repos.FetchWindowSeconds)
	readString(envServerAddr, &c.Server.Addr)

	readString(envLogLevel, &c.Logging.Level)
	readString(envLogFormat, &c.Logging.Format)
	readString(envLogOutput, &c.Logging.Output)
	readString(envLogFile, &c.Logging.File)
}

func readString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func readInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if i, err := strconv.Atoi(v); err == nil {
		*dst = i
	}
}

func readBool(key string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func readCSV(key string) ([]string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, false
	}
	var out []string
	for p := range strings.SplitSeq(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}
