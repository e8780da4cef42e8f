// Package repos materializes repositories on local disk for comparison:
// either a caller supplied working copy or a clone kept in a bounded cache.
package repos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	rerrors "github.com/thiagokokada/refdiff/internal/errors"
	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

const (
	DefaultMaxCached = 20
	cacheDirEnv      = "REFDIFF_CACHE_DIR"
	cacheDirName     = "refdiff-git-cache"
	githubURLPrefix  = "https://github.com/"
	tokenUsername    = "x-access-token"
)

var fullNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

type Options struct {
	// CacheDir defaults to $REFDIFF_CACHE_DIR, then <user cache>/refdiff-git-cache.
	CacheDir  string
	MaxCached int
	Logger    *slog.Logger
}

// DefaultCacheDir returns the cache directory used when none is configured.
func DefaultCacheDir() (string, error) {
	if dir := os.Getenv(cacheDirEnv); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, cacheDirName), nil
}

// Cache implements gitdiff.Provider on top of go-git clones.
type Cache struct {
	dir       string
	maxCached int
	throttle  *FetchThrottle
	log       *slog.Logger
	now       func() time.Time

	// mu guards the on-disk index, slots and their leases.
	mu    sync.Mutex
	slots map[string]*slot
}

// slot serializes clone and fetch of one clone. leases counts callers still
// reading it and is guarded by Cache.mu.
type slot struct {
	sync.Mutex
	leases int
}

var _ gitdiff.Provider = (*Cache)(nil)

func NewCache(opts Options, throttle *FetchThrottle) (*Cache, error) {
	dir := opts.CacheDir
	if dir == "" {
		var err error
		if dir, err = DefaultCacheDir(); err != nil {
			return nil, fmt.Errorf("resolve cache directory: %w", err)
		}
	}
	if opts.MaxCached <= 0 {
		opts.MaxCached = DefaultMaxCached
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if throttle == nil {
		throttle = NewFetchThrottle(DefaultFetchWindow)
	}
	return &Cache{
		dir:       dir,
		maxCached: opts.MaxCached,
		throttle:  throttle,
		log:       opts.Logger,
		now:       time.Now,
		slots:     make(map[string]*slot),
	}, nil
}

func (c *Cache) Dir() string { return c.dir }

// Ensure returns a local path for src. A LocalPath wins; otherwise the
// remote is cloned on first use and refreshed at most once per fetch window.
// The clone is not evicted before release is called.
func (c *Cache) Ensure(ctx context.Context, src gitdiff.Source) (path string, release func(), err error) {
	if src.LocalPath != "" {
		path, err = localPath(src.LocalPath)
		return path, func() {}, err
	}
	remote, err := RemoteURL(src)
	if err != nil {
		return "", nil, err
	}
	slug := Slug(remote)
	sl := c.slot(slug)
	sl.Lock()
	defer sl.Unlock()

	dir := filepath.Join(c.dir, slug)
	auth := authFor(remote, src.CallerIdentity)
	log := c.log.With(slog.String("repository", redactURL(remote)), slog.String("slug", slug))

	repo, err := gitlib.PlainOpen(dir)
	switch {
	case err == nil:
		if c.throttle.Allow(slug) {
			c.refresh(ctx, repo, auth, log)
		}
	case errors.Is(err, gitlib.ErrRepositoryNotExists):
		if err := c.clone(ctx, dir, remote, auth, log); err != nil {
			return "", nil, rerrors.ErrRepositoryUnavailable(redactURL(remote), err)
		}
		c.throttle.Mark(slug)
	default:
		return "", nil, rerrors.ErrRepositoryUnavailable(redactURL(remote), err)
	}

	release = c.lease(slug)
	if err := c.record(slug, redactURL(remote)); err != nil {
		log.Warn("update cache index", slog.Any("error", err))
	}
	return dir, release, nil
}

func (c *Cache) slot(slug string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.slots[slug]
	if !ok {
		sl = &slot{}
		c.slots[slug] = sl
	}
	return sl
}

// lease pins slug's clone until the returned func is called.
func (c *Cache) lease(slug string) func() {
	c.mu.Lock()
	c.slots[slug].leases++
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.slots[slug].leases--
			c.mu.Unlock()
		})
	}
}

func (c *Cache) clone(ctx context.Context, dir, remote string, auth transport.AuthMethod, log *slog.Logger) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	start := c.now()
	_, err := gitlib.PlainCloneContext(ctx, dir, false, &gitlib.CloneOptions{
		URL:  remote,
		Auth: auth,
		Tags: gitlib.AllTags,
	})
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("clone: %w", err)
	}
	log.Info("cloned repository", slog.Duration("elapsed", c.now().Sub(start)))
	return nil
}

// refresh fetches every branch of origin. Failures leave the existing
// clone usable.
func (c *Cache) refresh(ctx context.Context, repo *gitlib.Repository, auth transport.AuthMethod, log *slog.Logger) {
	err := repo.FetchContext(ctx, &gitlib.FetchOptions{
		RemoteName: "origin",
		Auth:       auth,
		Tags:       gitlib.AllTags,
		Force:      true,
	})
	switch {
	case err == nil:
		log.Debug("fetched repository")
	case errors.Is(err, gitlib.NoErrAlreadyUpToDate):
	default:
		log.Warn("fetch cached repository", slog.Any("error", err))
	}
}

func (c *Cache) record(slug, remote string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := loadIndex(c.dir)
	if err != nil {
		return err
	}
	idx.touch(slug, remote, c.now())
	var busy []indexEntry
	for _, e := range idx.evict(c.maxCached, slug) {
		if !c.evictLocked(e.Slug) {
			c.log.Debug("cached repository in use, eviction postponed", slog.String("slug", e.Slug))
			busy = append(busy, e)
		}
	}
	idx.Entries = append(idx.Entries, busy...)
	return idx.save(c.dir)
}

// evictLocked removes a clone nobody is fetching or reading. It reports
// false, leaving the clone alone, otherwise. c.mu must be held.
func (c *Cache) evictLocked(slug string) bool {
	if sl, ok := c.slots[slug]; ok {
		if sl.leases > 0 || !sl.TryLock() {
			return false
		}
		defer sl.Unlock()
	}
	c.log.Info("evicting cached repository", slog.String("slug", slug))
	if err := os.RemoveAll(filepath.Join(c.dir, slug)); err != nil {
		c.log.Warn("remove evicted repository", slog.String("slug", slug), slog.Any("error", err))
	}
	c.throttle.Forget(slug)
	return true
}

func localPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", rerrors.ErrRepositoryUnavailable(p, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", rerrors.ErrRepositoryUnavailable(p, err)
	}
	if !fi.IsDir() {
		return "", rerrors.ErrRepositoryUnavailable(p, fmt.Errorf("%s is not a directory", abs))
	}
	return abs, nil
}

// RemoteURL is src.URL, or the GitHub HTTPS URL of src.FullName.
func RemoteURL(src gitdiff.Source) (string, error) {
	if src.URL != "" {
		return src.URL, nil
	}
	if src.FullName == "" {
		return "", rerrors.ErrInvalidArgument("repository url or full name is required")
	}
	if !fullNamePattern.MatchString(src.FullName) {
		return "", rerrors.ErrInvalidArgument(fmt.Sprintf("invalid repository full name %q", src.FullName))
	}
	return githubURLPrefix + src.FullName + ".git", nil
}

// Slug is the cache directory name of a remote URL.
func Slug(remote string) string {
	s := remote
	if u, err := url.Parse(remote); err == nil && u.Host != "" {
		s = u.Host + u.Path
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_.")
}

func authFor(remote, token string) transport.AuthMethod {
	if token == "" || !strings.HasPrefix(remote, "http") {
		return nil
	}
	return &http.BasicAuth{Username: tokenUsername, Password: token}
}

func redactURL(remote string) string {
	u, err := url.Parse(remote)
	if err != nil || u.User == nil {
		return remote
	}
	u.User = url.User("***")
	return u.String()
}
