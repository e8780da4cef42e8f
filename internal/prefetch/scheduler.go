package prefetch

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/thiagokokada/refdiff/internal/gitdiff"
	"github.com/thiagokokada/refdiff/internal/retry"
)

const (
	DefaultBatchSize   = 12
	DefaultConcurrency = 2
	DefaultAttempts    = 2
	DefaultRetryStep   = 500 * time.Millisecond
)

// ErrCancelled is returned by FetchOne after Cancel.
var ErrCancelled = errors.New("prefetch cancelled")

// Progress is reported after every finished batch.
type Progress struct {
	Batches   int
	Finished  int
	Failed    int
	Merged    int
	Discarded int
}

type Options struct {
	BatchSize   int
	Concurrency int
	// Attempts bounds the fetches per batch, retries included.
	Attempts   int
	RetryDelay retry.DelayFunc
	Logger     *slog.Logger
	OnProgress func(Progress)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.RetryDelay == nil {
		o.RetryDelay = retry.Linear(DefaultRetryStep)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Scheduler fetches omitted contents of a Collection in the background,
// largest changes first.
type Scheduler struct {
	coll    *Collection
	fetcher Fetcher
	opts    Options

	// mu is the merge lock. cancelled is only read and written under it so
	// a batch that finishes after Cancel never merges.
	mu        sync.Mutex
	cancelled bool
	progress  Progress
	stop      context.CancelFunc

	startOnce sync.Once
	done      chan struct{}
}

func NewScheduler(coll *Collection, fetcher Fetcher, opts Options) *Scheduler {
	return &Scheduler{
		coll:    coll,
		fetcher: fetcher,
		opts:    opts.withDefaults(),
		stop:    func() {},
		done:    make(chan struct{}),
	}
}

// Batches splits the omitted entries into prioritized batches.
func Batches(entries []gitdiff.DiffEntry, size int) [][]gitdiff.DiffEntry {
	omitted := lo.Filter(entries, func(e gitdiff.DiffEntry, _ int) bool { return e.ContentOmitted })
	slices.SortStableFunc(omitted, func(a, b gitdiff.DiffEntry) int {
		return cmp.Compare(b.Additions+b.Deletions, a.Additions+a.Deletions)
	})
	if len(omitted) == 0 {
		return nil
	}
	return lo.Chunk(omitted, max(size, 1))
}

// Start schedules every batch and returns immediately. Later calls are
// no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		batches := Batches(s.coll.Entries(), s.opts.BatchSize)
		runCtx, stop := context.WithCancel(ctx)
		s.mu.Lock()
		s.stop = stop
		if s.cancelled {
			stop()
		}
		s.progress.Batches = len(batches)
		s.mu.Unlock()
		go s.run(ctx, runCtx, stop, batches)
	})
}

func (s *Scheduler) run(ctx, runCtx context.Context, stop context.CancelFunc, batches [][]gitdiff.DiffEntry) {
	defer close(s.done)
	defer stop()
	sem := semaphore.NewWeighted(int64(s.opts.Concurrency))
	var wg sync.WaitGroup
	for i, batch := range batches {
		if s.Cancelled() {
			break
		}
		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}
		if s.Cancelled() {
			sem.Release(1)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			s.runBatch(ctx, runCtx, i, batch)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runBatch(ctx, runCtx context.Context, n int, batch []gitdiff.DiffEntry) {
	log := s.opts.Logger.With(slog.Int("batch", n), slog.Int("files", len(batch)))
	files := lo.Map(batch, func(e gitdiff.DiffEntry, _ int) gitdiff.FileRef {
		return gitdiff.FileRef{Path: e.FilePath, PreviousPath: e.OldPath}
	})
	// Retries stop on Cancel; a fetch already running is allowed to finish.
	contents, err := retry.Do(runCtx, s.opts.Attempts, s.opts.RetryDelay,
		func(_ context.Context, attempt int) ([]gitdiff.FileContent, error) {
			if attempt > 0 {
				log.Debug("retrying batch", slog.Int("attempt", attempt+1))
			}
			return s.fetcher.Fetch(ctx, files)
		})

	s.mu.Lock()
	s.progress.Finished++
	switch {
	case err != nil:
		s.progress.Failed++
		log.Warn("prefetch batch failed", slog.Any("error", err))
	case s.cancelled:
		s.progress.Discarded++
		log.Debug("discarding batch finished after cancel")
	default:
		s.progress.Merged += s.coll.Merge(contents)
	}
	p := s.progress
	s.mu.Unlock()

	if s.opts.OnProgress != nil {
		s.opts.OnProgress(p)
	}
}

// FetchOne fetches a single entry on demand and returns it updated. Entries
// that are not omitted are returned as is.
func (s *Scheduler) FetchOne(ctx context.Context, path string) (gitdiff.DiffEntry, error) {
	entry, ok := s.coll.Get(path)
	if !ok {
		return gitdiff.DiffEntry{}, errors.New("prefetch: no entry for " + path)
	}
	if !entry.ContentOmitted {
		return entry, nil
	}
	if s.Cancelled() {
		return entry, ErrCancelled
	}
	contents, err := s.fetcher.Fetch(ctx, []gitdiff.FileRef{{Path: entry.FilePath, PreviousPath: entry.OldPath}})
	if err != nil {
		return entry, err
	}
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return entry, ErrCancelled
	}
	s.coll.Merge(contents)
	s.mu.Unlock()
	entry, _ = s.coll.Get(path)
	return entry, nil
}

// Cancel stops scheduling. Batches already in flight may finish but their
// results are discarded.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	stop := s.stop
	s.mu.Unlock()
	stop()
}

func (s *Scheduler) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Done is closed once every scheduled batch has finished. It never closes
// if Start was not called.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}
