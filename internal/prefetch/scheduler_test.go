package prefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/refdiff/internal/gitdiff"
	"github.com/thiagokokada/refdiff/internal/retry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func omittedEntries(n int) []gitdiff.DiffEntry {
	entries := make([]gitdiff.DiffEntry, 0, n)
	for i := range n {
		entries = append(entries, gitdiff.DiffEntry{
			FilePath:       fmt.Sprintf("file%02d.txt", i),
			Status:         gitdiff.StatusModified,
			Additions:      i,
			Deletions:      1,
			ContentOmitted: true,
		})
	}
	return entries
}

func echoContents(files []gitdiff.FileRef) []gitdiff.FileContent {
	out := make([]gitdiff.FileContent, 0, len(files))
	for _, f := range files {
		out = append(out, gitdiff.FileContent{
			Path: f.Path,
			Base: []byte("old " + f.Path),
			Head: []byte("new " + f.Path),
		})
	}
	return out
}

func TestBatchesPrioritizeLargestChanges(t *testing.T) {
	t.Parallel()
	entries := omittedEntries(30)
	entries = append(entries, gitdiff.DiffEntry{FilePath: "small.txt", Status: gitdiff.StatusModified, Additions: 1000})

	batches := Batches(entries, 12)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 12)
	assert.Len(t, batches[1], 12)
	assert.Len(t, batches[2], 6)
	assert.Equal(t, "file29.txt", batches[0][0].FilePath)
	assert.Equal(t, "file00.txt", batches[2][5].FilePath)
	for _, b := range batches {
		for _, e := range b {
			assert.NotEqual(t, "small.txt", e.FilePath, "entries with content are not fetched")
		}
	}
	assert.Nil(t, Batches(nil, 12))
}

// 30 omitted files with batch size 12 and concurrency 2 make three batches.
func TestSchedulerBatchesAndConcurrency(t *testing.T) {
	t.Parallel()
	coll := NewCollection(omittedEntries(30))
	var calls, inFlight, maxInFlight atomic.Int32
	var sizesMu sync.Mutex
	var sizes []int
	fetcher := FetcherFunc(func(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
		calls.Add(1)
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		sizesMu.Lock()
		sizes = append(sizes, len(files))
		sizesMu.Unlock()
		return echoContents(files), nil
	})

	var progress []Progress
	var progressMu sync.Mutex
	s := NewScheduler(coll, fetcher, Options{
		BatchSize:   12,
		Concurrency: 2,
		Logger:      quietLogger(),
		OnProgress: func(p Progress) {
			progressMu.Lock()
			progress = append(progress, p)
			progressMu.Unlock()
		},
	})
	s.Start(context.Background())
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish")
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
	assert.ElementsMatch(t, []int{12, 12, 6}, sizes)
	assert.Empty(t, coll.Omitted())
	e, ok := coll.Get("file07.txt")
	require.True(t, ok)
	require.NotNil(t, e.NewContent)
	assert.Equal(t, "new file07.txt", *e.NewContent)
	assert.Equal(t, len("old file07.txt"), *e.OldSize)

	final := s.Progress()
	assert.Equal(t, Progress{Batches: 3, Finished: 3, Merged: 30}, final)
	assert.Len(t, progress, 3)
}

// Batches that finish after Cancel are not merged.
func TestSchedulerCancelDiscardsLateResults(t *testing.T) {
	t.Parallel()
	entries := omittedEntries(30)
	coll := NewCollection(entries)
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return echoContents(files), nil
	})

	s := NewScheduler(coll, fetcher, Options{Logger: quietLogger()})
	s.Start(context.Background())
	<-started
	<-started
	s.Cancel()
	close(release)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish")
	}

	assert.Equal(t, int32(2), calls.Load(), "no batch is scheduled after cancel")
	assert.Equal(t, entries, coll.Entries())
	p := s.Progress()
	assert.Equal(t, 2, p.Discarded)
	assert.Equal(t, 0, p.Merged)
}

func TestSchedulerRetriesFailedBatch(t *testing.T) {
	t.Parallel()
	coll := NewCollection(omittedEntries(3))
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return echoContents(files), nil
	})
	s := NewScheduler(coll, fetcher, Options{RetryDelay: retry.NoDelay, Logger: quietLogger()})
	s.Start(context.Background())
	<-s.Done()

	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, coll.Omitted())
	assert.Equal(t, 0, s.Progress().Failed)
}

func TestSchedulerGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	coll := NewCollection(omittedEntries(3))
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
		calls.Add(1)
		return nil, errors.New("down")
	})
	s := NewScheduler(coll, fetcher, Options{Attempts: 2, RetryDelay: retry.NoDelay, Logger: quietLogger()})
	s.Start(context.Background())
	<-s.Done()

	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, coll.Omitted(), 3)
	assert.Equal(t, 1, s.Progress().Failed)
}

func TestSchedulerNothingToDo(t *testing.T) {
	t.Parallel()
	s := NewScheduler(NewCollection(nil), FetcherFunc(func(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
		t.Error("fetcher called without omitted entries")
		return nil, nil
	}), Options{Logger: quietLogger()})
	s.Start(context.Background())
	<-s.Done()
	assert.Equal(t, Progress{}, s.Progress())
}

func TestFetchOne(t *testing.T) {
	t.Parallel()
	entries := omittedEntries(2)
	entries[1].ContentOmitted = false
	coll := NewCollection(entries)
	var requested [][]gitdiff.FileRef
	fetcher := FetcherFunc(func(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
		requested = append(requested, files)
		return echoContents(files), nil
	})
	s := NewScheduler(coll, fetcher, Options{Logger: quietLogger()})

	got, err := s.FetchOne(context.Background(), "file00.txt")
	require.NoError(t, err)
	assert.False(t, got.ContentOmitted)
	assert.Equal(t, "new file00.txt", *got.NewContent)
	assert.Equal(t, [][]gitdiff.FileRef{{{Path: "file00.txt"}}}, requested)

	got, err = s.FetchOne(context.Background(), "file01.txt")
	require.NoError(t, err)
	assert.Equal(t, entries[1], got)
	assert.Len(t, requested, 1, "entries with content are not fetched again")

	_, err = s.FetchOne(context.Background(), "missing.txt")
	assert.Error(t, err)
}

func TestFetchOneAfterCancel(t *testing.T) {
	t.Parallel()
	coll := NewCollection(omittedEntries(1))
	s := NewScheduler(coll, FetcherFunc(func(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
		return echoContents(files), nil
	}), Options{Logger: quietLogger()})
	s.Cancel()
	_, err := s.FetchOne(context.Background(), "file00.txt")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Len(t, coll.Omitted(), 1)
}
