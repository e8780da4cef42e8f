package gitdiff

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-enry/go-enry/v2"

	"github.com/thiagokokada/refdiff/internal/git"
	"github.com/thiagokokada/refdiff/internal/linediff"
)

// binarySniffLen matches the prefix git inspects for NUL bytes.
const binarySniffLen = 8000

func (s *cliSession) hydrate(ctx context.Context, base string, head revision, ch TrackedChange, include bool) hydrated {
	var h hydrated
	log := s.log.With(slog.String("path", ch.Path))
	paths := []string{ch.Path}
	if ch.Status == StatusRenamed && ch.OldPath != "" {
		paths = append(paths, ch.OldPath)
	}
	rng := diffRange(base, head)

	args := append([]string{"diff", "--numstat", "-z", "-M"}, rng...)
	out, err := s.run(ctx, append(append(args, "--"), paths...)...)
	if err != nil {
		log.Warn("numstat", slog.Any("error", err))
		h.degraded = true
	} else if adds, dels, binary, ok := parseNumstat(out); ok {
		h.additions, h.deletions, h.binary = adds, dels, binary
	}
	if h.binary {
		return h
	}

	if include {
		if ch.Status != StatusAdded {
			oldPath := ch.Path
			if ch.OldPath != "" {
				oldPath = ch.OldPath
			}
			h.oldContent, h.oldOver = s.sideContent(ctx, revision{commit: base}, oldPath, log, &h)
		}
		if ch.Status != StatusDeleted {
			h.newContent, h.newOver = s.sideContent(ctx, head, ch.Path, log, &h)
		}
	}

	args = append([]string{"diff", "--no-color", "--no-ext-diff", "-M"}, rng...)
	patch, err := s.run(ctx, append(append(args, "--"), paths...)...)
	switch {
	case isOutputLimit(err):
		h.patchOver = s.maxOutput + 1
	case err != nil:
		log.Warn("patch", slog.Any("error", err))
		h.degraded = true
	default:
		h.patch = &patch
	}
	return h
}

// sideContent reads one side for embedding. Over-cap reads report a lower
// bound instead of content.
func (s *cliSession) sideContent(ctx context.Context, rev revision, path string, log *slog.Logger, h *hydrated) (*string, int) {
	data, err := s.readCapped(ctx, rev, path, s.maxOutput)
	switch {
	case isOutputLimit(err):
		return nil, s.maxOutput + 1
	case err != nil:
		log.Warn("read content", slog.String("rev", rev.String()), slog.Any("error", err))
		h.degraded = true
		return nil, 0
	}
	content := string(data)
	return &content, 0
}

func (s *cliSession) hydrateUntracked(ctx context.Context, path string, include bool) hydrated {
	var h hydrated
	log := s.log.With(slog.String("path", path))
	data, err := s.readWorktree(path, s.maxOutput)
	switch {
	case isOutputLimit(err):
		h.newOver = s.maxOutput + 1
		lines, binary, err := s.scanWorktree(path)
		if err != nil {
			log.Warn("scan untracked file", slog.Any("error", err))
			h.degraded = true
		}
		h.additions, h.binary = lines, binary
		return h
	case err != nil:
		log.Warn("read untracked file", slog.Any("error", err))
		h.degraded = true
		return h
	}

	if enry.IsBinary(data) {
		h.binary = true
		return h
	}
	content := string(data)
	h.additions = linediff.Lines(content)
	if include {
		h.newContent = &content
	}

	patch, err := s.runner.Run(ctx, git.Command{
		Dir:        s.root,
		Args:       []string{"diff", "--no-color", "--no-ext-diff", "--no-index", "--", os.DevNull, path},
		AllowExit1: true,
		MaxOutput:  s.maxOutput,
	})
	switch {
	case isOutputLimit(err):
		h.patchOver = s.maxOutput + 1
	case err != nil:
		log.Warn("untracked patch", slog.Any("error", err))
		h.degraded = true
	default:
		h.patch = &patch
	}
	return h
}

func (s *cliSession) readFile(ctx context.Context, rev revision, path string, limit int) ([]byte, error) {
	data, err := s.readCapped(ctx, rev, path, limit)
	if isOutputLimit(err) || isNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (s *cliSession) readCapped(ctx context.Context, rev revision, path string, limit int) ([]byte, error) {
	if rev.worktree {
		return s.readWorktree(path, limit)
	}
	if path == "" || strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("invalid path %q", path)
	}
	spec := rev.commit + ":" + path
	if _, err := s.run(ctx, "cat-file", "-e", spec); err != nil {
		return nil, fmt.Errorf("%s: %w", spec, fs.ErrNotExist)
	}
	out, err := s.runner.Run(ctx, git.Command{Dir: s.root, Args: []string{"show", spec}, MaxOutput: limit})
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// worktreePath maps a repository-relative slash path into the working tree,
// refusing paths that escape it.
func worktreePath(root, path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("invalid path %q", path)
	}
	full := filepath.Join(root, filepath.FromSlash(path))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the repository", path)
	}
	return full, nil
}

// readWorktree reads a working tree file the way git records it: symlinks
// yield their target.
func (s *cliSession) readWorktree(path string, limit int) ([]byte, error) {
	return readWorktreeFile(s.root, path, limit)
}

func readWorktreeFile(root, path string, limit int) ([]byte, error) {
	full, err := worktreePath(root, path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Lstat(full)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		if err != nil {
			return nil, err
		}
		return []byte(filepath.ToSlash(target)), nil
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file: %w", path, fs.ErrNotExist)
	}
	if limit > 0 && fi.Size() > int64(limit) {
		return nil, fmt.Errorf("%s is %d bytes: %w", path, fi.Size(), git.ErrOutputLimit)
	}
	return os.ReadFile(full)
}

// scanWorktree counts lines of a file too large to buffer.
func (s *cliSession) scanWorktree(path string) (lines int, binary bool, err error) {
	full, err := worktreePath(s.root, path)
	if err != nil {
		return 0, false, err
	}
	f, err := os.Open(full)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()
	return countLines(f)
}

func countLines(r io.Reader) (lines int, binary bool, err error) {
	br := bufio.NewReaderSize(r, 64<<10)
	head, err := br.Peek(binarySniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return 0, false, err
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return 0, true, nil
	}
	buf := make([]byte, 32<<10)
	var last byte
	var total int64
	for {
		n, rerr := br.Read(buf)
		if n > 0 {
			lines += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
			total += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return 0, false, rerr
		}
	}
	if total > 0 && last != '\n' {
		lines++
	}
	return lines, false, nil
}

// parseNumstat reads the first record of `git diff --numstat -z`. Binary
// files report "-" for both counts.
func parseNumstat(out string) (adds, dels int, binary, ok bool) {
	addsField, rest, found := strings.Cut(out, "\t")
	if !found {
		return 0, 0, false, false
	}
	delsField, _, found := strings.Cut(rest, "\t")
	if !found {
		return 0, 0, false, false
	}
	if addsField == "-" && delsField == "-" {
		return 0, 0, true, true
	}
	a, err1 := strconv.Atoi(addsField)
	d, err2 := strconv.Atoi(delsField)
	if err1 != nil || err2 != nil {
		return 0, 0, false, false
	}
	return a, d, false, true
}
