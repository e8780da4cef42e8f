package gitdiff

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-enry/go-enry/v2"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/refdiff/internal/linediff"
)

// side is one version of a file. It is opened on demand so content over the
// output cap can be streamed instead of buffered.
type side struct {
	present bool
	size    int64
	open    func() (io.ReadCloser, error)
}

func fileSide(f *object.File) side {
	if f == nil {
		return side{}
	}
	return side{present: true, size: f.Size, open: f.Reader}
}

func (s *nativeSession) blobSide(hash plumbing.Hash) (side, error) {
	blob, err := s.repo.BlobObject(hash)
	if err != nil {
		return side{}, err
	}
	return side{present: true, size: blob.Size, open: blob.Reader}, nil
}

// worktreeSide opens a working tree file the way git records it: symlinks
// yield their target.
func worktreeSide(root, path string) (side, error) {
	full, err := worktreePath(root, path)
	if err != nil {
		return side{}, err
	}
	fi, err := os.Lstat(full)
	if err != nil {
		return side{}, err
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		if err != nil {
			return side{}, err
		}
		data := []byte(filepath.ToSlash(target))
		return side{present: true, size: int64(len(data)), open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}}, nil
	}
	if !fi.Mode().IsRegular() {
		return side{}, fmt.Errorf("%s: not a regular file: %w", path, fs.ErrNotExist)
	}
	return side{present: true, size: fi.Size(), open: func() (io.ReadCloser, error) {
		return os.Open(full)
	}}, nil
}

func (sd side) read() ([]byte, error) {
	if !sd.present {
		return nil, nil
	}
	r, err := sd.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// hash computes the blob id without buffering the content.
func (sd side) hash() (plumbing.Hash, error) {
	r, err := sd.open()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer r.Close()
	h := plumbing.NewHasher(plumbing.BlobObject, sd.size)
	n, err := io.Copy(h, r)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if n != sd.size {
		return plumbing.ZeroHash, fmt.Errorf("size changed while hashing: %d != %d", n, sd.size)
	}
	return h.Sum(), nil
}

// binary sniffs the same prefix git inspects for NUL bytes.
func (sd side) binary() (bool, error) {
	if !sd.present {
		return false, nil
	}
	r, err := sd.open()
	if err != nil {
		return false, err
	}
	defer r.Close()
	buf := make([]byte, binarySniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	return enry.IsBinary(buf[:n]), nil
}

func (s *nativeSession) overCap(sides ...side) bool {
	for _, sd := range sides {
		if sd.size > int64(s.maxOutput) {
			return true
		}
	}
	return false
}

// sideContent embeds a side that fits the cap and reports the size of one
// that does not.
func (s *nativeSession) sideContent(sd side, h *hydrated, log *slog.Logger) (*string, int) {
	if !sd.present {
		return nil, 0
	}
	if sd.size > int64(s.maxOutput) {
		return nil, int(sd.size)
	}
	data, err := sd.read()
	if err != nil {
		log.Warn("read content", slog.Any("error", err))
		h.degraded = true
		return nil, 0
	}
	text := string(data)
	return &text, 0
}

// hydrateLarge handles a change with a side over the output cap. Counts
// come from a streamed line diff and the patch is reported as over the cap.
func (s *nativeSession) hydrateLarge(oldSide, newSide side, include bool, log *slog.Logger) hydrated {
	var h hydrated
	for _, sd := range []side{oldSide, newSide} {
		bin, err := sd.binary()
		if err != nil {
			log.Warn("sniff content", slog.Any("error", err))
			return hydrated{degraded: true}
		}
		if bin {
			h.binary = true
			return h
		}
	}

	var readers [2]io.Reader
	for i, sd := range []side{oldSide, newSide} {
		if !sd.present {
			continue
		}
		r, err := sd.open()
		if err != nil {
			log.Warn("open content", slog.Any("error", err))
			return hydrated{degraded: true}
		}
		defer r.Close()
		readers[i] = r
	}
	adds, dels, err := linediff.CountReaders(readers[0], readers[1])
	if err != nil {
		log.Warn("count lines", slog.Any("error", err))
		return hydrated{degraded: true}
	}
	h.additions, h.deletions = adds, dels
	if include {
		h.oldContent, h.oldOver = s.sideContent(oldSide, &h, log)
		h.newContent, h.newOver = s.sideContent(newSide, &h, log)
	}
	h.patchOver = s.maxOutput + 1
	return h
}
