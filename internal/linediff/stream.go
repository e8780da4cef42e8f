package linediff

import (
	"bufio"
	"errors"
	"hash/maphash"
	"io"
)

// CountReaders is Count for inputs too large to buffer. Lines are streamed
// and only a fingerprint of each one is kept.
func CountReaders(src, dst io.Reader) (additions, deletions int, err error) {
	fp := fingerprints{seed: maphash.MakeSeed(), index: make(map[uint64]int)}
	a, err := fp.lines(src)
	if err != nil {
		return 0, 0, err
	}
	b, err := fp.lines(dst)
	if err != nil {
		return 0, 0, err
	}
	additions, deletions = sum(diffIndexes(a, b, DefaultTimeout))
	return additions, deletions, nil
}

type fingerprints struct {
	seed  maphash.Seed
	index map[uint64]int
}

func (f fingerprints) lines(r io.Reader) ([]rune, error) {
	if r == nil {
		return nil, nil
	}
	br := bufio.NewReaderSize(r, 64<<10)
	var h maphash.Hash
	h.SetSeed(f.seed)
	var out []rune
	pending := false
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			h.Write(chunk)
			pending = true
		}
		switch {
		case err == nil:
			out = append(out, f.rune(h.Sum64()))
			h.Reset()
			pending = false
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if pending {
				out = append(out, f.rune(h.Sum64()))
			}
			return out, nil
		default:
			return nil, err
		}
	}
}

func (f fingerprints) rune(sum uint64) rune {
	idx, ok := f.index[sum]
	if !ok {
		idx = len(f.index)
		f.index[sum] = idx
	}
	return indexRune(idx)
}
