package repos

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const indexFile = "cache-index.json"

type indexEntry struct {
	Slug     string    `json:"slug"`
	URL      string    `json:"url"`
	LastUsed time.Time `json:"lastUsed"`
}

// cacheIndex is the on-disk LRU bookkeeping of a cache directory.
type cacheIndex struct {
	Entries []indexEntry `json:"entries"`
}

func loadIndex(dir string) (*cacheIndex, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &cacheIndex{}, nil
	}
	if err != nil {
		return nil, err
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		// A corrupt index only loses recency information.
		return &cacheIndex{}, nil
	}
	return &idx, nil
}

func (idx *cacheIndex) save(dir string) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, indexFile+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, indexFile))
}

func (idx *cacheIndex) touch(slug, url string, now time.Time) {
	for i := range idx.Entries {
		if idx.Entries[i].Slug == slug {
			idx.Entries[i].LastUsed = now
			idx.Entries[i].URL = url
			return
		}
	}
	idx.Entries = append(idx.Entries, indexEntry{Slug: slug, URL: url, LastUsed: now})
}

// evict removes and returns the least recently used entries beyond max,
// never evicting keep.
func (idx *cacheIndex) evict(max int, keep string) []indexEntry {
	if max <= 0 || len(idx.Entries) <= max {
		return nil
	}
	sort.SliceStable(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].LastUsed.After(idx.Entries[j].LastUsed)
	})
	var kept, evicted []indexEntry
	for _, e := range idx.Entries {
		if len(kept) < max || e.Slug == keep {
			kept = append(kept, e)
			continue
		}
		evicted = append(evicted, e)
	}
	idx.Entries = kept
	return evicted
}
