package gitdiff

import (
	"context"
	"strings"
)

// WorkingTree names the checked-out files of a repository as one side of a
// comparison. An empty head ref means the same thing.
const WorkingTree = "WORKTREE"

// DefaultMaxTotalBytes is the per-file patch+old+new budget.
const DefaultMaxTotalBytes = 950_000

type Status string

const (
	StatusAdded    Status = "added"
	StatusDeleted  Status = "deleted"
	StatusModified Status = "modified"
	StatusRenamed  Status = "renamed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAdded, StatusDeleted, StatusModified, StatusRenamed:
		return true
	}
	return false
}

// DiffEntry describes one changed file.
type DiffEntry struct {
	FilePath       string  `json:"filePath"`
	OldPath        string  `json:"oldPath,omitempty"`
	Status         Status  `json:"status"`
	Additions      int     `json:"additions"`
	Deletions      int     `json:"deletions"`
	IsBinary       bool    `json:"isBinary"`
	Patch          *string `json:"patch,omitempty"`
	OldContent     *string `json:"oldContent,omitempty"`
	NewContent     *string `json:"newContent,omitempty"`
	ContentOmitted bool    `json:"contentOmitted"`
	OldSize        *int    `json:"oldSize,omitempty"`
	NewSize        *int    `json:"newSize,omitempty"`
	PatchSize      *int    `json:"patchSize,omitempty"`
	Language       string  `json:"language,omitempty"`
}

// BasePath is where the file lived on the base side.
func (e DiffEntry) BasePath() string {
	if e.OldPath != "" {
		return e.OldPath
	}
	return e.FilePath
}

// TrackedChange is one enumerated change before hydration.
type TrackedChange struct {
	Status  Status
	Path    string
	OldPath string
}

// CompareBase is the commit the head side is compared against.
type CompareBase struct {
	Commit string `json:"commit"`
	// Approximate is set when no merge-base could be found and the resolved
	// base ref is used directly. The diff then also contains upstream changes
	// unrelated to the head side.
	Approximate   bool `json:"approximate"`
	FetchAttempts int  `json:"fetchAttempts"`
}

type Result struct {
	Entries     []DiffEntry `json:"entries"`
	Base        CompareBase `json:"base"`
	BaseRef     string      `json:"baseRef"`
	HeadRef     string      `json:"headRef"`
	HeadCommit  string      `json:"headCommit,omitempty"`
	WorkingTree bool        `json:"workingTree"`
	Engine      string      `json:"engine"`
}

// Inverted reports whether the base side is the working tree. Entries of an
// inverted result are the reverse of head compared to the working tree, and
// Base.Commit belongs to the head ref.
func (r *Result) Inverted() bool { return r.BaseRef == WorkingTree }

// Request is a single comparison against an already materialized clone.
type Request struct {
	RepoPath        string
	Base            string
	Head            string
	IncludeContents bool
	// MaxTotalBytes overrides DefaultMaxTotalBytes when positive.
	MaxTotalBytes int
}

func (r Request) budget() int {
	if r.MaxTotalBytes > 0 {
		return r.MaxTotalBytes
	}
	return DefaultMaxTotalBytes
}

// Which selects the sides returned by a content query.
type Which string

const (
	WhichBase Which = "base"
	WhichHead Which = "head"
	WhichBoth Which = "both"
)

func (w Which) Valid() bool {
	return w == WhichBase || w == WhichHead || w == WhichBoth
}

func (w Which) base() bool { return w == WhichBase || w == WhichBoth }
func (w Which) head() bool { return w == WhichHead || w == WhichBoth }

type FileRef struct {
	Path         string `json:"path"`
	PreviousPath string `json:"previousPath,omitempty"`
}

// ContentQuery asks for full file contents of a finished comparison. Base is
// normally Result.Base.Commit so contents match the diff.
type ContentQuery struct {
	RepoPath     string
	Base         string
	Head         string
	Files        []FileRef
	Which        Which
	MaxFileBytes int
}

// FileContent holds the requested sides of one file. A nil side was not
// requested, does not exist or exceeded MaxFileBytes.
type FileContent struct {
	Path string
	Base []byte
	Head []byte
}

type Branch struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// Engine computes comparisons for one repository layout strategy. Exactly
// one implementation is active per process.
type Engine interface {
	Name() string
	Compare(ctx context.Context, req Request) (*Result, error)
	Contents(ctx context.Context, q ContentQuery) ([]FileContent, error)
	Branches(ctx context.Context, repoPath string) ([]Branch, error)
}

func isWorkingTree(ref string) bool {
	ref = strings.TrimSpace(ref)
	return ref == "" || ref == WorkingTree
}

// revision is one resolved side of a comparison.
type revision struct {
	commit   string
	worktree bool
}

func (r revision) String() string {
	if r.worktree {
		return WorkingTree
	}
	return r.commit
}
