// Package contentapi holds the wire format of the batch content-retrieval
// endpoint and an HTTP client for it.
package contentapi

import (
	"encoding/base64"
	"fmt"

	"github.com/samber/lo"

	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

// Path is where the endpoint is mounted.
const Path = "/api/v1/contents"

// Repo identifies the repository and the two sides of a finished comparison.
// BaseRef is normally the compare base commit so contents match the diff.
type Repo struct {
	FullName  string `json:"fullName,omitempty"`
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
	BaseRef   string `json:"baseRef"`
	HeadRef   string `json:"headRef"`
}

func (r Repo) Source() gitdiff.Source {
	return gitdiff.Source{FullName: r.FullName, URL: r.URL, LocalPath: r.LocalPath}
}

type File struct {
	Path         string `json:"path"`
	PreviousPath string `json:"previousPath,omitempty"`
}

type Request struct {
	Repo         Repo          `json:"repo"`
	Files        []File        `json:"files"`
	Which        gitdiff.Which `json:"which"`
	MaxFileBytes int           `json:"maxFileBytes,omitempty"`
}

// Query converts the request into an engine content query. RepoPath is left
// for the caller to fill in.
func (r Request) Query() gitdiff.ContentQuery {
	which := r.Which
	if which == "" {
		which = gitdiff.WhichBoth
	}
	return gitdiff.ContentQuery{
		Base:         r.Repo.BaseRef,
		Head:         r.Repo.HeadRef,
		Files:        FileRefs(r.Files),
		Which:        which,
		MaxFileBytes: r.MaxFileBytes,
	}
}

func FileRefs(files []File) []gitdiff.FileRef {
	return lo.Map(files, func(f File, _ int) gitdiff.FileRef {
		return gitdiff.FileRef{Path: f.Path, PreviousPath: f.PreviousPath}
	})
}

func Files(refs []gitdiff.FileRef) []File {
	return lo.Map(refs, func(f gitdiff.FileRef, _ int) File {
		return File{Path: f.Path, PreviousPath: f.PreviousPath}
	})
}

// Side is one version of a file, base64 encoded.
type Side struct {
	Content string `json:"content"`
	Size    int    `json:"size"`
}

func encodeSide(data []byte) *Side {
	if data == nil {
		return nil
	}
	return &Side{Content: base64.StdEncoding.EncodeToString(data), Size: len(data)}
}

// Bytes decodes the content. A nil side decodes to nil.
func (s *Side) Bytes() ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(s.Content)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return data, nil
}

type Result struct {
	Path string `json:"path"`
	Base *Side  `json:"base,omitempty"`
	Head *Side  `json:"head,omitempty"`
}

type Response struct {
	Results []Result `json:"results"`
}

func NewResponse(contents []gitdiff.FileContent) Response {
	results := lo.Map(contents, func(fc gitdiff.FileContent, _ int) Result {
		return Result{Path: fc.Path, Base: encodeSide(fc.Base), Head: encodeSide(fc.Head)}
	})
	return Response{Results: results}
}

// FileContents decodes the response back into engine values.
func (r Response) FileContents() ([]gitdiff.FileContent, error) {
	out := make([]gitdiff.FileContent, 0, len(r.Results))
	for _, res := range r.Results {
		base, err := res.Base.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%s base: %w", res.Path, err)
		}
		head, err := res.Head.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%s head: %w", res.Path, err)
		}
		out = append(out, gitdiff.FileContent{Path: res.Path, Base: base, Head: head})
	}
	return out, nil
}
