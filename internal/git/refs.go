package git

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type RefKind uint8

const (
	RefKindBranch RefKind = iota
	RefKindRemoteBranch
	RefKindTag
)

func (k RefKind) String() string {
	switch k {
	case RefKindBranch:
		return "branch"
	case RefKindRemoteBranch:
		return "remote"
	case RefKindTag:
		return "tag"
	default:
		return "unknown"
	}
}

type Ref struct {
	Hash string
	Kind RefKind
	Name string // short name: main, origin/main, v1
}

// ListRefs lists branches, remote-tracking branches and tags. Annotated
// tags report the commit they point to.
func ListRefs(ctx context.Context, r Runner, dir string) ([]Ref, error) {
	out, err := r.Run(ctx, Command{
		Dir:        dir,
		Args:       []string{"--no-pager", "show-ref", "--dereference"},
		AllowExit1: true,
	})
	if err != nil {
		return nil, err
	}
	return parseShowRef(out)
}

// RemoteBranches filters refs down to the branches of remote, stripping the
// remote prefix and the symbolic HEAD entry. The result is sorted by name.
func RemoteBranches(refs []Ref, remote string) []Ref {
	prefix := remote + "/"
	var out []Ref
	for _, ref := range refs {
		if ref.Kind != RefKindRemoteBranch || !strings.HasPrefix(ref.Name, prefix) {
			continue
		}
		name := strings.TrimPrefix(ref.Name, prefix)
		if name == "" || name == "HEAD" {
			continue
		}
		out = append(out, Ref{Hash: ref.Hash, Kind: RefKindRemoteBranch, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func parseShowRef(out string) ([]Ref, error) {
	type entry struct {
		hash string
		ref  string
	}

	peeled := map[string]string{}
	var entries []entry

	for rawLine := range strings.SplitSeq(out, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		hash, name, ok := strings.Cut(line, " ")
		hash, name = strings.TrimSpace(hash), strings.TrimSpace(name)
		if !ok || hash == "" || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("unexpected show-ref output line: %q", rawLine)
		}
		if base, isPeeled := strings.CutSuffix(name, "^{}"); isPeeled {
			if base != "" {
				peeled[base] = hash
			}
			continue
		}
		entries = append(entries, entry{hash: hash, ref: name})
	}

	kinds := []struct {
		prefix string
		kind   RefKind
	}{
		{"refs/heads/", RefKindBranch},
		{"refs/remotes/", RefKindRemoteBranch},
		{"refs/tags/", RefKindTag},
	}
	var refs []Ref
	for _, e := range entries {
		for _, k := range kinds {
			short, found := strings.CutPrefix(e.ref, k.prefix)
			if !found || short == "" {
				continue
			}
			hash := e.hash
			if p, ok := peeled[e.ref]; ok && p != "" {
				hash = p
			}
			refs = append(refs, Ref{Hash: hash, Kind: k.kind, Name: short})
			break
		}
	}
	return refs, nil
}
