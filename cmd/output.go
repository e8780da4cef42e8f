package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

func statusLetter(s gitdiff.Status) string {
	switch s {
	case gitdiff.StatusAdded:
		return "A"
	case gitdiff.StatusDeleted:
		return "D"
	case gitdiff.StatusRenamed:
		return "R"
	default:
		return "M"
	}
}

func entrySize(e gitdiff.DiffEntry) int {
	total := 0
	for _, n := range []*int{e.OldSize, e.NewSize, e.PatchSize} {
		if n != nil {
			total += *n
		}
	}
	return total
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func printEntry(w io.Writer, e gitdiff.DiffEntry) {
	name := e.FilePath
	if e.Status == gitdiff.StatusRenamed {
		name = e.OldPath + " -> " + e.FilePath
	}
	var notes []string
	switch {
	case e.IsBinary:
		notes = append(notes, "binary")
	default:
		notes = append(notes, fmt.Sprintf("+%d -%d", e.Additions, e.Deletions))
	}
	if size := entrySize(e); size > 0 {
		notes = append(notes, humanize.Bytes(uint64(size)))
	}
	if e.ContentOmitted {
		notes = append(notes, "content omitted")
	}
	if e.Language != "" {
		notes = append(notes, e.Language)
	}
	fmt.Fprintf(w, "%s  %s  (%s)\n", statusLetter(e.Status), name, strings.Join(notes, ", "))
}

func printResult(w io.Writer, res *gitdiff.Result, patches bool) {
	head := res.HeadRef
	if head == "" {
		head = gitdiff.WorkingTree
	}
	fmt.Fprintf(w, "%s...%s (base %s", res.BaseRef, head, shortCommit(res.Base.Commit))
	if res.Base.FetchAttempts > 0 {
		fmt.Fprintf(w, ", %s", humanize.Plural(res.Base.FetchAttempts, "deepen fetch", "deepen fetches"))
	}
	fmt.Fprintln(w, ")")
	if res.Base.Approximate {
		fmt.Fprintln(w, "warning: no merge base found; changes on the base branch are included")
	}

	adds, dels, bytes := 0, 0, 0
	for _, e := range res.Entries {
		printEntry(w, e)
		adds += e.Additions
		dels += e.Deletions
		bytes += entrySize(e)
	}
	fmt.Fprintf(w, "%s, %s(+), %s(-), %s\n",
		humanize.Plural(len(res.Entries), "file changed", "files changed"),
		humanize.Plural(adds, "insertion", "insertions"),
		humanize.Plural(dels, "deletion", "deletions"),
		humanize.Bytes(uint64(bytes)),
	)
	if !patches {
		return
	}
	for _, e := range res.Entries {
		if e.Patch != nil && *e.Patch != "" {
			fmt.Fprintln(w)
			io.WriteString(w, *e.Patch)
		}
	}
}
