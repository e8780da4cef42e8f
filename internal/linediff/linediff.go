// Package linediff computes line-level change counts between two texts.
package linediff

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Operation int8

const (
	Delete Operation = Operation(diffmatchpatch.DiffDelete)
	Insert Operation = Operation(diffmatchpatch.DiffInsert)
	Equal  Operation = Operation(diffmatchpatch.DiffEqual)
)

type Diff struct {
	Type  Operation
	Lines int
}

// DefaultTimeout bounds the diff computation; past it the result is still
// correct but may not be minimal.
const DefaultTimeout = 5 * time.Second

// Do diffs src against dst line by line.
func Do(src, dst string, timeout time.Duration) []Diff {
	a, b := textsToLineIndexes(src, dst)
	return diffIndexes(a, b, timeout)
}

func diffIndexes(a, b []rune, timeout time.Duration) []Diff {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = timeout
	diffs := dmp.DiffMainRunes(a, b, false)
	out := make([]Diff, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, Diff{
			Type:  Operation(d.Type),
			Lines: utf8.RuneCountInString(d.Text),
		})
	}
	return out
}

// Count returns the number of inserted and deleted lines turning src into
// dst, matching what `git diff --numstat` reports.
func Count(src, dst string) (additions, deletions int) {
	if src == dst {
		return 0, 0
	}
	return sum(Do(src, dst, DefaultTimeout))
}

func sum(diffs []Diff) (additions, deletions int) {
	for _, d := range diffs {
		switch d.Type {
		case Insert:
			additions += d.Lines
		case Delete:
			deletions += d.Lines
		}
	}
	return additions, deletions
}

// Lines counts lines the way git does: every newline ends a line and a
// trailing fragment without one still counts.
func Lines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func textsToLineIndexes(text1, text2 string) ([]rune, []rune) {
	lineToIndex := make(map[string]int)
	return textToLineIndexes(text1, lineToIndex), textToLineIndexes(text2, lineToIndex)
}

func textToLineIndexes(text string, lineToIndex map[string]int) []rune {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	result := make([]rune, len(lines))
	for i, line := range lines {
		idx, ok := lineToIndex[line]
		if !ok {
			idx = len(lineToIndex)
			lineToIndex[line] = idx
		}
		result[i] = indexRune(idx)
	}
	return result
}

// indexRune maps a line index to a rune that survives the string round trip
// inside diffmatchpatch, skipping the surrogate range.
func indexRune(idx int) rune {
	const surrogateStart, surrogateLen = 0xD800, 0x800
	if idx >= surrogateStart {
		idx += surrogateLen
	}
	return rune(idx)
}
