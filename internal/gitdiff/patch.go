package gitdiff

import (
	"fmt"
	"strings"
)

// NormalizePatch drops the volatile "index <old>..<new>" header lines of
// every file section so patches from different engines and runs compare
// byte for byte.
func NormalizePatch(patch string) string {
	if patch == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(patch))
	inHunk := false
	for line := range strings.SplitAfterSeq(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			inHunk = false
		case strings.HasPrefix(line, "@@ "):
			inHunk = true
		case !inHunk && strings.HasPrefix(line, "index "):
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// ReversePatch rewrites a git patch so it describes the opposite change:
// sides, modes, rename endpoints, hunk ranges and line markers are swapped.
func ReversePatch(patch string) string {
	if patch == "" {
		return ""
	}
	trailingNewline := strings.HasSuffix(patch, "\n")
	lines := strings.Split(strings.TrimSuffix(patch, "\n"), "\n")

	out := make([]string, 0, len(lines))
	var removed, added []string
	flush := func() {
		out = append(out, removed...)
		out = append(out, added...)
		removed, added = nil, nil
	}
	var oldMode, renameFrom, minusPath string
	inHunk := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if inHunk {
			// A "\ No newline at end of file" marker belongs to the line
			// before it and travels with it.
			withMarker := func(body string) string {
				for i+1 < len(lines) && strings.HasPrefix(lines[i+1], `\`) {
					i++
					body += "\n" + lines[i]
				}
				return body
			}
			switch {
			case strings.HasPrefix(line, "+"):
				removed = append(removed, withMarker("-"+line[1:]))
				continue
			case strings.HasPrefix(line, "-"):
				added = append(added, withMarker("+"+line[1:]))
				continue
			case line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, `\`):
				flush()
				out = append(out, line)
				continue
			default:
				flush()
				inHunk = false
			}
		}

		switch {
		case strings.HasPrefix(line, "@@ "):
			out = append(out, reverseHunkHeader(line))
			inHunk = true
		case strings.HasPrefix(line, "diff --git "):
			out = append(out, reverseDiffGitLine(line))
		case strings.HasPrefix(line, "new file mode "):
			out = append(out, "deleted file mode "+strings.TrimPrefix(line, "new file mode "))
		case strings.HasPrefix(line, "deleted file mode "):
			out = append(out, "new file mode "+strings.TrimPrefix(line, "deleted file mode "))
		case strings.HasPrefix(line, "old mode "):
			oldMode = strings.TrimPrefix(line, "old mode ")
		case strings.HasPrefix(line, "new mode "):
			out = append(out, "old mode "+strings.TrimPrefix(line, "new mode "), "new mode "+oldMode)
		case strings.HasPrefix(line, "rename from "):
			renameFrom = strings.TrimPrefix(line, "rename from ")
		case strings.HasPrefix(line, "rename to "):
			out = append(out, "rename from "+strings.TrimPrefix(line, "rename to "), "rename to "+renameFrom)
		case strings.HasPrefix(line, "index "):
			out = append(out, reverseIndexLine(line))
		case strings.HasPrefix(line, "--- "):
			minusPath = strings.TrimPrefix(line, "--- ")
		case strings.HasPrefix(line, "+++ "):
			plusPath := strings.TrimPrefix(line, "+++ ")
			out = append(out, "--- "+swapSidePrefix(plusPath, "a/"), "+++ "+swapSidePrefix(minusPath, "b/"))
		case strings.HasPrefix(line, "Binary files ") && strings.HasSuffix(line, " differ"):
			inner := strings.TrimSuffix(strings.TrimPrefix(line, "Binary files "), " differ")
			if from, to, ok := strings.Cut(inner, " and "); ok {
				line = "Binary files " + swapSidePrefix(to, "a/") + " and " + swapSidePrefix(from, "b/") + " differ"
			}
			out = append(out, line)
		default:
			out = append(out, line)
		}
	}
	flush()

	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return result
}

func reverseHunkHeader(line string) string {
	rest := strings.TrimPrefix(line, "@@ ")
	ranges, tail, ok := strings.Cut(rest, " @@")
	if !ok {
		return line
	}
	fields := strings.Fields(ranges)
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "-") || !strings.HasPrefix(fields[1], "+") {
		return line
	}
	return "@@ -" + fields[1][1:] + " +" + fields[0][1:] + " @@" + tail
}

func reverseIndexLine(line string) string {
	fields := strings.Fields(strings.TrimPrefix(line, "index "))
	if len(fields) == 0 {
		return line
	}
	from, to, ok := strings.Cut(fields[0], "..")
	if !ok {
		return line
	}
	fields[0] = to + ".." + from
	return "index " + strings.Join(fields, " ")
}

func reverseDiffGitLine(line string) string {
	const prefix = "diff --git "
	tokens := diffLineTokens(strings.TrimSpace(line[len(prefix):]))
	if len(tokens) != 2 || sidePrefix(tokens[0]) != "a/" || sidePrefix(tokens[1]) != "b/" {
		return line
	}
	return prefix + swapSidePrefix(tokens[1], "a/") + " " + swapSidePrefix(tokens[0], "b/")
}

// sidePrefix returns the a/ or b/ prefix of a possibly quoted patch path.
func sidePrefix(p string) string {
	p = strings.TrimPrefix(p, `"`)
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[:2]
	}
	return ""
}

// swapSidePrefix moves a path between the a/ and b/ sides; /dev/null stays.
// Quoted paths keep their escapes.
func swapSidePrefix(p, side string) string {
	p = strings.TrimSpace(p)
	if p == "/dev/null" || sidePrefix(p) == "" {
		return p
	}
	if strings.HasPrefix(p, `"`) {
		return `"` + side + p[3:]
	}
	return side + p[2:]
}

// quoteDiffPath quotes a path the way git does with core.quotePath enabled:
// C escapes for specials and octal for control and non-ASCII bytes.
func quoteDiffPath(p string) string {
	needs := false
	for i := 0; i < len(p); i++ {
		if c := p[i]; c == '"' || c == '\\' || c < 0x20 || c >= 0x7f {
			needs = true
			break
		}
	}
	if !needs {
		return p
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\v':
			b.WriteString(`\v`)
		case '\f':
			b.WriteString(`\f`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&b, "\\%03o", c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// diffLineTokens splits a "diff --git" path pair. Quoted tokens are returned
// verbatim, quotes and escapes included.
func diffLineTokens(s string) []string {
	var tokens []string
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		if s[0] == '"' {
			escaped := false
			i := 1
			for ; i < len(s); i++ {
				ch := s[i]
				if escaped {
					escaped = false
					continue
				}
				if ch == '\\' {
					escaped = true
					continue
				}
				if ch == '"' {
					i++
					break
				}
			}
			tokens = append(tokens, s[:i])
			s = s[i:]
			continue
		}
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			j = len(s)
		}
		tokens = append(tokens, s[:j])
		s = s[j:]
	}
	return tokens
}
