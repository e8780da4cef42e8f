package gitdiff

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	rerrors "github.com/thiagokokada/refdiff/internal/errors"
	"github.com/thiagokokada/refdiff/internal/git"
)

func TestParseNameStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		out  string
		want []TrackedChange
	}{
		{
			name: "simple codes",
			out:  "M\x00a.go\x00A\x00b.go\x00D\x00c.go\x00T\x00d\x00",
			want: []TrackedChange{
				{Status: StatusModified, Path: "a.go"},
				{Status: StatusAdded, Path: "b.go"},
				{Status: StatusDeleted, Path: "c.go"},
				{Status: StatusModified, Path: "d"},
			},
		},
		{
			name: "rename and copy with score",
			out:  "R087\x00old.go\x00new.go\x00C100\x00src.go\x00copy.go\x00",
			want: []TrackedChange{
				{Status: StatusRenamed, Path: "new.go", OldPath: "old.go"},
				{Status: StatusAdded, Path: "copy.go"},
			},
		},
		{
			name: "unknown code skipped",
			out:  "X\x00weird\x00M\x00ok\x00",
			want: []TrackedChange{{Status: StatusModified, Path: "ok"}},
		},
		{
			name: "paths with spaces and newlines",
			out:  "M\x00dir/with space.txt\x00A\x00line\nbreak\x00",
			want: []TrackedChange{
				{Status: StatusModified, Path: "dir/with space.txt"},
				{Status: StatusAdded, Path: "line\nbreak"},
			},
		},
		{name: "empty", out: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseNameStatus(tt.out, discardLogger())
			if err != nil {
				t.Fatalf("parseNameStatus() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseNameStatus() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseNameStatusTruncated(t *testing.T) {
	t.Parallel()
	if _, err := parseNameStatus("R100\x00only-old\x00", discardLogger()); err == nil {
		t.Fatalf("expected error for truncated rename record")
	}
}

func TestParseNumstat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		out        string
		adds, dels int
		binary, ok bool
	}{
		{out: "3\t1\tfile.go\x00", adds: 3, dels: 1, ok: true},
		{out: "-\t-\timage.png\x00", binary: true, ok: true},
		{out: "0\t0\t\x00old\x00new\x00", ok: true},
		{out: "", ok: false},
		{out: "x\ty\tz\x00", ok: false},
	}
	for _, tt := range tests {
		adds, dels, binary, ok := parseNumstat(tt.out)
		if adds != tt.adds || dels != tt.dels || binary != tt.binary || ok != tt.ok {
			t.Fatalf("parseNumstat(%q) = %d, %d, %v, %v", tt.out, adds, dels, binary, ok)
		}
	}
}

func TestCountLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		lines  int
		binary bool
	}{
		{in: "", lines: 0},
		{in: "a\n", lines: 1},
		{in: "a\nb", lines: 2},
		{in: strings.Repeat("x\n", 100000), lines: 100000},
		{in: "bin\x00ary", binary: true},
	}
	for _, tt := range tests {
		lines, binary, err := countLines(strings.NewReader(tt.in))
		if err != nil {
			t.Fatalf("countLines() error = %v", err)
		}
		if lines != tt.lines || binary != tt.binary {
			t.Fatalf("countLines(%.10q) = %d, %v; want %d, %v", tt.in, lines, binary, tt.lines, tt.binary)
		}
	}
}

func TestWorktreePathRejectsEscapes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for _, p := range []string{"../etc/passwd", "a/../../b", "/abs", ""} {
		if _, err := worktreePath(root, p); err == nil {
			t.Fatalf("worktreePath(%q) should fail", p)
		}
	}
	got, err := worktreePath(root, "dir/file.txt")
	if err != nil {
		t.Fatalf("worktreePath() error = %v", err)
	}
	if want := filepath.Join(root, "dir", "file.txt"); got != want {
		t.Fatalf("worktreePath() = %q, want %q", got, want)
	}
}

func TestReadWorktreeFileSymlink(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.Symlink("/etc/hostname", filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	data, err := readWorktreeFile(root, "link", 0)
	if err != nil {
		t.Fatalf("readWorktreeFile() error = %v", err)
	}
	if string(data) != "/etc/hostname" {
		t.Fatalf("symlink should read as its target, got %q", data)
	}
}

const (
	fakeBase  = "1111111111111111111111111111111111111111"
	fakeHead  = "2222222222222222222222222222222222222222"
	fakeMerge = "3333333333333333333333333333333333333333"
)

// shallowScript simulates a shallow clone whose merge-base appears after
// mergeBaseAfter fetches; a negative value never finds one.
func shallowScript(r *scriptedRunner, mergeBaseAfter int) func(args []string) (string, error) {
	return func(args []string) (string, error) {
		switch args[0] {
		case "rev-parse":
			if args[1] == "--abbrev-ref" {
				if args[len(args)-1] == "main@{upstream}" {
					return "origin/main\n", nil
				}
				return "", &git.ToolError{Args: args, ExitCode: 128}
			}
			switch strings.TrimSuffix(args[len(args)-1], "^{commit}") {
			case "main":
				return fakeBase + "\n", nil
			case "origin/feature", "refs/remotes/origin/feature":
				return fakeHead + "\n", nil
			}
			return "", &git.ToolError{Args: args, ExitCode: 1}
		case "merge-base":
			if mergeBaseAfter >= 0 && r.count("fetch") >= mergeBaseAfter {
				return fakeMerge + "\n", nil
			}
			return "", &git.ToolError{Args: args, ExitCode: 1}
		case "fetch":
			return "", nil
		case "diff":
			switch {
			case slices.Contains(args, "--name-status"):
				return "M\x00README.md\x00", nil
			case slices.Contains(args, "--numstat"):
				return "2\t0\tREADME.md\x00", nil
			}
			return "diff --git a/README.md b/README.md\n@@ -1 +1,3 @@\n x\n+y\n+z\n", nil
		}
		return "", errors.New("unexpected command " + strings.Join(args, " "))
	}
}

func TestCLIEngineDeepensThroughAllTiers(t *testing.T) {
	t.Parallel()
	r := &scriptedRunner{}
	r.handler = shallowScript(r, 3)
	e := NewCLIEngine(r, Options{Logger: discardLogger()})

	res, err := e.Compare(context.Background(), Request{RepoPath: "/repo", Base: "main", Head: "feature"})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if got := r.count("fetch"); got != 3 {
		t.Fatalf("fetches = %d, want 3", got)
	}
	want := CompareBase{Commit: fakeMerge, FetchAttempts: 3}
	if res.Base != want {
		t.Fatalf("Base = %+v, want %+v", res.Base, want)
	}

	var depths []string
	for _, call := range r.calls {
		if call[0] != "fetch" {
			continue
		}
		depths = append(depths, call[3])
		if !slices.Contains(call, "+refs/heads/main:refs/remotes/origin/main") ||
			!slices.Contains(call, "+refs/heads/feature:refs/remotes/origin/feature") {
			t.Fatalf("fetch should deepen both branches: %v", call)
		}
	}
	if want := []string{"--depth=50", "--depth=200", "--depth=1000"}; !reflect.DeepEqual(depths, want) {
		t.Fatalf("fetch depths = %v, want %v", depths, want)
	}
	for _, call := range r.calls {
		if call[0] == "diff" && !slices.Contains(call, fakeMerge) {
			t.Fatalf("diff should run against the merge-base: %v", call)
		}
	}
	if len(res.Entries) != 1 || res.Entries[0].Additions != 2 || res.Entries[0].Status != StatusModified {
		t.Fatalf("unexpected entries: %+v", res.Entries)
	}
}

func TestCLIEngineFallsBackToApproximateBase(t *testing.T) {
	t.Parallel()
	r := &scriptedRunner{}
	r.handler = shallowScript(r, -1)
	e := NewCLIEngine(r, Options{Logger: discardLogger()})

	res, err := e.Compare(context.Background(), Request{RepoPath: "/repo", Base: "main", Head: "feature"})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	want := CompareBase{Commit: fakeBase, Approximate: true, FetchAttempts: 3}
	if res.Base != want {
		t.Fatalf("Base = %+v, want %+v", res.Base, want)
	}
}

func TestCLIEngineUnknownRef(t *testing.T) {
	t.Parallel()
	r := &scriptedRunner{}
	r.handler = shallowScript(r, 0)
	e := NewCLIEngine(r, Options{Logger: discardLogger()})

	_, err := e.Compare(context.Background(), Request{RepoPath: "/repo", Base: "nope", Head: "feature"})
	if !rerrors.HasCode(err, rerrors.UnknownRef) {
		t.Fatalf("Compare() error = %v, want unknown_ref", err)
	}
	for _, call := range r.calls {
		if call[0] == "fetch" || call[0] == "diff" {
			t.Fatalf("nothing should run after a failed resolve: %v", call)
		}
	}
}

func TestCLIEngineRejectsOldGit(t *testing.T) {
	t.Parallel()
	r := git.RunnerFunc(func(_ context.Context, cmd git.Command) (string, error) {
		return "git version 2.20.1\n", nil
	})
	e := NewCLIEngine(r, Options{Logger: discardLogger()})
	_, err := e.Compare(context.Background(), Request{RepoPath: "/repo", Base: "main"})
	if !rerrors.HasCode(err, rerrors.RepositoryUnavailable) {
		t.Fatalf("Compare() error = %v, want repository_unavailable", err)
	}
}
