package gitdiff

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/thiagokokada/refdiff/internal/git"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRepo is a throwaway repository driven through the git binary.
type testRepo struct {
	t   *testing.T
	dir string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	requireGit(t)
	r := &testRepo{t: t, dir: t.TempDir()}
	r.git("init", "--quiet", "--initial-branch=main")
	return r
}

func (r *testRepo) git(args ...string) string {
	r.t.Helper()
	return runGit(r.t, r.dir, args...)
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_GLOBAL="+os.DevNull,
		"LC_ALL=C",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func (r *testRepo) write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatalf("write %s: %v", path, err)
	}
}

func (r *testRepo) remove(path string) {
	r.t.Helper()
	if err := os.Remove(filepath.Join(r.dir, filepath.FromSlash(path))); err != nil {
		r.t.Fatalf("remove %s: %v", path, err)
	}
}

// commit stages everything and returns the new commit id.
func (r *testRepo) commit(msg string) string {
	r.t.Helper()
	r.git("add", "-A")
	r.git("commit", "--quiet", "--allow-empty", "--no-gpg-sign", "-m", msg)
	return r.git("rev-parse", "HEAD")
}

// engines returns one instance of every engine for property tests.
func engines(opts Options) map[string]Engine {
	opts.Logger = discardLogger()
	return map[string]Engine{
		EngineCLI:    NewCLIEngine(nil, opts),
		EngineNative: NewNativeEngine(opts),
	}
}

func entryByPath(entries []DiffEntry, path string) (DiffEntry, bool) {
	for _, e := range entries {
		if e.FilePath == path {
			return e, true
		}
	}
	return DiffEntry{}, false
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// scriptedRunner answers git commands from a handler keyed on the
// subcommand and records every invocation.
type scriptedRunner struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(args []string) (string, error)
}

func (s *scriptedRunner) Run(_ context.Context, cmd git.Command) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), cmd.Args...))
	s.mu.Unlock()
	if len(cmd.Args) > 0 && cmd.Args[0] == "--version" {
		return "git version 2.43.0\n", nil
	}
	if len(cmd.Args) > 1 && cmd.Args[0] == "rev-parse" && cmd.Args[1] == "--show-toplevel" {
		return "/repo\n", nil
	}
	if s.handler == nil {
		return "", fmt.Errorf("unexpected git %s", strings.Join(cmd.Args, " "))
	}
	return s.handler(cmd.Args)
}

func (s *scriptedRunner) count(subcommand string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if len(c) > 0 && c[0] == subcommand {
			n++
		}
	}
	return n
}
