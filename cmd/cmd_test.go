package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thiagokokada/refdiff/internal/contentapi"
	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REFDIFF_CONFIG", "")
	t.Setenv("REFDIFF_ENGINE", "")
	t.Setenv("REFDIFF_CACHE_DIR", t.TempDir())
	t.Setenv("REFDIFF_LOG_LEVEL", "error")
	t.Setenv("REFDIFF_CONTENT_ENDPOINT", "")
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_GLOBAL="+os.DevNull,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

// featureRepo has a main branch and a feature branch adding two README
// lines.
func featureRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	writeFile(t, dir, "README.md", "# demo\n")
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-q", "-m", "initial")
	runGit(t, dir, "checkout", "-q", "-b", "feature")
	writeFile(t, dir, "README.md", "# demo\n\nmore\n")
	runGit(t, dir, "commit", "-q", "-am", "readme")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "refdiff ") {
		t.Fatalf("version output = %q", out)
	}
}

func TestCompareBothEngines(t *testing.T) {
	isolateEnv(t)
	dir := featureRepo(t)
	for _, engine := range []string{gitdiff.EngineCLI, gitdiff.EngineNative} {
		t.Run(engine, func(t *testing.T) {
			out, err := runCLI(t, "--engine", engine, "compare", "main", "feature", "-C", dir)
			if err != nil {
				t.Fatalf("compare error = %v", err)
			}
			if !strings.Contains(out, "M  README.md  (+2 -0") {
				t.Fatalf("compare output missing README entry:\n%s", out)
			}
			if !strings.Contains(out, "1 file changed, 2 insertions(+), 0 deletions(-)") {
				t.Fatalf("compare output missing summary:\n%s", out)
			}
		})
	}
}

func TestCompareJSONWithPrefetch(t *testing.T) {
	isolateEnv(t)
	dir := featureRepo(t)
	out, err := runCLI(t, "compare", "main", "feature", "-C", dir, "--json", "--prefetch", "--max-total-bytes", "1")
	if err != nil {
		t.Fatalf("compare error = %v", err)
	}
	var res gitdiff.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %+v, want one", res.Entries)
	}
	e := res.Entries[0]
	if e.ContentOmitted || e.NewContent == nil || *e.NewContent != "# demo\n\nmore\n" {
		t.Fatalf("prefetch did not backfill content: %+v", e)
	}
}

func TestCompareUnknownRef(t *testing.T) {
	isolateEnv(t)
	dir := featureRepo(t)
	if _, err := runCLI(t, "compare", "no-such-ref", "-C", dir); err == nil {
		t.Fatal("expected error for unknown ref")
	}
}

func TestContents(t *testing.T) {
	isolateEnv(t)
	dir := featureRepo(t)
	out, err := runCLI(t, "contents", "main", "feature", "README.md", "-C", dir)
	if err != nil {
		t.Fatalf("contents error = %v", err)
	}
	var resp contentapi.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	got, err := resp.FileContents()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || string(got[0].Base) != "# demo\n" || string(got[0].Head) != "# demo\n\nmore\n" {
		t.Fatalf("contents = %+v", got)
	}
}

func TestInvalidEngine(t *testing.T) {
	isolateEnv(t)
	if _, err := runCLI(t, "--engine", "bogus", "branches"); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestCutRename(t *testing.T) {
	tests := []struct {
		in       string
		old, new string
		ok       bool
	}{
		{"a.txt", "", "", false},
		{"old.txt=new.txt", "old.txt", "new.txt", true},
		{"=new.txt", "", "new.txt", false},
	}
	for _, tt := range tests {
		oldPath, newPath, ok := cutRename(tt.in)
		if ok != tt.ok || (ok && (oldPath != tt.old || newPath != tt.new)) {
			t.Fatalf("cutRename(%q) = %q, %q, %v", tt.in, oldPath, newPath, ok)
		}
	}
}
