package git

import (
	"context"
	"reflect"
	"testing"
)

func TestParseShowRef(t *testing.T) {
	t.Parallel()

	out := "" +
		"1111111111111111111111111111111111111111 refs/heads/main\n" +
		"2222222222222222222222222222222222222222 refs/remotes/origin/HEAD\n" +
		"3333333333333333333333333333333333333333 refs/remotes/origin/feature\n" +
		"4444444444444444444444444444444444444444 refs/tags/v1\n" +
		"5555555555555555555555555555555555555555 refs/tags/v1^{}\n" +
		"6666666666666666666666666666666666666666 refs/stash\n"

	got, err := parseShowRef(out)
	if err != nil {
		t.Fatalf("parseShowRef() error = %v", err)
	}
	want := []Ref{
		{Hash: "1111111111111111111111111111111111111111", Kind: RefKindBranch, Name: "main"},
		{Hash: "2222222222222222222222222222222222222222", Kind: RefKindRemoteBranch, Name: "origin/HEAD"},
		{Hash: "3333333333333333333333333333333333333333", Kind: RefKindRemoteBranch, Name: "origin/feature"},
		{Hash: "5555555555555555555555555555555555555555", Kind: RefKindTag, Name: "v1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseShowRef() = %+v, want %+v", got, want)
	}
}

func TestParseShowRefRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"justonefield\n", "abc refs/heads/a extra\n"} {
		if _, err := parseShowRef(in); err == nil {
			t.Fatalf("parseShowRef(%q) expected error", in)
		}
	}
}

func TestRemoteBranches(t *testing.T) {
	t.Parallel()

	refs := []Ref{
		{Hash: "a", Kind: RefKindRemoteBranch, Name: "origin/zeta"},
		{Hash: "b", Kind: RefKindRemoteBranch, Name: "origin/HEAD"},
		{Hash: "c", Kind: RefKindRemoteBranch, Name: "upstream/main"},
		{Hash: "d", Kind: RefKindBranch, Name: "origin/fake"},
		{Hash: "e", Kind: RefKindRemoteBranch, Name: "origin/alpha"},
	}
	got := RemoteBranches(refs, "origin")
	want := []Ref{
		{Hash: "e", Kind: RefKindRemoteBranch, Name: "alpha"},
		{Hash: "a", Kind: RefKindRemoteBranch, Name: "zeta"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RemoteBranches() = %+v, want %+v", got, want)
	}
}

func TestListRefsAllowsEmptyRepository(t *testing.T) {
	t.Parallel()

	var got Command
	runner := RunnerFunc(func(_ context.Context, cmd Command) (string, error) {
		got = cmd
		return "", nil
	})
	refs, err := ListRefs(context.Background(), runner, "/repo")
	if err != nil {
		t.Fatalf("ListRefs() error = %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no refs, got %+v", refs)
	}
	if !got.AllowExit1 || got.Dir != "/repo" {
		t.Fatalf("unexpected command %+v", got)
	}
}
