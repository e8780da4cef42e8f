package gitdiff

import "testing"

const samplePatch = `diff --git a/README.md b/README.md
index 3b18e51..a042389 100644
--- a/README.md
+++ b/README.md
@@ -1,3 +1,4 @@ intro
 hello
-world
+there
+friend
 end
diff --git a/old.txt b/new.txt
similarity index 90%
rename from old.txt
rename to new.txt
index 1111111..2222222
--- a/old.txt
+++ b/new.txt
@@ -1 +1 @@
-a
\ No newline at end of file
+a
diff --git a/gone.sh b/gone.sh
deleted file mode 100755
index 3333333..0000000
--- a/gone.sh
+++ /dev/null
@@ -1 +0,0 @@
-echo
diff --git a/tool b/tool
old mode 100644
new mode 100755
`

func TestNormalizePatch(t *testing.T) {
	t.Parallel()
	in := "diff --git a/x b/x\nindex 1..2 100644\n--- a/x\n+++ b/x\n@@ -1 +1 @@\n-index 1..2\n+index 3..4\n"
	want := "diff --git a/x b/x\n--- a/x\n+++ b/x\n@@ -1 +1 @@\n-index 1..2\n+index 3..4\n"
	if got := NormalizePatch(in); got != want {
		t.Fatalf("NormalizePatch() = %q, want %q", got, want)
	}
	if got := NormalizePatch(""); got != "" {
		t.Fatalf("NormalizePatch(\"\") = %q", got)
	}
}

func TestReversePatch(t *testing.T) {
	t.Parallel()
	want := `diff --git a/README.md b/README.md
index a042389..3b18e51 100644
--- a/README.md
+++ b/README.md
@@ -1,4 +1,3 @@ intro
 hello
-there
-friend
+world
 end
diff --git a/new.txt b/old.txt
similarity index 90%
rename from new.txt
rename to old.txt
index 2222222..1111111
--- a/new.txt
+++ b/old.txt
@@ -1 +1 @@
-a
+a
\ No newline at end of file
diff --git a/gone.sh b/gone.sh
new file mode 100755
index 0000000..3333333
--- /dev/null
+++ b/gone.sh
@@ -0,0 +1 @@
+echo
diff --git a/tool b/tool
old mode 100755
new mode 100644
`
	if got := ReversePatch(samplePatch); got != want {
		t.Fatalf("ReversePatch() mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestReversePatchRoundTrip(t *testing.T) {
	t.Parallel()
	if got := ReversePatch(ReversePatch(samplePatch)); got != samplePatch {
		t.Fatalf("double reverse changed the patch:\n%s", got)
	}
}

func TestReversePatchQuotedPaths(t *testing.T) {
	t.Parallel()
	in := "diff --git \"a/caf\\303\\251\" \"b/caf\\303\\251\"\n--- \"a/caf\\303\\251\"\n+++ \"b/caf\\303\\251\"\n"
	got := ReversePatch(in)
	if got != in {
		t.Fatalf("ReversePatch() = %q, want %q", got, in)
	}
}

func TestQuoteDiffPath(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"a/plain.txt":  "a/plain.txt",
		"a/with space": "a/with space",
		"a/café":       `"a/caf\303\251"`,
		"a/tab\there":  `"a/tab\there"`,
		`a/quo"te`:     `"a/quo\"te"`,
		`a/back\slash`: `"a/back\\slash"`,
	}
	for in, want := range tests {
		if got := quoteDiffPath(in); got != want {
			t.Fatalf("quoteDiffPath(%q) = %s, want %s", in, got, want)
		}
	}
}
