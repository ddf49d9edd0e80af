package agentfs

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a//b", "/a/b"},
		{"/a/b", "/a/b"},
		{"//a///b//", "/a/b"},
		{"a/b/", "/a/b"},
		{"", "/"},
		{"/", "/"},
		{"///", "/"},
		{"greeting.txt", "/greeting.txt"},
	}
	for _, c := range cases {
		got := Normalize(c.in)
		if got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"a//b", "//x/", "foo/bar//baz", "/", ""}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestWriteThenReadAcrossSpellings(t *testing.T) {
	fs := New()
	fs.Write("a//b", "content")

	got, ok := fs.Read("/a/b")
	if !ok {
		t.Fatal("expected entry for /a/b")
	}
	if got != "content" {
		t.Errorf("expected %q, got %q", "content", got)
	}
}

func TestWriteReplaces(t *testing.T) {
	fs := New()
	fs.Write("/file.txt", "one")
	fs.Write("file.txt", "two")

	got, _ := fs.Read("/file.txt")
	if got != "two" {
		t.Errorf("expected %q, got %q", "two", got)
	}
	if fs.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", fs.Len())
	}
}

func TestReadMissing(t *testing.T) {
	fs := New()
	if _, ok := fs.Read("/nope"); ok {
		t.Error("expected no entry for /nope")
	}
}

func TestDelete(t *testing.T) {
	fs := New()
	fs.Write("/doomed", "x")

	if !fs.Delete("doomed") {
		t.Error("expected Delete to report an existing entry")
	}
	if fs.Delete("/doomed") {
		t.Error("expected second Delete to report no entry")
	}
	if _, ok := fs.Read("/doomed"); ok {
		t.Error("entry still readable after Delete")
	}
}

func TestListPrefix(t *testing.T) {
	fs := New()
	fs.Write("/docs/a.md", "a")
	fs.Write("/docs/b.md", "b")
	fs.Write("/src/main.go", "m")

	got := fs.List("docs")
	want := []string{"/docs/a.md", "/docs/b.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List(docs) = %v, want %v", got, want)
	}

	all := fs.List("/")
	if len(all) != 3 {
		t.Errorf("List(/) returned %d paths, want 3", len(all))
	}
}

func TestListEmpty(t *testing.T) {
	fs := New()
	if got := fs.List("/"); len(got) != 0 {
		t.Errorf("expected no paths, got %v", got)
	}
}
