package templates

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestRegistry(ts ...Template) *Registry {
	r := NewRegistry(nil)
	r.RegisterAll(ts)
	return r
}

func TestExpandPositionalAndSlice(t *testing.T) {
	r := newTestRegistry(Template{
		Name: "scaffold",
		Body: "Project: $1 ($2). Extra: ${@:3}",
	})

	got, ok := r.Expand("/scaffold ts myapp with tests")
	if !ok {
		t.Fatal("expansion expected")
	}
	want := "Project: ts (myapp). Extra: with tests"
	if got != want {
		t.Errorf("Expand = %q, want %q", got, want)
	}
}

func TestExpandReturnsNoMatch(t *testing.T) {
	r := newTestRegistry(Template{Name: "known", Body: "body"})

	if _, ok := r.Expand("/unknown x"); ok {
		t.Error("unknown template must not expand")
	}
	if _, ok := r.Expand("hello"); ok {
		t.Error("input without leading slash must not expand")
	}
	if _, ok := r.Expand("/"); ok {
		t.Error("bare slash must not expand")
	}
}

func TestExpandQuotedArguments(t *testing.T) {
	r := newTestRegistry(Template{Name: "say", Body: "first=$1 second=$2"})

	got, ok := r.Expand(`/say "arg with spaces" plain`)
	if !ok {
		t.Fatal("expansion expected")
	}
	if got != "first=arg with spaces second=plain" {
		t.Errorf("Expand = %q", got)
	}

	got, _ = r.Expand(`/say 'single quoted' x`)
	if got != "first=single quoted second=x" {
		t.Errorf("single quotes: %q", got)
	}
}

func TestExpandAllArguments(t *testing.T) {
	r := newTestRegistry(
		Template{Name: "all", Body: "got: $@"},
		Template{Name: "named", Body: "got: $ARGUMENTS"},
	)

	if got, _ := r.Expand("/all a b c"); got != "got: a b c" {
		t.Errorf("$@ = %q", got)
	}
	if got, _ := r.Expand("/named a b c"); got != "got: a b c" {
		t.Errorf("$ARGUMENTS = %q", got)
	}
}

func TestExpandMissingPositionsAreEmpty(t *testing.T) {
	r := newTestRegistry(Template{Name: "t", Body: "[$1][$3][${@:5}][${@:1:0}]"})

	got, _ := r.Expand("/t only")
	if got != "[only][][][]" {
		t.Errorf("Expand = %q", got)
	}
}

func TestExpandSliceWithLength(t *testing.T) {
	r := newTestRegistry(Template{Name: "t", Body: "${@:2:2}"})

	got, _ := r.Expand("/t a b c d e")
	if got != "b c" {
		t.Errorf("slice = %q", got)
	}
}

func TestExpandNoArguments(t *testing.T) {
	r := newTestRegistry(Template{Name: "ping", Body: "pong $1$@"})

	got, ok := r.Expand("/ping")
	if !ok || got != "pong " {
		t.Errorf("Expand = %q ok=%v", got, ok)
	}
}

func TestExpandDoesNotRescanArgumentValues(t *testing.T) {
	r := newTestRegistry(Template{Name: "t", Body: "$1 $2"})

	// An argument that itself looks like a placeholder stays literal.
	got, _ := r.Expand(`/t "$2" real`)
	if got != "$2 real" {
		t.Errorf("Expand = %q", got)
	}
}

func TestRegisterFirstWins(t *testing.T) {
	r := newTestRegistry(
		Template{Name: "dup", Body: "one"},
		Template{Name: "dup", Body: "two"},
	)

	if r.Len() != 1 {
		t.Fatalf("Len = %d", r.Len())
	}
	got, _ := r.Expand("/dup")
	if got != "one" {
		t.Errorf("duplicate registration must keep the first: %q", got)
	}
}

func TestRegisterSkipsInvalid(t *testing.T) {
	r := newTestRegistry(
		Template{Name: "", Body: "x"},
		Template{Name: "x", Body: ""},
	)
	if r.Len() != 0 {
		t.Errorf("invalid templates registered: %v", r.Names())
	}
}

func TestSearchPrefixInRegistrationOrder(t *testing.T) {
	r := newTestRegistry(
		Template{Name: "review-backend", Body: "b"},
		Template{Name: "deploy", Body: "d"},
		Template{Name: "review-frontend", Body: "f"},
	)

	got := r.Search("review")
	want := []string{"review-backend", "review-frontend"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Search = %v, want %v", got, want)
	}

	if got := r.Search("/deploy"); len(got) != 1 {
		t.Errorf("leading slash should be tolerated: %v", got)
	}
	if got := r.Search("Review"); got != nil {
		t.Errorf("search is case-sensitive: %v", got)
	}
}

func TestSearchFuzzy(t *testing.T) {
	r := newTestRegistry(
		Template{Name: "deploy-staging", Body: "s"},
		Template{Name: "deploy-prod", Body: "p"},
		Template{Name: "review", Body: "r"},
	)

	got := r.SearchFuzzy("dpprd")
	if len(got) == 0 || got[0] != "deploy-prod" {
		t.Errorf("SearchFuzzy = %v", got)
	}
	if got := r.SearchFuzzy(""); len(got) != 3 {
		t.Errorf("empty query should return all names: %v", got)
	}
}

func TestParseFile(t *testing.T) {
	doc := `---
name: scaffold
description: Scaffold a project
---
Project: $1
`
	tmpl, err := ParseFile("scaffold.md", []byte(doc))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if tmpl.Name != "scaffold" || tmpl.Description != "Scaffold a project" {
		t.Errorf("meta = %+v", tmpl)
	}
	if tmpl.Body != "Project: $1" {
		t.Errorf("body = %q", tmpl.Body)
	}
}

func TestParseFileNameFromFilename(t *testing.T) {
	tmpl, err := ParseFile("/commands/fix-issue.md", []byte("Fix issue $1"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if tmpl.Name != "fix-issue" {
		t.Errorf("name = %q", tmpl.Name)
	}
	if tmpl.Body != "Fix issue $1" {
		t.Errorf("body = %q", tmpl.Body)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greet.md"), []byte("Say hello to $1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "empty.md"), []byte("   \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(nil)
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("loaded %d templates, want 1", r.Len())
	}
	got, ok := r.Expand("/greet world")
	if !ok || got != "Say hello to world" {
		t.Errorf("Expand = %q ok=%v", got, ok)
	}
}
