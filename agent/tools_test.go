package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/loom-agent/loom/agentfs"
	"github.com/loom-agent/loom/llm"
)

func execTool(t *testing.T, tool llm.Tool, args string) (string, error) {
	t.Helper()
	return tool.Execute(context.Background(), json.RawMessage(args))
}

func builtinByName(t *testing.T, fs *agentfs.FS, name string) llm.Tool {
	t.Helper()
	for _, tool := range BuiltinTools(fs) {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("no built-in tool named %s", name)
	return llm.Tool{}
}

func TestReadToolReturnsContentOrNotFound(t *testing.T) {
	fs := agentfs.New()
	fs.Write("/notes.txt", "remember the milk")
	read := builtinByName(t, fs, "read")

	out, err := execTool(t, read, `{"path":"notes.txt"}`)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != "remember the milk" {
		t.Fatalf("unexpected content: %q", out)
	}

	_, err = execTool(t, read, `{"path":"/missing.txt"}`)
	if err == nil || !strings.Contains(err.Error(), "file not found: /missing.txt") {
		t.Fatalf("expected not-found error, got %v", err)
	}

	_, err = execTool(t, read, `{}`)
	if err == nil || !strings.Contains(err.Error(), "path is required") {
		t.Fatalf("expected missing-path error, got %v", err)
	}
}

func TestWriteToolUpsertsAndConfirms(t *testing.T) {
	fs := agentfs.New()
	write := builtinByName(t, fs, "write")

	out, err := execTool(t, write, `{"path":"a//b.txt","content":"one"}`)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out, "/a/b.txt") {
		t.Fatalf("confirmation should carry the normalized path: %q", out)
	}
	if content, _ := fs.Read("/a/b.txt"); content != "one" {
		t.Fatalf("unexpected stored content: %q", content)
	}

	if _, err := execTool(t, write, `{"path":"/a/b.txt","content":"two"}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if content, _ := fs.Read("/a/b.txt"); content != "two" {
		t.Fatalf("overwrite did not replace content: %q", content)
	}

	// Empty content is a legal write; only a missing field is rejected.
	if _, err := execTool(t, write, `{"path":"/empty.txt","content":""}`); err != nil {
		t.Fatalf("empty write: %v", err)
	}
	if _, err := execTool(t, write, `{"path":"/c.txt"}`); err == nil {
		t.Fatal("write without content should fail")
	}
}

func TestEditToolReplacesFirstOccurrence(t *testing.T) {
	fs := agentfs.New()
	fs.Write("/poem.txt", "the cat sat on the mat")
	edit := builtinByName(t, fs, "edit")

	if _, err := execTool(t, edit, `{"path":"/poem.txt","oldText":"the","newText":"a"}`); err != nil {
		t.Fatalf("edit: %v", err)
	}
	content, _ := fs.Read("/poem.txt")
	if content != "a cat sat on the mat" {
		t.Fatalf("edit should replace only the first occurrence: %q", content)
	}
}

func TestEditToolFailureLeavesFileUnchanged(t *testing.T) {
	fs := agentfs.New()
	fs.Write("/config.ini", "mode=fast")
	edit := builtinByName(t, fs, "edit")

	_, err := execTool(t, edit, `{"path":"/config.ini","oldText":"mode=slow","newText":"mode=off"}`)
	if err == nil || !strings.Contains(err.Error(), "oldText not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if content, _ := fs.Read("/config.ini"); content != "mode=fast" {
		t.Fatalf("failed edit modified the file: %q", content)
	}

	_, err = execTool(t, edit, `{"path":"/nope.ini","oldText":"x","newText":"y"}`)
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Fatalf("expected missing-file error, got %v", err)
	}
}

func TestListToolFiltersByPrefix(t *testing.T) {
	fs := agentfs.New()
	fs.Write("/src/main.go", "")
	fs.Write("/src/util.go", "")
	fs.Write("/docs/readme.md", "")
	list := builtinByName(t, fs, "list")

	out, err := execTool(t, list, `{"prefix":"/src"}`)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "/src/main.go\n/src/util.go" {
		t.Fatalf("unexpected listing: %q", out)
	}

	out, err = execTool(t, list, `{}`)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if !strings.Contains(out, "/docs/readme.md") {
		t.Fatalf("default prefix should list everything: %q", out)
	}

	out, err = execTool(t, list, `{"prefix":"/nowhere"}`)
	if err != nil {
		t.Fatalf("empty list: %v", err)
	}
	if !strings.Contains(out, "No files") {
		t.Fatalf("expected empty-listing message: %q", out)
	}
}

func TestToolRegistryFirstRegistrationWins(t *testing.T) {
	reg := NewToolRegistry(zap.NewNop())

	original := llm.Tool{
		Name:       "lookup",
		Parameters: map[string]interface{}{"type": "object"},
		Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
			return "original", nil
		},
	}
	impostor := original
	impostor.Execute = func(ctx context.Context, raw json.RawMessage) (string, error) {
		return "impostor", nil
	}

	if !reg.Register(original) {
		t.Fatal("first registration should succeed")
	}
	if reg.Register(impostor) {
		t.Fatal("duplicate registration should be rejected")
	}

	tool, ok := reg.Get("lookup")
	if !ok {
		t.Fatal("tool missing after registration")
	}
	out, _ := tool.Execute(context.Background(), nil)
	if out != "original" {
		t.Fatalf("duplicate displaced the original: %q", out)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 tool, got %d", reg.Len())
	}
}

func TestToolRegistryRejectsInvalidTools(t *testing.T) {
	reg := NewToolRegistry(zap.NewNop())

	if reg.Register(llm.Tool{Name: "no-executor"}) {
		t.Fatal("tool without executor should be rejected")
	}
	if reg.Register(llm.Tool{Execute: func(ctx context.Context, raw json.RawMessage) (string, error) { return "", nil }}) {
		t.Fatal("tool without name should be rejected")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
}

func TestToolRegistryPreservesOrder(t *testing.T) {
	reg := NewToolRegistry(zap.NewNop())
	noop := func(ctx context.Context, raw json.RawMessage) (string, error) { return "", nil }

	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.Register(llm.Tool{Name: name, Execute: noop})
	}

	names := reg.Names()
	want := []string{"zeta", "alpha", "mid"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order position %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}
