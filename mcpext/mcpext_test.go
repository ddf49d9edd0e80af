package mcpext

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loom-agent/loom/agent"
	"github.com/loom-agent/loom/llm"
)

type fakeCaps struct {
	tools []llm.Tool
}

func (f *fakeCaps) RegisterTool(t llm.Tool) bool {
	f.tools = append(f.tools, t)
	return true
}

func (f *fakeCaps) Subscribe(agent.Listener) func() { return func() {} }

func (f *fakeCaps) RequestUserInput(context.Context, agent.InputRequest) (map[string]string, error) {
	return nil, errors.New("no handler in test")
}

func TestBridgeToolSchema(t *testing.T) {
	ext := New(nil, nil)

	remote := mcp.Tool{
		Name:        "search",
		Description: "Search the web",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string"},
			},
			Required: []string{"query"},
		},
	}
	tool := ext.bridgeTool(nil, "web", remote)

	if tool.Name != "web.search" {
		t.Errorf("name = %q, want web.search", tool.Name)
	}
	if tool.Description != "Search the web" {
		t.Errorf("description = %q", tool.Description)
	}
	if tool.Parameters["type"] != "object" {
		t.Errorf("schema type = %v", tool.Parameters["type"])
	}
	req, ok := tool.Parameters["required"].([]string)
	if !ok || len(req) != 1 || req[0] != "query" {
		t.Errorf("required = %v", tool.Parameters["required"])
	}
}

func TestBridgeToolDefaultsSchemaType(t *testing.T) {
	ext := New(nil, nil)

	tool := ext.bridgeTool(nil, "srv", mcp.Tool{Name: "noop"})
	if tool.Parameters["type"] != "object" {
		t.Errorf("schema type = %v, want object", tool.Parameters["type"])
	}
	if _, ok := tool.Parameters["required"]; ok {
		t.Error("empty required list should be omitted")
	}
}

func TestResultText(t *testing.T) {
	if got := resultText(nil); !strings.Contains(got, "no output") {
		t.Errorf("nil result text = %q", got)
	}
	if got := resultText(&mcp.CallToolResult{}); !strings.Contains(got, "no output") {
		t.Errorf("empty result text = %q", got)
	}
	if got := resultText(mcp.NewToolResultText("hello world")); !strings.Contains(got, "hello world") {
		t.Errorf("text result = %q", got)
	}
}

func TestSetupReportsUnreachableServer(t *testing.T) {
	ext := New([]ServerConfig{{ID: "broken"}}, nil)
	caps := &fakeCaps{}

	err := ext.Setup(context.Background(), caps)
	if err == nil {
		t.Fatal("expected setup error for server without transport")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should name the server: %v", err)
	}
	if len(caps.tools) != 0 {
		t.Errorf("registered %d tools from a dead server", len(caps.tools))
	}
}

func TestExtensionName(t *testing.T) {
	if got := New(nil, nil).Name(); got != "mcp" {
		t.Errorf("name = %q", got)
	}
}
