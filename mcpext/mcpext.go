// Package mcpext bridges Model Context Protocol servers into a session.
// Loaded as an extension, it connects to each configured server, lists its
// tools, and registers every one under "serverID.toolName"; calls are
// dispatched over the server's stdio or HTTP transport.
package mcpext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/loom-agent/loom/agent"
	"github.com/loom-agent/loom/llm"
)

const (
	protocolVersion = "2025-06-18"

	// handshakeTimeout bounds the initialize and list-tools calls per
	// server. Extension loading runs in the background; an unresponsive
	// server must not stall it indefinitely. The transport itself keeps
	// the longer-lived setup context, since SSE streams live only as long
	// as the context they started with.
	handshakeTimeout = 30 * time.Second
)

// ServerConfig describes one MCP server. Command starts a stdio server;
// URL connects over HTTP, using the SSE transport when the path ends in
// /sse and the streamable transport otherwise. Exactly one of Command or
// URL must be set.
type ServerConfig struct {
	ID      string
	Command string
	Args    []string
	Env     []string
	URL     string
}

// Extension connects to MCP servers during session extension loading.
// Servers that fail to connect are reported through the setup error and
// skipped; the rest register their tools normally.
type Extension struct {
	cfgs   []ServerConfig
	logger *zap.Logger

	mu      sync.Mutex
	clients []*client.Client
}

// New builds the extension. Connections are not dialed until Setup runs.
func New(cfgs []ServerConfig, logger *zap.Logger) *Extension {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extension{cfgs: cfgs, logger: logger}
}

// Name implements agent.Extension.
func (e *Extension) Name() string { return "mcp" }

// Setup connects to every configured server and registers its tools.
// Per-server failures are joined into the returned error; servers that
// connected stay registered.
func (e *Extension) Setup(ctx context.Context, caps agent.Capabilities) error {
	var errs []error
	for _, cfg := range e.cfgs {
		if err := e.connect(ctx, cfg, caps); err != nil {
			e.logger.Warn("mcp server setup failed",
				zap.String("server", cfg.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("mcp server %s: %w", cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Extension) connect(ctx context.Context, cfg ServerConfig, caps agent.Capabilities) error {
	cl, err := e.dial(ctx, cfg)
	if err != nil {
		return err
	}

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "loom",
				Version: "1.0.0",
			},
		},
	}
	if _, err := cl.Initialize(hsCtx, initReq); err != nil {
		_ = cl.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	toolsResult, err := cl.ListTools(hsCtx, mcp.ListToolsRequest{})
	if err != nil {
		_ = cl.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	e.mu.Lock()
	e.clients = append(e.clients, cl)
	e.mu.Unlock()

	registered := 0
	for _, remote := range toolsResult.Tools {
		if caps.RegisterTool(e.bridgeTool(cl, cfg.ID, remote)) {
			registered++
		}
	}
	e.logger.Info("mcp server connected",
		zap.String("server", cfg.ID),
		zap.Int("tools", registered))
	return nil
}

// dial opens the transport. Stdio clients start their subprocess on
// creation; HTTP transports need an explicit Start before the handshake.
func (e *Extension) dial(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	if cfg.Command != "" {
		return client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	}
	if cfg.URL == "" {
		return nil, errors.New("server config needs a command or url")
	}

	var (
		cl  *client.Client
		err error
	)
	if strings.HasSuffix(strings.TrimSuffix(cfg.URL, "/"), "/sse") {
		cl, err = client.NewSSEMCPClient(cfg.URL)
	} else {
		cl, err = client.NewStreamableHttpClient(cfg.URL)
	}
	if err != nil {
		return nil, err
	}
	if err := cl.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("start transport: %w", err)
	}
	return cl, nil
}

// bridgeTool wraps one remote tool as a session tool. The remote input
// schema passes through as the parameter schema; arguments decode to a
// generic map for the MCP call.
func (e *Extension) bridgeTool(cl *client.Client, serverID string, remote mcp.Tool) llm.Tool {
	schemaType := remote.InputSchema.Type
	if schemaType == "" {
		schemaType = "object"
	}
	params := map[string]interface{}{
		"type":       schemaType,
		"properties": remote.InputSchema.Properties,
	}
	if len(remote.InputSchema.Required) > 0 {
		params["required"] = remote.InputSchema.Required
	}

	name := serverID + "." + remote.Name
	remoteName := remote.Name
	return llm.Tool{
		Name:        name,
		Description: remote.Description,
		Parameters:  params,
		Execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			var decoded map[string]any
			if len(args) > 0 {
				if err := json.Unmarshal(args, &decoded); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			result, err := cl.CallTool(ctx, mcp.CallToolRequest{
				Params: mcp.CallToolParams{
					Name:      remoteName,
					Arguments: decoded,
				},
			})
			if err != nil {
				return "", fmt.Errorf("call %s: %w", name, err)
			}
			text := resultText(result)
			if result.IsError {
				return "", errors.New(text)
			}
			return text, nil
		},
	}
}

// resultText flattens an MCP result's content list to text. Content items
// are heterogeneous, so the list is rendered as JSON rather than guessing
// at item shapes.
func resultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return "Tool executed successfully (no output)"
	}
	data, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Sprintf("tool result (marshal error): %v", err)
	}
	return string(data)
}

// Close shuts down every connected server client.
func (e *Extension) Close() error {
	e.mu.Lock()
	clients := e.clients
	e.clients = nil
	e.mu.Unlock()

	var errs []error
	for _, cl := range clients {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
