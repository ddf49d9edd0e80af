package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loom-agent/loom/agentfs"
	"github.com/loom-agent/loom/llm"
)

// BuiltinTools returns the filesystem tools bound to fs: read, write, edit,
// and list. Executors return errors for business failures (missing file,
// edit target not found); the turn loop converts them into error results the
// model can recover from. A failed edit never modifies the file.
func BuiltinTools(fs *agentfs.FS) []llm.Tool {
	return []llm.Tool{
		readTool(fs),
		writeTool(fs),
		editTool(fs),
		listTool(fs),
	}
}

func readTool(fs *agentfs.FS) llm.Tool {
	return llm.Tool{
		Name:        "read",
		Description: "Read the content of a file in the workspace.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Path of the file to read.",
				},
			},
			"required": []string{"path"},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if args.Path == "" {
				return "", fmt.Errorf("path is required")
			}
			content, ok := fs.Read(args.Path)
			if !ok {
				return "", fmt.Errorf("file not found: %s", agentfs.Normalize(args.Path))
			}
			return content, nil
		},
	}
}

func writeTool(fs *agentfs.FS) llm.Tool {
	return llm.Tool{
		Name:        "write",
		Description: "Write content to a file in the workspace, creating or replacing it.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Path of the file to write.",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "The full content to store.",
				},
			},
			"required": []string{"path", "content"},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Path    string  `json:"path"`
				Content *string `json:"content"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if args.Path == "" {
				return "", fmt.Errorf("path is required")
			}
			if args.Content == nil {
				return "", fmt.Errorf("content is required")
			}
			fs.Write(args.Path, *args.Content)
			return fmt.Sprintf("Wrote %d bytes to %s", len(*args.Content), agentfs.Normalize(args.Path)), nil
		},
	}
}

func editTool(fs *agentfs.FS) llm.Tool {
	return llm.Tool{
		Name:        "edit",
		Description: "Replace the first occurrence of oldText in a file with newText. oldText must match the file content exactly.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Path of the file to edit.",
				},
				"oldText": map[string]interface{}{
					"type":        "string",
					"description": "Exact text to find in the file.",
				},
				"newText": map[string]interface{}{
					"type":        "string",
					"description": "Replacement text.",
				},
			},
			"required": []string{"path", "oldText", "newText"},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Path    string  `json:"path"`
				OldText string  `json:"oldText"`
				NewText *string `json:"newText"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if args.Path == "" {
				return "", fmt.Errorf("path is required")
			}
			if args.OldText == "" {
				return "", fmt.Errorf("oldText is required")
			}
			if args.NewText == nil {
				return "", fmt.Errorf("newText is required")
			}

			path := agentfs.Normalize(args.Path)
			content, ok := fs.Read(path)
			if !ok {
				return "", fmt.Errorf("file not found: %s", path)
			}
			if !strings.Contains(content, args.OldText) {
				return "", fmt.Errorf("oldText not found in %s", path)
			}
			fs.Write(path, strings.Replace(content, args.OldText, *args.NewText, 1))
			return fmt.Sprintf("Edited %s", path), nil
		},
	}
}

func listTool(fs *agentfs.FS) llm.Tool {
	return llm.Tool{
		Name:        "list",
		Description: "List workspace file paths under a prefix. Use \"/\" to list everything.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prefix": map[string]interface{}{
					"type":        "string",
					"description": "Path prefix to list. Defaults to the workspace root.",
				},
			},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Prefix string `json:"prefix"`
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			if args.Prefix == "" {
				args.Prefix = "/"
			}
			paths := fs.List(args.Prefix)
			if len(paths) == 0 {
				return fmt.Sprintf("No files under %s", agentfs.Normalize(args.Prefix)), nil
			}
			return strings.Join(paths, "\n"), nil
		},
	}
}
