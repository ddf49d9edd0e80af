package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loom-agent/loom/llm"
)

// spawnAgentTool returns the tool that runs a scoped child session to
// completion and reports its final assistant text. Children share the
// parent's client and workspace filesystem but keep an isolated conversation
// history, so a delegated task cannot pollute the parent transcript.
func (s *Session) spawnAgentTool() llm.Tool {
	return llm.Tool{
		Name:        "spawn_agent",
		Description: "Delegate a scoped task to a subagent that works in the same workspace and returns its final answer.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language description of the task to delegate.",
				},
				"system_prompt": map[string]interface{}{
					"type":        "string",
					"description": "Optional system prompt override for the subagent.",
				},
			},
			"required": []string{"task"},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Task         string `json:"task"`
				SystemPrompt string `json:"system_prompt"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if args.Task == "" {
				return "", fmt.Errorf("task is required")
			}
			return s.runSubagent(ctx, args.Task, args.SystemPrompt)
		},
	}
}

func (s *Session) runSubagent(ctx context.Context, task, systemPrompt string) (string, error) {
	if s.depth+1 > s.cfg.MaxSubagentDepth {
		return "", fmt.Errorf("maximum subagent depth (%d) reached", s.cfg.MaxSubagentDepth)
	}

	childCfg := Config{
		Provider:         s.cfg.Provider,
		Model:            s.cfg.Model,
		SystemPrompt:     systemPrompt,
		MaxTokens:        s.cfg.MaxTokens,
		Temperature:      s.cfg.Temperature,
		ToolOutputLimits: s.cfg.ToolOutputLimits,
		ToolLineLimits:   s.cfg.ToolLineLimits,
		LoopWindow:       s.cfg.LoopWindow,
		MaxSubagentDepth: s.cfg.MaxSubagentDepth,
		Logger:           s.logger.Named("subagent"),
		Metrics:          s.metrics,
	}
	child := newSession(childCfg, s.depth+1, s.client, s.fs)
	defer child.Close()

	ch, err := child.Prompt(ctx, task)
	if err != nil {
		return "", fmt.Errorf("subagent prompt failed: %w", err)
	}

	var failure string
	for ev := range ch {
		if ev.Type == EventError {
			failure = ev.Message
		}
	}
	if failure != "" {
		return "", fmt.Errorf("subagent failed: %s", failure)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	msgs := child.GetMessages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant {
			return msgs[i].Content, nil
		}
	}
	return "", fmt.Errorf("subagent produced no output")
}
