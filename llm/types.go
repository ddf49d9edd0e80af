package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in the conversation history. The first history
// element is always the system message. An assistant message may carry tool
// calls; a tool message carries the result for exactly one call, correlated
// by ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage creates a tool-result message correlated to callID.
func ToolResultMessage(callID, content string, isError bool) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, IsError: isError}
}

// ToolCall is one tool invocation requested by the model. Arguments holds the
// raw JSON object exactly as assembled from the wire; decoding is deferred to
// execution so a malformed payload surfaces as an error result rather than a
// dropped call. Result is attached once after local execution.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    *ToolResult     `json:"result,omitempty"`
}

// Clone returns a deep copy of the call.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Arguments != nil {
		out.Arguments = append(json.RawMessage(nil), tc.Arguments...)
	}
	if tc.Result != nil {
		r := *tc.Result
		out.Result = &r
	}
	return out
}

// ToolResult is the outcome of executing one tool call. Produced exactly once
// per call. IsError marks business or execution failures that the model is
// expected to recover from; it is not a transport-level error.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Tool couples a wire-visible definition with its local executor. Execute
// receives the raw argument JSON and returns text content; a non-nil error is
// converted by the caller into ToolResult{IsError: true}. Execute may block on
// I/O and must honor ctx cancellation where practical.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Execute     func(ctx context.Context, args json.RawMessage) (string, error)
}

// Definition returns the schema-only view sent to the model.
func (t Tool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// ToolDefinition is the declaration shape for the request payload.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the provider-neutral request shape. Adapters translate it into
// their wire format.
type Request struct {
	Provider    string
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
}

// Usage reports token consumption for one round.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Response is the fully accumulated outcome of one round.
type Response struct {
	ID         string  `json:"id"`
	Model      string  `json:"model"`
	Provider   string  `json:"provider"`
	Message    Message `json:"message"`
	StopReason string  `json:"stop_reason"`
	Usage      Usage   `json:"usage"`
}

// Text returns the response's text content.
func (r *Response) Text() string {
	return r.Message.Content
}

// StreamEventType discriminates wire-level stream events.
type StreamEventType string

const (
	// StreamStart opens a round's event sequence.
	StreamStart StreamEventType = "stream_start"
	// TextDelta carries an incremental text fragment.
	TextDelta StreamEventType = "text_delta"
	// ToolCallStart announces a tool invocation; ID and name are known,
	// arguments may still be arriving.
	ToolCallStart StreamEventType = "tool_call_start"
	// ToolCallDelta carries an argument fragment for the call at Index.
	ToolCallDelta StreamEventType = "tool_call_delta"
	// ToolCallEnd delivers the fully assembled call.
	ToolCallEnd StreamEventType = "tool_call_end"
	// StreamFinish closes the round; StopReason and Usage are final.
	StreamFinish StreamEventType = "finish"
	// StreamError reports a transport or protocol failure; terminal.
	StreamError StreamEventType = "error"
)

// StreamEvent is one wire-level event produced by an adapter's Stream. Tool
// calls arrive fragmented on the wire; adapters assemble them keyed by the
// server-supplied index and emit the complete call at ToolCallEnd, so
// consumers never see partial argument payloads.
type StreamEvent struct {
	Type       StreamEventType
	Delta      string
	Index      int
	ArgsDelta  string
	ToolCall   *ToolCall
	StopReason string
	Usage      *Usage
	Response   *Response
	Err        error
}
