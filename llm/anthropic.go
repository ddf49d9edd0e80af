package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	clientUserAgent         = "loom/0.1"

	// SSE lines carrying a full tool-argument fragment can be large.
	sseInitialBuffer = 64 * 1024
	sseMaxBuffer     = 8 * 1024 * 1024
)

// AnthropicAdapter speaks the Anthropic messages wire format: JSON request,
// SSE response with typed events, tool-call arguments delivered as
// input_json_delta fragments keyed by content-block index.
type AnthropicAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicAdapter creates the adapter. An empty baseURL selects the
// public endpoint.
func NewAnthropicAdapter(apiKey, baseURL string, httpClient *http.Client) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AnthropicAdapter{apiKey: apiKey, baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Wire shapes.

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicErrorBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest translates the neutral request into the wire shape. System
// messages fold into the system field; tool-result messages render as user
// turns carrying tool_result blocks, merged when consecutive so each
// assistant tool_use turn is answered by a single user turn.
func (a *AnthropicAdapter) buildRequest(req Request, stream bool) anthropicRequest {
	system := req.System
	var messages []anthropicMessage

	flushResults := func(pending []anthropicContentBlock) []anthropicContentBlock {
		if len(pending) > 0 {
			messages = append(messages, anthropicMessage{Role: "user", Content: pending})
		}
		return nil
	}

	var pendingResults []anthropicContentBlock
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if system == "" {
				system = msg.Content
			} else {
				system += "\n" + msg.Content
			}
		case RoleUser:
			pendingResults = flushResults(pendingResults)
			messages = append(messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
			})
		case RoleAssistant:
			pendingResults = flushResults(pendingResults)
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicContentBlock{
					Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = []anthropicContentBlock{{Type: "text", Text: ""}}
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: blocks})
		case RoleTool:
			pendingResults = append(pendingResults, anthropicContentBlock{
				Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content, IsError: msg.IsError,
			})
		}
	}
	flushResults(pendingResults)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	var tools []anthropicTool
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		tools = append(tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	return anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Tools:       tools,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (a *AnthropicAdapter) post(ctx context.Context, body anthropicRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Message: "failed to encode request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Message: "failed to build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)
	httpReq.Header.Set("User-Agent", clientUserAgent)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{ClientError: ClientError{Message: "request aborted", Cause: ctx.Err()}}
		}
		return nil, &NetworkError{ClientError: ClientError{Message: "request failed", Cause: err}}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, a.errorFromResponse(resp)
	}
	return resp, nil
}

func (a *AnthropicAdapter) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	message := strings.TrimSpace(string(raw))
	errorCode := ""

	var body anthropicErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		message = body.Error.Message
		errorCode = body.Error.Type
	}

	var retryAfter *float64
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			retryAfter = &secs
		}
	}
	return ErrorFromStatusCode(resp.StatusCode, message, "anthropic", errorCode, retryAfter)
}

// Complete sends a blocking request and returns the full response.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.post(ctx, a.buildRequest(req, false), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		ID         string                  `json:"id"`
		Model      string                  `json:"model"`
		Content    []anthropicContentBlock `json:"content"`
		StopReason string                  `json:"stop_reason"`
		Usage      anthropicUsage          `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &StreamProtocolError{ClientError: ClientError{Message: "malformed response body", Cause: err}}
	}

	message := Message{Role: RoleAssistant}
	for _, block := range body.Content {
		switch block.Type {
		case "text":
			message.Content += block.Text
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			message.ToolCalls = append(message.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	return &Response{
		ID:         body.ID,
		Model:      body.Model,
		Provider:   "anthropic",
		Message:    message,
		StopReason: normalizeAnthropicStop(body.StopReason),
		Usage: Usage{
			InputTokens:  body.Usage.InputTokens,
			OutputTokens: body.Usage.OutputTokens,
			TotalTokens:  body.Usage.InputTokens + body.Usage.OutputTokens,
		},
	}, nil
}

func normalizeAnthropicStop(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	case "end_turn", "stop_sequence", "":
		return "stop"
	default:
		return reason
	}
}

// partialToolUse accumulates one tool_use block across delta fragments.
type partialToolUse struct {
	id   string
	name string
	args strings.Builder
}

// Stream opens the SSE connection and emits events as fragments arrive. Text
// deltas pass through immediately; tool_use blocks are assembled keyed by the
// server's content-block index and emitted whole at block stop.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	resp, err := a.post(ctx, a.buildRequest(req, true), true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		a.consumeSSE(ctx, resp.Body, req.Model, ch)
	}()
	return ch, nil
}

type anthropicStreamChunk struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		ID    string         `json:"id"`
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) consumeSSE(ctx context.Context, body io.Reader, model string, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, sseInitialBuffer), sseMaxBuffer)

	var (
		responseID string
		stopReason string
		usage      Usage
		text       strings.Builder
		toolCalls  []ToolCall
		partials   = make(map[int]*partialToolUse)
	)

	emit := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	finish := func() {
		message := Message{Role: RoleAssistant, Content: text.String()}
		message.ToolCalls = append(message.ToolCalls, toolCalls...)
		emit(StreamEvent{
			Type:       StreamFinish,
			StopReason: stopReason,
			Usage:      &usage,
			Response: &Response{
				ID:         responseID,
				Model:      model,
				Provider:   "anthropic",
				Message:    message,
				StopReason: stopReason,
				Usage:      usage,
			},
		})
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			// Comment lines and "event:" framing carry no payload; the data
			// object's type field discriminates.
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var chunk anthropicStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			emit(StreamEvent{Type: StreamError, Err: &StreamProtocolError{ClientError: ClientError{
				Message: "malformed stream chunk", Cause: err,
			}}})
			return
		}

		switch chunk.Type {
		case "message_start":
			responseID = chunk.Message.ID
			usage.InputTokens = chunk.Message.Usage.InputTokens
			if !emit(StreamEvent{Type: StreamStart}) {
				return
			}

		case "content_block_start":
			if chunk.ContentBlock.Type == "tool_use" {
				partials[chunk.Index] = &partialToolUse{id: chunk.ContentBlock.ID, name: chunk.ContentBlock.Name}
				if !emit(StreamEvent{Type: ToolCallStart, Index: chunk.Index, ToolCall: &ToolCall{
					ID: chunk.ContentBlock.ID, Name: chunk.ContentBlock.Name,
				}}) {
					return
				}
			}

		case "content_block_delta":
			switch chunk.Delta.Type {
			case "text_delta":
				if chunk.Delta.Text == "" {
					continue
				}
				text.WriteString(chunk.Delta.Text)
				if !emit(StreamEvent{Type: TextDelta, Delta: chunk.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if partial, ok := partials[chunk.Index]; ok {
					partial.args.WriteString(chunk.Delta.PartialJSON)
					if !emit(StreamEvent{Type: ToolCallDelta, Index: chunk.Index, ArgsDelta: chunk.Delta.PartialJSON}) {
						return
					}
				}
			}

		case "content_block_stop":
			if partial, ok := partials[chunk.Index]; ok {
				delete(partials, chunk.Index)
				args := partial.args.String()
				if args == "" {
					args = "{}"
				}
				call := ToolCall{ID: partial.id, Name: partial.name, Arguments: json.RawMessage(args)}
				toolCalls = append(toolCalls, call)
				if !emit(StreamEvent{Type: ToolCallEnd, Index: chunk.Index, ToolCall: &call}) {
					return
				}
			}

		case "message_delta":
			if chunk.Delta.StopReason != "" {
				stopReason = normalizeAnthropicStop(chunk.Delta.StopReason)
			}
			if chunk.Usage.OutputTokens != 0 {
				usage.OutputTokens = chunk.Usage.OutputTokens
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			}

		case "message_stop":
			finish()
			return

		case "error":
			emit(StreamEvent{Type: StreamError, Err: &StreamProtocolError{ClientError: ClientError{
				Message: fmt.Sprintf("stream error from server: %s: %s", chunk.Error.Type, chunk.Error.Message),
			}}})
			return
		}
		// "ping" and unknown event types are ignored.
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			emit(StreamEvent{Type: StreamError, Err: &AbortError{ClientError: ClientError{
				Message: "stream aborted", Cause: ctx.Err(),
			}}})
			return
		}
		emit(StreamEvent{Type: StreamError, Err: &NetworkError{ClientError: ClientError{
			Message: "stream read failed", Cause: err,
		}}})
		return
	}

	// Connection closed without message_stop; treat what arrived as final.
	if stopReason == "" {
		stopReason = "stop"
	}
	finish()
}
