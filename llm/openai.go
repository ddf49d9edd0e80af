package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter speaks the chat-completions wire format: "data:" SSE lines
// terminated by a [DONE] sentinel, with tool calls arriving as indexed
// fragments inside choice deltas.
type OpenAIAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIAdapter creates the adapter. An empty baseURL selects the public
// endpoint; a custom one points at any chat-completions compatible server.
func NewOpenAIAdapter(apiKey, baseURL string, httpClient *http.Client) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIAdapter{apiKey: apiKey, baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return "openai" }

// Wire shapes.

type openAIToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_completion_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (a *OpenAIAdapter) buildRequest(req Request, stream bool) openAIRequest {
	var messages []openAIMessage
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openAIMessage{Role: "system", Content: msg.Content})
		case RoleUser:
			messages = append(messages, openAIMessage{Role: "user", Content: msg.Content})
		case RoleAssistant:
			wire := openAIMessage{Role: "assistant", Content: msg.Content}
			for i, tc := range msg.ToolCalls {
				call := openAIToolCall{Index: i, ID: tc.ID, Type: "function"}
				call.Function.Name = tc.Name
				call.Function.Arguments = string(tc.Arguments)
				if call.Function.Arguments == "" {
					call.Function.Arguments = "{}"
				}
				wire.ToolCalls = append(wire.ToolCalls, call)
			}
			messages = append(messages, wire)
		case RoleTool:
			messages = append(messages, openAIMessage{Role: "tool", Content: msg.Content, ToolCallID: msg.ToolCallID})
		}
	}

	var tools []openAITool
	for _, t := range req.Tools {
		tool := openAITool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		if tool.Function.Parameters == nil {
			tool.Function.Parameters = map[string]interface{}{"type": "object"}
		}
		tools = append(tools, tool)
	}

	return openAIRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (a *OpenAIAdapter) post(ctx context.Context, body openAIRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Message: "failed to encode request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Message: "failed to build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
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

func (a *OpenAIAdapter) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	message := strings.TrimSpace(string(raw))
	errorCode := ""

	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		message = body.Error.Message
		errorCode = body.Error.Code
		if errorCode == "" {
			errorCode = body.Error.Type
		}
	}

	var retryAfter *float64
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			retryAfter = &secs
		}
	}
	return ErrorFromStatusCode(resp.StatusCode, message, "openai", errorCode, retryAfter)
}

// Complete sends a blocking request and returns the full response.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.post(ctx, a.buildRequest(req, false), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message      openAIMessage `json:"message"`
			FinishReason string        `json:"finish_reason"`
		} `json:"choices"`
		Usage openAIUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &StreamProtocolError{ClientError: ClientError{Message: "malformed response body", Cause: err}}
	}
	if len(body.Choices) == 0 {
		return nil, &StreamProtocolError{ClientError: ClientError{Message: "response contained no choices"}}
	}

	choice := body.Choices[0]
	message := Message{Role: RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		message.ToolCalls = append(message.ToolCalls, ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(args),
		})
	}

	return &Response{
		ID:         body.ID,
		Model:      body.Model,
		Provider:   "openai",
		Message:    message,
		StopReason: normalizeOpenAIStop(choice.FinishReason),
		Usage: Usage{
			InputTokens:  body.Usage.PromptTokens,
			OutputTokens: body.Usage.CompletionTokens,
			TotalTokens:  body.Usage.TotalTokens,
		},
	}, nil
}

func normalizeOpenAIStop(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return "tool_calls"
	case "length":
		return "length"
	case "stop", "":
		return "stop"
	default:
		return reason
	}
}

// partialOpenAICall accumulates one tool call across choice-delta fragments.
type partialOpenAICall struct {
	id   string
	name string
	args strings.Builder
}

// Stream opens the SSE connection and emits events as fragments arrive.
// Tool-call fragments are merged keyed by their index field; completed calls
// are emitted when the stream finishes since this format has no per-call
// terminator.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
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

type openAIStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

func (a *OpenAIAdapter) consumeSSE(ctx context.Context, body io.Reader, model string, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, sseInitialBuffer), sseMaxBuffer)

	var (
		responseID string
		stopReason string
		usage      Usage
		text       strings.Builder
		partials   = make(map[int]*partialOpenAICall)
		order      []int
		started    bool
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
		// Emit completed calls in index order; the wire format only signals
		// completion implicitly by ending the stream.
		sort.Ints(order)
		var toolCalls []ToolCall
		for _, idx := range order {
			partial := partials[idx]
			args := partial.args.String()
			if args == "" {
				args = "{}"
			}
			call := ToolCall{ID: partial.id, Name: partial.name, Arguments: json.RawMessage(args)}
			toolCalls = append(toolCalls, call)
			if !emit(StreamEvent{Type: ToolCallEnd, Index: idx, ToolCall: &call}) {
				return
			}
		}
		if stopReason == "" {
			stopReason = "stop"
		}
		message := Message{Role: RoleAssistant, Content: text.String(), ToolCalls: toolCalls}
		emit(StreamEvent{
			Type:       StreamFinish,
			StopReason: stopReason,
			Usage:      &usage,
			Response: &Response{
				ID:         responseID,
				Model:      model,
				Provider:   "openai",
				Message:    message,
				StopReason: stopReason,
				Usage:      usage,
			},
		})
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			finish()
			return
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			emit(StreamEvent{Type: StreamError, Err: &StreamProtocolError{ClientError: ClientError{
				Message: "malformed stream chunk", Cause: err,
			}}})
			return
		}

		if !started {
			started = true
			responseID = chunk.ID
			if !emit(StreamEvent{Type: StreamStart}) {
				return
			}
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if !emit(StreamEvent{Type: TextDelta, Delta: choice.Delta.Content}) {
				return
			}
		}

		for _, frag := range choice.Delta.ToolCalls {
			partial, ok := partials[frag.Index]
			if !ok {
				partial = &partialOpenAICall{}
				partials[frag.Index] = partial
				order = append(order, frag.Index)
			}
			if frag.ID != "" {
				partial.id = frag.ID
			}
			if frag.Function.Name != "" {
				partial.name = frag.Function.Name
			}
			if !ok {
				if !emit(StreamEvent{Type: ToolCallStart, Index: frag.Index, ToolCall: &ToolCall{
					ID: partial.id, Name: partial.name,
				}}) {
					return
				}
			}
			if frag.Function.Arguments != "" {
				partial.args.WriteString(frag.Function.Arguments)
				if !emit(StreamEvent{Type: ToolCallDelta, Index: frag.Index, ArgsDelta: frag.Function.Arguments}) {
					return
				}
			}
		}

		if choice.FinishReason != "" {
			stopReason = normalizeOpenAIStop(choice.FinishReason)
		}
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

	finish()
}
