package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
)

// OllamaAdapter runs models through a local ollama server using its native
// API client. Tool calls arrive whole per chunk rather than as fragments, and
// carry no IDs, so IDs are synthesized for correlation with results.
type OllamaAdapter struct {
	client       *api.Client
	defaultModel string
}

// NewOllamaAdapter creates the adapter. An empty baseURL falls back to the
// OLLAMA_HOST environment variable and then the local default.
func NewOllamaAdapter(baseURL, defaultModel string) (*OllamaAdapter, error) {
	var client *api.Client
	if baseURL == "" {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, &ConfigurationError{ClientError: ClientError{Message: "failed to configure ollama client", Cause: err}}
		}
	} else {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, &ConfigurationError{ClientError: ClientError{Message: fmt.Sprintf("invalid ollama base URL %q", baseURL), Cause: err}}
		}
		client = api.NewClient(u, http.DefaultClient)
	}
	return &OllamaAdapter{client: client, defaultModel: defaultModel}, nil
}

// Name returns the provider identifier.
func (a *OllamaAdapter) Name() string { return "ollama" }

func (a *OllamaAdapter) buildRequest(req Request, stream bool) (*api.ChatRequest, error) {
	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, api.Message{Role: "system", Content: msg.Content})
		case RoleUser:
			messages = append(messages, api.Message{Role: "user", Content: msg.Content})
		case RoleAssistant:
			wire := api.Message{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				var args api.ToolCallFunctionArguments
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						args = api.ToolCallFunctionArguments{}
					}
				}
				wire.ToolCalls = append(wire.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
				})
			}
			messages = append(messages, wire)
		case RoleTool:
			messages = append(messages, api.Message{Role: "tool", Content: msg.Content})
		}
	}

	var tools []api.Tool
	for _, t := range req.Tools {
		fn, err := toOllamaFunction(t)
		if err != nil {
			return nil, err
		}
		tools = append(tools, api.Tool{Type: "function", Function: fn})
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	options := map[string]interface{}{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	return &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
		Options:  options,
		Stream:   &stream,
	}, nil
}

// toOllamaFunction converts a neutral JSON-schema map into ollama's typed
// parameter struct by round-tripping through JSON.
func toOllamaFunction(t ToolDefinition) (api.ToolFunction, error) {
	fn := api.ToolFunction{Name: t.Name, Description: t.Description}
	schema := t.Parameters
	if schema == nil {
		schema = map[string]interface{}{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fn, &ClientError{Message: fmt.Sprintf("invalid parameter schema for tool %q", t.Name), Cause: err}
	}
	if err := json.Unmarshal(raw, &fn.Parameters); err != nil {
		return fn, &ClientError{Message: fmt.Sprintf("unsupported parameter schema for tool %q", t.Name), Cause: err}
	}
	return fn, nil
}

func fromOllamaCalls(calls []api.ToolCall) []ToolCall {
	var out []ToolCall
	for _, tc := range calls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil || len(args) == 0 {
			args = json.RawMessage("{}")
		}
		out = append(out, ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}

func normalizeOllamaStop(reason string, hasCalls bool) string {
	if hasCalls {
		return "tool_calls"
	}
	switch reason {
	case "length":
		return "length"
	default:
		return "stop"
	}
}

func (a *OllamaAdapter) wrapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{ClientError: ClientError{Message: "request aborted", Cause: ctx.Err()}}
	}
	var statusErr api.StatusError
	if ok := asStatusError(err, &statusErr); ok {
		return ErrorFromStatusCode(statusErr.StatusCode, statusErr.ErrorMessage, "ollama", "", nil)
	}
	return &NetworkError{ClientError: ClientError{Message: "ollama request failed", Cause: err}}
}

func asStatusError(err error, target *api.StatusError) bool {
	for err != nil {
		if se, ok := err.(api.StatusError); ok {
			*target = se
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Complete sends a blocking request and returns the full response.
func (a *OllamaAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	chatReq, err := a.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var (
		text       strings.Builder
		toolCalls  []ToolCall
		doneReason string
		usage      Usage
	)
	err = a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		toolCalls = append(toolCalls, fromOllamaCalls(resp.Message.ToolCalls)...)
		if resp.Done {
			doneReason = resp.DoneReason
			usage.InputTokens = resp.Metrics.PromptEvalCount
			usage.OutputTokens = resp.Metrics.EvalCount
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		}
		return nil
	})
	if err != nil {
		return nil, a.wrapErr(ctx, err)
	}

	return &Response{
		ID:         "ollama-" + uuid.NewString(),
		Model:      chatReq.Model,
		Provider:   "ollama",
		Message:    Message{Role: RoleAssistant, Content: text.String(), ToolCalls: toolCalls},
		StopReason: normalizeOllamaStop(doneReason, len(toolCalls) > 0),
		Usage:      usage,
	}, nil
}

// Stream runs a streaming chat. Each chunk's content is forwarded as a text
// delta; tool calls are complete on arrival so start and end events are
// emitted back to back.
func (a *OllamaAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	chatReq, err := a.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)

		var (
			text       strings.Builder
			toolCalls  []ToolCall
			doneReason string
			usage      Usage
			started    bool
			nextIndex  int
		)

		emit := func(ev StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		chatErr := a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if !started {
				started = true
				if !emit(StreamEvent{Type: StreamStart}) {
					return ctx.Err()
				}
			}
			if resp.Message.Content != "" {
				text.WriteString(resp.Message.Content)
				if !emit(StreamEvent{Type: TextDelta, Delta: resp.Message.Content}) {
					return ctx.Err()
				}
			}
			for _, call := range fromOllamaCalls(resp.Message.ToolCalls) {
				call := call
				idx := nextIndex
				nextIndex++
				toolCalls = append(toolCalls, call)
				if !emit(StreamEvent{Type: ToolCallStart, Index: idx, ToolCall: &ToolCall{ID: call.ID, Name: call.Name}}) {
					return ctx.Err()
				}
				if !emit(StreamEvent{Type: ToolCallEnd, Index: idx, ToolCall: &call}) {
					return ctx.Err()
				}
			}
			if resp.Done {
				doneReason = resp.DoneReason
				usage.InputTokens = resp.Metrics.PromptEvalCount
				usage.OutputTokens = resp.Metrics.EvalCount
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			}
			return nil
		})
		if chatErr != nil {
			emit(StreamEvent{Type: StreamError, Err: a.wrapErr(ctx, chatErr)})
			return
		}

		stopReason := normalizeOllamaStop(doneReason, len(toolCalls) > 0)
		emit(StreamEvent{
			Type:       StreamFinish,
			StopReason: stopReason,
			Usage:      &usage,
			Response: &Response{
				ID:         "ollama-" + uuid.NewString(),
				Model:      chatReq.Model,
				Provider:   "ollama",
				Message:    Message{Role: RoleAssistant, Content: text.String(), ToolCalls: toolCalls},
				StopReason: stopReason,
				Usage:      usage,
			},
		})
	}()
	return ch, nil
}

// ListLocalModels returns the models available on the ollama server.
func (a *OllamaAdapter) ListLocalModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := a.client.List(ctx)
	if err != nil {
		return nil, a.wrapErr(ctx, err)
	}
	var models []ModelInfo
	for _, m := range resp.Models {
		models = append(models, ModelInfo{
			ID:            m.Name,
			Provider:      "ollama",
			DisplayName:   m.Name,
			SupportsTools: true,
		})
	}
	return models, nil
}
