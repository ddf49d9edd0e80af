package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func openAIServer(t *testing.T, body string) *OpenAIAdapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewOpenAIAdapter("test-key", srv.URL, srv.Client())
}

const openAIToolStream = `data: {"id":"chatcmpl-1","model":"gpt-5.2","choices":[{"delta":{"content":"Hi"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"delta":{"content":" there"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"list","arguments":""}}]},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"prefix\":"}}]},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"/\"}"}}]},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":8,"completion_tokens":4,"total_tokens":12}}

data: [DONE]

`

func TestOpenAIStreamMergesToolCallFragments(t *testing.T) {
	adapter := openAIServer(t, openAIToolStream)

	ch, err := adapter.Stream(context.Background(), Request{Model: "gpt-5.2", Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collectEvents(t, ch)

	deltas := eventsOfType(events, TextDelta)
	if len(deltas) != 2 || deltas[0].Delta+deltas[1].Delta != "Hi there" {
		t.Errorf("text deltas = %+v", deltas)
	}

	starts := eventsOfType(events, ToolCallStart)
	if len(starts) != 1 || starts[0].ToolCall.Name != "list" {
		t.Fatalf("tool starts = %+v", starts)
	}

	ends := eventsOfType(events, ToolCallEnd)
	if len(ends) != 1 {
		t.Fatalf("tool ends = %d", len(ends))
	}
	call := ends[0].ToolCall
	if call.ID != "call_1" {
		t.Errorf("call id = %q", call.ID)
	}
	var args map[string]string
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatalf("fragments did not reassemble into valid JSON: %v (%s)", err, call.Arguments)
	}
	if args["prefix"] != "/" {
		t.Errorf("args = %v", args)
	}

	finishes := eventsOfType(events, StreamFinish)
	if len(finishes) != 1 {
		t.Fatalf("finish events = %d", len(finishes))
	}
	if finishes[0].StopReason != "tool_calls" {
		t.Errorf("stop reason = %q", finishes[0].StopReason)
	}
	if finishes[0].Response.Text() != "Hi there" {
		t.Errorf("accumulated text = %q", finishes[0].Response.Text())
	}
	if finishes[0].Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", finishes[0].Usage)
	}
}

func TestOpenAIStreamTextOnly(t *testing.T) {
	body := `data: {"id":"chatcmpl-2","choices":[{"delta":{"content":"done"},"finish_reason":null}]}

data: {"id":"chatcmpl-2","choices":[{"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`
	adapter := openAIServer(t, body)

	ch, err := adapter.Stream(context.Background(), Request{Model: "gpt-5.2"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collectEvents(t, ch)

	if len(eventsOfType(events, ToolCallEnd)) != 0 {
		t.Error("no tool calls expected")
	}
	finishes := eventsOfType(events, StreamFinish)
	if len(finishes) != 1 || finishes[0].StopReason != "stop" {
		t.Fatalf("finish = %+v", finishes)
	}
	if finishes[0].Response.Text() != "done" {
		t.Errorf("text = %q", finishes[0].Response.Text())
	}
}

func TestOpenAIRequestRendering(t *testing.T) {
	var captured openAIRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, `{"id":"chatcmpl-3","model":"gpt-5.2","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()
	adapter := NewOpenAIAdapter("sk-test", srv.URL, srv.Client())

	req := Request{
		Model:  "gpt-5.2",
		System: "be terse",
		Messages: []Message{
			UserMessage("list files"),
			{
				Role:      RoleAssistant,
				ToolCalls: []ToolCall{{ID: "call_9", Name: "list", Arguments: json.RawMessage(`{"prefix":"/"}`)}},
			},
			ToolResultMessage("call_9", "/a.txt", false),
		},
		MaxTokens: 256,
	}
	if _, err := adapter.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if auth != "Bearer sk-test" {
		t.Errorf("authorization = %q", auth)
	}
	if captured.MaxTokens != 256 {
		t.Errorf("max tokens = %d", captured.MaxTokens)
	}
	// system, user, assistant(tool_calls), tool
	if len(captured.Messages) != 4 {
		t.Fatalf("messages = %+v", captured.Messages)
	}
	if captured.Messages[0].Role != "system" || captured.Messages[0].Content != "be terse" {
		t.Errorf("system turn = %+v", captured.Messages[0])
	}
	assistant := captured.Messages[2]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "list" {
		t.Errorf("assistant turn = %+v", assistant)
	}
	toolTurn := captured.Messages[3]
	if toolTurn.Role != "tool" || toolTurn.ToolCallID != "call_9" {
		t.Errorf("tool turn = %+v", toolTurn)
	}
}

func TestOpenAIErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()
	adapter := NewOpenAIAdapter("bad", srv.URL, srv.Client())

	_, err := adapter.Complete(context.Background(), Request{Model: "gpt-5.2"})
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %T: %v", err, err)
	}
	if authErr.ErrorCode != "invalid_api_key" {
		t.Errorf("error code = %q", authErr.ErrorCode)
	}
}
