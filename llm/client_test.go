package llm

import (
	"context"
	"errors"
	"testing"
)

// mockAdapter is a canned-response ProviderAdapter for routing tests.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	events   []StreamEvent
	lastReq  Request
	calls    int
	closed   bool
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	if m.response != nil {
		return m.response, nil
	}
	return &Response{
		Provider:   m.name,
		Message:    Message{Role: RoleAssistant, Content: "ok from " + m.name},
		StopReason: "stop",
	}, nil
}

func (m *mockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan StreamEvent, len(m.events)+1)
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (m *mockAdapter) Close() error {
	m.closed = true
	return nil
}

func TestClientRoutesToRequestedProvider(t *testing.T) {
	a := &mockAdapter{name: "alpha"}
	b := &mockAdapter{name: "beta"}
	client := NewClient(WithAdapter("alpha", a), WithAdapter("beta", b), WithDefaultProvider("alpha"))

	resp, err := client.Complete(context.Background(), Request{Provider: "beta", Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Content != "ok from beta" {
		t.Errorf("routed to wrong adapter: %q", resp.Message.Content)
	}
	if a.calls != 0 || b.calls != 1 {
		t.Errorf("call counts: alpha=%d beta=%d", a.calls, b.calls)
	}
}

func TestClientFallsBackToDefaultProvider(t *testing.T) {
	a := &mockAdapter{name: "alpha"}
	b := &mockAdapter{name: "beta"}
	client := NewClient(WithAdapter("alpha", a), WithAdapter("beta", b), WithDefaultProvider("beta"))

	resp, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Content != "ok from beta" {
		t.Errorf("expected default provider, got %q", resp.Message.Content)
	}
}

func TestClientUsesSoleAdapterWithoutDefault(t *testing.T) {
	a := &mockAdapter{name: "alpha"}
	client := NewClient(WithAdapter("alpha", a))

	if _, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if a.calls != 1 {
		t.Errorf("sole adapter not used: calls=%d", a.calls)
	}
}

func TestClientRejectsUnknownProvider(t *testing.T) {
	client := NewClient(WithAdapter("alpha", &mockAdapter{name: "alpha"}))

	_, err := client.Complete(context.Background(), Request{Provider: "missing"})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
}

func TestClientRejectsWhenNoAdapters(t *testing.T) {
	client := NewClient()

	_, err := client.Complete(context.Background(), Request{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
}

func TestClientStreamPassesEventsThrough(t *testing.T) {
	a := &mockAdapter{name: "alpha", events: []StreamEvent{
		{Type: StreamStart},
		{Type: TextDelta, Delta: "hel"},
		{Type: TextDelta, Delta: "lo"},
		{Type: StreamFinish, StopReason: "stop"},
	}}
	client := NewClient(WithAdapter("alpha", a))

	ch, err := client.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var got []StreamEvent
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got[1].Delta+got[2].Delta != "hello" {
		t.Errorf("deltas: %q %q", got[1].Delta, got[2].Delta)
	}
}

func TestClientCloseClosesAdapters(t *testing.T) {
	a := &mockAdapter{name: "alpha"}
	b := &mockAdapter{name: "beta"}
	client := NewClient(WithAdapter("alpha", a), WithAdapter("beta", b))

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Errorf("adapters not closed: alpha=%v beta=%v", a.closed, b.closed)
	}
}

func TestClientProviders(t *testing.T) {
	client := NewClient(WithAdapter("alpha", &mockAdapter{name: "alpha"}), WithAdapter("beta", &mockAdapter{name: "beta"}))

	providers := client.Providers()
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %v", providers)
	}
	seen := map[string]bool{}
	for _, p := range providers {
		seen[p] = true
	}
	if !seen["alpha"] || !seen["beta"] {
		t.Errorf("providers: %v", providers)
	}
}

func TestResponseText(t *testing.T) {
	resp := &Response{Message: Message{Role: RoleAssistant, Content: "answer"}}
	if resp.Text() != "answer" {
		t.Errorf("Text() = %q", resp.Text())
	}
}

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo(DefaultModel)
	if info == nil {
		t.Fatalf("default model %q missing from catalog", DefaultModel)
	}
	if info.Provider != "anthropic" {
		t.Errorf("provider = %q", info.Provider)
	}
	if GetModelInfo("no-such-model") != nil {
		t.Error("unknown model should return nil")
	}
}

func TestListModelsFiltersByProvider(t *testing.T) {
	for _, info := range ListModels("openai") {
		if info.Provider != "openai" {
			t.Errorf("ListModels(openai) returned %s from %s", info.ID, info.Provider)
		}
	}
	if len(ListModels("")) != len(Models) {
		t.Errorf("ListModels(\"\") should return the full catalog")
	}
}
