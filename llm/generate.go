package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// StopCondition lets callers stop a tool loop early based on the steps so far.
type StopCondition func(steps []StepResult) bool

// GenerateOptions configures a high-level Generate call.
type GenerateOptions struct {
	Provider      string
	Model         string
	Prompt        string    // simple text prompt (mutually exclusive with Messages)
	Messages      []Message // full conversation (mutually exclusive with Prompt)
	System        string
	Tools         []Tool
	MaxToolRounds int // default 1 when tools are present
	StopWhen      StopCondition
	Temperature   *float64
	MaxTokens     int
	MaxRetries    int
	Client        *Client
}

// StepResult captures one model round within a Generate call. ToolCalls carry
// their results when tools were executed.
type StepResult struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
	Response   Response
}

// GenerateResult is the outcome of a Generate call.
type GenerateResult struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
	TotalUsage Usage
	Steps      []StepResult
	Response   Response
	Output     interface{} // set by GenerateObject
}

// Generate is the blocking generation helper. It wraps Client.Complete with
// retries and a bounded tool-execution loop.
func Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	if opts.Prompt != "" && len(opts.Messages) > 0 {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "cannot specify both prompt and messages",
		}}
	}
	if opts.Client == nil {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "generate requires a client",
		}}
	}

	if opts.MaxToolRounds == 0 && len(opts.Tools) > 0 {
		opts.MaxToolRounds = 1
	}

	retryPolicy := DefaultRetryPolicy()
	if opts.MaxRetries > 0 {
		retryPolicy.MaxRetries = opts.MaxRetries
	}

	conversation := opts.Messages
	if opts.Prompt != "" {
		conversation = []Message{UserMessage(opts.Prompt)}
	}

	toolDefs := make([]ToolDefinition, 0, len(opts.Tools))
	toolMap := make(map[string]Tool, len(opts.Tools))
	hasActiveTools := false
	for _, t := range opts.Tools {
		toolDefs = append(toolDefs, t.Definition())
		toolMap[t.Name] = t
		if t.Execute != nil {
			hasActiveTools = true
		}
	}

	var steps []StepResult
	var totalUsage Usage

	for round := 0; round <= opts.MaxToolRounds; round++ {
		req := Request{
			Provider:    opts.Provider,
			Model:       opts.Model,
			System:      opts.System,
			Messages:    conversation,
			Tools:       toolDefs,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		}

		resp, err := Retry(ctx, retryPolicy, func(ctx context.Context) (*Response, error) {
			return opts.Client.Complete(ctx, req)
		})
		if err != nil {
			return nil, err
		}

		toolCalls := resp.Message.ToolCalls
		if len(toolCalls) > 0 && hasActiveTools {
			toolCalls = ExecuteCalls(ctx, toolMap, toolCalls)
		}

		step := StepResult{
			Text:       resp.Text(),
			ToolCalls:  toolCalls,
			StopReason: resp.StopReason,
			Usage:      resp.Usage,
			Response:   *resp,
		}
		steps = append(steps, step)
		totalUsage = totalUsage.Add(resp.Usage)

		if len(toolCalls) == 0 {
			break // natural completion
		}
		if !hasActiveTools {
			break // passive tools; return calls to the caller
		}
		if round >= opts.MaxToolRounds {
			break // budget exhausted
		}
		if opts.StopWhen != nil && opts.StopWhen(steps) {
			break
		}

		// Feed the round back: assistant message with its calls, then one
		// tool-result message per call in call order.
		assistant := resp.Message
		assistant.ToolCalls = toolCalls
		conversation = append(conversation, assistant)
		for _, call := range toolCalls {
			if call.Result == nil {
				continue
			}
			conversation = append(conversation, ToolResultMessage(call.ID, call.Result.Content, call.Result.IsError))
		}
	}

	last := steps[len(steps)-1]
	return &GenerateResult{
		Text:       last.Text,
		ToolCalls:  last.ToolCalls,
		StopReason: last.StopReason,
		Usage:      last.Usage,
		TotalUsage: totalUsage,
		Steps:      steps,
		Response:   last.Response,
	}, nil
}

// ExecuteCalls runs every call in parallel and returns copies with Result
// populated, in the same order the calls were given. Unknown tools and
// panicking executors become error results rather than failures.
func ExecuteCalls(ctx context.Context, tools map[string]Tool, calls []ToolCall) []ToolCall {
	results := make([]ToolCall, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc ToolCall) {
			defer wg.Done()
			tc.Result = executeOne(ctx, tools, tc)
			results[idx] = tc
		}(i, call)
	}

	wg.Wait()
	return results
}

func executeOne(ctx context.Context, tools map[string]Tool, tc ToolCall) (result *ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &ToolResult{
				Content: fmt.Sprintf("tool %s panicked: %v", tc.Name, r),
				IsError: true,
			}
		}
	}()

	tool, ok := tools[tc.Name]
	if !ok || tool.Execute == nil {
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", tc.Name), IsError: true}
	}

	output, err := tool.Execute(ctx, tc.Arguments)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("tool execution error: %v", err), IsError: true}
	}
	return &ToolResult{Content: output}
}

// GenerateObject runs Generate with schema instructions injected into the
// system prompt and parses the response text as JSON into Output.
func GenerateObject(ctx context.Context, opts GenerateOptions, schema map[string]interface{}) (*GenerateResult, error) {
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "invalid output schema", Cause: err,
		}}
	}
	instruction := fmt.Sprintf(
		"\nYou must respond with valid JSON matching this schema:\n```json\n%s\n```\nRespond ONLY with the JSON object, no other text.",
		schemaJSON,
	)
	if opts.System != "" {
		opts.System += instruction
	} else {
		opts.System = instruction
	}

	result, err := Generate(ctx, opts)
	if err != nil {
		return nil, err
	}

	var output interface{}
	if err := json.Unmarshal([]byte(stripCodeFence(result.Text)), &output); err != nil {
		return nil, &NoObjectGeneratedError{ClientError: ClientError{
			Message: fmt.Sprintf("failed to parse structured output: %v", err), Cause: err,
		}}
	}
	result.Output = output
	return result, nil
}

// stripCodeFence unwraps a markdown code fence if the whole text is one.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// StreamResult wraps a streaming response with access to the final
// accumulated Response once the stream ends.
type StreamResult struct {
	events   <-chan StreamEvent
	mu       sync.Mutex
	response *Response
}

// Events returns the channel of stream events.
func (sr *StreamResult) Events() <-chan StreamEvent {
	return sr.events
}

// Response returns the final response, or nil while the stream is running.
func (sr *StreamResult) Response() *Response {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.response
}

// StreamGenerate is the streaming counterpart of Generate for a single round.
func StreamGenerate(ctx context.Context, opts GenerateOptions) (*StreamResult, error) {
	if opts.Prompt != "" && len(opts.Messages) > 0 {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "cannot specify both prompt and messages",
		}}
	}
	if opts.Client == nil {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "generate requires a client",
		}}
	}

	conversation := opts.Messages
	if opts.Prompt != "" {
		conversation = []Message{UserMessage(opts.Prompt)}
	}

	toolDefs := make([]ToolDefinition, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		toolDefs = append(toolDefs, t.Definition())
	}

	eventCh, err := opts.Client.Stream(ctx, Request{
		Provider:    opts.Provider,
		Model:       opts.Model,
		System:      opts.System,
		Messages:    conversation,
		Tools:       toolDefs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, err
	}

	outCh := make(chan StreamEvent, 64)
	sr := &StreamResult{events: outCh}

	go func() {
		defer close(outCh)
		for event := range eventCh {
			outCh <- event
			if event.Type == StreamFinish && event.Response != nil {
				sr.mu.Lock()
				sr.response = event.Response
				sr.mu.Unlock()
			}
		}
	}()

	return sr, nil
}

// Accumulator collects stream events into a complete Response for callers
// that only want the end state.
type Accumulator struct {
	text       []byte
	toolCalls  []ToolCall
	stopReason string
	usage      Usage
	response   *Response
}

// Process ingests a single stream event.
func (acc *Accumulator) Process(event StreamEvent) {
	switch event.Type {
	case TextDelta:
		acc.text = append(acc.text, event.Delta...)
	case ToolCallEnd:
		if event.ToolCall != nil {
			acc.toolCalls = append(acc.toolCalls, *event.ToolCall)
		}
	case StreamFinish:
		acc.stopReason = event.StopReason
		if event.Usage != nil {
			acc.usage = *event.Usage
		}
		acc.response = event.Response
	}
}

// Response returns the accumulated response.
func (acc *Accumulator) Response() *Response {
	if acc.response != nil {
		return acc.response
	}
	stopReason := acc.stopReason
	if stopReason == "" {
		stopReason = "stop"
	}
	return &Response{
		Message:    Message{Role: RoleAssistant, Content: string(acc.text), ToolCalls: acc.toolCalls},
		StopReason: stopReason,
		Usage:      acc.usage,
	}
}
