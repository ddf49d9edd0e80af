// Package llm provides a provider-agnostic model client with native
// streaming adapters for the Anthropic and OpenAI wire formats, a local
// ollama adapter, and a gollm-backed fallback for everything else.
//
// # Architecture
//
// The package follows a three-layer architecture:
//
//   - Adapters: ProviderAdapter implementations that translate the shared
//     Request/Response/StreamEvent types to each provider's wire format
//   - Client: provider routing, logging, and lifecycle
//   - High-level API: Generate, StreamGenerate, GenerateObject
//
// # Quick Start
//
// Using the Client directly:
//
//	client := llm.NewClient(
//	    llm.WithAdapter(llm.NewAnthropicAdapter(os.Getenv("ANTHROPIC_API_KEY"), "", nil)),
//	)
//
//	resp, _ := client.Complete(ctx, llm.Request{
//	    Model:    "claude-sonnet-4-5",
//	    Messages: []llm.Message{llm.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Text())
//
// Using the high-level API:
//
//	result, err := llm.Generate(ctx, llm.GenerateOptions{
//	    Model:  "claude-sonnet-4-5",
//	    Prompt: "Explain quantum computing in one paragraph",
//	    Client: client,
//	})
//	fmt.Println(result.Text)
//
// # Streaming
//
// Stream returns a channel of StreamEvent values. Text arrives as TextDelta
// events the moment the provider sends it. Tool calls arrive fragmented on
// the wire; adapters assemble the fragments keyed by the provider's index
// and emit a ToolCallEnd carrying the complete call. A StreamFinish event
// with the accumulated Response always ends a healthy stream.
//
// # Tool Calling
//
// Tools carry an optional Execute handler for automatic tool loops:
//
//	tool := llm.Tool{
//	    Name:        "get_weather",
//	    Description: "Get the current weather for a location",
//	    Parameters: map[string]interface{}{
//	        "type": "object",
//	        "properties": map[string]interface{}{
//	            "city": map[string]interface{}{"type": "string"},
//	        },
//	    },
//	    Execute: func(ctx context.Context, args json.RawMessage) (string, error) {
//	        return "72F and sunny", nil
//	    },
//	}
//
// # Errors
//
// Adapters classify provider failures into a typed hierarchy rooted at
// ClientError. IsRetryable reports which failures are safe to retry and the
// Retry helper applies exponential backoff with Retry-After awareness.
package llm
