package llm

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client routes requests to named provider adapters.
type Client struct {
	mu              sync.RWMutex
	adapters        map[string]ProviderAdapter
	defaultProvider string
	httpClient      *http.Client
	logger          *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAdapter registers a provider adapter under the given name.
func WithAdapter(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.adapters[name] = adapter
	}
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithHTTPClient overrides the HTTP client shared by the built-in adapters.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger attaches a logger for request-level debug logging.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		adapters:   make(map[string]ProviderAdapter),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefaultClient builds a client with the standard adapter set: anthropic
// (the default provider), an OpenAI-compatible adapter, and ollama for local
// models. baseURL overrides apply to the default provider only; pass "" for
// the stock endpoints.
func NewDefaultClient(apiKey, baseURL string, opts ...ClientOption) *Client {
	c := NewClient(opts...)
	if _, ok := c.adapters["anthropic"]; !ok {
		c.adapters["anthropic"] = NewAnthropicAdapter(apiKey, baseURL, c.httpClient)
	}
	if _, ok := c.adapters["openai"]; !ok {
		c.adapters["openai"] = NewOpenAIAdapter(apiKey, "", c.httpClient)
	}
	if _, ok := c.adapters["ollama"]; !ok {
		if ollama, err := NewOllamaAdapter("", ""); err == nil {
			c.adapters["ollama"] = ollama
		}
	}
	if c.defaultProvider == "" {
		c.defaultProvider = "anthropic"
	}
	return c
}

// RegisterAdapter adds or replaces a provider adapter at runtime.
func (c *Client) RegisterAdapter(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[name] = adapter
}

// Providers returns the registered provider names.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.adapters))
	for name := range c.adapters {
		names = append(names, name)
	}
	return names
}

// adapterFor resolves the adapter for a request: the request's explicit
// provider, then the configured default, then the sole registered adapter.
func (c *Client) adapterFor(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" && len(c.adapters) == 1 {
		for n := range c.adapters {
			name = n
		}
	}
	if name == "" {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "no provider specified and no default configured",
		}}
	}

	adapter, ok := c.adapters[name]
	if !ok {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "unknown provider: " + name,
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through the resolved adapter.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.adapterFor(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("complete request",
		zap.String("provider", adapter.Name()),
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)))
	return adapter.Complete(ctx, req)
}

// Stream sends a streaming request through the resolved adapter.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.adapterFor(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("stream request",
		zap.String("provider", adapter.Name()),
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)))
	return adapter.Stream(ctx, req)
}

// Close releases resources held by adapters that implement Closer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, adapter := range c.adapters {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
