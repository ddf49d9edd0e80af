package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/loom-agent/loom/llm"
)

// ToolRegistry holds the tools visible to the model. Names are unique; the
// first registration of a name wins and later duplicates are warned and
// skipped, so built-in tools cannot be shadowed by extensions.
type ToolRegistry struct {
	mu     sync.RWMutex
	byName map[string]llm.Tool
	order  []string
	logger *zap.Logger
}

// NewToolRegistry creates an empty registry. A nil logger disables warnings.
func NewToolRegistry(logger *zap.Logger) *ToolRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolRegistry{
		byName: make(map[string]llm.Tool),
		logger: logger,
	}
}

// Register adds a tool and reports whether it was accepted. Tools without a
// name or executor, and names already taken, are skipped with a warning.
func (r *ToolRegistry) Register(tool llm.Tool) bool {
	if tool.Name == "" || tool.Execute == nil {
		r.logger.Warn("skipping invalid tool registration",
			zap.String("name", tool.Name),
			zap.Bool("has_executor", tool.Execute != nil))
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[tool.Name]; exists {
		r.logger.Warn("skipping duplicate tool", zap.String("name", tool.Name))
		return false
	}
	r.byName[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return true
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (llm.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[name]
	return tool, ok
}

// Has reports whether name is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// All returns the tools in registration order.
func (r *ToolRegistry) All() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.byName[name])
	}
	return tools
}

// Names returns the registered names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
