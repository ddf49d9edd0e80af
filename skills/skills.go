// Package skills holds named, on-demand instruction documents. Registered
// skills are advertised to the model through a system-prompt fragment and
// fetched in full through the read_skill tool, keeping large instruction
// bodies out of every request.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/loom-agent/loom/llm"
)

// Skill is an on-demand instruction document. Immutable after registration.
type Skill struct {
	Name        string
	Description string
	Content     string
}

// Registry holds skills by name. First registration wins; later duplicates
// and entries missing required fields are skipped with a warning.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Skill
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName: make(map[string]Skill),
		logger: logger,
	}
}

// Register adds one skill. Invalid or duplicate entries are logged and
// skipped; registration is never fatal.
func (r *Registry) Register(s Skill) {
	if s.Name == "" || s.Description == "" || s.Content == "" {
		r.logger.Warn("skipping skill with missing fields",
			zap.String("name", s.Name),
			zap.Bool("has_description", s.Description != ""),
			zap.Bool("has_content", s.Content != ""))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[s.Name]; exists {
		r.logger.Warn("skipping duplicate skill", zap.String("name", s.Name))
		return
	}
	r.byName[s.Name] = s
	r.order = append(r.order, s.Name)
}

// RegisterAll adds each skill in order.
func (r *Registry) RegisterAll(skills []Skill) {
	for _, s := range skills {
		r.Register(s)
	}
}

// Get returns the skill with the given name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Names returns registered skill names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// List returns registered skills in registration order.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SystemPromptFragment renders the skill listing appended to the base system
// prompt. Returns the empty string when no skills are registered so the base
// prompt passes through untouched.
func (r *Registry) SystemPromptFragment() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("The following skills are available. When a task matches a skill's description, load its full instructions with the read_skill tool before proceeding.\n\nAvailable skills:\n")
	for _, name := range r.order {
		s := r.byName[name]
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ReadSkillTool returns the tool the model uses to fetch a skill's content.
// An unknown name produces an error listing every valid name so the model
// can correct itself.
func (r *Registry) ReadSkillTool() llm.Tool {
	return llm.Tool{
		Name:        "read_skill",
		Description: "Read the full content of a named skill. Use this when the current task matches a skill's description.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the skill to read",
				},
			},
			"required": []string{"name"},
		},
		Execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %v", err)
			}
			if in.Name == "" {
				return "", fmt.Errorf("missing required argument: name")
			}

			s, ok := r.Get(in.Name)
			if !ok {
				names := r.Names()
				if len(names) == 0 {
					return "", fmt.Errorf("unknown skill %q: no skills are registered", in.Name)
				}
				return "", fmt.Errorf("unknown skill %q. Valid skills: %s", in.Name, strings.Join(names, ", "))
			}
			return s.Content, nil
		},
	}
}
