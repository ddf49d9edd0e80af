// Package templates holds named slash-command prompt templates with
// positional-argument expansion. Expansion is pure text transformation; an
// input that names no template passes through untouched.
package templates

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"
)

// Template is a slash-command text macro. Immutable after registration.
type Template struct {
	Name        string
	Description string
	Body        string
}

// Registry holds templates by name. First registration wins; later
// duplicates and entries missing a name or body are skipped with a warning.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Template
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName: make(map[string]Template),
		logger: logger,
	}
}

// Register adds one template. Invalid or duplicate entries are logged and
// skipped; registration is never fatal.
func (r *Registry) Register(t Template) {
	if t.Name == "" || t.Body == "" {
		r.logger.Warn("skipping template with missing fields",
			zap.String("name", t.Name),
			zap.Bool("has_body", t.Body != ""))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[t.Name]; exists {
		r.logger.Warn("skipping duplicate template", zap.String("name", t.Name))
		return
	}
	r.byName[t.Name] = t
	r.order = append(r.order, t.Name)
}

// RegisterAll adds each template in order.
func (r *Registry) RegisterAll(templates []Template) {
	for _, t := range templates {
		r.Register(t)
	}
}

// Get returns the template with the given name.
func (r *Registry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Names returns registered template names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// List returns registered templates in registration order.
func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Search returns names starting with prefix, in registration order. Matching
// is case-sensitive; a leading slash on the prefix is ignored so raw input
// lines can be passed directly.
func (r *Registry) Search(prefix string) []string {
	prefix = strings.TrimPrefix(prefix, "/")
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []string
	for _, name := range r.order {
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}
	return matches
}

// SearchFuzzy returns names fuzzy-matching the query, best match first.
func (r *Registry) SearchFuzzy(query string) []string {
	query = strings.TrimPrefix(query, "/")
	names := r.Names()
	if query == "" {
		return names
	}

	var matches []string
	for _, m := range fuzzy.Find(query, names) {
		matches = append(matches, m.Str)
	}
	return matches
}

// One combined pattern so substitution happens in a single pass and
// argument values are never re-scanned for placeholders.
var placeholderRe = regexp.MustCompile(`\$\{@:(\d+)(?::(\d+))?\}|\$(\d+)|\$@|\$ARGUMENTS\b`)

// Expand applies slash-command expansion to input. The second return is
// false when input is not of the form "/name ..." or no template with that
// name exists; callers then treat the input as literal text.
//
// Placeholders: $1..$n substitute positional arguments, $@ and $ARGUMENTS
// substitute all arguments, ${@:N} the arguments from position N on, and
// ${@:N:L} L arguments starting at position N (1-indexed). Positions past
// the end substitute to the empty string.
func (r *Registry) Expand(input string) (string, bool) {
	name, rest, ok := splitCommand(input)
	if !ok {
		return "", false
	}

	t, found := r.Get(name)
	if !found {
		r.logger.Debug("no template for slash command", zap.String("name", name))
		return "", false
	}

	args := tokenize(rest)
	return substitute(t.Body, args), true
}

// splitCommand extracts the template name from "/name remainder".
func splitCommand(input string) (name, rest string, ok bool) {
	if !strings.HasPrefix(input, "/") {
		return "", "", false
	}
	trimmed := input[1:]
	if trimmed == "" {
		return "", "", false
	}

	idx := strings.IndexFunc(trimmed, unicode.IsSpace)
	if idx == -1 {
		return trimmed, "", true
	}
	return trimmed[:idx], trimmed[idx+1:], true
}

// tokenize splits an argument string on whitespace, honoring single- and
// double-quoted substrings as single arguments. Quotes are stripped; there
// is no escape syntax.
func tokenize(s string) []string {
	var args []string
	var current strings.Builder
	var quote rune
	inToken := false

	flush := func() {
		if inToken {
			args = append(args, current.String())
			current.Reset()
			inToken = false
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	flush()
	return args
}

func substitute(body string, args []string) string {
	return placeholderRe.ReplaceAllStringFunc(body, func(m string) string {
		groups := placeholderRe.FindStringSubmatch(m)

		switch {
		case groups[1] != "": // ${@:N} or ${@:N:L}
			from, _ := strconv.Atoi(groups[1])
			if from < 1 {
				from = 1
			}
			start := from - 1
			if start >= len(args) {
				return ""
			}
			end := len(args)
			if groups[2] != "" {
				length, _ := strconv.Atoi(groups[2])
				if start+length < end {
					end = start + length
				}
			}
			return strings.Join(args[start:end], " ")

		case groups[3] != "": // $N
			n, _ := strconv.Atoi(groups[3])
			if n < 1 || n > len(args) {
				return ""
			}
			return args[n-1]

		default: // $@ or $ARGUMENTS
			return strings.Join(args, " ")
		}
	})
}
