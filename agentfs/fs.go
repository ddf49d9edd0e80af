// Package agentfs provides the in-memory virtual filesystem that serves as
// the agent's workspace. Paths are normalized before every store or lookup,
// so two spellings that normalize identically refer to the same entry.
package agentfs

import (
	"sort"
	"strings"
	"sync"
)

// Normalize canonicalizes a workspace path: repeated separators collapse to
// one, the result always carries a single leading slash, and no trailing
// slash remains except on the root itself. Normalize is idempotent.
func Normalize(path string) string {
	var parts []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

// FS is a path-keyed document store. The zero value is not usable; create
// instances with New. All methods are safe for concurrent use, since sibling
// tool calls within a round may execute in parallel.
type FS struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New returns an empty filesystem.
func New() *FS {
	return &FS{entries: make(map[string]string)}
}

// Read returns the content stored at path and whether an entry existed.
func (fs *FS) Read(path string) (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	content, ok := fs.entries[Normalize(path)]
	return content, ok
}

// Write stores content at path, replacing any existing entry.
func (fs *FS) Write(path, content string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.entries[Normalize(path)] = content
}

// Delete removes the entry at path and reports whether one existed.
func (fs *FS) Delete(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	key := Normalize(path)
	_, ok := fs.entries[key]
	delete(fs.entries, key)
	return ok
}

// List returns the sorted paths whose normalized form starts with the
// normalized prefix. The root prefix matches every entry.
func (fs *FS) List(prefix string) []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	norm := Normalize(prefix)
	var paths []string
	for path := range fs.entries {
		if norm == "/" || strings.HasPrefix(path, norm) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of stored entries.
func (fs *FS) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.entries)
}
