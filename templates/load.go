package templates

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"
)

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ParseFile reads a template document. An optional YAML frontmatter block
// supplies name and description; when the name is absent it falls back to
// the file's base name without extension.
func ParseFile(path string, data []byte) (Template, error) {
	text := string(data)
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	description := ""
	body := text

	if strings.HasPrefix(text, "---") {
		parts := strings.SplitN(text, "---", 3)
		if len(parts) < 3 {
			return Template{}, fmt.Errorf("unterminated frontmatter")
		}
		var meta frontmatter
		if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
			return Template{}, fmt.Errorf("invalid frontmatter: %w", err)
		}
		if meta.Name != "" {
			name = meta.Name
		}
		description = meta.Description
		body = parts[2]
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return Template{}, fmt.Errorf("template %q has no body", name)
	}
	return Template{Name: name, Description: description, Body: body}, nil
}

// LoadDir walks dir for markdown template documents and registers every
// valid one. Files that fail to parse are logged and skipped.
func (r *Registry) LoadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			r.logger.Warn("failed to read template file", zap.String("path", path), zap.Error(readErr))
			return nil
		}
		t, parseErr := ParseFile(path, data)
		if parseErr != nil {
			r.logger.Warn("skipping invalid template file", zap.String("path", path), zap.Error(parseErr))
			return nil
		}
		r.Register(t)
		return nil
	})
}
