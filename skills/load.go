package skills

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

// Parse reads a skill document: YAML frontmatter between --- markers holding
// name and description, followed by the markdown body.
func Parse(data []byte) (Skill, error) {
	text := string(data)
	if !strings.HasPrefix(strings.TrimLeft(text, "\uFEFF\n\r "), "---") {
		return Skill{}, fmt.Errorf("missing frontmatter")
	}

	parts := strings.SplitN(text, "---", 3)
	if len(parts) < 3 {
		return Skill{}, fmt.Errorf("unterminated frontmatter")
	}

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		return Skill{}, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if meta.Name == "" {
		return Skill{}, fmt.Errorf("frontmatter missing name")
	}
	if meta.Description == "" {
		return Skill{}, fmt.Errorf("frontmatter missing description")
	}

	body := strings.TrimSpace(parts[2])
	if body == "" {
		return Skill{}, fmt.Errorf("skill %q has no content", meta.Name)
	}

	return Skill{Name: meta.Name, Description: meta.Description, Content: body}, nil
}

// LoadDir walks dir for markdown skill documents and registers every valid
// one. Files that fail to parse are logged and skipped.
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
			r.logger.Warn("failed to read skill file", zap.String("path", path), zap.Error(readErr))
			return nil
		}
		skill, parseErr := Parse(data)
		if parseErr != nil {
			r.logger.Warn("skipping invalid skill file", zap.String("path", path), zap.Error(parseErr))
			return nil
		}
		r.Register(skill)
		return nil
	})
}
