package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionFileNames are the file names recognized inside a persona directory.
var definitionFileNames = []string{"PERSONA.md", "PERSONA.mdx"}

// LoadDir parses every persona definition file under dir. Files directly in
// dir and <dir>/<name>/PERSONA.md are recognized; the sorted path order becomes
// the registration order. A missing directory yields no definitions.
func LoadDir(dir string) ([]Definition, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}

	info, err := os.Stat(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat persona dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persona dir %s is not a directory", trimmed)
	}

	paths, err := discoverDefinitionFiles(trimmed)
	if err != nil {
		return nil, fmt.Errorf("discover personas: %w", err)
	}

	defs := make([]Definition, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		def, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		key := NormalizeName(def.Name)
		if key == "" {
			return nil, fmt.Errorf("%w: %s missing name front matter", ErrInvalidDefinition, path)
		}
		if first, exists := seen[key]; exists {
			return nil, fmt.Errorf("%w: %q in %s (first defined in %s)", ErrDuplicateName, key, path, first)
		}
		seen[key] = path
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadDir loads every definition under dir and publishes them as the new
// registry contents. The previous snapshot survives any load error.
func (r *Registry) LoadDir(dir string) error {
	defs, err := LoadDir(dir)
	if err != nil {
		return err
	}
	return r.Replace(defs)
}

func discoverDefinitionFiles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			for _, candidate := range definitionFileNames {
				path := filepath.Join(root, name, candidate)
				info, err := os.Stat(path)
				if err == nil && !info.IsDir() {
					paths = append(paths, path)
					break
				}
			}
			continue
		}

		if isMarkdownFile(name) {
			paths = append(paths, filepath.Join(root, name))
		}
	}

	sort.Strings(paths)
	return paths, nil
}

type frontMatter struct {
	Name           string     `yaml:"name"`
	Description    string     `yaml:"description"`
	Version        string     `yaml:"version"`
	Triggers       stringList `yaml:"triggers"`
	DefaultContext stringList `yaml:"default_context"`
	OutputFormats  stringList `yaml:"output_formats"`
	Content        any        `yaml:"content"`
}

// stringList accepts either a YAML sequence or a comma-separated scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var raw string
		if err := node.Decode(&raw); err != nil {
			return err
		}
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*l = out
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a list or a comma-separated string", node.Line)
	}
}

// ParseFile reads a single definition file. When the front matter has no
// content key, the Markdown body becomes the content payload.
func ParseFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read persona %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("parse persona %s: %w", path, err)
	}
	def.SourcePath = path
	return def, nil
}

// Parse decodes a definition from Markdown with YAML front matter.
func Parse(data []byte) (Definition, error) {
	content := strings.ReplaceAll(string(data), "\r\n", "\n")

	metaText, bodyText, hasFrontMatter := splitFrontMatter(content)
	if !hasFrontMatter {
		return Definition{}, fmt.Errorf("%w: missing front matter", ErrInvalidDefinition)
	}

	var meta frontMatter
	if err := yaml.Unmarshal([]byte(metaText), &meta); err != nil {
		return Definition{}, fmt.Errorf("%w: front matter: %v", ErrInvalidDefinition, err)
	}

	formats := make([]OutputFormat, 0, len(meta.OutputFormats))
	for _, f := range meta.OutputFormats {
		formats = append(formats, OutputFormat(f))
	}

	def := Definition{
		Name:           strings.TrimSpace(meta.Name),
		Description:    strings.TrimSpace(meta.Description),
		Version:        strings.TrimSpace(meta.Version),
		Triggers:       []string(meta.Triggers),
		DefaultContext: []string(meta.DefaultContext),
		OutputFormats:  formats,
		Content:        meta.Content,
	}
	if def.Content == nil {
		def.Content = strings.TrimSpace(bodyText)
	}
	return def, nil
}

func splitFrontMatter(content string) (string, string, bool) {
	lines := strings.Split(content, "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != "---" {
		return "", content, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			meta := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return meta, body, true
		}
	}
	return "", content, false
}

func isMarkdownFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".mdx")
}
