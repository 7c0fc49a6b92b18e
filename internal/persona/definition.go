package persona

import (
	"fmt"
	"regexp"
	"strings"
)

// OutputFormat tags a response template a persona allows (e.g. "markdown", "diff").
type OutputFormat string

// Common output format tags. Definitions may declare any tag matching
// outputFormatPattern; these are the ones shipped definitions use.
const (
	OutputMarkdown  OutputFormat = "markdown"
	OutputCode      OutputFormat = "code"
	OutputDiff      OutputFormat = "diff"
	OutputJSON      OutputFormat = "json"
	OutputChecklist OutputFormat = "checklist"
)

var outputFormatPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Definition is a named bundle of activation triggers, default context and
// guidance content. Content is opaque and passed through untouched.
type Definition struct {
	Name           string
	Description    string
	Version        string
	Triggers       []string
	DefaultContext []string
	OutputFormats  []OutputFormat
	Content        any
	SourcePath     string
}

// Clone returns a deep copy of d. Structured content decoded from YAML
// (maps, sequences) is copied so callers cannot reach registry state.
func (d Definition) Clone() Definition {
	out := d
	out.Triggers = append([]string(nil), d.Triggers...)
	out.DefaultContext = append([]string(nil), d.DefaultContext...)
	out.OutputFormats = append([]OutputFormat(nil), d.OutputFormats...)
	out.Content = cloneContent(d.Content)
	return out
}

// cloneContent copies the container shapes yaml.v3 and Go callers produce.
// Scalars and other values are returned unchanged.
func cloneContent(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneContent(val)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, val := range t {
			out[k] = cloneContent(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneContent(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// AllowsFormat reports whether format is one of the declared output formats.
func (d Definition) AllowsFormat(format OutputFormat) bool {
	want := OutputFormat(strings.ToLower(strings.TrimSpace(string(format))))
	for _, f := range d.OutputFormats {
		if f == want {
			return true
		}
	}
	return false
}

// NormalizeName normalizes a persona name for lookups.
func NormalizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

// NormalizeTrigger lowercases a trigger and collapses inner whitespace.
func NormalizeTrigger(trigger string) string {
	return strings.Join(strings.Fields(strings.ToLower(trigger)), " ")
}

// normalize validates def and returns the canonical form stored in a registry.
func normalize(def Definition) (Definition, error) {
	out := def.Clone()
	out.Name = NormalizeName(def.Name)
	out.Description = strings.TrimSpace(def.Description)
	out.Version = strings.TrimSpace(def.Version)

	if out.Name == "" {
		return Definition{}, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}

	out.Triggers = dedupe(def.Triggers, NormalizeTrigger)
	if len(out.Triggers) == 0 {
		return Definition{}, fmt.Errorf("%w: persona %q has no triggers", ErrInvalidDefinition, out.Name)
	}

	out.DefaultContext = make([]string, 0, len(def.DefaultContext))
	for i, id := range def.DefaultContext {
		id = strings.TrimSpace(id)
		if id == "" {
			return Definition{}, fmt.Errorf("%w: persona %q default_context[%d] is blank", ErrInvalidDefinition, out.Name, i)
		}
		out.DefaultContext = append(out.DefaultContext, id)
	}

	formats := make([]string, len(def.OutputFormats))
	for i, f := range def.OutputFormats {
		formats[i] = string(f)
	}
	out.OutputFormats = nil
	for _, f := range dedupe(formats, func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }) {
		if !outputFormatPattern.MatchString(f) {
			return Definition{}, fmt.Errorf("%w: persona %q has invalid output format %q", ErrInvalidDefinition, out.Name, f)
		}
		out.OutputFormats = append(out.OutputFormats, OutputFormat(f))
	}

	return out, nil
}

// dedupe normalizes values, drops blanks and keeps the first occurrence of each.
func dedupe(values []string, norm func(string) string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = norm(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
