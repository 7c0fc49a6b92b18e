package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"personad/internal/persona"
	"personad/internal/resolver"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type activationView struct {
	Persona         string        `json:"persona"`
	Version         string        `json:"version,omitempty"`
	Score           float64       `json:"score"`
	MatchedTriggers []string      `json:"matched_triggers"`
	OutputFormats   []string      `json:"output_formats"`
	Content         any           `json:"content"`
	Context         []contextView `json:"context"`
	FailedContext   []failureView `json:"failed_context,omitempty"`
}

type contextView struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type failureView struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

type resultView struct {
	Generation  uint64           `json:"generation"`
	Activations []activationView `json:"activations"`
}

func toView(result resolver.Result) resultView {
	view := resultView{Generation: result.Generation, Activations: []activationView{}}
	for _, a := range result.Activations {
		av := activationView{
			Persona:         a.Persona.Name,
			Version:         a.Persona.Version,
			Score:           a.Score,
			MatchedTriggers: append([]string{}, a.MatchedTriggers...),
			OutputFormats:   formatTags(a.Persona.OutputFormats),
			Content:         a.Persona.Content,
			Context:         []contextView{},
		}
		for _, doc := range a.Context {
			av.Context = append(av.Context, contextView{ID: doc.ID, Content: doc.Content})
		}
		for _, f := range a.ContextFailures {
			av.FailedContext = append(av.FailedContext, failureView{ID: f.ID, Reason: string(f.Reason), Error: f.Err.Error()})
		}
		view.Activations = append(view.Activations, av)
	}
	return view
}

func formatTags(formats []persona.OutputFormat) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = string(f)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderResult(w io.Writer, result resolver.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, toView(result))
	}
	if result.Empty() {
		_, err := fmt.Fprintln(w, gray("no persona matched"))
		return err
	}
	for i, a := range result.Activations {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, bold(cyan(a.Persona.Name)), gray(fmt.Sprintf("(score %g)", a.Score)))
		if len(a.MatchedTriggers) > 0 {
			fmt.Fprintf(w, "   triggers: %s\n", strings.Join(a.MatchedTriggers, ", "))
		}
		if len(a.Persona.OutputFormats) > 0 {
			fmt.Fprintf(w, "   formats:  %s\n", strings.Join(formatTags(a.Persona.OutputFormats), ", "))
		}
		for _, doc := range a.Context {
			fmt.Fprintf(w, "   %s %s\n", green("context"), doc.ID)
		}
		for _, f := range a.ContextFailures {
			fmt.Fprintf(w, "   %s %s (%s)\n", yellow("missing"), f.ID, f.Reason)
		}
	}
	return nil
}

func renderList(w io.Writer, defs []persona.Definition, asJSON bool) error {
	if asJSON {
		type entry struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Triggers    []string `json:"triggers"`
		}
		entries := make([]entry, len(defs))
		for i, def := range defs {
			entries[i] = entry{Name: def.Name, Description: def.Description, Triggers: def.Triggers}
		}
		return writeJSON(w, entries)
	}
	if len(defs) == 0 {
		_, err := fmt.Fprintln(w, gray("no personas registered"))
		return err
	}
	for _, def := range defs {
		fmt.Fprintf(w, "%s  %s\n", bold(def.Name), def.Description)
		fmt.Fprintf(w, "  %s %s\n", gray("triggers:"), strings.Join(def.Triggers, ", "))
	}
	return nil
}

func renderDefinition(w io.Writer, def persona.Definition, asJSON bool) error {
	if asJSON {
		return writeJSON(w, map[string]any{
			"name":            def.Name,
			"description":     def.Description,
			"version":         def.Version,
			"triggers":        def.Triggers,
			"default_context": def.DefaultContext,
			"output_formats":  formatTags(def.OutputFormats),
			"content":         def.Content,
			"source":          def.SourcePath,
		})
	}
	fmt.Fprintf(w, "%s %s\n", bold(cyan(def.Name)), gray(def.Version))
	if def.Description != "" {
		fmt.Fprintln(w, def.Description)
	}
	fmt.Fprintf(w, "triggers:        %s\n", strings.Join(def.Triggers, ", "))
	fmt.Fprintf(w, "default context: %s\n", strings.Join(def.DefaultContext, ", "))
	fmt.Fprintf(w, "output formats:  %s\n", strings.Join(formatTags(def.OutputFormats), ", "))
	if text, ok := def.Content.(string); ok && strings.TrimSpace(text) != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(text))
	}
	return nil
}
