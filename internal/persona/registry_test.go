package persona

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func frontendDeveloper() Definition {
	return Definition{
		Name:           "frontend-developer",
		Description:    "Builds UI components.",
		Triggers:       []string{"react", "component", "tailwind"},
		DefaultContext: []string{"design-system", "a11y-checklist"},
		OutputFormats:  []OutputFormat{"markdown", "code"},
		Content:        map[string]any{"aesthetics": "bold"},
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(frontendDeveloper()); err != nil {
		t.Fatalf("register: %v", err)
	}

	def, err := reg.Get("Frontend-Developer")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if def.Name != "frontend-developer" {
		t.Fatalf("expected normalized name, got %q", def.Name)
	}
	content, ok := def.Content.(map[string]any)
	if !ok || content["aesthetics"] != "bold" {
		t.Fatalf("expected content passed through, got %#v", def.Content)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(frontendDeveloper()); err != nil {
		t.Fatalf("register: %v", err)
	}
	dup := frontendDeveloper()
	dup.Name = "  FRONTEND-developer "
	err := reg.Register(dup)
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	if got := reg.Snapshot().Len(); got != 1 {
		t.Fatalf("expected registry untouched, got %d personas", got)
	}
}

func TestRegisterRejectsEmptyTriggers(t *testing.T) {
	reg := NewRegistry(nil)
	def := frontendDeveloper()
	def.Triggers = []string{"  ", ""}

	err := reg.Register(def)
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
	if reg.Snapshot().Len() != 0 {
		t.Fatal("invalid definition must not be registered")
	}
}

func TestRegisterRejectsMalformedFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{name: "blank name", mutate: func(d *Definition) { d.Name = " " }},
		{name: "blank context id", mutate: func(d *Definition) { d.DefaultContext = []string{"ok", " "} }},
		{name: "bad output format", mutate: func(d *Definition) { d.OutputFormats = []OutputFormat{"mark down"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := frontendDeveloper()
			tt.mutate(&def)
			if err := NewRegistry(nil).Register(def); !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("expected ErrInvalidDefinition, got %v", err)
			}
		})
	}
}

func TestRegisterNormalizesTriggersAndFormats(t *testing.T) {
	reg := NewRegistry(nil)
	def := frontendDeveloper()
	def.Triggers = []string{"React", "react", "  Design   System ", ""}
	def.OutputFormats = []OutputFormat{"Markdown", "markdown", "DIFF"}
	if err := reg.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, _ := reg.Get(def.Name)
	wantTriggers := []string{"react", "design system"}
	if fmt.Sprint(got.Triggers) != fmt.Sprint(wantTriggers) {
		t.Fatalf("expected triggers %v, got %v", wantTriggers, got.Triggers)
	}
	if !got.AllowsFormat(OutputDiff) || !got.AllowsFormat("MARKDOWN") || got.AllowsFormat(OutputJSON) {
		t.Fatalf("unexpected output formats %v", got.OutputFormats)
	}
}

func TestAllPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(Definition{Name: name, Triggers: []string{name}}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	all := reg.All()
	if len(all) != 3 || all[0].Name != "zeta" || all[1].Name != "alpha" || all[2].Name != "mid" {
		t.Fatalf("expected registration order, got %v", all)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	_, err := NewRegistry(nil).Get("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotIsImmutableAcrossRegister(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(frontendDeveloper()); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := reg.Snapshot()

	if err := reg.Register(Definition{Name: "backend", Triggers: []string{"sql"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if before.Len() != 1 {
		t.Fatalf("published snapshot changed: %d", before.Len())
	}
	if reg.Snapshot().Generation() <= before.Generation() {
		t.Fatal("expected generation to advance")
	}
}

func TestReturnedDefinitionsDoNotAliasRegistry(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(frontendDeveloper()); err != nil {
		t.Fatalf("register: %v", err)
	}
	def, _ := reg.Get("frontend-developer")
	def.Triggers[0] = "mutated"

	again, _ := reg.Get("frontend-developer")
	if again.Triggers[0] != "react" {
		t.Fatalf("registry state mutated through returned definition: %v", again.Triggers)
	}
}

func TestStructuredContentDoesNotAliasRegistry(t *testing.T) {
	def := frontendDeveloper()
	content := map[string]any{
		"tone":   "calm",
		"checks": []any{"a11y", map[string]any{"perf": "budget"}},
	}
	def.Content = content
	reg := NewRegistry(nil)
	if err := reg.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	content["tone"] = "changed by loader"

	got, _ := reg.Get("frontend-developer")
	gotContent := got.Content.(map[string]any)
	gotContent["tone"] = "MUTATED"
	gotContent["checks"].([]any)[1].(map[string]any)["perf"] = "MUTATED"

	for _, snapshotDef := range []Definition{mustGet(t, reg, "frontend-developer"), reg.All()[0]} {
		stored := snapshotDef.Content.(map[string]any)
		if stored["tone"] != "calm" {
			t.Fatalf("registry content mutated: %v", stored)
		}
		nested := stored["checks"].([]any)[1].(map[string]any)
		if nested["perf"] != "budget" {
			t.Fatalf("nested registry content mutated: %v", nested)
		}
	}
}

func mustGet(t *testing.T, reg *Registry, name string) Definition {
	t.Helper()
	def, err := reg.Get(name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	return def
}

func TestReplaceIsAllOrNothing(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(frontendDeveloper()); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := reg.Replace([]Definition{
		{Name: "a", Triggers: []string{"x"}},
		{Name: "b"},
	})
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
	if _, err := reg.Get("frontend-developer"); err != nil {
		t.Fatalf("previous snapshot should survive failed replace: %v", err)
	}

	err = reg.Replace([]Definition{
		{Name: "a", Triggers: []string{"x"}},
		{Name: "A", Triggers: []string{"y"}},
	})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	if err := reg.Replace([]Definition{{Name: "a", Triggers: []string{"x"}}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, err := reg.Get("frontend-developer"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old persona gone after replace, got %v", err)
	}
}

func TestConcurrentReadersSeeCompleteSnapshots(t *testing.T) {
	reg := NewRegistry(nil)
	setA := []Definition{{Name: "a1", Triggers: []string{"a"}}, {Name: "a2", Triggers: []string{"a"}}}
	setB := []Definition{{Name: "b1", Triggers: []string{"b"}}, {Name: "b2", Triggers: []string{"b"}}, {Name: "b3", Triggers: []string{"b"}}}
	if err := reg.Replace(setA); err != nil {
		t.Fatalf("replace: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 16)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				all := reg.All()
				if len(all) != 2 && len(all) != 3 {
					errs <- fmt.Sprintf("partial snapshot of %d personas", len(all))
					return
				}
				prefix := all[0].Name[:1]
				for _, def := range all {
					if def.Name[:1] != prefix {
						errs <- fmt.Sprintf("mixed snapshot %v", all)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		set := setA
		if i%2 == 0 {
			set = setB
		}
		if err := reg.Replace(set); err != nil {
			t.Fatalf("replace: %v", err)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}
