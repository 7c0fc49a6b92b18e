package persona

import (
	"fmt"
	"strings"
)

// CatalogMarkdown renders a compact index of the snapshot: names, descriptions
// and triggers, in registration order.
func CatalogMarkdown(snapshot *Snapshot) string {
	defs := snapshot.All()
	if len(defs) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString("# Persona Catalog\n\n")
	for _, def := range defs {
		desc := strings.TrimSpace(def.Description)
		if desc == "" {
			desc = "(no description)"
		}
		builder.WriteString(fmt.Sprintf("- `%s`: %s\n", def.Name, desc))
		builder.WriteString(fmt.Sprintf("  triggers: %s\n", strings.Join(def.Triggers, ", ")))
	}
	return strings.TrimSpace(builder.String())
}
