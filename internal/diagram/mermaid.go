package diagram

import (
	"fmt"
	"sort"
	"strings"
)

// mermaidPalette cycles over the kinds present in a model, one class per
// kind.
var mermaidPalette = []string{
	"fill:#1a5276,stroke:#0e3a52,color:#fff",
	"fill:#2d6a2d,stroke:#1a4a1a,color:#fff",
	"fill:#b7791a,stroke:#8a5c14,color:#fff",
	"fill:#6b4a8b,stroke:#4a3366,color:#fff",
	"fill:#8b1a1a,stroke:#5c0e0e,color:#fff",
	"fill:#6b6b6b,stroke:#4a4a4a,color:#fff",
}

// RenderMermaid renders a Model as a Mermaid flowchart string.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s[%q]\n", mermaidSafeID(node.ID), firstLine(node.Label)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	kinds := distinctKinds(model.Nodes)
	if len(kinds) == 0 {
		return b.String()
	}

	// One class per kind.
	b.WriteString("\n")
	for i, kind := range kinds {
		b.WriteString(fmt.Sprintf("    classDef kind_%s %s\n",
			mermaidSafeID(kind), mermaidPalette[i%len(mermaidPalette)]))
	}
	for _, node := range model.Nodes {
		if node.Kind != "" {
			b.WriteString(fmt.Sprintf("    class %s kind_%s\n",
				mermaidSafeID(node.ID), mermaidSafeID(node.Kind)))
		}
	}

	return b.String()
}

// distinctKinds returns the sorted set of kinds carried by the nodes.
func distinctKinds(nodes []*Node) []string {
	seen := make(map[string]bool, len(nodes))
	var kinds []string
	for _, node := range nodes {
		if node.Kind != "" && !seen[node.Kind] {
			seen[node.Kind] = true
			kinds = append(kinds, node.Kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}

// mermaidSafeID converts a label to a Mermaid-safe identifier.
// Replaces dots, dashes, slashes and spaces with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", " ", "_")
	return r.Replace(id)
}
