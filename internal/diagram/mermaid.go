package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Loop edges are dotted; highlighted nodes get the "match" class.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		if edge.Loop {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n",
			mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef match fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef empty fill:#f4f4f4,stroke:#999,color:#666,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		switch {
		case node.Highlight:
			b.WriteString(fmt.Sprintf("    class %s match\n", mermaidSafeID(node.ID)))
		case node.Kind == NodeKindEmpty:
			b.WriteString(fmt.Sprintf("    class %s empty\n", mermaidSafeID(node.ID)))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(node.Label)

	switch node.Kind {
	case NodeKindBranch:
		return fmt.Sprintf("%s{\"%s\"}", id, label)
	case NodeKindCode:
		return fmt.Sprintf("%s{{\"%s\"}}", id, label)
	case NodeKindQuery:
		return fmt.Sprintf("%s[(\"%s\")]", id, label)
	case NodeKindInput, NodeKindOutput:
		return fmt.Sprintf("%s((\"%s\"))", id, label)
	default: // prompt, empty
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel escapes characters Mermaid treats specially inside
// quoted labels and edge text.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "|", "#124;", "\n", " ")
	return r.Replace(s)
}
