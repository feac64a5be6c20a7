package diagram

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

const dotGraphName = "chain"

// RenderDOT renders a DiagramModel as Graphviz DOT source. Every level is a
// rank=same subgraph so the grid rows stay aligned.
func RenderDOT(model *DiagramModel) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(dotGraphName); err != nil {
		return "", fmt.Errorf("diagram: dot name: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return "", fmt.Errorf("diagram: dot dir: %w", err)
	}
	graphAttrs := map[string]string{"rankdir": "TB"}
	if model.Title != "" {
		graphAttrs["label"] = strconv.Quote(model.Title)
		graphAttrs["labelloc"] = "t"
	}
	for k, v := range graphAttrs {
		if err := g.AddAttr(dotGraphName, k, v); err != nil {
			return "", fmt.Errorf("diagram: dot attr %s: %w", k, err)
		}
	}

	for r, level := range model.Levels {
		sub := fmt.Sprintf("row%d", r)
		if err := g.AddSubGraph(dotGraphName, sub, map[string]string{"rank": "same"}); err != nil {
			return "", fmt.Errorf("diagram: dot row %d: %w", r, err)
		}
		for _, id := range level {
			node := model.node(id)
			if node == nil {
				continue
			}
			if err := g.AddNode(sub, node.ID, dotNodeAttrs(node)); err != nil {
				return "", fmt.Errorf("diagram: dot node %s: %w", node.ID, err)
			}
		}
	}

	for _, edge := range model.Edges {
		attrs := map[string]string{}
		if edge.Label != "" {
			attrs["label"] = strconv.Quote(edge.Label)
		}
		if edge.Loop {
			attrs["style"] = "dashed"
			attrs["constraint"] = "false"
		}
		if err := g.AddEdge(edge.From, edge.To, true, attrs); err != nil {
			return "", fmt.Errorf("diagram: dot edge %s->%s: %w", edge.From, edge.To, err)
		}
	}

	return g.String(), nil
}

func dotNodeAttrs(node *Node) map[string]string {
	attrs := map[string]string{"label": strconv.Quote(node.Label)}
	switch node.Kind {
	case NodeKindBranch:
		attrs["shape"] = "diamond"
	case NodeKindCode:
		attrs["shape"] = "hexagon"
	case NodeKindQuery:
		attrs["shape"] = "ellipse"
	case NodeKindInput, NodeKindOutput:
		attrs["shape"] = "circle"
	case NodeKindEmpty:
		attrs["shape"] = "box"
		attrs["style"] = "dashed"
	default:
		attrs["shape"] = "box"
	}
	if node.Highlight {
		attrs["style"] = "filled"
		attrs["fillcolor"] = strconv.Quote("#1a5276")
		attrs["fontcolor"] = "white"
	}
	return attrs
}
