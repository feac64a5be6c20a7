package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a DiagramModel through the embedded Graphviz layout
// engine. format is graphviz.PNG or graphviz.SVG.
func RenderImage(ctx context.Context, model *DiagramModel, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for r, level := range model.Levels {
		row, rErr := graph.CreateSubGraphByName(fmt.Sprintf("row%d", r))
		if rErr != nil {
			return nil, fmt.Errorf("diagram: create row %d: %w", r, rErr)
		}
		if err := row.SafeSet("rank", "same", ""); err != nil {
			return nil, fmt.Errorf("diagram: rank row %d: %w", r, err)
		}
		for _, id := range level {
			node := model.node(id)
			if node == nil {
				continue
			}
			gvNode, nErr := row.CreateNodeByName(node.ID)
			if nErr != nil {
				return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
			}
			gvNode.SetLabel(node.Label)
			applyNodeStyle(gvNode, node)
			gvNodes[node.ID] = gvNode
		}
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s->%s: %w", edge.From, edge.To, eErr)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
		if edge.Loop {
			e.SetStyle(cgraph.DashedEdgeStyle)
			e.SetConstraint(false)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, format, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and highlight.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindPrompt:
		gvNode.SetShape(cgraph.BoxShape)
	case NodeKindBranch:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindCode:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindQuery:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindEmpty:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	case NodeKindInput, NodeKindOutput:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	}

	if node.Highlight {
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	}
}
