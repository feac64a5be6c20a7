package diagram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// Build lays a chain document out on its grid. Rows come from
// chain.SplitNodes, the width from chain.MaxBranch and edges from the parsed
// tree. Nodes whose array index is listed in highlight are marked, which is
// how query matches are shown.
func Build(doc *schema.ChainDocument, highlight []int) *DiagramModel {
	c := doc.Nodes
	tree := chain.Parse(c)

	marked := make(map[int]bool, len(highlight))
	for _, i := range highlight {
		marked[i] = true
	}

	model := &DiagramModel{
		Title:   doc.Name,
		Columns: chain.Columns(c),
	}
	if model.Title == "" {
		model.Title = "Chain"
	}

	model.Nodes = append(model.Nodes, &Node{ID: InputID, Index: -1, Label: "Input", Kind: NodeKindInput, Row: -1})
	model.Levels = append(model.Levels, []string{InputID})

	offset := 0
	for r, row := range chain.SplitNodes(c) {
		level := make([]string, 0, len(row))
		for j := range row {
			i := offset + j
			n := &Node{
				ID:        NodeID(i),
				Index:     i,
				Label:     nodeLabel(&c[i]),
				Kind:      NodeKind(c[i].Kind()),
				Column:    c[i].Branch,
				Row:       r,
				Highlight: marked[i],
			}
			model.Nodes = append(model.Nodes, n)
			level = append(level, n.ID)
		}
		model.Levels = append(model.Levels, level)
		offset += len(row)
	}

	model.Nodes = append(model.Nodes, &Node{ID: OutputID, Index: -1, Label: "Output", Kind: NodeKindOutput, Row: len(model.Levels) - 1})
	model.Levels = append(model.Levels, []string{OutputID})

	model.Edges = buildEdges(c, tree)
	return model
}

// NodeID is the diagram ID of chain[i].
func NodeID(i int) string {
	return "n" + strconv.Itoa(i)
}

func buildEdges(c chain.Chain, tree *chain.Tree) []Edge {
	var edges []Edge
	for _, r := range tree.Roots() {
		edges = append(edges, Edge{From: InputID, To: NodeID(r)})
	}

	for i := range c {
		for _, child := range tree.Children(i) {
			e := Edge{From: NodeID(i), To: NodeID(child)}
			if k := tree.Slot(child); k >= 0 {
				e.Label = branchLabel(c[i].Fork.Branches[k])
			}
			edges = append(edges, e)
		}

		if f := c[i].Fork; f != nil {
			for k, label := range f.Branches {
				if tree.BranchStart(i, k) >= 0 {
					continue
				}
				if f.LoopsAt(k) {
					edges = append(edges, Edge{From: NodeID(i), To: NodeID(i), Label: branchLabel(label), Loop: true})
				} else {
					edges = append(edges, Edge{From: NodeID(i), To: OutputID, Label: branchLabel(label)})
				}
			}
			continue
		}

		if tree.Next(i) >= 0 {
			continue
		}
		if target := chain.LoopCompletionIndexForNode(c, i, c[i].Branch); target >= 0 {
			edges = append(edges, Edge{From: NodeID(i), To: NodeID(target), Label: "loop", Loop: true})
			continue
		}
		edges = append(edges, Edge{From: NodeID(i), To: OutputID})
	}
	return edges
}

func branchLabel(label int) string {
	return "branch " + strconv.Itoa(label)
}

// nodeLabel creates a short human-readable label for a chain node.
func nodeLabel(n *chain.Node) string {
	var parts []string
	switch {
	case n.Prompt != nil:
		s := fmt.Sprintf("prompt #%d", n.Prompt.PromptID)
		if n.Prompt.VersionID != nil {
			s += fmt.Sprintf(" v%d", *n.Prompt.VersionID)
		}
		parts = append(parts, s)
	case n.Code != nil:
		name := n.Code.Name
		if name == "" {
			name = "code"
		}
		if n.Code.OutputVariable != "" {
			name += " -> " + n.Code.OutputVariable
		}
		parts = append(parts, name)
	case n.Query != nil:
		parts = append(parts, fmt.Sprintf("query %s/%s k=%d", n.Query.Provider, n.Query.IndexName, n.Query.TopK))
	}
	if n.Fork != nil {
		labels := make([]string, len(n.Fork.Branches))
		for k, l := range n.Fork.Branches {
			labels[k] = strconv.Itoa(l)
			if n.Fork.LoopsAt(k) {
				labels[k] += "*"
			}
		}
		parts = append(parts, "fork "+strings.Join(labels, ","))
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, " | ")
}
