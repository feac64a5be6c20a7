package expressions

import (
	"github.com/rendis/promptchain/pkg/chain"
)

// Top-level keys of the data every engine sees.
const (
	ViewNode  = "node"
	ViewChain = "chain"
)

// NodeView builds the data map an expression is evaluated against for
// chain[i]: the node's payload flattened into snake_case keys plus its place
// in the parsed tree, and a few chain-wide facts.
func NodeView(c chain.Chain, tree *chain.Tree, i int) map[string]any {
	return map[string]any{
		ViewNode:  nodeFacts(c, tree, i),
		ViewChain: chainFacts(c),
	}
}

func nodeFacts(c chain.Chain, tree *chain.Tree, i int) map[string]any {
	n := &c[i]
	facts := map[string]any{
		"index":    i,
		"branch":   n.Branch,
		"kind":     string(n.Kind()),
		"depth":    tree.Depth(i),
		"parent":   tree.Parent(i),
		"slot":     tree.Slot(i),
		"sibling":  chain.IsSiblingNode(c, i),
		"has_next": tree.Next(i) >= 0,
		"children": len(tree.Children(i)),
		"subtree":  len(tree.Descendants(i)),
		"fork":     n.IsFork(),
	}

	target := chain.LoopCompletionIndexForNode(c, i, n.Branch)
	facts["loop_target"] = target
	facts["loops_back"] = target >= 0
	facts["context_allowed"] = chain.CanChainNodeIncludeContext(n, c)

	if p := n.Prompt; p != nil {
		facts["prompt_id"] = int(p.PromptID)
		if p.VersionID != nil {
			facts["version_id"] = int(*p.VersionID)
		}
		facts["include_context"] = p.IncludeContext
	}
	if cs := n.Code; cs != nil {
		facts["code"] = cs.Code
		facts["name"] = cs.Name
		facts["description"] = cs.Description
		facts["output_variable"] = cs.OutputVariable
	}
	if q := n.Query; q != nil {
		facts["provider"] = q.Provider
		facts["model"] = q.Model
		facts["index_name"] = q.IndexName
		facts["top_k"] = q.TopK
		facts["query"] = q.Query
	}
	if f := n.Fork; f != nil {
		facts["labels"] = intList(f.Branches)
		facts["loops"] = intList(f.Loops)
	}
	return facts
}

func chainFacts(c chain.Chain) map[string]any {
	forks := 0
	for i := range c {
		if c[i].IsFork() {
			forks++
		}
	}
	return map[string]any{
		"length":     len(c),
		"max_branch": chain.MaxBranch(c),
		"forks":      forks,
		"steps":      len(chain.Steps(c)),
	}
}

func intList[T ~[]int](v T) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}
