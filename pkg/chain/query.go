package chain

// IsSiblingNode reports whether chain[i] opens a column to the right of its
// array predecessor, placing both on the same visual row.
func IsSiblingNode(c Chain, i int) bool {
	if i <= 0 || i >= len(c) {
		return false
	}
	return c[i].Branch > c[i-1].Branch
}

// ShouldBranchLoopOnCompletion reports whether any fork declares label b at a
// looping slot.
func ShouldBranchLoopOnCompletion(c Chain, b int) bool {
	for i := range c {
		f := c[i].Fork
		if f == nil {
			continue
		}
		for k, label := range f.Branches {
			if label == b && f.LoopsAt(k) {
				return true
			}
		}
	}
	return false
}

// LoopCompletionIndexForNode returns the index of the fork that control
// returns to once node i finishes column b, or -1.
//
// The node itself (when it is a fork) and then its enclosing forks are tried
// from the innermost outwards, considering only those that declare b. Column
// b of a candidate completes at its last node below the fork, or at the fork
// itself when the branch is empty. If that position is not i there is nothing
// to loop back from here. If it is i, a looping slot answers with the fork and
// a non-looping one hands the question to the next enclosing fork.
func LoopCompletionIndexForNode(c Chain, i, b int) int {
	if !c.inRange(i) {
		return -1
	}
	t := Parse(c)

	candidates := t.Ancestors(i)
	if c[i].IsFork() {
		candidates = append([]int{i}, candidates...)
	}
	for _, f := range candidates {
		fork := c[f].Fork
		if fork == nil {
			continue
		}
		k := fork.Slot(b)
		if k < 0 {
			continue
		}
		if t.ColumnEnd(f, b) != i {
			return -1
		}
		if fork.LoopsAt(k) {
			return f
		}
	}
	return -1
}

// SubtreeForNode returns node i (when includeRoot) followed by all of its
// descendants in array order. Loops are not followed.
func SubtreeForNode(c Chain, i int, includeRoot bool) Chain {
	if !c.inRange(i) {
		return Chain{}
	}
	t := Parse(c)
	idx := t.Descendants(i)
	if includeRoot {
		idx = append([]int{i}, idx...)
	}
	return t.nodes(idx)
}

// SubtreeForChainNode is SubtreeForNode for a node addressed by pointer into
// c. With followLoops, a node that sits inside a looping branch yields the
// subtree of the outermost fork that loops over it, since running the node
// may re-run everything below that fork.
func SubtreeForChainNode(node *Node, c Chain, includeRoot, followLoops bool) Chain {
	i := c.IndexOf(node)
	if i < 0 {
		return Chain{}
	}
	if followLoops {
		if f := outermostLoopingFork(Parse(c), i); f >= 0 {
			return SubtreeForNode(c, f, includeRoot)
		}
	}
	return SubtreeForNode(c, i, includeRoot)
}

func outermostLoopingFork(t *Tree, i int) int {
	found := -1
	for child, p := i, t.Parent(i); p >= 0; child, p = p, t.Parent(p) {
		k := t.Slot(child)
		if k >= 0 && t.chain[p].Fork.LoopsAt(k) {
			found = p
		}
	}
	return found
}

// CanChainNodeIncludeContext reports whether a prompt node can receive the
// output of the step right before it: its parent must be a sequential
// predecessor carrying a prompt or code payload, not a fork.
func CanChainNodeIncludeContext(node *Node, c Chain) bool {
	i := c.IndexOf(node)
	if i < 0 || node.Kind() != KindPrompt {
		return false
	}
	t := Parse(c)
	p := t.Parent(i)
	if p < 0 || t.Slot(i) >= 0 {
		return false
	}
	switch c[p].Kind() {
	case KindPrompt, KindCode:
		return true
	default:
		return false
	}
}

// MaxBranch returns the highest label declared by any fork in nodes, or 0.
func MaxBranch(nodes Chain) int {
	m := 0
	for i := range nodes {
		if f := nodes[i].Fork; f != nil {
			for _, l := range f.Branches {
				m = max(m, l)
			}
		}
	}
	return m
}

// Columns returns how many grid columns nodes occupy: one past the larger
// of MaxBranch and the highest Branch any node sits in. Top-level nodes may
// sit in columns no fork declares.
func Columns(nodes Chain) int {
	m := MaxBranch(nodes)
	for i := range nodes {
		m = max(m, nodes[i].Branch)
	}
	return m + 1
}

// SubtreeForBranchOfNode returns every node of slot k of fork f, the fork
// excluded. The result is empty when f is not a fork, k is out of range or
// the slot holds no nodes.
func SubtreeForBranchOfNode(c Chain, f, k int) Chain {
	if !c.inRange(f) || !c[f].IsFork() {
		return Chain{}
	}
	start := Parse(c).BranchStart(f, k)
	if start < 0 {
		return Chain{}
	}
	return SubtreeForNode(c, start, true)
}

// FirstBranchForBranchOfNode returns the column where slot k of fork f
// begins, which is the slot's label. It returns -1 when f is not a fork or k
// is out of range.
func FirstBranchForBranchOfNode(c Chain, f, k int) int {
	if !c.inRange(f) || !c[f].IsFork() {
		return -1
	}
	labels := c[f].Fork.Branches
	if k < 0 || k >= len(labels) {
		return -1
	}
	return labels[k]
}

// SplitNodes groups the chain into visual rows. A new row starts at every
// node that is not a sibling of its predecessor.
func SplitNodes(c Chain) []Chain {
	var rows []Chain
	for i := range c {
		if i == 0 || !IsSiblingNode(c, i) {
			rows = append(rows, Chain{})
		}
		rows[len(rows)-1] = append(rows[len(rows)-1], c[i].Clone())
	}
	return rows
}

// Steps returns the nodes of c that carry a runnable payload, in array order,
// with fork metadata stripped. The runtime executes them as listed.
func Steps(c Chain) Chain {
	out := Chain{}
	for i := range c {
		n := c[i]
		if n.Prompt == nil && n.Code == nil && n.Query == nil {
			continue
		}
		step := n.Clone()
		step.Fork = nil
		out = append(out, step)
	}
	return out
}
