package chain

import (
	"cmp"
	"slices"
)

// Tree is the forest recovered from a chain. Node i of the tree is chain[i].
//
// Parsing walks the array once and tracks, per column, which node currently
// claims it. A node attaches below the claimant of its column (or becomes a
// root), then claims the column for its own sequential successor. A fork then
// claims each of its labels for the matching slot, so the innermost fork that
// declared a label wins.
type Tree struct {
	chain    Chain
	parent   []int
	slot     []int   // slot in the parent fork, -1 for a sequential child
	next     []int   // sequential child
	branches [][]int // per fork slot, -1 when the slot is empty
	depth    []int
	roots    []int
}

type claim struct {
	node int
	slot int
}

// Parse builds the tree for c. It never fails: a node whose column nobody
// claims becomes a root.
func Parse(c Chain) *Tree {
	n := len(c)
	t := &Tree{
		chain:    c,
		parent:   make([]int, n),
		slot:     make([]int, n),
		next:     make([]int, n),
		branches: make([][]int, n),
		depth:    make([]int, n),
	}

	claims := make(map[int]claim)
	for i := range c {
		t.parent[i], t.slot[i], t.next[i] = -1, -1, -1

		if cl, ok := claims[c[i].Branch]; ok {
			t.parent[i] = cl.node
			t.slot[i] = cl.slot
			t.depth[i] = t.depth[cl.node] + 1
			if cl.slot >= 0 {
				t.branches[cl.node][cl.slot] = i
			} else {
				t.next[cl.node] = i
			}
		} else {
			t.roots = append(t.roots, i)
		}
		claims[c[i].Branch] = claim{node: i, slot: -1}

		if f := c[i].Fork; f != nil {
			t.branches[i] = make([]int, len(f.Branches))
			for k, label := range f.Branches {
				t.branches[i][k] = -1
				claims[label] = claim{node: i, slot: k}
			}
		}
	}
	return t
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.chain) }

// Roots returns the nodes no fork or predecessor claims, in array order.
func (t *Tree) Roots() []int { return slices.Clone(t.roots) }

// Parent returns the parent of i, or -1 for roots and out-of-range indices.
func (t *Tree) Parent(i int) int {
	if !t.chain.inRange(i) {
		return -1
	}
	return t.parent[i]
}

// Slot returns the fork slot through which i hangs below its parent, or -1
// when i is a sequential continuation (or a root).
func (t *Tree) Slot(i int) int {
	if !t.chain.inRange(i) {
		return -1
	}
	return t.slot[i]
}

// Next returns the sequential successor of i in its column, or -1.
func (t *Tree) Next(i int) int {
	if !t.chain.inRange(i) {
		return -1
	}
	return t.next[i]
}

// BranchStart returns the first node of slot k of fork f, or -1.
func (t *Tree) BranchStart(f, k int) int {
	if !t.chain.inRange(f) || k < 0 || k >= len(t.branches[f]) {
		return -1
	}
	return t.branches[f][k]
}

// Depth returns the row a canonical layout puts i on.
func (t *Tree) Depth(i int) int {
	if !t.chain.inRange(i) {
		return -1
	}
	return t.depth[i]
}

// Children returns the direct children of i: its sequential successor first,
// then the start of every non-empty fork slot in slot order.
func (t *Tree) Children(i int) []int {
	if !t.chain.inRange(i) {
		return nil
	}
	var out []int
	if t.next[i] >= 0 {
		out = append(out, t.next[i])
	}
	for _, b := range t.branches[i] {
		if b >= 0 {
			out = append(out, b)
		}
	}
	return out
}

// Descendants returns every node below i in ascending index order.
func (t *Tree) Descendants(i int) []int {
	if !t.chain.inRange(i) {
		return nil
	}
	var out []int
	stack := t.Children(i)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, top)
		stack = append(stack, t.Children(top)...)
	}
	slices.Sort(out)
	return out
}

// Ancestors returns the parents of i from the innermost outwards.
func (t *Tree) Ancestors(i int) []int {
	var out []int
	for p := t.Parent(i); p >= 0; p = t.parent[p] {
		out = append(out, p)
	}
	return out
}

// ColumnEnd returns the last node of column col that descends from f, or f
// itself when nothing below f occupies that column.
func (t *Tree) ColumnEnd(f, col int) int {
	end := f
	for _, d := range t.Descendants(f) {
		if t.chain[d].Branch == col {
			end = d
		}
	}
	return end
}

// nodes returns clones of the chain entries at idx.
func (t *Tree) nodes(idx []int) Chain {
	out := make(Chain, 0, len(idx))
	for _, i := range idx {
		out = append(out, t.chain[i].Clone())
	}
	return out
}

// ─── editable forest ─────────────────────────────────────────────────────────

// vertex is a mutable tree node used while restructuring a chain.
type vertex struct {
	node     Node
	next     *vertex
	branches []*vertex
	lower    int // extra rows this vertex and its subtree sit below their canonical row
}

type forest struct {
	roots []*vertex
	byIdx []*vertex
}

// edit turns the tree into a mutable forest of cloned nodes.
func (t *Tree) edit() *forest {
	f := &forest{byIdx: make([]*vertex, len(t.chain))}
	for i := range t.chain {
		f.byIdx[i] = &vertex{node: t.chain[i].Clone()}
		if len(t.branches[i]) > 0 {
			f.byIdx[i].branches = make([]*vertex, len(t.branches[i]))
		}
	}
	for i := range t.chain {
		v := f.byIdx[i]
		if t.next[i] >= 0 {
			v.next = f.byIdx[t.next[i]]
		}
		for k, b := range t.branches[i] {
			if b >= 0 {
				v.branches[k] = f.byIdx[b]
			}
		}
	}
	for _, r := range t.roots {
		f.roots = append(f.roots, f.byIdx[r])
	}
	return f
}

func (v *vertex) children() []*vertex {
	var out []*vertex
	if v.next != nil {
		out = append(out, v.next)
	}
	for _, b := range v.branches {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// walk visits every vertex reachable from the roots.
func (f *forest) walk(fn func(v *vertex)) {
	stack := slices.Clone(f.roots)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(v)
		stack = append(stack, v.children()...)
	}
}

// subtree returns v and everything below it.
func subtree(v *vertex) []*vertex {
	if v == nil {
		return nil
	}
	var out []*vertex
	stack := []*vertex{v}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, top)
		stack = append(stack, top.children()...)
	}
	return out
}

// maxColumn returns the highest column used or declared in vs, or floor.
func maxColumn(vs []*vertex, floor int) int {
	m := floor
	for _, v := range vs {
		m = max(m, v.node.Branch)
		if v.node.Fork != nil {
			for _, l := range v.node.Fork.Branches {
				m = max(m, l)
			}
		}
	}
	return m
}

// remapColumns rewrites every node column and fork label through fn.
func (f *forest) remapColumns(fn func(int) int) {
	f.walk(func(v *vertex) {
		v.node.Branch = fn(v.node.Branch)
		if v.node.Fork != nil {
			for k, l := range v.node.Fork.Branches {
				v.node.Fork.Branches[k] = fn(l)
			}
		}
	})
}

// shiftColumns moves every column above threshold right by amount.
func (f *forest) shiftColumns(threshold, amount int) {
	if amount <= 0 {
		return
	}
	f.remapColumns(func(c int) int {
		if c > threshold {
			return c + amount
		}
		return c
	})
}

// replace swaps old for repl wherever old hangs (a root, a sequential link or
// a fork slot). A nil repl detaches old.
func (f *forest) replace(old, repl *vertex) {
	for i, r := range f.roots {
		if r == old {
			if repl == nil {
				f.roots = slices.Delete(f.roots, i, i+1)
			} else {
				f.roots[i] = repl
			}
			return
		}
	}
	f.walk(func(v *vertex) {
		if v.next == old {
			v.next = repl
		}
		for k, b := range v.branches {
			if b == old {
				v.branches[k] = repl
			}
		}
	})
}

// flatten writes the forest back out row by row. A vertex sits one row below
// its parent (plus any extra rows requested through lower); within a row
// vertices are ordered by column.
func (f *forest) flatten() Chain {
	type placed struct {
		v   *vertex
		row int
		seq int
	}
	var all []placed
	type frame struct {
		v   *vertex
		row int
	}
	var stack []frame
	for i := len(f.roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{f.roots[i], f.roots[i].lower})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		all = append(all, placed{v: top.v, row: top.row, seq: len(all)})
		kids := top.v.children()
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{kids[i], top.row + 1 + kids[i].lower})
		}
	}

	slices.SortStableFunc(all, func(a, b placed) int {
		if c := cmp.Compare(a.row, b.row); c != 0 {
			return c
		}
		if c := cmp.Compare(a.v.node.Branch, b.v.node.Branch); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make(Chain, len(all))
	for i, p := range all {
		out[i] = p.v.node
	}
	return out
}
