package chain

import "slices"

// ShiftRight makes room for a new column. Every node column and fork label
// greater than the threshold moves right by one; the threshold is branch[0]
// when given, otherwise chain[i].Branch. Array order is kept.
func ShiftRight(c Chain, i int, branch ...int) Chain {
	out := c.Clone()
	if !c.inRange(i) {
		return out
	}
	threshold := c[i].Branch
	if len(branch) > 0 {
		threshold = branch[0]
	}
	for j := range out {
		if out[j].Branch > threshold {
			out[j].Branch++
		}
		if f := out[j].Fork; f != nil {
			for k, l := range f.Branches {
				if l > threshold {
					f.Branches[k] = l + 1
				}
			}
		}
	}
	return out
}

// ShiftDown pushes everything that follows node i in its column one row
// further down, leaving an empty cell right below i. Columns are unchanged.
func ShiftDown(c Chain, i int) Chain {
	if !c.inRange(i) {
		return c.Clone()
	}
	t := Parse(c)
	f := t.edit()
	if succ := f.byIdx[i].next; succ != nil {
		succ.lower++
	}
	return f.flatten()
}

// PruneBranchAndShiftLeft removes slot k of fork f together with its
// subtree. The slot's loop flag goes with it and higher loop indices close
// the gap. Columns that no surviving node uses or declares any more are then
// compacted away, shifting everything right of them to the left.
func PruneBranchAndShiftLeft(c Chain, f, k int) Chain {
	if !c.inRange(f) || !c[f].IsFork() || k < 0 || k >= len(c[f].Fork.Branches) {
		return c.Clone()
	}
	t := Parse(c)
	fr := t.edit()
	fork := fr.byIdx[f]

	freed := map[int]bool{fork.node.Fork.Branches[k]: true}
	for _, v := range subtree(fork.branches[k]) {
		freed[v.node.Branch] = true
	}

	fork.branches = slices.Delete(fork.branches, k, k+1)
	fork.node.Fork.Branches = slices.Delete(fork.node.Fork.Branches, k, k+1)
	loops := fork.node.Fork.Loops[:0]
	for _, l := range fork.node.Fork.Loops {
		switch {
		case l < k:
			loops = append(loops, l)
		case l > k:
			loops = append(loops, l-1)
		}
	}
	if len(loops) == 0 {
		loops = nil
	}
	fork.node.Fork.Loops = loops

	fr.walk(func(v *vertex) {
		delete(freed, v.node.Branch)
		if v.node.Fork != nil {
			for _, l := range v.node.Fork.Branches {
				delete(freed, l)
			}
		}
	})
	gaps := make([]int, 0, len(freed))
	for col := range freed {
		gaps = append(gaps, col)
	}
	slices.Sort(gaps)
	fr.remapColumns(func(col int) int {
		n, _ := slices.BinarySearch(gaps, col)
		return col - n
	})
	return fr.flatten()
}

// PruneNodeAndShiftUp removes node i. Whatever followed it in its column
// moves up and takes its place below the same parent. Forks are left alone;
// use PruneBranchAndShiftLeft on their slots instead.
func PruneNodeAndShiftUp(c Chain, i int) Chain {
	if !c.inRange(i) || c[i].IsFork() {
		return c.Clone()
	}
	fr := Parse(c).edit()
	v := fr.byIdx[i]
	fr.replace(v, v.next)
	return fr.flatten()
}

// InsertNode places node right after chain[after] in the same column, ahead
// of the node that used to follow it. With after == -1 the node becomes the
// head of column 0. A node carrying a fork is inserted with InsertFork
// semantics, one slot per declared label.
func InsertNode(c Chain, after int, node Node) Chain {
	if after != -1 && !c.inRange(after) {
		return c.Clone()
	}
	if node.IsFork() {
		return insertFork(c, after, max(len(node.Fork.Branches), 1), node)
	}
	node = node.Clone()
	fr := Parse(c).edit()
	insertAfter(fr, after, &vertex{node: node})
	return fr.flatten()
}

// InsertFork places a fork with n slots right after chain[after]. Slot 0
// continues the fork's own column and keeps whatever followed chain[after];
// the remaining slots open empty columns to the right of everything that
// continuation uses.
func InsertFork(c Chain, after, n int) Chain {
	if after != -1 && !c.inRange(after) {
		return c.Clone()
	}
	return insertFork(c, after, max(n, 1), Node{})
}

func insertFork(c Chain, after, n int, seed Node) Chain {
	fr := Parse(c).edit()
	col := 0
	if after >= 0 {
		col = c[after].Branch
	}
	succ := successor(fr, after, col)
	last := maxColumn(subtree(succ), col)
	fr.shiftColumns(last, n-1)

	node := seed.Clone()
	node.Fork = &Fork{Branches: Labels{col}}
	for k := 1; k < n; k++ {
		node.Fork.Branches = append(node.Fork.Branches, last+k)
	}
	if seed.Fork != nil {
		for _, l := range seed.Fork.Loops {
			if l >= 0 && l < n {
				node.Fork.Loops = append(node.Fork.Loops, l)
			}
		}
	}

	v := &vertex{node: node, branches: make([]*vertex, n)}
	insertAfter(fr, after, v)
	// The displaced successor belongs to slot 0 rather than the sequential link.
	v.branches[0], v.next = v.next, nil
	return fr.flatten()
}

// AddBranch appends a slot to fork f on a fresh column to the right of
// everything the fork already spans. A non-nil node seeds the new branch;
// any fork on the seed is dropped.
func AddBranch(c Chain, f int, node *Node) Chain {
	if !c.inRange(f) || !c[f].IsFork() {
		return c.Clone()
	}
	fr := Parse(c).edit()
	fork := fr.byIdx[f]
	last := maxColumn(subtree(fork), fork.node.Branch)
	fr.shiftColumns(last, 1)

	col := last + 1
	fork.node.Fork.Branches = append(fork.node.Fork.Branches, col)
	var start *vertex
	if node != nil {
		seed := node.Clone()
		seed.Branch = col
		seed.Fork = nil
		start = &vertex{node: seed}
	}
	fork.branches = append(fork.branches, start)
	return fr.flatten()
}

// SetBranchLoop sets or clears the loop flag of slot k of fork f.
func SetBranchLoop(c Chain, f, k int, loop bool) Chain {
	out := c.Clone()
	if !c.inRange(f) || !c[f].IsFork() || k < 0 || k >= len(c[f].Fork.Branches) {
		return out
	}
	fork := out[f].Fork
	loops := slices.DeleteFunc(fork.Loops, func(l int) bool { return l == k })
	if loop {
		loops = append(loops, k)
		slices.Sort(loops)
	}
	if len(loops) == 0 {
		loops = nil
	}
	fork.Loops = loops
	return out
}

// Normalize rewrites c in canonical order (tree depth, then column) without
// changing its structure.
func Normalize(c Chain) Chain {
	return Parse(c).edit().flatten()
}

// successor returns the vertex that currently continues column col after
// chain[after]: the head of the column when after is -1, the matching fork
// slot when chain[after] re-declares its own column, otherwise its sequential
// child.
func successor(fr *forest, after, col int) *vertex {
	if after < 0 {
		for _, r := range fr.roots {
			if r.node.Branch == col {
				return r
			}
		}
		return nil
	}
	v := fr.byIdx[after]
	if v.node.Fork != nil {
		if k := v.node.Fork.Slot(col); k >= 0 {
			return v.branches[k]
		}
	}
	return v.next
}

// insertAfter links v into the column right after chain[after], making the
// previous successor v's sequential child. v takes the column's index.
func insertAfter(fr *forest, after int, v *vertex) {
	col := 0
	if after >= 0 {
		col = fr.byIdx[after].node.Branch
	}
	v.node.Branch = col
	succ := successor(fr, after, col)
	v.next = succ

	if after < 0 {
		if succ != nil {
			fr.replace(succ, v)
		} else {
			fr.roots = append([]*vertex{v}, fr.roots...)
		}
		return
	}
	p := fr.byIdx[after]
	if p.node.Fork != nil {
		if k := p.node.Fork.Slot(col); k >= 0 {
			p.branches[k] = v
			return
		}
	}
	p.next = v
}
