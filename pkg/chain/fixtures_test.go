package chain

func prompt(id int64) *PromptStep { return &PromptStep{PromptID: id} }

func fork(labels []int, loops ...int) *Fork {
	f := &Fork{Branches: Labels(labels)}
	if len(loops) > 0 {
		f.Loops = loops
	}
	return f
}

// chain1 nests a fork inside the second slot of another one and reuses
// label 1 at both levels.
func chain1() Chain {
	return Chain{
		{Branch: 0, Prompt: prompt(1)},
		{Branch: 0, Fork: fork([]int{0, 1, 4}, 1, 2)},
		{Branch: 0, Prompt: prompt(2)},
		{Branch: 1, Fork: fork([]int{1, 2, 3}, 1)},
		{Branch: 4, Prompt: prompt(3)},
		{Branch: 0},
		{Branch: 1},
		{Branch: 3},
	}
}

// chain2 has a fork that also carries a prompt.
func chain2() Chain {
	return Chain{
		{Branch: 0, Fork: fork([]int{0, 2})},
		{Branch: 0, Fork: fork([]int{0, 1}), Prompt: prompt(1)},
		{Branch: 2},
		{Branch: 0, Prompt: prompt(2)},
	}
}

// twoRoots runs two independent columns side by side; no fork declares
// column 1.
func twoRoots() Chain {
	return Chain{
		{Branch: 0, Prompt: prompt(1)},
		{Branch: 1, Prompt: prompt(2)},
		{Branch: 0, Prompt: prompt(3)},
		{Branch: 1, Prompt: prompt(4)},
	}
}

// pick returns clones of c at the given indices.
func pick(c Chain, idx ...int) Chain {
	out := Chain{}
	for _, i := range idx {
		out = append(out, c[i].Clone())
	}
	return out
}

func branchesOf(c Chain) []int {
	out := make([]int, len(c))
	for i, n := range c {
		out[i] = n.Branch
	}
	return out
}
