package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

func prompt(id int64) *chain.PromptStep { return &chain.PromptStep{PromptID: id} }

func intPtr(v int) *int { return &v }

// sample has a two-way fork with a looping second branch.
func sample() chain.Chain {
	return chain.Chain{
		{Branch: 0, Prompt: prompt(1)},
		{Branch: 0, Fork: &chain.Fork{Branches: chain.Labels{0, 1}, Loops: []int{1}}},
		{Branch: 0, Prompt: prompt(2)},
		{Branch: 1, Code: &chain.CodeStep{Code: "return 1"}},
	}
}

func TestApplyEdit(t *testing.T) {
	c := sample()
	code := &chain.Node{Code: &chain.CodeStep{Code: "x"}}

	tests := []struct {
		name string
		edit schema.Edit
		want chain.Chain
	}{
		{"insert node", schema.Edit{Action: schema.EditInsertNode, Index: 0, Node: code}, chain.InsertNode(c, 0, *code)},
		{"insert at head", schema.Edit{Action: schema.EditInsertNode, Index: -1, Node: code}, chain.InsertNode(c, -1, *code)},
		{"insert fork", schema.Edit{Action: schema.EditInsertFork, Index: 2, Branches: 3}, chain.InsertFork(c, 2, 3)},
		{"insert fork default", schema.Edit{Action: schema.EditInsertFork, Index: 2}, chain.InsertFork(c, 2, DefaultForkBranches)},
		{"add branch", schema.Edit{Action: schema.EditAddBranch, Index: 1, Node: code}, chain.AddBranch(c, 1, code)},
		{"prune node", schema.Edit{Action: schema.EditPruneNode, Index: 2}, chain.PruneNodeAndShiftUp(c, 2)},
		{"prune branch", schema.Edit{Action: schema.EditPruneBranch, Index: 1, Slot: 1}, chain.PruneBranchAndShiftLeft(c, 1, 1)},
		{"shift right", schema.Edit{Action: schema.EditShiftRight, Index: 2}, chain.ShiftRight(c, 2)},
		{"shift right column", schema.Edit{Action: schema.EditShiftRight, Index: 0, Column: intPtr(0)}, chain.ShiftRight(c, 0, 0)},
		{"shift down", schema.Edit{Action: schema.EditShiftDown, Index: 0}, chain.ShiftDown(c, 0)},
		{"set loop", schema.Edit{Action: schema.EditSetLoop, Index: 1, Slot: 0, Loop: true}, chain.SetBranchLoop(c, 1, 0, true)},
		{"normalize", schema.Edit{Action: schema.EditNormalize}, chain.Normalize(c)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyEdit(c, tt.edit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, sample(), c, "input untouched")
		})
	}
}

func TestApplyEditSetNode(t *testing.T) {
	c := sample()

	got, err := ApplyEdit(c, schema.Edit{
		Action: schema.EditSetNode,
		Index:  3,
		Node:   &chain.Node{Branch: 9, Prompt: prompt(7)},
	})
	require.NoError(t, err)
	assert.Equal(t, chain.Node{Branch: 1, Prompt: prompt(7)}, got[3], "column is kept")

	got, err = ApplyEdit(c, schema.Edit{Action: schema.EditSetNode, Index: 1, Node: &chain.Node{Prompt: prompt(5)}})
	require.NoError(t, err)
	assert.Equal(t, chain.Labels{0, 1}, got[1].Fork.Branches, "fork is kept")
	assert.Equal(t, int64(5), got[1].Prompt.PromptID)
}

func TestApplyEditRejects(t *testing.T) {
	c := sample()

	tests := []struct {
		name string
		edit schema.Edit
	}{
		{"unknown action", schema.Edit{Action: "explode"}},
		{"index past end", schema.Edit{Action: schema.EditShiftDown, Index: 4}},
		{"negative index", schema.Edit{Action: schema.EditShiftRight, Index: -1}},
		{"insert past end", schema.Edit{Action: schema.EditInsertNode, Index: 4, Node: &chain.Node{}}},
		{"insert without node", schema.Edit{Action: schema.EditInsertNode, Index: 0}},
		{"negative fork size", schema.Edit{Action: schema.EditInsertFork, Index: 0, Branches: -1}},
		{"add branch to non fork", schema.Edit{Action: schema.EditAddBranch, Index: 0}},
		{"prune fork as node", schema.Edit{Action: schema.EditPruneNode, Index: 1}},
		{"prune missing slot", schema.Edit{Action: schema.EditPruneBranch, Index: 1, Slot: 2}},
		{"loop on non fork", schema.Edit{Action: schema.EditSetLoop, Index: 2}},
		{"negative column", schema.Edit{Action: schema.EditShiftRight, Index: 0, Column: intPtr(-1)}},
		{"set node without node", schema.Edit{Action: schema.EditSetNode, Index: 0}},
		{"set node adds fork", schema.Edit{Action: schema.EditSetNode, Index: 0, Node: &chain.Node{Fork: &chain.Fork{Branches: chain.Labels{0}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyEdit(c, tt.edit)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidEdit), err.Error())
		})
	}
}

func TestApplyEditKeepsLastBranch(t *testing.T) {
	c := chain.Chain{{Branch: 0, Fork: &chain.Fork{Branches: chain.Labels{0}}}}

	_, err := ApplyEdit(c, schema.Edit{Action: schema.EditPruneBranch, Index: 0, Slot: 0})
	require.Error(t, err)

	var ce *schema.ChainError
	require.ErrorAs(t, err, &ce)
	require.NotNil(t, ce.Node)
	assert.Equal(t, 0, *ce.Node)
}
