package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

func prompt(id int64) *chain.PromptStep { return &chain.PromptStep{PromptID: id} }

// nestedDoc is a fork nested in the second slot of another fork, with label 1
// reused at both levels and looping slots on both.
func nestedDoc() *schema.ChainDocument {
	return &schema.ChainDocument{
		Name: "Nested",
		Nodes: chain.Chain{
			{Branch: 0, Prompt: prompt(1)},
			{Branch: 0, Fork: &chain.Fork{Branches: chain.Labels{0, 1, 4}, Loops: []int{1, 2}}},
			{Branch: 0, Prompt: prompt(2)},
			{Branch: 1, Fork: &chain.Fork{Branches: chain.Labels{1, 2, 3}, Loops: []int{1}}},
			{Branch: 4, Prompt: prompt(3)},
			{Branch: 0},
			{Branch: 1},
			{Branch: 3},
		},
	}
}

func linearDoc() *schema.ChainDocument {
	v := int64(2)
	return &schema.ChainDocument{
		Name: "Linear",
		Nodes: chain.Chain{
			{Branch: 0, Prompt: &chain.PromptStep{PromptID: 1, VersionID: &v}},
			{Branch: 0, Code: &chain.CodeStep{Code: "return x", Name: "clean", OutputVariable: "out"}},
			{Branch: 0, Query: &chain.QueryStep{Provider: "pinecone", IndexName: "kb", TopK: 3}},
		},
	}
}

// twoRootDoc places a second root in a column no fork declares.
func twoRootDoc() *schema.ChainDocument {
	return &schema.ChainDocument{
		Name: "Two roots",
		Nodes: chain.Chain{
			{Branch: 0, Prompt: prompt(11)},
			{Branch: 1, Prompt: prompt(22)},
		},
	}
}

func TestBuildLevels(t *testing.T) {
	model := Build(nestedDoc(), nil)

	assert.Equal(t, "Nested", model.Title)
	assert.Equal(t, 5, model.Columns)
	assert.Equal(t, [][]string{
		{InputID},
		{"n0"},
		{"n1"},
		{"n2", "n3", "n4"},
		{"n5", "n6", "n7"},
		{OutputID},
	}, model.Levels)
	require.Len(t, model.Nodes, 10)

	n4 := model.node("n4")
	require.NotNil(t, n4)
	assert.Equal(t, 4, n4.Column)
	assert.Equal(t, 2, n4.Row)
	assert.Equal(t, NodeKindPrompt, n4.Kind)
	assert.Equal(t, NodeKindBranch, model.node("n3").Kind)
	assert.Equal(t, NodeKindEmpty, model.node("n5").Kind)
}

func TestBuildEdges(t *testing.T) {
	model := Build(nestedDoc(), nil)

	assert.ElementsMatch(t, []Edge{
		{From: InputID, To: "n0"},
		{From: "n0", To: "n1"},
		{From: "n1", To: "n2", Label: "branch 0"},
		{From: "n1", To: "n3", Label: "branch 1"},
		{From: "n1", To: "n4", Label: "branch 4"},
		{From: "n2", To: "n5"},
		{From: "n3", To: "n6", Label: "branch 1"},
		{From: "n3", To: "n7", Label: "branch 3"},
		{From: "n3", To: "n3", Label: "branch 2", Loop: true},
		{From: "n4", To: "n1", Label: "loop", Loop: true},
		{From: "n5", To: OutputID},
		{From: "n6", To: "n1", Label: "loop", Loop: true},
		{From: "n7", To: OutputID},
	}, model.Edges)
}

func TestBuildLabels(t *testing.T) {
	model := Build(linearDoc(), nil)

	assert.Equal(t, "prompt #1 v2", model.node("n0").Label)
	assert.Equal(t, "clean -> out", model.node("n1").Label)
	assert.Equal(t, "query pinecone/kb k=3", model.node("n2").Label)

	nested := Build(nestedDoc(), nil)
	assert.Equal(t, "fork 0,1*,4*", nested.node("n1").Label)
	assert.Equal(t, "(empty)", nested.node("n5").Label)
}

func TestBuildHighlight(t *testing.T) {
	model := Build(nestedDoc(), []int{2, 4})

	var marked []string
	for _, n := range model.Nodes {
		if n.Highlight {
			marked = append(marked, n.ID)
		}
	}
	assert.Equal(t, []string{"n2", "n4"}, marked)
}

func TestBuildEmptyChain(t *testing.T) {
	model := Build(&schema.ChainDocument{}, nil)

	assert.Equal(t, "Chain", model.Title)
	assert.Equal(t, 1, model.Columns)
	assert.Equal(t, [][]string{{InputID}, {OutputID}}, model.Levels)
	assert.Empty(t, model.Edges)
}

func TestBuildColumnsCoverUndeclaredRoots(t *testing.T) {
	model := Build(twoRootDoc(), nil)

	assert.Equal(t, 2, model.Columns)
	n1 := model.node(NodeID(1))
	require.NotNil(t, n1)
	assert.Equal(t, 1, n1.Column)
}
