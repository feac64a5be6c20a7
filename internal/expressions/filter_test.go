package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// nested has a fork inside the second slot of another fork; slots 1 and 2 of
// the outer fork loop.
func nested() chain.Chain {
	return chain.Chain{
		{Branch: 0, Prompt: &chain.PromptStep{PromptID: 1}},
		{Branch: 0, Fork: &chain.Fork{Branches: chain.Labels{0, 1, 4}, Loops: []int{1, 2}}},
		{Branch: 0, Prompt: &chain.PromptStep{PromptID: 2, IncludeContext: true}},
		{Branch: 1, Fork: &chain.Fork{Branches: chain.Labels{1, 2, 3}, Loops: []int{1}}},
		{Branch: 4, Query: &chain.QueryStep{Provider: "pinecone", IndexName: "kb", TopK: 5}},
		{Branch: 0, Code: &chain.CodeStep{Code: "return x", OutputVariable: "x"}},
		{Branch: 1},
		{Branch: 3},
	}
}

func newFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := NewDefaultFilter()
	require.NoError(t, err)
	return f
}

func TestNodeView(t *testing.T) {
	c := nested()
	view := NodeView(c, chain.Parse(c), 6)
	node := view[ViewNode].(map[string]any)

	assert.Equal(t, 6, node["index"])
	assert.Equal(t, "empty", node["kind"])
	assert.Equal(t, 3, node["parent"])
	assert.Equal(t, 0, node["slot"])
	assert.Equal(t, 3, node["depth"])
	assert.Equal(t, true, node["sibling"])
	assert.Equal(t, 1, node["loop_target"])
	assert.Equal(t, true, node["loops_back"])

	fork := NodeView(c, chain.Parse(c), 1)[ViewNode].(map[string]any)
	assert.Equal(t, []any{0, 1, 4}, fork["labels"])
	assert.Equal(t, []any{1, 2}, fork["loops"])
	assert.Equal(t, 6, fork["subtree"])

	facts := view[ViewChain].(map[string]any)
	assert.Equal(t, 8, facts["length"])
	assert.Equal(t, 4, facts["max_branch"])
	assert.Equal(t, 2, facts["forks"])
	assert.Equal(t, 4, facts["steps"])
}

func TestSelectAcrossEngines(t *testing.T) {
	f := newFilter(t)
	assert.Equal(t, []string{"cel", "expr", "jq"}, f.Engines())
	ctx := context.Background()
	c := nested()

	tests := []struct {
		engine string
		expr   string
		want   []int
	}{
		{"cel", `node.kind == "branch"`, []int{1, 3}},
		{"cel", `node.loops_back`, []int{4, 6}},
		{"cel", `has(node.prompt_id) && node.include_context`, []int{2}},
		{"expr", `node.fork && any(node.labels, # == 4)`, []int{1}},
		{"expr", `node.depth == 2`, []int{2, 3, 4}},
		{"jq", `.node.kind == "query" and .node.top_k > 3`, []int{4}},
		{"jq", `.node.branch > 0`, []int{3, 4, 6, 7}},
		{"jq", `.node.labels[]? | select(. == 2)`, []int{3}},
		{"jq", `.node.output_variable`, []int{5}},
	}
	for _, tt := range tests {
		t.Run(tt.engine+" "+tt.expr, func(t *testing.T) {
			got, err := f.Select(ctx, tt.engine, tt.expr, c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectNoMatches(t *testing.T) {
	got, err := newFilter(t).Select(context.Background(), "cel", "false", nested())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSelectErrors(t *testing.T) {
	f := newFilter(t)
	ctx := context.Background()

	_, err := f.Select(ctx, "lua", "true", nested())
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = f.Select(ctx, "cel", "node.index", nested())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))
	var ce *schema.ChainError
	require.ErrorAs(t, err, &ce)
	require.NotNil(t, ce.Node)
	assert.Equal(t, 0, *ce.Node)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.Select(cancelled, "cel", "true", nested())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProject(t *testing.T) {
	got, err := newFilter(t).Project(context.Background(), "expr", "node.depth", nested())
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 2, 2, 3, 3, 3}, got)
}

func TestProjectSubset(t *testing.T) {
	f := newFilter(t)
	ctx := context.Background()

	got, err := f.Project(ctx, "cel", "node.prompt_id", nested(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(1)}, got)

	_, err = f.Project(ctx, "cel", "node.prompt_id", nested(), 1)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression), "forks carry no prompt")

	_, err = f.Project(ctx, "jq", ".node", nested(), 8)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}
