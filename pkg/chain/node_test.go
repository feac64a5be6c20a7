package chain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeJSONShape(t *testing.T) {
	data, err := json.Marshal(chain1()[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"branch":0,"branches":["0","1","4"],"loops":[1,2]}`, string(data))

	data, err = json.Marshal(chain2()[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"branch":0,"promptID":1,"branches":["0","1"]}`, string(data))

	data, err = json.Marshal(Node{Branch: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"branch":3}`, string(data))
}

func TestNodeUnmarshal(t *testing.T) {
	var c Chain
	err := json.Unmarshal([]byte(`[
		{"branch":0,"promptID":1,"versionID":4,"includeContext":true},
		{"branch":0,"branches":["0",1],"loops":[1]},
		{"branch":1,"code":"return x","outputVariable":"y"},
		{"branch":0,"provider":"pinecone","model":"m","indexName":"docs","topK":5,"query":"q"}
	]`), &c)
	require.NoError(t, err)
	require.Len(t, c, 4)

	assert.Equal(t, KindPrompt, c[0].Kind())
	require.NotNil(t, c[0].Prompt.VersionID)
	assert.Equal(t, int64(4), *c[0].Prompt.VersionID)
	assert.True(t, c[0].Prompt.IncludeContext)

	assert.Equal(t, KindBranch, c[1].Kind())
	assert.Equal(t, Labels{0, 1}, c[1].Fork.Branches)
	assert.True(t, c[1].Fork.LoopsAt(1))
	assert.False(t, c[1].Fork.LoopsAt(0))

	assert.Equal(t, KindCode, c[2].Kind())
	assert.Equal(t, "y", c[2].Code.OutputVariable)

	assert.Equal(t, KindQuery, c[3].Kind())
	assert.Equal(t, 5, c[3].Query.TopK)
}

func TestLabelsRejectNonIntegers(t *testing.T) {
	var l Labels
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &l))
	assert.Error(t, json.Unmarshal([]byte(`[true]`), &l))
	assert.Error(t, json.Unmarshal([]byte(`"0"`), &l))
}

func TestCloneIsDeep(t *testing.T) {
	v := int64(2)
	n := Node{Branch: 1, Prompt: &PromptStep{PromptID: 1, VersionID: &v}, Fork: fork([]int{1, 2}, 0)}

	cp := n.Clone()
	*cp.Prompt.VersionID = 9
	cp.Fork.Branches[0] = 7
	cp.Fork.Loops[0] = 1

	assert.Equal(t, int64(2), *n.Prompt.VersionID)
	assert.Equal(t, Labels{1, 2}, n.Fork.Branches)
	assert.Equal(t, []int{0}, n.Fork.Loops)
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindEmpty, (&Node{}).Kind())
	assert.Equal(t, KindBranch, (&Node{Fork: &Fork{}, Prompt: prompt(1)}).Kind())
	assert.False(t, (*Node)(nil).IsFork())
}

func TestIndexOf(t *testing.T) {
	c := chain1()
	assert.Equal(t, 4, c.IndexOf(&c[4]))

	cp := c[4]
	assert.Equal(t, -1, c.IndexOf(&cp))
	assert.Equal(t, -1, c.IndexOf(nil))
}
