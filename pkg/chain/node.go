// Package chain models a prompt chain as a flat, ordered array of nodes.
//
// The array is read as a grid: a node's Branch is the column it occupies and a
// fork's labels are the columns it opens below itself. Every function in this
// package is pure: it never mutates its input and never fails, degrading to an
// empty chain, -1 or false for out-of-range arguments.
package chain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind classifies a node by its payload.
type Kind string

const (
	KindPrompt Kind = "prompt"
	KindCode   Kind = "code"
	KindQuery  Kind = "query"
	KindBranch Kind = "branch"
	KindEmpty  Kind = "empty"
)

// PromptStep runs a stored prompt version.
type PromptStep struct {
	PromptID       int64  `json:"promptID"`
	VersionID      *int64 `json:"versionID,omitempty"`
	IncludeContext bool   `json:"includeContext,omitempty"`
}

// CodeStep runs a user-provided snippet.
type CodeStep struct {
	Code           string `json:"code"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	OutputVariable string `json:"outputVariable,omitempty"`
}

// QueryStep retrieves documents from a vector index.
type QueryStep struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	IndexName string `json:"indexName"`
	TopK      int    `json:"topK"`
	Query     string `json:"query"`
}

// Fork splits execution into one column per label. Loops lists the indices
// into Branches whose subtree returns control to the fork on completion.
type Fork struct {
	Branches Labels `json:"branches"`
	Loops    []int  `json:"loops,omitempty"`
}

// LoopsAt reports whether slot k is flagged as looping.
func (f *Fork) LoopsAt(k int) bool {
	for _, l := range f.Loops {
		if l == k {
			return true
		}
	}
	return false
}

// Slot returns the index of label in Branches, or -1.
func (f *Fork) Slot(label int) int {
	for k, b := range f.Branches {
		if b == label {
			return k
		}
	}
	return -1
}

// Labels are branch labels. They are integers in memory and stringified
// integers on the wire.
type Labels []int

func (l Labels) MarshalJSON() ([]byte, error) {
	out := make([]string, len(l))
	for i, v := range l {
		out[i] = strconv.Itoa(v)
	}
	return json.Marshal(out)
}

func (l *Labels) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	labels := make(Labels, 0, len(raw))
	for i, r := range raw {
		var n int
		if err := json.Unmarshal(r, &n); err == nil {
			labels = append(labels, n)
			continue
		}
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return fmt.Errorf("branches[%d]: expected string or integer label", i)
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("branches[%d]: label %q is not an integer", i, s)
		}
		labels = append(labels, n)
	}
	*l = labels
	return nil
}

// Node is one entry of a chain.
type Node struct {
	Branch int

	Prompt *PromptStep
	Code   *CodeStep
	Query  *QueryStep
	Fork   *Fork
}

// wireNode flattens every payload into a single JSON object.
type wireNode struct {
	Branch int `json:"branch"`
	*PromptStep
	*CodeStep
	*QueryStep
	*Fork
}

func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireNode{
		Branch:     n.Branch,
		PromptStep: n.Prompt,
		CodeStep:   n.Code,
		QueryStep:  n.Query,
		Fork:       n.Fork,
	})
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = Node{
		Branch: w.Branch,
		Prompt: w.PromptStep,
		Code:   w.CodeStep,
		Query:  w.QueryStep,
		Fork:   w.Fork,
	}
	return nil
}

// IsFork reports whether the node opens branches.
func (n *Node) IsFork() bool { return n != nil && n.Fork != nil }

// Kind returns the node's kind. A fork wins over any other payload since it
// decides the node's structural role.
func (n *Node) Kind() Kind {
	switch {
	case n.Fork != nil:
		return KindBranch
	case n.Prompt != nil:
		return KindPrompt
	case n.Code != nil:
		return KindCode
	case n.Query != nil:
		return KindQuery
	default:
		return KindEmpty
	}
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := Node{Branch: n.Branch}
	if n.Prompt != nil {
		p := *n.Prompt
		if p.VersionID != nil {
			v := *p.VersionID
			p.VersionID = &v
		}
		out.Prompt = &p
	}
	if n.Code != nil {
		c := *n.Code
		out.Code = &c
	}
	if n.Query != nil {
		q := *n.Query
		out.Query = &q
	}
	if n.Fork != nil {
		out.Fork = &Fork{
			Branches: append(Labels(nil), n.Fork.Branches...),
			Loops:    append([]int(nil), n.Fork.Loops...),
		}
	}
	return out
}

// Chain is the flat node array persisted inside a chain version.
type Chain []Node

// Clone returns a deep copy of the chain.
func (c Chain) Clone() Chain {
	if c == nil {
		return nil
	}
	out := make(Chain, len(c))
	for i, n := range c {
		out[i] = n.Clone()
	}
	return out
}

func (c Chain) inRange(i int) bool { return i >= 0 && i < len(c) }

// IndexOf locates node by pointer identity, so only &c[i] matches index i.
// It returns -1 for nodes that do not live in c's backing array.
func (c Chain) IndexOf(node *Node) int {
	if node == nil {
		return -1
	}
	for i := range c {
		if &c[i] == node {
			return i
		}
	}
	return -1
}
