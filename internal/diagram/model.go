package diagram

// NodeKind classifies a diagram node by the chain node it stands for.
type NodeKind string

const (
	NodeKindPrompt NodeKind = "prompt"
	NodeKindCode   NodeKind = "code"
	NodeKindQuery  NodeKind = "query"
	NodeKindBranch NodeKind = "branch"
	NodeKindEmpty  NodeKind = "empty"
	NodeKindInput  NodeKind = "input"
	NodeKindOutput NodeKind = "output"
)

// Sentinel node IDs.
const (
	InputID  = "__input__"
	OutputID = "__output__"
)

// DiagramModel is the intermediate representation used by all renderers.
// Levels are the grid rows in array order; Columns is the grid width.
type DiagramModel struct {
	Title   string     `json:"title"`
	Nodes   []*Node    `json:"nodes"`
	Edges   []Edge     `json:"edges"`
	Levels  [][]string `json:"levels"`
	Columns int        `json:"columns"`
}

// Node is one cell of the grid. Index is the position in the chain array,
// -1 for the sentinels.
type Node struct {
	ID        string   `json:"id"`
	Index     int      `json:"index"`
	Label     string   `json:"label"`
	Kind      NodeKind `json:"kind"`
	Column    int      `json:"column"`
	Row       int      `json:"row"`
	Highlight bool     `json:"highlight,omitempty"`
}

// Edge connects a node to what runs after it. Loop edges return control to
// a fork when a looping branch completes.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
	Loop  bool   `json:"loop,omitempty"`
}

// node looks up a node by ID.
func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
