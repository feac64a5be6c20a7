package schema

import "github.com/rendis/promptchain/pkg/chain"

// EditAction enumerates the discrete edits a session can apply to a chain.
type EditAction string

const (
	EditInsertNode  EditAction = "insert_node"
	EditInsertFork  EditAction = "insert_fork"
	EditAddBranch   EditAction = "add_branch"
	EditPruneNode   EditAction = "prune_node"
	EditPruneBranch EditAction = "prune_branch"
	EditShiftRight  EditAction = "shift_right"
	EditShiftDown   EditAction = "shift_down"
	EditSetLoop     EditAction = "set_loop"
	EditSetNode     EditAction = "set_node"
	EditNormalize   EditAction = "normalize"
)

// EditActions lists every action in a stable order, for schemas and enums.
var EditActions = []EditAction{
	EditInsertNode, EditInsertFork, EditAddBranch, EditPruneNode, EditPruneBranch,
	EditShiftRight, EditShiftDown, EditSetLoop, EditSetNode, EditNormalize,
}

// Edit describes one user action against a chain.
//
// Index is the node the action targets; for inserts it is the node to insert
// after, with -1 meaning directly after the Input sentinel.
type Edit struct {
	Action   EditAction  `json:"action"`
	Index    int         `json:"index"`
	Slot     int         `json:"slot,omitempty"`     // fork slot for add_branch/prune_branch/set_loop
	Branches int         `json:"branches,omitempty"` // insert_fork
	Column   *int        `json:"column,omitempty"`   // explicit threshold for shift_right
	Loop     bool        `json:"loop,omitempty"`     // set_loop
	Node     *chain.Node `json:"node,omitempty"`     // insert_node, add_branch seed, set_node payload
}
