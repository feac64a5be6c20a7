package editor

import (
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// DefaultForkBranches is used by insert_fork when the edit leaves Branches at 0.
const DefaultForkBranches = 2

// ApplyEdit runs one edit against c and returns the resulting chain. The
// chain primitives ignore arguments they cannot act on; ApplyEdit turns those
// cases into INVALID_EDIT errors so callers learn why nothing happened.
func ApplyEdit(c chain.Chain, e schema.Edit) (chain.Chain, error) {
	switch e.Action {
	case schema.EditInsertNode:
		if err := checkAfter(c, e); err != nil {
			return nil, err
		}
		if e.Node == nil {
			return nil, invalid(e, "insert_node requires a node")
		}
		return chain.InsertNode(c, e.Index, *e.Node), nil

	case schema.EditInsertFork:
		if err := checkAfter(c, e); err != nil {
			return nil, err
		}
		n := e.Branches
		if n == 0 {
			n = DefaultForkBranches
		}
		if n < 1 {
			return nil, invalid(e, "a fork needs at least one branch")
		}
		return chain.InsertFork(c, e.Index, n), nil

	case schema.EditAddBranch:
		if err := checkFork(c, e); err != nil {
			return nil, err
		}
		return chain.AddBranch(c, e.Index, e.Node), nil

	case schema.EditPruneNode:
		if err := checkIndex(c, e); err != nil {
			return nil, err
		}
		if c[e.Index].IsFork() {
			return nil, invalid(e, "forks are removed one branch at a time with prune_branch")
		}
		return chain.PruneNodeAndShiftUp(c, e.Index), nil

	case schema.EditPruneBranch:
		if err := checkSlot(c, e); err != nil {
			return nil, err
		}
		if len(c[e.Index].Fork.Branches) == 1 {
			return nil, invalid(e, "a fork must keep at least one branch")
		}
		return chain.PruneBranchAndShiftLeft(c, e.Index, e.Slot), nil

	case schema.EditShiftRight:
		if err := checkIndex(c, e); err != nil {
			return nil, err
		}
		if e.Column != nil {
			if *e.Column < 0 {
				return nil, invalid(e, "column must not be negative")
			}
			return chain.ShiftRight(c, e.Index, *e.Column), nil
		}
		return chain.ShiftRight(c, e.Index), nil

	case schema.EditShiftDown:
		if err := checkIndex(c, e); err != nil {
			return nil, err
		}
		return chain.ShiftDown(c, e.Index), nil

	case schema.EditSetLoop:
		if err := checkSlot(c, e); err != nil {
			return nil, err
		}
		return chain.SetBranchLoop(c, e.Index, e.Slot, e.Loop), nil

	case schema.EditSetNode:
		if err := checkIndex(c, e); err != nil {
			return nil, err
		}
		if e.Node == nil {
			return nil, invalid(e, "set_node requires a node")
		}
		if e.Node.Fork != nil && !c[e.Index].IsFork() {
			return nil, invalid(e, "set_node cannot turn a node into a fork, use insert_fork")
		}
		return setNode(c, e.Index, *e.Node), nil

	case schema.EditNormalize:
		return chain.Normalize(c), nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidEdit, "unknown edit action %q", e.Action)
	}
}

// setNode swaps the payload of chain[i] while keeping its place in the grid:
// the column and any fork stay as they are.
func setNode(c chain.Chain, i int, n chain.Node) chain.Chain {
	out := c.Clone()
	repl := n.Clone()
	repl.Branch = out[i].Branch
	repl.Fork = out[i].Fork
	out[i] = repl
	return out
}

func invalid(e schema.Edit, msg string) *schema.ChainError {
	return schema.NewErrorf(schema.ErrCodeInvalidEdit, "%s: %s", e.Action, msg).WithNode(e.Index)
}

func checkIndex(c chain.Chain, e schema.Edit) error {
	if e.Index < 0 || e.Index >= len(c) {
		return invalid(e, "index out of range").
			WithDetails(map[string]any{"length": len(c)})
	}
	return nil
}

func checkAfter(c chain.Chain, e schema.Edit) error {
	if e.Index < -1 || e.Index >= len(c) {
		return invalid(e, "insertion point out of range").
			WithDetails(map[string]any{"length": len(c)})
	}
	return nil
}

func checkFork(c chain.Chain, e schema.Edit) error {
	if err := checkIndex(c, e); err != nil {
		return err
	}
	if !c[e.Index].IsFork() {
		return invalid(e, "node is not a fork")
	}
	return nil
}

func checkSlot(c chain.Chain, e schema.Edit) error {
	if err := checkFork(c, e); err != nil {
		return err
	}
	if n := len(c[e.Index].Fork.Branches); e.Slot < 0 || e.Slot >= n {
		return invalid(e, "slot out of range").
			WithDetails(map[string]any{"slots": n})
	}
	return nil
}
