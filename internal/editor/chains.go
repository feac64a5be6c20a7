package editor

import (
	"context"

	"github.com/rendis/promptchain/internal/logging"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// Create validates doc and stores it as version 1 of a new chain. An empty
// ch.ID gets a fresh UUID.
func (e *Editor) Create(ctx context.Context, ch *store.Chain, doc schema.ChainDocument) (*store.ChainVersion, error) {
	if doc.Nodes == nil {
		doc.Nodes = chain.Chain{}
	}
	if e.validator != nil {
		if res := e.validator.Validate(&doc); !res.Valid() {
			return nil, res.ToError()
		}
	}
	v, err := e.store.CreateChain(ctx, ch, doc)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, ch.ID, v.Version, "")
	e.publish(ctx, ch.ID, "", schema.EventChainCreated, v.Version, map[string]any{
		"name":  ch.Name,
		"nodes": len(doc.Nodes),
	})
	e.logger.InfoContext(ctx, "chain created", "name", ch.Name, "nodes", len(doc.Nodes))
	return v, nil
}

// Archive marks a chain read-only. An open session on it is closed first;
// its uncommitted edits are lost.
func (e *Editor) Archive(ctx context.Context, chainID string) error {
	ch, err := e.store.GetChain(ctx, chainID)
	if err != nil {
		return err
	}
	if ch.Status == schema.ChainStatusArchived {
		return nil
	}
	if s, ok := e.ForChain(chainID); ok {
		if err := s.Close(ctx); err != nil && !schema.HasCode(err, schema.ErrCodeSessionClosed) {
			return err
		}
	}

	status := schema.ChainStatusArchived
	if err := e.store.UpdateChain(ctx, chainID, store.ChainUpdate{Status: &status}); err != nil {
		return err
	}
	ctx = logging.WithChainID(ctx, chainID)
	e.publish(ctx, chainID, "", schema.EventChainArchived, ch.LatestVersion, nil)
	e.logger.InfoContext(ctx, "chain archived")
	return nil
}
