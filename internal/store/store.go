package store

import (
	"context"

	"github.com/rendis/promptchain/pkg/schema"
)

// Store defines the persistence layer contract for chains.
// All implementations must be safe for concurrent use.
type Store interface {
	// Chains
	CreateChain(ctx context.Context, ch *Chain, doc schema.ChainDocument) (*ChainVersion, error)
	GetChain(ctx context.Context, id string) (*Chain, error)
	UpdateChain(ctx context.Context, id string, update ChainUpdate) error
	ListChains(ctx context.Context, filter ChainFilter) ([]*Chain, error)
	DeleteChain(ctx context.Context, id string) error

	// Versions (immutable documents)
	AppendVersion(ctx context.Context, v *ChainVersion, baseVersion int) error
	GetVersion(ctx context.Context, chainID string, version int) (*ChainVersion, error)
	ListVersions(ctx context.Context, chainID string, limit int) ([]*ChainVersion, error)
	PruneVersions(ctx context.Context, chainID string, keep int) (int, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, chainID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
