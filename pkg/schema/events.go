package schema

// Event type constants for the chain event log.
const (
	EventChainCreated  = "chain_created"
	EventChainArchived = "chain_archived"

	EventVersionCommitted = "version_committed"
	EventVersionsPruned   = "versions_pruned"

	EventSessionOpened = "session_opened"
	EventSessionClosed = "session_closed"

	EventEditApplied = "edit_applied"
	EventEditUndone  = "edit_undone"
	EventEditRedone  = "edit_redone"
)

// ChainStatus represents the lifecycle state of a stored chain.
type ChainStatus string

const (
	ChainStatusActive   ChainStatus = "active"
	ChainStatusArchived ChainStatus = "archived"
)
