package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/promptchain/pkg/schema"
)

// Chain is the persisted header of a chain. Its content lives in versions.
type Chain struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	Status         schema.ChainStatus `json:"status"`
	LatestVersion  int                `json:"latest_version"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	MetadataSchema json.RawMessage    `json:"metadata_schema,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ChainVersion is an immutable snapshot of a chain document.
type ChainVersion struct {
	ChainID   string               `json:"chain_id"`
	Version   int                  `json:"version"`
	Document  schema.ChainDocument `json:"document"`
	Author    string               `json:"author,omitempty"`
	Message   string               `json:"message,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// Event is an immutable entry in the chain event log.
type Event struct {
	ID        int64           `json:"id"`
	ChainID   string          `json:"chain_id"`
	Version   int             `json:"version,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// --- Filter and update types ---

// ChainFilter specifies criteria for listing chains.
type ChainFilter struct {
	Status *schema.ChainStatus `json:"status,omitempty"`
	Name   string              `json:"name,omitempty"` // substring match
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// ChainUpdate specifies mutable fields of a chain header.
type ChainUpdate struct {
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	Status      *schema.ChainStatus `json:"status,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	ChainID   string     `json:"chain_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Newest    bool       `json:"newest,omitempty"` // most recent first
}
