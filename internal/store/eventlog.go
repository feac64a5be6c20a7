package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/promptchain/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide event-sourcing operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Append records an event of the given type. payload is marshaled to JSON
// when non-nil.
func (el *EventLog) Append(ctx context.Context, chainID, sessionID, eventType string, version int, payload any) (*Event, error) {
	e := &Event{
		ChainID:   chainID,
		SessionID: sessionID,
		Type:      eventType,
		Version:   version,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		e.Payload = raw
	}
	if err := el.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetEvents returns events for a chain with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, chainID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, chainID, since)
}

// SessionSummary is the replayed state of one editing session.
type SessionSummary struct {
	SessionID   string     `json:"session_id"`
	BaseVersion int        `json:"base_version"`
	Applied     int        `json:"applied"`
	Undone      int        `json:"undone"`
	Redone      int        `json:"redone"`
	Committed   []int      `json:"committed,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// ReplaySessions folds a chain's event log into one summary per editing
// session. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplaySessions(ctx context.Context, chainID string) (map[string]*SessionSummary, error) {
	events, err := el.store.GetEvents(ctx, chainID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in chain %s: expected %d, got %d", chainID, expected, e.Sequence)
		}
	}

	sessions := make(map[string]*SessionSummary)
	for _, e := range events {
		if e.SessionID == "" {
			continue
		}
		ss, ok := sessions[e.SessionID]
		if !ok {
			ss = &SessionSummary{SessionID: e.SessionID, OpenedAt: e.Timestamp}
			sessions[e.SessionID] = ss
		}

		switch e.Type {
		case schema.EventSessionOpened:
			ss.BaseVersion = e.Version
			ss.OpenedAt = e.Timestamp
		case schema.EventEditApplied:
			ss.Applied++
		case schema.EventEditUndone:
			ss.Undone++
		case schema.EventEditRedone:
			ss.Redone++
		case schema.EventVersionCommitted:
			ss.Committed = append(ss.Committed, e.Version)
		case schema.EventSessionClosed:
			ts := e.Timestamp
			ss.ClosedAt = &ts
		}
	}
	return sessions, nil
}
