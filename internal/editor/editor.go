// Package editor runs single-writer editing sessions over stored chains.
//
// A session loads the latest version of a chain, applies discrete edits
// through the pure chain primitives, keeps undo/redo snapshots and commits
// the result as a new version. At most one session may be open per chain.
package editor

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/promptchain/internal/metrics"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/internal/streaming"
	"github.com/rendis/promptchain/pkg/schema"
)

// DefaultHistoryLimit bounds the undo stack of a session.
const DefaultHistoryLimit = 100

// Validator checks a document before it is committed.
type Validator interface {
	Validate(doc *schema.ChainDocument) *schema.ValidationResult
}

// Config tunes an Editor.
type Config struct {
	HistoryLimit int
	Author       string
}

// Editor owns the open sessions of a process.
type Editor struct {
	store     store.Store
	events    *store.EventLog
	hub       streaming.EventHub
	validator Validator
	logger    *slog.Logger

	cfgMu sync.RWMutex
	cfg   Config

	mu       sync.Mutex
	sessions map[string]*Session
	byChain  map[string]*Session
}

// New creates an Editor. hub and validator may be nil.
func New(s store.Store, hub streaming.EventHub, v Validator, logger *slog.Logger, cfg Config) *Editor {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{
		store:     s,
		events:    store.NewEventLog(s),
		hub:       hub,
		validator: v,
		logger:    logger,
		cfg:       cfg,
		sessions:  make(map[string]*Session),
		byChain:   make(map[string]*Session),
	}
}

// Config returns the active configuration.
func (e *Editor) Config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// SetConfig replaces the configuration. Open sessions pick it up on their
// next edit or commit.
func (e *Editor) SetConfig(cfg Config) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

// Open starts a session on the latest version of a chain. It fails with
// CONFLICT when the chain is archived or already being edited.
func (e *Editor) Open(ctx context.Context, chainID string) (*Session, error) {
	e.mu.Lock()
	if s, ok := e.byChain[chainID]; ok {
		e.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"chain %q is already being edited", chainID).
			WithDetails(map[string]any{"session_id": s.ID})
	}
	// Reserve the chain while loading so concurrent opens cannot race.
	placeholder := &Session{ChainID: chainID}
	e.byChain[chainID] = placeholder
	e.mu.Unlock()

	s, err := e.load(ctx, chainID)

	e.mu.Lock()
	if err != nil {
		delete(e.byChain, chainID)
		e.mu.Unlock()
		return nil, err
	}
	e.byChain[chainID] = s
	e.sessions[s.ID] = s
	e.mu.Unlock()

	metrics.OpenSessions.Inc()
	ctx = s.logContext(ctx)
	e.record(ctx, s, schema.EventSessionOpened, s.base, map[string]any{"nodes": len(s.doc.Nodes)})
	e.logger.InfoContext(ctx, "editing session opened", "nodes", len(s.doc.Nodes))
	return s, nil
}

func (e *Editor) load(ctx context.Context, chainID string) (*Session, error) {
	ch, err := e.store.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if ch.Status == schema.ChainStatusArchived {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "chain %q is archived", chainID)
	}
	v, err := e.store.GetVersion(ctx, chainID, 0)
	if err != nil {
		return nil, err
	}
	doc := v.Document.Clone()
	return &Session{
		ID:       uuid.NewString(),
		ChainID:  chainID,
		editor:   e,
		base:     v.Version,
		doc:      doc,
		saved:    doc.Nodes.Clone(),
		openedAt: time.Now().UTC(),
	}, nil
}

// Get returns an open session by ID.
func (e *Editor) Get(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	return s, nil
}

// ForChain returns the session currently editing chainID, if any.
func (e *Editor) ForChain(chainID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.byChain[chainID]
	if !ok || s.ID == "" {
		return nil, false
	}
	return s, true
}

// Sessions lists open sessions, oldest first.
func (e *Editor) Sessions() []SessionInfo {
	e.mu.Lock()
	open := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		open = append(open, s)
	}
	e.mu.Unlock()

	out := make([]SessionInfo, 0, len(open))
	for _, s := range open {
		out = append(out, s.Info())
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Close ends a session, discarding uncommitted edits.
func (e *Editor) Close(ctx context.Context, id string) error {
	s, err := e.Get(id)
	if err != nil {
		return err
	}
	return s.Close(ctx)
}

// CloseAll ends every open session. Used on shutdown.
func (e *Editor) CloseAll(ctx context.Context) {
	e.mu.Lock()
	open := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		open = append(open, s)
	}
	e.mu.Unlock()
	for _, s := range open {
		_ = s.Close(ctx)
	}
}

func (e *Editor) release(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, s.ID)
	if cur, ok := e.byChain[s.ChainID]; ok && cur == s {
		delete(e.byChain, s.ChainID)
	}
}

// record appends to the event log and mirrors the event to the hub. The
// session state has already changed at this point, so failures are logged
// and not returned.
func (e *Editor) record(ctx context.Context, s *Session, eventType string, version int, payload any) {
	e.publish(ctx, s.ChainID, s.ID, eventType, version, payload)
}

func (e *Editor) publish(ctx context.Context, chainID, sessionID, eventType string, version int, payload any) {
	if _, err := e.events.Append(ctx, chainID, sessionID, eventType, version, payload); err != nil {
		e.logger.WarnContext(ctx, "event log append failed", "event", eventType, "error", err)
	}
	if e.hub == nil {
		return
	}
	err := e.hub.Publish(ctx, streaming.StreamEvent{
		ChainID:   chainID,
		SessionID: sessionID,
		Version:   version,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		e.logger.DebugContext(ctx, "event publish failed", "event", eventType, "error", err)
	}
}
