package editor

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rendis/promptchain/internal/logging"
	"github.com/rendis/promptchain/internal/metrics"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// Session is one writer's working copy of a chain.
type Session struct {
	ID      string
	ChainID string

	editor *Editor

	mu       sync.Mutex
	base     int
	doc      schema.ChainDocument
	saved    chain.Chain
	undo     []chain.Chain
	redo     []chain.Chain
	applied  int
	closed   bool
	openedAt time.Time
}

// SessionInfo is a read-only snapshot of a session's state.
type SessionInfo struct {
	ID          string    `json:"id"`
	ChainID     string    `json:"chain_id"`
	BaseVersion int       `json:"base_version"`
	Nodes       int       `json:"nodes"`
	Applied     int       `json:"applied"`
	Dirty       bool      `json:"dirty"`
	CanUndo     bool      `json:"can_undo"`
	CanRedo     bool      `json:"can_redo"`
	OpenedAt    time.Time `json:"opened_at"`
}

// Info returns a snapshot of the session state.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:          s.ID,
		ChainID:     s.ChainID,
		BaseVersion: s.base,
		Nodes:       len(s.doc.Nodes),
		Applied:     s.applied,
		Dirty:       s.dirty(),
		CanUndo:     len(s.undo) > 0,
		CanRedo:     len(s.redo) > 0,
		OpenedAt:    s.openedAt,
	}
}

// Nodes returns a copy of the working chain.
func (s *Session) Nodes() chain.Chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Nodes.Clone()
}

// Document returns a copy of the working document.
func (s *Session) Document() schema.ChainDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Apply runs one edit against the working chain and returns the result.
// A rejected edit leaves the session untouched.
func (s *Session) Apply(ctx context.Context, e schema.Edit) (chain.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	next, err := ApplyEdit(s.doc.Nodes, e)
	if err != nil {
		metrics.EditsRejected.WithLabelValues(string(e.Action)).Inc()
		return nil, err
	}

	s.pushUndo(s.doc.Nodes)
	s.redo = nil
	s.doc.Nodes = next
	s.applied++
	metrics.EditsApplied.WithLabelValues(string(e.Action)).Inc()

	ctx = s.logContext(ctx)
	s.editor.record(ctx, s, schema.EventEditApplied, s.base, e)
	s.editor.logger.DebugContext(ctx, "edit applied", "action", e.Action, "index", e.Index, "nodes", len(next))
	return next.Clone(), nil
}

// Undo restores the chain as it was before the last applied edit.
func (s *Session) Undo(ctx context.Context) (chain.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(s.undo) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidEdit, "nothing to undo")
	}

	prev := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, s.doc.Nodes)
	s.doc.Nodes = prev
	metrics.EditsUndone.Inc()

	s.editor.record(s.logContext(ctx), s, schema.EventEditUndone, s.base, nil)
	return prev.Clone(), nil
}

// Redo re-applies the last undone edit.
func (s *Session) Redo(ctx context.Context) (chain.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(s.redo) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidEdit, "nothing to redo")
	}

	next := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.pushUndo(s.doc.Nodes)
	s.doc.Nodes = next
	metrics.EditsRedone.Inc()

	s.editor.record(s.logContext(ctx), s, schema.EventEditRedone, s.base, nil)
	return next.Clone(), nil
}

// Commit validates the working document and stores it as the version after
// the one the session is based on. On CONFLICT the session keeps its edits;
// the caller may close it and reopen on the newer version.
func (s *Session) Commit(ctx context.Context, message string) (*store.ChainVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !s.dirty() {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidEdit, "no changes since version %d", s.base)
	}
	ctx = s.logContext(ctx)

	if v := s.editor.validator; v != nil {
		if res := v.Validate(&s.doc); !res.Valid() {
			metrics.VersionsCommitted.WithLabelValues(metrics.CommitInvalid).Inc()
			return nil, res.ToError()
		}
	}

	cv := &store.ChainVersion{
		ChainID:  s.ChainID,
		Document: s.doc.Clone(),
		Author:   s.editor.Config().Author,
		Message:  message,
	}
	if err := s.editor.store.AppendVersion(ctx, cv, s.base); err != nil {
		status := metrics.CommitError
		if schema.HasCode(err, schema.ErrCodeConflict) {
			status = metrics.CommitConflict
		}
		metrics.VersionsCommitted.WithLabelValues(status).Inc()
		s.editor.logger.WarnContext(ctx, "commit failed", "error", err)
		return nil, err
	}
	metrics.VersionsCommitted.WithLabelValues(metrics.CommitOK).Inc()

	s.base = cv.Version
	s.saved = s.doc.Nodes.Clone()
	ctx = logging.WithVersion(ctx, s.base)
	s.editor.record(ctx, s, schema.EventVersionCommitted, s.base, map[string]any{
		"nodes":   len(s.doc.Nodes),
		"message": message,
	})
	s.editor.logger.InfoContext(ctx, "version committed", "nodes", len(s.doc.Nodes))
	return cv, nil
}

// Close ends the session. Uncommitted edits are discarded.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeSessionClosed, "session %q is closed", s.ID)
	}
	s.closed = true
	discarded := s.dirty()
	s.mu.Unlock()

	s.editor.release(s)
	metrics.OpenSessions.Dec()

	ctx = s.logContext(ctx)
	s.editor.record(ctx, s, schema.EventSessionClosed, s.base, map[string]any{"discarded": discarded})
	s.editor.logger.InfoContext(ctx, "editing session closed", "discarded_changes", discarded)
	return nil
}

func (s *Session) checkOpen() error {
	if s.closed {
		return schema.NewErrorf(schema.ErrCodeSessionClosed, "session %q is closed", s.ID)
	}
	return nil
}

func (s *Session) pushUndo(c chain.Chain) {
	s.undo = append(s.undo, c)
	if over := len(s.undo) - s.editor.Config().HistoryLimit; over > 0 {
		s.undo = append(s.undo[:0], s.undo[over:]...)
	}
}

func (s *Session) dirty() bool {
	if len(s.doc.Nodes) == 0 && len(s.saved) == 0 {
		return false
	}
	return !reflect.DeepEqual(s.doc.Nodes, s.saved)
}

func (s *Session) logContext(ctx context.Context) context.Context {
	return logging.WithIDs(ctx, s.ChainID, s.base, s.ID)
}
