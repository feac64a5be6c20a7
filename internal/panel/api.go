package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rendis/promptchain/internal/diagram"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/pkg/schema"
)

// loadVersion fetches the chain header and the version named by the
// "version" query param, latest when absent.
func (s *PanelServer) loadVersion(ctx context.Context, r *http.Request) (*store.Chain, *store.ChainVersion, error) {
	id := r.PathValue("id")
	ch, err := s.deps.Store.GetChain(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.deps.Store.GetVersion(ctx, id, queryInt(r, "version", 0))
	if err != nil {
		return nil, nil, err
	}
	return ch, v, nil
}

func (s *PanelServer) handleListChains(w http.ResponseWriter, r *http.Request) {
	filter := store.ChainFilter{
		Name:   r.URL.Query().Get("name"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if st := r.URL.Query().Get("status"); st != "" {
		cs := schema.ChainStatus(st)
		filter.Status = &cs
	}
	chains, err := s.deps.Store.ListChains(r.Context(), filter)
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chains)
}

// handleCreateChain stores version 1 of a new chain.
func (s *PanelServer) handleCreateChain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Editor == nil {
		writeError(w, http.StatusServiceUnavailable, "editing is disabled")
		return
	}

	var body struct {
		ID          string               `json:"id"`
		Description string               `json:"description"`
		Document    schema.ChainDocument `json:"document"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	ch := &store.Chain{ID: body.ID, Description: body.Description}
	v, err := s.deps.Editor.Create(r.Context(), ch, body.Document)
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      ch.ID,
		"version": v.Version,
	})
}

func (s *PanelServer) handleGetChain(w http.ResponseWriter, r *http.Request) {
	ch, v, err := s.loadVersion(r.Context(), r)
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chain":   ch,
		"version": v,
	})
}

func (s *PanelServer) handleArchiveChain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Editor == nil {
		writeError(w, http.StatusServiceUnavailable, "editing is disabled")
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Editor.Archive(r.Context(), id); err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

func (s *PanelServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Store.GetChain(r.Context(), id); err != nil {
		writeChainError(w, err)
		return
	}
	versions, err := s.deps.Store.ListVersions(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// handleLayout returns the grid model of a version: rows, columns, edges.
// The optional "highlight" param lists node indices to mark.
func (s *PanelServer) handleLayout(w http.ResponseWriter, r *http.Request) {
	_, v, err := s.loadVersion(r.Context(), r)
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diagram.Build(&v.Document, queryInts(r, "highlight")))
}

// handleDiagram renders a version in the format named by "format"
// (ascii by default).
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, v, err := s.loadVersion(ctx, r)
	if err != nil {
		writeChainError(w, err)
		return
	}

	format := diagram.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = diagram.FormatASCII
	}
	out, err := diagram.Render(ctx, diagram.Build(&v.Document, queryInts(r, "highlight")), format)
	if err != nil {
		writeChainError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Chain-Version", strconv.Itoa(v.Version))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// handleQuery runs a node filter over a version and returns the matching
// indices, optionally with a projection per match.
func (s *PanelServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Filter == nil {
		writeError(w, http.StatusServiceUnavailable, "queries are disabled")
		return
	}
	ctx := r.Context()

	var body struct {
		Engine     string `json:"engine"`
		Expression string `json:"expression"`
		Select     string `json:"select"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Engine == "" {
		body.Engine = "cel"
	}
	if body.Expression == "" {
		writeError(w, http.StatusBadRequest, "expression is required")
		return
	}

	_, v, err := s.loadVersion(ctx, r)
	if err != nil {
		writeChainError(w, err)
		return
	}
	matches, err := s.deps.Filter.Select(ctx, body.Engine, body.Expression, v.Document.Nodes)
	if err != nil {
		writeChainError(w, err)
		return
	}

	resp := map[string]any{
		"version": v.Version,
		"matches": matches,
	}
	if body.Select != "" {
		resp["values"] = map[string]any{}
	}
	if body.Select != "" && len(matches) > 0 {
		values, err := s.deps.Filter.Project(ctx, body.Engine, body.Select, v.Document.Nodes, matches...)
		if err != nil {
			writeChainError(w, err)
			return
		}
		picked := make(map[string]any, len(matches))
		for k, i := range matches {
			picked[strconv.Itoa(i)] = values[k]
		}
		resp["values"] = picked
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *PanelServer) handleChainEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.GetEvents(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleChainSessions returns the editing history of a chain replayed from
// its event log.
func (s *PanelServer) handleChainSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.events.ReplaySessions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *PanelServer) handleOpenSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Editor == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Editor.Sessions())
}

// handleRunRetention runs one retention pass immediately.
func (s *PanelServer) handleRunRetention(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "retention is disabled")
		return
	}
	res, err := s.deps.Scheduler.PruneAll(r.Context())
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
