package panel

import (
	"net/http"
	"slices"

	"github.com/rendis/promptchain/internal/diagram"
	"github.com/rendis/promptchain/internal/editor"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// --- Page data types ---

type pageData struct {
	Title  string
	Active string
}

type dashboardData struct {
	pageData
	Chains       []*store.Chain
	ActiveCount  int
	Archived     int
	Sessions     []editor.SessionInfo
	RecentEvents []*store.Event
}

type chainDetailData struct {
	pageData
	Chain    *store.Chain
	Version  *store.ChainVersion
	Versions []*store.ChainVersion
	Steps    int
	Forks    int
	Columns  int
	ASCII    string
	Mermaid  string
	Sessions []*store.SessionSummary
	Editing  *editor.SessionInfo
}

type eventsData struct {
	pageData
	Events    []*store.Event
	ChainID   string
	EventType string
}

// --- Page handlers ---

func (s *PanelServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chains, err := s.deps.Store.ListChains(ctx, store.ChainFilter{Limit: queryInt(r, "limit", 100)})
	if err != nil {
		s.deps.Logger.Error("list chains failed", "error", err)
		chains = nil
	}

	data := dashboardData{
		pageData: pageData{Title: "Chains", Active: "dashboard"},
		Chains:   chains,
	}
	for _, ch := range chains {
		if ch.Status == schema.ChainStatusArchived {
			data.Archived++
		} else {
			data.ActiveCount++
		}
	}
	if s.deps.Editor != nil {
		data.Sessions = s.deps.Editor.Sessions()
	}
	data.RecentEvents, _ = s.deps.Store.GetEventsByType(ctx, "", store.EventFilter{Limit: 20, Newest: true})

	s.renderPage(w, "dashboard.html", data)
}

func (s *PanelServer) handleChainDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ch, v, err := s.loadVersion(ctx, r)
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			http.NotFound(w, r)
			return
		}
		s.deps.Logger.Error("load chain failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	versions, _ := s.deps.Store.ListVersions(ctx, ch.ID, 20)
	model := diagram.Build(&v.Document, queryInts(r, "highlight"))
	mermaid, err := diagram.Render(ctx, model, diagram.FormatMermaid)
	if err != nil {
		s.deps.Logger.Error("render mermaid failed", "error", err)
	}

	data := chainDetailData{
		pageData: pageData{Title: ch.Name, Active: "dashboard"},
		Chain:    ch,
		Version:  v,
		Versions: versions,
		Steps:    len(chain.Steps(v.Document.Nodes)),
		Forks:    countForks(v.Document.Nodes),
		Columns:  model.Columns,
		ASCII:    diagram.RenderASCII(model),
		Mermaid:  string(mermaid),
	}

	if replayed, err := s.events.ReplaySessions(ctx, ch.ID); err == nil {
		for _, ss := range replayed {
			data.Sessions = append(data.Sessions, ss)
		}
		slices.SortFunc(data.Sessions, func(a, b *store.SessionSummary) int {
			return b.OpenedAt.Compare(a.OpenedAt)
		})
	}
	if s.deps.Editor != nil {
		if sess, ok := s.deps.Editor.ForChain(ch.ID); ok {
			info := sess.Info()
			data.Editing = &info
		}
	}

	s.renderPage(w, "chain_detail.html", data)
}

func (s *PanelServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chainID := r.URL.Query().Get("chain_id")
	eventType := r.URL.Query().Get("event_type")
	limit := queryInt(r, "limit", 100)

	var events []*store.Event
	var err error
	if chainID != "" && eventType == "" {
		events, err = s.deps.Store.GetEvents(ctx, chainID, 0)
	} else {
		events, err = s.deps.Store.GetEventsByType(ctx, eventType, store.EventFilter{
			ChainID: chainID,
			Limit:   limit,
			Newest:  true,
		})
	}
	if err != nil {
		s.deps.Logger.Error("list events failed", "error", err)
		events = nil
	}

	s.renderPage(w, "events.html", eventsData{
		pageData:  pageData{Title: "Events", Active: "events"},
		Events:    events,
		ChainID:   chainID,
		EventType: eventType,
	})
}

func countForks(c chain.Chain) int {
	n := 0
	for i := range c {
		if c[i].IsFork() {
			n++
		}
	}
	return n
}
