package panel

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/promptchain/internal/editor"
	"github.com/rendis/promptchain/internal/expressions"
	"github.com/rendis/promptchain/internal/scheduler"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/internal/streaming"
)

//go:embed templates static
var content embed.FS

// PanelDeps holds the dependencies for the panel server. Editor, Filter and
// Scheduler are optional; the routes that need them answer 503 without.
type PanelDeps struct {
	Store     store.Store
	Validator editor.Validator
	Editor    *editor.Editor
	Filter    *expressions.Filter
	Scheduler *scheduler.Scheduler
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// PanelServer serves the web panel and its JSON API.
type PanelServer struct {
	deps   PanelDeps
	events *store.EventLog
	pages  map[string]*template.Template
}

// NewPanelServer creates a new PanelServer with parsed templates.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	funcMap := template.FuncMap{
		"json":        toJSON,
		"timeAgo":     timeAgo,
		"statusBadge": statusBadge,
		"truncate":    truncate,
	}

	base := template.Must(
		template.New("").Funcs(funcMap).ParseFS(content,
			"templates/base.html",
			"templates/partials/*.html",
		),
	)

	// Each page clones the shared set so that its {{define "content"}}
	// doesn't collide with others.
	pageFiles := []string{
		"dashboard.html",
		"chain_detail.html",
		"events.html",
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, pf := range pageFiles {
		clone := template.Must(base.Clone())
		pages[pf] = template.Must(clone.ParseFS(content, "templates/"+pf))
	}

	return &PanelServer{
		deps:   deps,
		events: store.NewEventLog(deps.Store),
		pages:  pages,
	}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	staticFS, _ := fs.Sub(content, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Pages.
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /chains/{id}", s.handleChainDetail)
	mux.HandleFunc("GET /events", s.handleEvents)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/chains/{id}", s.handleSSEChain)

	// JSON API.
	mux.HandleFunc("GET /api/chains", s.handleListChains)
	mux.HandleFunc("POST /api/chains", s.handleCreateChain)
	mux.HandleFunc("GET /api/chains/{id}", s.handleGetChain)
	mux.HandleFunc("POST /api/chains/{id}/archive", s.handleArchiveChain)
	mux.HandleFunc("GET /api/chains/{id}/versions", s.handleListVersions)
	mux.HandleFunc("GET /api/chains/{id}/layout", s.handleLayout)
	mux.HandleFunc("GET /api/chains/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("POST /api/chains/{id}/query", s.handleQuery)
	mux.HandleFunc("GET /api/chains/{id}/events", s.handleChainEvents)
	mux.HandleFunc("GET /api/chains/{id}/sessions", s.handleChainSessions)
	mux.HandleFunc("GET /api/sessions", s.handleOpenSessions)
	mux.HandleFunc("POST /api/retention/run", s.handleRunRetention)

	return mux
}

// renderPage executes a page template by name.
func (s *PanelServer) renderPage(w http.ResponseWriter, page string, data any) {
	tmpl, ok := s.pages[page]
	if !ok {
		s.deps.Logger.Error("template not found", "page", page)
		http.Error(w, fmt.Sprintf("template %q not found", page), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.deps.Logger.Error("template render error", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
