package panel

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/promptchain/internal/diagram"
	"github.com/rendis/promptchain/internal/editor"
	"github.com/rendis/promptchain/internal/expressions"
	"github.com/rendis/promptchain/internal/scheduler"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/internal/streaming"
	"github.com/rendis/promptchain/internal/validation"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

type testPanel struct {
	srv    *httptest.Server
	store  *store.LibSQLStore
	editor *editor.Editor
}

func newTestPanel(t *testing.T) *testPanel {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	v, err := validation.NewDocumentValidator()
	require.NoError(t, err)
	filter, err := expressions.NewDefaultFilter()
	require.NoError(t, err)
	hub := streaming.NewMemoryHub()
	ed := editor.New(s, hub, v, logger, editor.Config{})
	sched, err := scheduler.NewScheduler(s, hub, logger, scheduler.Policy{Keep: 1})
	require.NoError(t, err)

	p := NewPanelServer(PanelDeps{
		Store:     s,
		Validator: v,
		Editor:    ed,
		Filter:    filter,
		Scheduler: sched,
		Hub:       hub,
		Logger:    logger,
	})
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return &testPanel{srv: srv, store: s, editor: ed}
}

// triage mirrors a fork with a looping second slot.
func triage() schema.ChainDocument {
	return schema.ChainDocument{
		Name: "triage",
		Nodes: chain.Chain{
			{Branch: 0, Prompt: &chain.PromptStep{PromptID: 1}},
			{Branch: 0, Fork: &chain.Fork{Branches: chain.Labels{0, 1}, Loops: []int{1}}},
			{Branch: 0, Prompt: &chain.PromptStep{PromptID: 2}},
			{Branch: 1, Query: &chain.QueryStep{Provider: "pinecone", Model: "text-embedding-3-small", IndexName: "kb", TopK: 3}},
		},
	}
}

func (p *testPanel) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, p.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (p *testPanel) create(t *testing.T) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{"id": "triage", "document": triage()})
	require.NoError(t, err)
	resp := p.do(t, http.MethodPost, "/api/chains", string(body))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), out["version"])
	return out["id"].(string)
}

func TestCreateAndGetChain(t *testing.T) {
	p := newTestPanel(t)
	id := p.create(t)

	resp := p.do(t, http.MethodGet, "/api/chains/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[struct {
		Chain   store.Chain        `json:"chain"`
		Version store.ChainVersion `json:"version"`
	}](t, resp)
	assert.Equal(t, "triage", got.Chain.Name)
	assert.Equal(t, triage().Nodes, got.Version.Document.Nodes)

	resp = p.do(t, http.MethodGet, "/api/chains", "")
	chains := decode[[]store.Chain](t, resp)
	assert.Len(t, chains, 1)
}

func TestCreateChainErrors(t *testing.T) {
	p := newTestPanel(t)

	resp := p.do(t, http.MethodPost, "/api/chains", "{")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = p.do(t, http.MethodPost, "/api/chains", `{"document":{"name":"","nodes":[]}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decode[map[string]schema.ChainError](t, resp)
	assert.Equal(t, schema.ErrCodeValidation, out["error"].Code)

	p.create(t)
	body, _ := json.Marshal(map[string]any{"id": "triage", "document": triage()})
	resp = p.do(t, http.MethodPost, "/api/chains", string(body))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMissingChain(t *testing.T) {
	p := newTestPanel(t)

	for _, path := range []string{"/api/chains/nope", "/api/chains/nope/layout", "/api/chains/nope/versions"} {
		resp := p.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp := p.do(t, http.MethodGet, "/chains/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLayout(t *testing.T) {
	p := newTestPanel(t)
	id := p.create(t)

	resp := p.do(t, http.MethodGet, "/api/chains/"+id+"/layout?highlight=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	model := decode[diagram.DiagramModel](t, resp)

	assert.Equal(t, "triage", model.Title)
	assert.Equal(t, 2, model.Columns)
	assert.Equal(t, [][]string{{"n0"}, {"n1"}, {"n2", "n3"}}, model.Levels)
	for _, n := range model.Nodes {
		assert.Equal(t, n.Index == 3, n.Highlight, n.ID)
	}
}

func TestDiagramFormats(t *testing.T) {
	p := newTestPanel(t)
	id := p.create(t)

	resp := p.do(t, http.MethodGet, "/api/chains/"+id+"/diagram", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-Chain-Version"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "col 1")

	resp = p.do(t, http.MethodGet, "/api/chains/"+id+"/diagram?format=mermaid", "")
	body, _ = io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "graph TD"))

	resp = p.do(t, http.MethodGet, "/api/chains/"+id+"/diagram?format=gif", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	out := decode[map[string]schema.ChainError](t, resp)
	assert.Equal(t, schema.ErrCodeRender, out["error"].Code)
}

func TestQuery(t *testing.T) {
	p := newTestPanel(t)
	id := p.create(t)

	resp := p.do(t, http.MethodPost, "/api/chains/"+id+"/query",
		`{"engine":"cel","expression":"node.kind == \"prompt\"","select":"node.prompt_id"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[struct {
		Version int            `json:"version"`
		Matches []int          `json:"matches"`
		Values  map[string]any `json:"values"`
	}](t, resp)
	assert.Equal(t, 1, out.Version)
	assert.Equal(t, []int{0, 2}, out.Matches)
	assert.Equal(t, map[string]any{"0": float64(1), "2": float64(2)}, out.Values)

	resp = p.do(t, http.MethodPost, "/api/chains/"+id+"/query", `{"engine":"jq","expression":".node.loops_back"}`)
	loops := decode[map[string]any](t, resp)
	assert.Equal(t, []any{float64(3)}, loops["matches"])

	resp = p.do(t, http.MethodPost, "/api/chains/"+id+"/query", `{"engine":"lua","expression":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = p.do(t, http.MethodPost, "/api/chains/"+id+"/query", `{"engine":"cel"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionsAndEvents(t *testing.T) {
	p := newTestPanel(t)
	id := p.create(t)
	ctx := context.Background()

	s, err := p.editor.Open(ctx, id)
	require.NoError(t, err)
	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditSetLoop, Index: 1, Slot: 1, Loop: false})
	require.NoError(t, err)

	resp := p.do(t, http.MethodGet, "/api/sessions", "")
	open := decode[[]editor.SessionInfo](t, resp)
	require.Len(t, open, 1)
	assert.True(t, open[0].Dirty)

	_, err = s.Commit(ctx, "stop looping")
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	resp = p.do(t, http.MethodGet, "/api/chains/"+id+"/sessions", "")
	replayed := decode[map[string]store.SessionSummary](t, resp)
	require.Contains(t, replayed, s.ID)
	assert.Equal(t, 1, replayed[s.ID].Applied)
	assert.Equal(t, []int{2}, replayed[s.ID].Committed)

	resp = p.do(t, http.MethodGet, "/api/chains/"+id+"/events?since=1", "")
	events := decode[[]store.Event](t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, schema.EventSessionOpened, events[0].Type)

	resp = p.do(t, http.MethodGet, "/api/chains/"+id+"/versions", "")
	versions := decode[[]store.ChainVersion](t, resp)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
}

func TestArchiveAndRetention(t *testing.T) {
	p := newTestPanel(t)
	id := p.create(t)
	ctx := context.Background()

	s, err := p.editor.Open(ctx, id)
	require.NoError(t, err)
	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditPruneNode, Index: 2})
	require.NoError(t, err)
	_, err = s.Commit(ctx, "drop step")
	require.NoError(t, err)

	resp := p.do(t, http.MethodPost, "/api/retention/run", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[scheduler.PruneResult](t, resp)
	assert.Equal(t, 1, res.Removed)

	resp = p.do(t, http.MethodPost, "/api/chains/"+id+"/archive", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := p.editor.ForChain(id)
	assert.False(t, ok)
}

func TestPages(t *testing.T) {
	p := newTestPanel(t)
	id := p.create(t)

	for path, want := range map[string]string{
		"/":                            "triage",
		"/chains/" + id:                "graph TD",
		"/chains/" + id + "?version=1": "col 0",
		"/events?chain_id=" + id:       "chain_created",
	} {
		resp := p.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), want, path)
	}

	resp := p.do(t, http.MethodGet, "/static/panel.css", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	p := newTestPanel(t)
	p.create(t)
	p.do(t, http.MethodPost, "/api/chains/triage/query", `{"expression":"true"}`)

	resp := p.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "promptchain_query_duration_ms")
}

func TestSSEChainStream(t *testing.T) {
	p := newTestPanel(t)
	id := p.create(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.srv.URL+"/sse/chains/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// headers are flushed only after subscribing, so this event is delivered
	_, err = p.editor.Open(context.Background(), id)
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: session_opened\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"chain_id":"triage"`)
}
