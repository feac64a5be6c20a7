package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/promptchain/internal/editor"
	"github.com/rendis/promptchain/internal/expressions"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/internal/streaming"
	"github.com/rendis/promptchain/pkg/schema"
)

// ChainServerDeps holds the dependencies for creating a ChainServer.
type ChainServerDeps struct {
	Store  store.Store
	Editor *editor.Editor
	Filter *expressions.Filter
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// ChainServer wraps an MCP server with chain tool handlers.
type ChainServer struct {
	store     store.Store
	editor    *editor.Editor
	filter    *expressions.Filter
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  ChangeNotifier
	mcpServer *server.MCPServer
}

// NewChainServer creates a new ChainServer with all chain tools registered.
func NewChainServer(deps ChainServerDeps) *ChainServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ChainServer{
		store:    deps.Store,
		editor:   deps.Editor,
		filter:   deps.Filter,
		hub:      deps.Hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"promptchain",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("promptchain stores branching prompt chains. Use chain.create to store a chain, chain.list and chain.get to read them, chain.edit to open a session and apply edits, chain.diagram to render the grid, chain.query to filter nodes with cel, expr or jq, and chain.inspect for branch and loop facts about a node."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ChainServer) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO runs the stdio transport over in and out. It returns nil once in
// reaches EOF.
func (s *ChainServer) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, in, out)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ChainServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions exposes the agent registry used for notifications.
func (s *ChainServer) Sessions() *SessionRegistry {
	return s.sessions
}

// Relay forwards chain lifecycle events from the hub to the agents watching
// each chain until ctx is cancelled. Without a hub it returns immediately.
func (s *ChainServer) Relay(ctx context.Context) error {
	if s.hub == nil {
		return nil
	}
	ch, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{
			schema.EventVersionCommitted,
			schema.EventChainArchived,
			schema.EventVersionsPruned,
		},
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.relay(ctx, ev)
		}
	}
}

func (s *ChainServer) relay(ctx context.Context, ev streaming.StreamEvent) {
	for _, agentID := range s.sessions.Watchers(ev.ChainID) {
		if err := s.notifier.NotifyChange(ctx, agentID, ev); err != nil {
			s.logger.WarnContext(ctx, "agent notification failed",
				"agent_id", agentID, "chain_id", ev.ChainID, "error", err)
		}
	}
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *ChainServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: editTool(), Handler: s.handleEdit},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: inspectTool(), Handler: s.handleInspect},
	}
}

// --- Tool definitions ---

func createTool() mcp.Tool {
	return mcp.NewTool("chain.create",
		mcp.WithDescription("Store a new chain as version 1"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Chain name")),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Flat node array; branch is the node's column, forks declare branches and loops")),
		mcp.WithString("id", mcp.Description("Chain ID (default: generated)")),
		mcp.WithString("description", mcp.Description("Chain description")),
		mcp.WithObject("metadata", mcp.Description("Free-form metadata stored with the document")),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent; it is notified about later commits")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("chain.list",
		mcp.WithDescription("List chains, versions of a chain, or chain events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("chains", "versions", "events", "sessions"),
			mcp.Description("Type of resource to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (chain_id, status, name, event_type, since, limit)")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("chain.get",
		mcp.WithDescription("Get a chain version with its nodes and executable steps"),
		mcp.WithString("chain_id", mcp.Required(), mcp.Description("ID of the chain")),
		mcp.WithNumber("version", mcp.Description("Version number (default: latest)")),
	)
}

func editTool() mcp.Tool {
	actions := make([]string, len(schema.EditActions))
	for i, a := range schema.EditActions {
		actions[i] = string(a)
	}
	return mcp.NewTool("chain.edit",
		mcp.WithDescription("Edit a chain through a single-writer session"),
		mcp.WithString("chain_id", mcp.Required(), mcp.Description("ID of the chain")),
		mcp.WithString("operation", mcp.Required(),
			mcp.Enum("open", "apply", "undo", "redo", "commit", "close", "status"),
			mcp.Description("Session operation; apply runs the edits in order"),
		),
		mcp.WithArray("edits", mcp.Description("Edits for apply. Each has action ("+strings.Join(actions, ", ")+"), index, and optionally slot, branches, column, loop, node")),
		mcp.WithString("message", mcp.Description("Commit message")),
		mcp.WithString("agent_id", mcp.Description("ID of the editing agent")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("chain.diagram",
		mcp.WithDescription("Render a chain as a grid diagram. Returns ASCII art, Mermaid or DOT text, SVG markup, or a base64 PNG image"),
		mcp.WithString("chain_id", mcp.Required(), mcp.Description("ID of the chain")),
		mcp.WithNumber("version", mcp.Description("Version number (default: latest; ignored when draft is true)")),
		mcp.WithString("format",
			mcp.Enum("ascii", "mermaid", "dot", "png", "svg"),
			mcp.Description("Output format (default: ascii)"),
		),
		mcp.WithBoolean("draft", mcp.Description("Render the working copy of the open editing session")),
		mcp.WithString("engine", mcp.Enum("cel", "expr", "jq"), mcp.Description("Expression engine for highlight (default: cel)")),
		mcp.WithString("highlight", mcp.Description("Predicate marking the nodes to highlight")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("chain.query",
		mcp.WithDescription("Select chain nodes with a predicate and optionally project a value from each match"),
		mcp.WithString("chain_id", mcp.Required(), mcp.Description("ID of the chain")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Predicate over node and chain facts")),
		mcp.WithString("engine", mcp.Enum("cel", "expr", "jq"), mcp.Description("Expression engine (default: cel)")),
		mcp.WithString("select", mcp.Description("Expression projected from every matching node")),
		mcp.WithNumber("version", mcp.Description("Version number (default: latest)")),
	)
}

func inspectTool() mcp.Tool {
	return mcp.NewTool("chain.inspect",
		mcp.WithDescription("Report tree, branch and loop facts for a node, or the row layout of the whole chain"),
		mcp.WithString("chain_id", mcp.Required(), mcp.Description("ID of the chain")),
		mcp.WithNumber("index", mcp.Description("Array index of the node (omit for the whole chain)")),
		mcp.WithNumber("branch", mcp.Description("Branch label for loop completion (default: the node's own column)")),
		mcp.WithNumber("version", mcp.Description("Version number (default: latest)")),
	)
}
