package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/promptchain/internal/diagram"
	"github.com/rendis/promptchain/internal/editor"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// handleCreate validates and stores version 1 of a new chain.
func (s *ChainServer) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.editor == nil {
		return mcp.NewToolResultError("editing is disabled"), nil
	}
	var args struct {
		ID          string         `json:"id"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Nodes       chain.Chain    `json:"nodes"`
		Metadata    map[string]any `json:"metadata"`
		AgentID     string         `json:"agent_id"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	ch := &store.Chain{ID: args.ID, Name: args.Name, Description: args.Description}
	doc := schema.ChainDocument{
		Name:        args.Name,
		Description: args.Description,
		Nodes:       args.Nodes,
		Metadata:    args.Metadata,
	}
	v, err := s.editor.Create(ctx, ch, doc)
	if err != nil {
		return chainError(err), nil
	}
	if args.AgentID != "" {
		s.captureSession(ctx, args.AgentID)
		s.sessions.Watch(args.AgentID, ch.ID)
	}

	return marshalResult(map[string]any{
		"id":      ch.ID,
		"version": v.Version,
		"nodes":   len(v.Document.Nodes),
	})
}

// handleList lists chains, versions, events or open editing sessions.
func (s *ChainServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)
	chainID := extractString(filter, "chain_id")

	switch resource {
	case "chains":
		cf := store.ChainFilter{
			Name:  extractString(filter, "name"),
			Limit: extractInt(filter, "limit", 100),
		}
		if st := extractString(filter, "status"); st != "" {
			cs := schema.ChainStatus(st)
			cf.Status = &cs
		}
		chains, err := s.store.ListChains(ctx, cf)
		if err != nil {
			return chainError(err), nil
		}
		return marshalResult(chains)

	case "versions":
		if chainID == "" {
			return mcp.NewToolResultError("filter.chain_id is required for versions"), nil
		}
		versions, err := s.store.ListVersions(ctx, chainID, extractInt(filter, "limit", 20))
		if err != nil {
			return chainError(err), nil
		}
		out := make([]map[string]any, 0, len(versions))
		for _, v := range versions {
			out = append(out, map[string]any{
				"version":    v.Version,
				"author":     v.Author,
				"message":    v.Message,
				"nodes":      len(v.Document.Nodes),
				"created_at": v.CreatedAt,
			})
		}
		return marshalResult(out)

	case "events":
		var (
			events []*store.Event
			err    error
		)
		if chainID != "" && extractString(filter, "event_type") == "" {
			events, err = s.store.GetEvents(ctx, chainID, int64(extractInt(filter, "since", 0)))
		} else {
			events, err = s.store.GetEventsByType(ctx, extractString(filter, "event_type"), store.EventFilter{
				ChainID: chainID,
				Limit:   extractInt(filter, "limit", 50),
				Newest:  true,
			})
		}
		if err != nil {
			return chainError(err), nil
		}
		return marshalResult(events)

	case "sessions":
		if s.editor == nil {
			return marshalResult([]editor.SessionInfo{})
		}
		return marshalResult(s.editor.Sessions())

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource %q: must be chains, versions, events, or sessions", resource)), nil
	}
}

// handleGet returns a stored version together with its executable steps.
func (s *ChainServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chainID, err := req.RequireString("chain_id")
	if err != nil {
		return mcp.NewToolResultError("chain_id is required"), nil
	}
	ch, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		return chainError(err), nil
	}
	v, err := s.store.GetVersion(ctx, chainID, req.GetInt("version", 0))
	if err != nil {
		return chainError(err), nil
	}
	return marshalResult(map[string]any{
		"chain":   ch,
		"version": v,
		"steps":   chain.Steps(v.Document.Nodes),
	})
}

// handleEdit drives the editing session of a chain. Every operation except
// open works on the session already open for the chain.
func (s *ChainServer) handleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.editor == nil {
		return mcp.NewToolResultError("editing is disabled"), nil
	}
	chainID, err := req.RequireString("chain_id")
	if err != nil {
		return mcp.NewToolResultError("chain_id is required"), nil
	}
	op, err := req.RequireString("operation")
	if err != nil {
		return mcp.NewToolResultError("operation is required"), nil
	}
	if agentID := req.GetString("agent_id", ""); agentID != "" {
		s.captureSession(ctx, agentID)
		s.sessions.Watch(agentID, chainID)
	}

	if op == "open" {
		sess, err := s.editor.Open(ctx, chainID)
		if err != nil {
			return chainError(err), nil
		}
		return sessionResult(sess, sess.Nodes())
	}

	sess, ok := s.editor.ForChain(chainID)
	if !ok {
		return chainError(schema.NewErrorf(schema.ErrCodeNotFound,
			"no editing session is open for chain %q", chainID)), nil
	}

	switch op {
	case "apply":
		var args struct {
			Edits []schema.Edit `json:"edits"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid edits: %v", err)), nil
		}
		if len(args.Edits) == 0 {
			return mcp.NewToolResultError("edits are required for apply"), nil
		}
		var nodes chain.Chain
		for k, e := range args.Edits {
			nodes, err = sess.Apply(ctx, e)
			if err != nil {
				return editFailure(err, k), nil
			}
		}
		return sessionResult(sess, nodes)

	case "undo":
		nodes, err := sess.Undo(ctx)
		if err != nil {
			return chainError(err), nil
		}
		return sessionResult(sess, nodes)

	case "redo":
		nodes, err := sess.Redo(ctx)
		if err != nil {
			return chainError(err), nil
		}
		return sessionResult(sess, nodes)

	case "commit":
		v, err := sess.Commit(ctx, req.GetString("message", ""))
		if err != nil {
			return chainError(err), nil
		}
		return marshalResult(map[string]any{
			"version": v.Version,
			"session": sess.Info(),
		})

	case "close":
		if err := sess.Close(ctx); err != nil {
			return chainError(err), nil
		}
		return marshalResult(map[string]any{"closed": true, "session_id": sess.ID})

	case "status":
		return sessionResult(sess, sess.Nodes())

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown operation %q", op)), nil
	}
}

// handleDiagram renders a stored version, or the open session's working
// copy, in the requested format.
func (s *ChainServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chainID, err := req.RequireString("chain_id")
	if err != nil {
		return mcp.NewToolResultError("chain_id is required"), nil
	}

	var (
		doc     schema.ChainDocument
		version int
	)
	if req.GetBool("draft", false) {
		if s.editor == nil {
			return mcp.NewToolResultError("editing is disabled"), nil
		}
		sess, ok := s.editor.ForChain(chainID)
		if !ok {
			return chainError(schema.NewErrorf(schema.ErrCodeNotFound,
				"no editing session is open for chain %q", chainID)), nil
		}
		doc, version = sess.Document(), sess.Info().BaseVersion
	} else {
		v, err := s.store.GetVersion(ctx, chainID, req.GetInt("version", 0))
		if err != nil {
			return chainError(err), nil
		}
		doc, version = v.Document, v.Version
	}

	var marks []int
	if expr := req.GetString("highlight", ""); expr != "" {
		if s.filter == nil {
			return mcp.NewToolResultError("queries are disabled"), nil
		}
		marks, err = s.filter.Select(ctx, req.GetString("engine", "cel"), expr, doc.Nodes)
		if err != nil {
			return chainError(err), nil
		}
	}

	format := diagram.Format(req.GetString("format", string(diagram.FormatASCII)))
	out, err := diagram.Render(ctx, diagram.Build(&doc, marks), format)
	if err != nil {
		return chainError(err), nil
	}
	if format.Binary() {
		caption := fmt.Sprintf("%s v%d", doc.Name, version)
		return mcp.NewToolResultImage(caption, base64.StdEncoding.EncodeToString(out), format.ContentType()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// handleQuery selects nodes with a predicate and projects a value from
// each match when select is given.
func (s *ChainServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.filter == nil {
		return mcp.NewToolResultError("queries are disabled"), nil
	}
	chainID, err := req.RequireString("chain_id")
	if err != nil {
		return mcp.NewToolResultError("chain_id is required"), nil
	}
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	engine := req.GetString("engine", "cel")

	v, err := s.store.GetVersion(ctx, chainID, req.GetInt("version", 0))
	if err != nil {
		return chainError(err), nil
	}
	nodes := v.Document.Nodes

	matches, err := s.filter.Select(ctx, engine, expression, nodes)
	if err != nil {
		return chainError(err), nil
	}
	result := map[string]any{
		"version": v.Version,
		"matches": matches,
	}

	sel := req.GetString("select", "")
	if sel == "" {
		return marshalResult(result)
	}
	values := make(map[string]any, len(matches))
	if len(matches) > 0 {
		projected, err := s.filter.Project(ctx, engine, sel, nodes, matches...)
		if err != nil {
			return chainError(err), nil
		}
		for k, i := range matches {
			values[strconv.Itoa(i)] = projected[k]
		}
	}
	result["values"] = values
	return marshalResult(result)
}

// slotFacts describes one slot of a fork.
type slotFacts struct {
	Slot        int  `json:"slot"`
	Label       int  `json:"label"`
	Loops       bool `json:"loops"`
	Start       int  `json:"start"`
	FirstBranch int  `json:"first_branch"`
	Size        int  `json:"size"`
}

// handleInspect reports derived facts for one node, or the row layout of
// the whole chain when no index is given.
func (s *ChainServer) handleInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chainID, err := req.RequireString("chain_id")
	if err != nil {
		return mcp.NewToolResultError("chain_id is required"), nil
	}
	v, err := s.store.GetVersion(ctx, chainID, req.GetInt("version", 0))
	if err != nil {
		return chainError(err), nil
	}
	c := v.Document.Nodes
	tree := chain.Parse(c)

	i := req.GetInt("index", -1)
	if _, ok := req.GetArguments()["index"]; !ok {
		return marshalResult(map[string]any{
			"version":    v.Version,
			"nodes":      len(c),
			"max_branch": chain.MaxBranch(c),
			"roots":      tree.Roots(),
			"rows":       rowIndices(c),
			"steps":      len(chain.Steps(c)),
		})
	}
	if i < 0 || i >= len(c) {
		return chainError(schema.NewErrorf(schema.ErrCodeValidation,
			"index %d out of range for %d nodes", i, len(c)).WithNode(i)), nil
	}

	n := &c[i]
	b := req.GetInt("branch", n.Branch)
	facts := map[string]any{
		"version":             v.Version,
		"index":               i,
		"kind":                n.Kind(),
		"column":              n.Branch,
		"parent":              tree.Parent(i),
		"slot":                tree.Slot(i),
		"next":                tree.Next(i),
		"depth":               tree.Depth(i),
		"ancestors":           orEmpty(tree.Ancestors(i)),
		"descendants":         orEmpty(tree.Descendants(i)),
		"sibling":             chain.IsSiblingNode(c, i),
		"can_include_context": chain.CanChainNodeIncludeContext(n, c),
		"branch":              b,
		"branch_loops":        chain.ShouldBranchLoopOnCompletion(c, b),
		"loop_completion":     chain.LoopCompletionIndexForNode(c, i, b),
		"loop_scope":          len(chain.SubtreeForChainNode(n, c, true, true)),
	}
	if n.IsFork() {
		slots := make([]slotFacts, len(n.Fork.Branches))
		for k, label := range n.Fork.Branches {
			slots[k] = slotFacts{
				Slot:        k,
				Label:       label,
				Loops:       n.Fork.LoopsAt(k),
				Start:       tree.BranchStart(i, k),
				FirstBranch: chain.FirstBranchForBranchOfNode(c, i, k),
				Size:        len(chain.SubtreeForBranchOfNode(c, i, k)),
			}
		}
		facts["slots"] = slots
	}
	return marshalResult(facts)
}

// --- Helpers ---

// rowIndices returns the array indices of every grid row.
func rowIndices(c chain.Chain) [][]int {
	rows := chain.SplitNodes(c)
	out := make([][]int, len(rows))
	offset := 0
	for r, row := range rows {
		out[r] = make([]int, len(row))
		for j := range row {
			out[r][j] = offset + j
		}
		offset += len(row)
	}
	return out
}

func orEmpty(idx []int) []int {
	if idx == nil {
		return []int{}
	}
	return idx
}

// sessionResult reports a session snapshot together with its working nodes.
func sessionResult(sess *editor.Session, nodes chain.Chain) (*mcp.CallToolResult, error) {
	if nodes == nil {
		nodes = chain.Chain{}
	}
	return marshalResult(map[string]any{
		"session": sess.Info(),
		"nodes":   nodes,
	})
}

// chainError converts err to an error result. Structured errors keep their
// code so agents can react to CONFLICT or INVALID_EDIT.
func chainError(err error) *mcp.CallToolResult {
	var ce *schema.ChainError
	if !errors.As(err, &ce) {
		return mcp.NewToolResultError(err.Error())
	}
	data, mErr := json.Marshal(map[string]any{"error": ce})
	if mErr != nil {
		return mcp.NewToolResultError(ce.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// editFailure reports an apply batch that stopped at edit k. Edits before
// k stay applied in the session.
func editFailure(err error, k int) *mcp.CallToolResult {
	body := map[string]any{"failed_edit": k, "applied": k}
	var ce *schema.ChainError
	if errors.As(err, &ce) {
		body["error"] = ce
	} else {
		body["error"] = map[string]string{"message": err.Error()}
	}
	data, mErr := json.Marshal(body)
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func extractString(filter map[string]any, key string) string {
	if filter == nil {
		return ""
	}
	s, _ := filter[key].(string)
	return s
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *ChainServer) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
