package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/promptchain/internal/streaming"
)

// ChangeNotifier tells a watching agent that a chain it follows changed.
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, agentID string, ev streaming.StreamEvent) error
}

// MCPNotifier delivers chain changes as MCP log messages on the agent's
// session.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// NotifyChange is best-effort: an agent without a live session is skipped
// and a session that vanished mid-send is forgotten.
func (n *MCPNotifier) NotifyChange(_ context.Context, agentID string, ev streaming.StreamEvent) error {
	sessionID, ok := n.sessions.SessionFor(agentID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", changeMessage(ev))
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// changeMessage shapes ev as the params of a notifications/message log entry.
func changeMessage(ev streaming.StreamEvent) map[string]any {
	data := map[string]any{
		"chain_id":   ev.ChainID,
		"version":    ev.Version,
		"event_type": ev.EventType,
		"payload":    ev.Payload,
	}
	if !ev.Timestamp.IsZero() {
		data["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"level":  string(mcp.LoggingLevelInfo),
		"logger": "promptchain/" + ev.ChainID,
		"data":   data,
	}
}
