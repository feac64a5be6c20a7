package mcp

import (
	"slices"
	"sync"
)

// SessionRegistry maps agent IDs to MCP session IDs and remembers which
// chains each agent is working on.
// Populated automatically when agents call any tool that includes agent_id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string              // agentID → sessionID
	watching map[string]map[string]struct{} // chainID → agentIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]string),
		watching: make(map[string]map[string]struct{}),
	}
}

// Register associates an agent ID with a session ID.
// If the agent already has a session, it is overwritten (reconnect).
func (r *SessionRegistry) Register(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[agentID] = sessionID
}

// SessionFor returns the session ID for the given agent, if connected.
func (r *SessionRegistry) SessionFor(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[agentID]
	return sid, ok
}

// Watch subscribes an agent to lifecycle events of a chain.
func (r *SessionRegistry) Watch(agentID, chainID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agents, ok := r.watching[chainID]
	if !ok {
		agents = make(map[string]struct{})
		r.watching[chainID] = agents
	}
	agents[agentID] = struct{}{}
}

// Watchers returns the agents watching chainID, sorted.
func (r *SessionRegistry) Watchers(chainID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.watching[chainID]))
	for aid := range r.watching[chainID] {
		out = append(out, aid)
	}
	slices.Sort(out)
	return out
}

// Remove deletes all agent mappings for the given session ID, along with
// the chains those agents were watching.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for aid, sid := range r.sessions {
		if sid != sessionID {
			continue
		}
		delete(r.sessions, aid)
		for chainID, agents := range r.watching {
			delete(agents, aid)
			if len(agents) == 0 {
				delete(r.watching, chainID)
			}
		}
	}
}
