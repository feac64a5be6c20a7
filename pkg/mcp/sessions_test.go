package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("agent-1", "session-abc")
	sid, ok := r.SessionFor("agent-1")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_Overwrite(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("agent-1", "session-old")
	r.Register("agent-1", "session-new")

	sid, ok := r.SessionFor("agent-1")
	assert.True(t, ok)
	assert.Equal(t, "session-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("agent-1", "session-abc")
	r.Register("agent-2", "session-abc")
	r.Register("agent-3", "session-xyz")

	r.Remove("session-abc")

	_, ok := r.SessionFor("agent-1")
	assert.False(t, ok, "agent-1 should be removed")

	_, ok = r.SessionFor("agent-2")
	assert.False(t, ok, "agent-2 should be removed")

	sid, ok := r.SessionFor("agent-3")
	assert.True(t, ok, "agent-3 should still exist")
	assert.Equal(t, "session-xyz", sid)
}

func TestSessionRegistry_MultipleAgents(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("agent-1", "session-1")
	r.Register("agent-2", "session-2")

	sid1, ok := r.SessionFor("agent-1")
	assert.True(t, ok)
	assert.Equal(t, "session-1", sid1)

	sid2, ok := r.SessionFor("agent-2")
	assert.True(t, ok)
	assert.Equal(t, "session-2", sid2)
}

func TestSessionRegistry_Watchers(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("agent-2", "triage")
	r.Watch("agent-1", "triage")
	r.Watch("agent-1", "triage")
	r.Watch("agent-3", "other")

	assert.Equal(t, []string{"agent-1", "agent-2"}, r.Watchers("triage"))
	assert.Equal(t, []string{"agent-3"}, r.Watchers("other"))
	assert.Empty(t, r.Watchers("unknown"))
}

func TestSessionRegistry_RemoveDropsWatches(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("agent-1", "session-1")
	r.Register("agent-2", "session-2")
	r.Watch("agent-1", "triage")
	r.Watch("agent-2", "triage")
	r.Watch("agent-1", "solo")

	r.Remove("session-1")

	assert.Equal(t, []string{"agent-2"}, r.Watchers("triage"))
	assert.Empty(t, r.Watchers("solo"))
}
