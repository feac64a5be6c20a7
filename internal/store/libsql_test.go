package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func sampleDoc(name string) schema.ChainDocument {
	return schema.ChainDocument{
		Name: name,
		Nodes: chain.Chain{
			{Branch: 0, Prompt: &chain.PromptStep{PromptID: 1}},
			{Branch: 0, Fork: &chain.Fork{Branches: chain.Labels{0, 1}, Loops: []int{1}}},
			{Branch: 1, Code: &chain.CodeStep{Code: "return 1"}},
		},
	}
}

func seedChain(t *testing.T, s *LibSQLStore, name string) *Chain {
	t.Helper()
	ch := &Chain{Metadata: map[string]any{"owner": "ops"}}
	_, err := s.CreateChain(context.Background(), ch, sampleDoc(name))
	require.NoError(t, err)
	return ch
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var chErr *schema.ChainError
	require.True(t, errors.As(err, &chErr), "got %T: %v", err, err)
	assert.Equal(t, code, chErr.Code)
}

// --- Migrations ---

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "initial_schema", ms[0].Name)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header only;\nCREATE TABLE a (x INT);\n\n-- trailing\n;SELECT 1;")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "SELECT 1"}, stmts)
}

// --- Chains ---

func TestCreateAndGetChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := &Chain{Description: "routes tickets", Metadata: map[string]any{"owner": "ops"}}
	v, err := s.CreateChain(ctx, ch, sampleDoc("triage"))
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, 1, v.Version)

	got, err := s.GetChain(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "triage", got.Name)
	assert.Equal(t, "routes tickets", got.Description)
	assert.Equal(t, schema.ChainStatusActive, got.Status)
	assert.Equal(t, 1, got.LatestVersion)
	assert.Equal(t, "ops", got.Metadata["owner"])

	latest, err := s.GetVersion(ctx, ch.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, sampleDoc("triage").Nodes, latest.Document.Nodes)
}

func TestCreateChain_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ch := seedChain(t, s, "a")

	_, err := s.CreateChain(context.Background(), &Chain{ID: ch.ID}, sampleDoc("b"))
	requireCode(t, err, schema.ErrCodeConflict)
}

func TestGetChain_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetChain(context.Background(), "nonexistent")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestUpdateChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChain(t, s, "a")

	name := "renamed"
	archived := schema.ChainStatusArchived
	require.NoError(t, s.UpdateChain(ctx, ch.ID, ChainUpdate{Name: &name, Status: &archived}))

	got, err := s.GetChain(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, schema.ChainStatusArchived, got.Status)

	assert.NoError(t, s.UpdateChain(ctx, ch.ID, ChainUpdate{}), "empty update is a no-op")
	requireCode(t, s.UpdateChain(ctx, "missing", ChainUpdate{Name: &name}), schema.ErrCodeNotFound)
}

func TestListChains(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChain(t, s, "support triage")
	seedChain(t, s, "support escalation")
	other := seedChain(t, s, "billing")

	archived := schema.ChainStatusArchived
	require.NoError(t, s.UpdateChain(ctx, other.ID, ChainUpdate{Status: &archived}))

	all, err := s.ListChains(ctx, ChainFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	support, err := s.ListChains(ctx, ChainFilter{Name: "support"})
	require.NoError(t, err)
	assert.Len(t, support, 2)

	onlyArchived, err := s.ListChains(ctx, ChainFilter{Status: &archived})
	require.NoError(t, err)
	require.Len(t, onlyArchived, 1)
	assert.Equal(t, other.ID, onlyArchived[0].ID)

	limited, err := s.ListChains(ctx, ChainFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteChain_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChain(t, s, "a")
	require.NoError(t, s.AppendEvent(ctx, &Event{ChainID: ch.ID, Type: schema.EventChainCreated}))

	require.NoError(t, s.DeleteChain(ctx, ch.ID))

	_, err := s.GetVersion(ctx, ch.ID, 1)
	requireCode(t, err, schema.ErrCodeNotFound)
	events, err := s.GetEvents(ctx, ch.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	requireCode(t, s.DeleteChain(ctx, ch.ID), schema.ErrCodeNotFound)
}

// --- Versions ---

func TestAppendVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChain(t, s, "a")

	doc := sampleDoc("a v2")
	doc.Nodes = chain.PruneNodeAndShiftUp(doc.Nodes, 0)
	v := &ChainVersion{ChainID: ch.ID, Document: doc, Author: "dana", Message: "drop intro"}
	require.NoError(t, s.AppendVersion(ctx, v, 1))
	assert.Equal(t, 2, v.Version)

	got, err := s.GetVersion(ctx, ch.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "dana", got.Author)
	assert.Equal(t, "drop intro", got.Message)
	assert.Len(t, got.Document.Nodes, 2)

	head, err := s.GetChain(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, head.LatestVersion)
	assert.Equal(t, "a v2", head.Name)

	first, err := s.GetVersion(ctx, ch.ID, 1)
	require.NoError(t, err)
	assert.Len(t, first.Document.Nodes, 3)
}

func TestAppendVersion_Conflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChain(t, s, "a")

	require.NoError(t, s.AppendVersion(ctx, &ChainVersion{ChainID: ch.ID, Document: sampleDoc("a")}, 1))

	err := s.AppendVersion(ctx, &ChainVersion{ChainID: ch.ID, Document: sampleDoc("a")}, 1)
	requireCode(t, err, schema.ErrCodeConflict)

	err = s.AppendVersion(ctx, &ChainVersion{ChainID: "missing", Document: sampleDoc("a")}, 1)
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestAppendVersion_Archived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChain(t, s, "a")
	archived := schema.ChainStatusArchived
	require.NoError(t, s.UpdateChain(ctx, ch.ID, ChainUpdate{Status: &archived}))

	err := s.AppendVersion(ctx, &ChainVersion{ChainID: ch.ID, Document: sampleDoc("a")}, 1)
	requireCode(t, err, schema.ErrCodeConflict)
}

func TestListAndPruneVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChain(t, s, "a")
	for base := 1; base < 5; base++ {
		require.NoError(t, s.AppendVersion(ctx, &ChainVersion{ChainID: ch.ID, Document: sampleDoc("a")}, base))
	}

	versions, err := s.ListVersions(ctx, ch.ID, 0)
	require.NoError(t, err)
	require.Len(t, versions, 5)
	assert.Equal(t, 5, versions[0].Version)

	removed, err := s.PruneVersions(ctx, ch.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	versions, err = s.ListVersions(ctx, ch.ID, 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, []int{5, 4}, []int{versions[0].Version, versions[1].Version})

	removed, err = s.PruneVersions(ctx, ch.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "latest version is always kept")
}

func TestGetVersion_NotFound(t *testing.T) {
	s := newTestStore(t)
	ch := seedChain(t, s, "a")
	_, err := s.GetVersion(context.Background(), ch.ID, 9)
	requireCode(t, err, schema.ErrCodeNotFound)
}

// --- Events ---

func TestAppendEvent_Sequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedChain(t, s, "a")
	b := seedChain(t, s, "b")

	for i := 0; i < 3; i++ {
		e := &Event{ChainID: a.ID, Type: schema.EventEditApplied, SessionID: "s1", Payload: json.RawMessage(`{"action":"insert_node"}`)}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.NotZero(t, e.ID)
	}
	e := &Event{ChainID: b.ID, Type: schema.EventChainCreated, Version: 1}
	require.NoError(t, s.AppendEvent(ctx, e))
	assert.Equal(t, int64(1), e.Sequence, "sequences are per chain")

	events, err := s.GetEvents(ctx, a.ID, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.JSONEq(t, `{"action":"insert_node"}`, string(events[0].Payload))

	created, err := s.GetEventsByType(ctx, schema.EventChainCreated, EventFilter{})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 1, created[0].Version)

	bySession, err := s.GetEventsByType(ctx, schema.EventEditApplied, EventFilter{ChainID: a.ID, SessionID: "s1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	recent, err := s.GetEventsByType(ctx, "", EventFilter{Newest: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, b.ID, recent[0].ChainID, "any type, newest first")
	assert.Equal(t, int64(3), recent[1].Sequence)
}
