package editor

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/internal/streaming"
	"github.com/rendis/promptchain/internal/validation"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

type fixture struct {
	store  *store.LibSQLStore
	hub    *streaming.MemoryHub
	editor *Editor
	chain  *store.Chain
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "editor.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	v, err := validation.NewDocumentValidator()
	require.NoError(t, err)

	ch := &store.Chain{}
	_, err = s.CreateChain(ctx, ch, schema.ChainDocument{Name: "triage", Nodes: sample()})
	require.NoError(t, err)

	hub := streaming.NewMemoryHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{store: s, hub: hub, editor: New(s, hub, v, logger, cfg), chain: ch}
}

func TestOpenLoadsLatestVersion(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)

	info := s.Info()
	assert.Equal(t, f.chain.ID, info.ChainID)
	assert.Equal(t, 1, info.BaseVersion)
	assert.Equal(t, 4, info.Nodes)
	assert.False(t, info.Dirty)
	assert.Equal(t, sample(), s.Nodes())

	got, err := f.editor.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	byChain, ok := f.editor.ForChain(f.chain.ID)
	assert.True(t, ok)
	assert.Same(t, s, byChain)
}

func TestOpenSingleWriter(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)

	_, err = f.editor.Open(ctx, f.chain.ID)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	require.NoError(t, s.Close(ctx))
	_, err = f.editor.Open(ctx, f.chain.ID)
	assert.NoError(t, err, "chain is free again after close")
}

func TestOpenErrors(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.editor.Open(ctx, "missing")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
	_, ok := f.editor.ForChain("missing")
	assert.False(t, ok, "failed open releases the reservation")

	archived := schema.ChainStatusArchived
	require.NoError(t, f.store.UpdateChain(ctx, f.chain.ID, store.ChainUpdate{Status: &archived}))
	_, err = f.editor.Open(ctx, f.chain.ID)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
}

func TestApplyUndoRedo(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)

	edit := schema.Edit{Action: schema.EditInsertNode, Index: 0, Node: &chain.Node{Prompt: prompt(9)}}
	after, err := s.Apply(ctx, edit)
	require.NoError(t, err)
	assert.Len(t, after, 5)
	assert.True(t, s.Info().Dirty)

	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditPruneNode, Index: 1})
	require.NoError(t, err)

	undone, err := s.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, after, undone)

	undone, err = s.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample(), undone)
	assert.False(t, s.Info().Dirty)

	_, err = s.Undo(ctx)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidEdit))

	redone, err := s.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, after, redone)
	assert.True(t, s.Info().CanRedo)

	// a fresh edit drops the redo stack
	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditNormalize})
	require.NoError(t, err)
	assert.False(t, s.Info().CanRedo)
	_, err = s.Redo(ctx)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidEdit))
}

func TestRejectedEditLeavesSession(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)

	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditPruneNode, Index: 1})
	require.Error(t, err)
	assert.Equal(t, sample(), s.Nodes())
	assert.False(t, s.Info().CanUndo)
}

func TestHistoryLimit(t *testing.T) {
	f := newFixture(t, Config{HistoryLimit: 2})
	ctx := context.Background()
	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)

	for range 3 {
		_, err := s.Apply(ctx, schema.Edit{Action: schema.EditInsertNode, Index: 0, Node: &chain.Node{Prompt: prompt(9)}})
		require.NoError(t, err)
	}
	_, err = s.Undo(ctx)
	require.NoError(t, err)
	_, err = s.Undo(ctx)
	require.NoError(t, err)
	_, err = s.Undo(ctx)
	assert.Error(t, err, "only two snapshots are kept")
	assert.Len(t, s.Nodes(), 5)
}

func TestCommit(t *testing.T) {
	f := newFixture(t, Config{Author: "tester"})
	ctx := context.Background()
	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)

	_, err = s.Commit(ctx, "nothing")
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidEdit), "clean sessions have nothing to commit")

	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditAddBranch, Index: 1, Node: &chain.Node{Prompt: prompt(3)}})
	require.NoError(t, err)

	v, err := s.Commit(ctx, "add a branch")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, "tester", v.Author)
	assert.Equal(t, 2, s.Info().BaseVersion)
	assert.False(t, s.Info().Dirty)

	stored, err := f.store.GetVersion(ctx, f.chain.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, s.Nodes(), stored.Document.Nodes)
}

func TestCommitRejectsInvalidDocument(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)

	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditSetNode, Index: 0, Node: &chain.Node{Prompt: prompt(0)}})
	require.NoError(t, err)

	_, err = s.Commit(ctx, "bad prompt id")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	latest, err := f.store.GetVersion(ctx, f.chain.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestCommitConflict(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)

	// another process commits behind the session's back
	require.NoError(t, f.store.AppendVersion(ctx, &store.ChainVersion{
		ChainID:  f.chain.ID,
		Document: schema.ChainDocument{Name: "triage", Nodes: sample()},
	}, 1))

	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditShiftRight, Index: 0, Column: intPtr(0)})
	require.NoError(t, err)

	_, err = s.Commit(ctx, "late")
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
	assert.True(t, s.Info().Dirty, "edits survive a conflict")
}

func TestClosedSession(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)
	require.NoError(t, f.editor.Close(ctx, s.ID))

	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditNormalize})
	assert.True(t, schema.HasCode(err, schema.ErrCodeSessionClosed))
	_, err = s.Undo(ctx)
	assert.True(t, schema.HasCode(err, schema.ErrCodeSessionClosed))
	_, err = s.Commit(ctx, "")
	assert.True(t, schema.HasCode(err, schema.ErrCodeSessionClosed))
	assert.True(t, schema.HasCode(s.Close(ctx), schema.ErrCodeSessionClosed))

	_, err = f.editor.Get(s.ID)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
	assert.Empty(t, f.editor.Sessions())
}

func TestSessionEventsAreLoggedAndPublished(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	events, cancel, err := f.hub.Subscribe(ctx, streaming.EventFilter{ChainID: f.chain.ID})
	require.NoError(t, err)
	defer cancel()

	s, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)
	_, err = s.Apply(ctx, schema.Edit{Action: schema.EditInsertFork, Index: 2})
	require.NoError(t, err)
	_, err = s.Undo(ctx)
	require.NoError(t, err)
	_, err = s.Redo(ctx)
	require.NoError(t, err)
	_, err = s.Commit(ctx, "fork")
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	want := []string{
		schema.EventSessionOpened, schema.EventEditApplied, schema.EventEditUndone,
		schema.EventEditRedone, schema.EventVersionCommitted, schema.EventSessionClosed,
	}
	var got []string
	for range want {
		select {
		case evt := <-events:
			assert.Equal(t, s.ID, evt.SessionID)
			got = append(got, evt.EventType)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, want, got)

	summaries, err := store.NewEventLog(f.store).ReplaySessions(ctx, f.chain.ID)
	require.NoError(t, err)
	sum := summaries[s.ID]
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.BaseVersion)
	assert.Equal(t, 1, sum.Applied)
	assert.Equal(t, 1, sum.Undone)
	assert.Equal(t, 1, sum.Redone)
	assert.Equal(t, []int{2}, sum.Committed)
	assert.NotNil(t, sum.ClosedAt)
}

func TestSessionsListing(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	other := &store.Chain{}
	_, err := f.store.CreateChain(ctx, other, schema.ChainDocument{Name: "other", Nodes: sample()})
	require.NoError(t, err)

	a, err := f.editor.Open(ctx, f.chain.ID)
	require.NoError(t, err)
	b, err := f.editor.Open(ctx, other.ID)
	require.NoError(t, err)

	infos := f.editor.Sessions()
	require.Len(t, infos, 2)
	ids := []string{infos[0].ID, infos[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	f.editor.CloseAll(ctx)
	assert.Empty(t, f.editor.Sessions())
}
